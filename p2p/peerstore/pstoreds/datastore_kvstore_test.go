package pstoreds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

func TestDatastoreKVStoreGetPutDelete(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, peerstore.ErrNotFound)

	require.NoError(t, kv.Put(ctx, "a", []byte("1")))
	has, err := kv.Has(ctx, "a")
	require.NoError(t, err)
	require.True(t, has)

	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, kv.Delete(ctx, "a"))
	has, err = kv.Has(ctx, "a")
	require.NoError(t, err)
	require.False(t, has)
}

func TestDatastoreKVStoreQueryAndBatch(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "/peers/a/addrs", []byte("x")))
	require.NoError(t, kv.Put(ctx, "/peers/b/addrs", []byte("y")))

	it, err := kv.Query(ctx, "/peers")
	require.NoError(t, err)
	defer it.Close()

	seen := map[string][]byte{}
	for it.Next() {
		seen[it.Key()] = it.Value()
	}
	require.Len(t, seen, 2)

	batching, ok := kv.(peerstore.Batching)
	require.True(t, ok)
	batch, err := batching.Batch(ctx)
	require.NoError(t, err)
	batch.Put("/peers/c/addrs", []byte("z"))
	batch.Delete("/peers/a/addrs")
	require.NoError(t, batch.Commit(ctx))

	has, err := kv.Has(ctx, "/peers/a/addrs")
	require.NoError(t, err)
	require.False(t, has)

	v, err := kv.Get(ctx, "/peers/c/addrs")
	require.NoError(t, err)
	require.Equal(t, []byte("z"), v)
}

// TestPeerstoreOverDatastoreKVStore confirms the ecosystem-datastore
// backed KVStore is a drop-in for pstoremem's, composing a full
// Peerstore exactly the same way.
func TestPeerstoreOverDatastoreKVStore(t *testing.T) {
	_, err := NewPeerstore(NewMemoryKVStore())
	require.NoError(t, err)
}
