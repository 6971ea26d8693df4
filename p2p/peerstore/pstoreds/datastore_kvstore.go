package pstoreds

import (
	"context"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	badger "github.com/ipfs/go-ds-badger"
	leveldb "github.com/ipfs/go-ds-leveldb"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

// dsKVStore adapts an ipfs/go-datastore Datastore to peerstore.KVStore,
// so any of the ecosystem's Datastore implementations can back a
// Peerstore, not just pstoremem's hand-rolled in-memory map.
type dsKVStore struct {
	ds ds.Datastore
}

// NewDatastoreKVStore wraps an arbitrary ds.Datastore as a peerstore.KVStore.
func NewDatastoreKVStore(d ds.Datastore) peerstore.KVStore {
	return &dsKVStore{ds: d}
}

// NewMemoryKVStore is a go-datastore-backed in-memory store (a
// mutex-synced ds.MapDatastore): the ecosystem-datastore equivalent of
// pstoremem.NewKVStore, for callers that want the Batching capability
// trait a plain map can't offer.
func NewMemoryKVStore() peerstore.KVStore {
	return NewBatchingDatastoreKVStore(dssync.MutexWrap(ds.NewMapDatastore()))
}

// NewBadgerKVStore opens a badger-backed on-disk peerstore at path.
func NewBadgerKVStore(path string) (peerstore.KVStore, error) {
	d, err := badger.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("pstoreds: open badger datastore at %s: %w", path, err)
	}
	return NewBatchingDatastoreKVStore(d), nil
}

// NewLevelDBKVStore opens a leveldb-backed on-disk peerstore at path.
func NewLevelDBKVStore(path string) (peerstore.KVStore, error) {
	d, err := leveldb.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("pstoreds: open leveldb datastore at %s: %w", path, err)
	}
	return NewBatchingDatastoreKVStore(d), nil
}

func (k *dsKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := k.ds.Get(ctx, ds.NewKey(key))
	if err != nil {
		if err == ds.ErrNotFound {
			return nil, peerstore.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (k *dsKVStore) Put(ctx context.Context, key string, value []byte) error {
	return k.ds.Put(ctx, ds.NewKey(key), value)
}

func (k *dsKVStore) Delete(ctx context.Context, key string) error {
	return k.ds.Delete(ctx, ds.NewKey(key))
}

func (k *dsKVStore) Has(ctx context.Context, key string) (bool, error) {
	return k.ds.Has(ctx, ds.NewKey(key))
}

func (k *dsKVStore) Query(ctx context.Context, prefix string) (peerstore.Iterator, error) {
	results, err := k.ds.Query(ctx, dsq.Query{Prefix: ds.NewKey(prefix).String()})
	if err != nil {
		return nil, err
	}
	return &dsIterator{results: results}, nil
}

type dsIterator struct {
	results dsq.Results
	cur     dsq.Entry
}

func (it *dsIterator) Next() bool {
	r, ok := it.results.NextSync()
	if !ok || r.Error != nil {
		return false
	}
	it.cur = r.Entry
	return true
}

func (it *dsIterator) Key() string   { return it.cur.Key }
func (it *dsIterator) Value() []byte { return it.cur.Value }
func (it *dsIterator) Close() error  { return it.results.Close() }

// dsBatchingStore additionally exposes peerstore.Batching when the
// wrapped datastore supports ds.Batching, letting the peerstore's GC
// cycle batch its deletes (spec.md §5).
type dsBatchingStore struct {
	*dsKVStore
	batching ds.Batching
}

func NewBatchingDatastoreKVStore(d ds.Batching) peerstore.KVStore {
	return &dsBatchingStore{dsKVStore: &dsKVStore{ds: d}, batching: d}
}

func (k *dsBatchingStore) Batch(ctx context.Context) (peerstore.Batch, error) {
	b, err := k.batching.Batch(ctx)
	if err != nil {
		return nil, err
	}
	return &dsBatch{b: b}, nil
}

type dsBatch struct{ b ds.Batch }

func (b *dsBatch) Put(key string, value []byte) { _ = b.b.Put(context.Background(), ds.NewKey(key), value) }
func (b *dsBatch) Delete(key string)             { _ = b.b.Delete(context.Background(), ds.NewKey(key)) }
func (b *dsBatch) Commit(ctx context.Context) error { return b.b.Commit(ctx) }

var _ peerstore.KVStore = (*dsKVStore)(nil)
var _ peerstore.Batching = (*dsBatchingStore)(nil)
