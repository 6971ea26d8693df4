package pstoreds

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

func newTestPeer(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return id
}

func TestAddrBookAddrsExpireByTTL(t *testing.T) {
	mock := clock.NewMock()
	b, err := NewAddrBook(NewMemoryKVStore(), WithClock(mock))
	require.NoError(t, err)
	defer b.Close()

	p := newTestPeer(t)
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	b.AddAddr(p, addr, time.Minute)
	require.Len(t, b.Addrs(p), 1)

	mock.Add(2 * time.Minute)
	require.Empty(t, b.Addrs(p))
}

func TestAddrBookUpdateAddrsRescalesTTL(t *testing.T) {
	mock := clock.NewMock()
	b, err := NewAddrBook(NewMemoryKVStore(), WithClock(mock))
	require.NoError(t, err)
	defer b.Close()

	p := newTestPeer(t)
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	b.AddAddr(p, addr, time.Minute)
	b.UpdateAddrs(p, time.Minute, time.Hour)

	mock.Add(2 * time.Minute)
	require.Len(t, b.Addrs(p), 1, "UpdateAddrs should have rescaled the TTL past the 2 minute mark")
}

func TestAddrBookGCSweepRemovesExpiredRecord(t *testing.T) {
	mock := clock.NewMock()
	kv := NewMemoryKVStore()
	b, err := NewAddrBook(kv, WithClock(mock), WithGCInterval(time.Hour))
	require.NoError(t, err)
	defer b.Close()

	p := newTestPeer(t)
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	b.AddAddr(p, addr, time.Minute)

	ctx := context.Background()
	has, err := kv.Has(ctx, addrKey(p))
	require.NoError(t, err)
	require.True(t, has)

	mock.Add(2 * time.Minute)
	mock.Add(defaultGCInitialDelay)

	require.Eventually(t, func() bool {
		has, err := kv.Has(ctx, addrKey(p))
		return err == nil && !has
	}, 2*time.Second, 10*time.Millisecond, "gc sweep should have deleted the expired, now-empty record")
}
