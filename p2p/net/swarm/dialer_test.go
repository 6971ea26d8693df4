package swarm

import (
	"context"
	"crypto/rand"
	"net"
	"sync"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

// unreachableAddr binds and immediately closes a loopback TCP listener,
// so the returned address reliably refuses connections instead of
// depending on an unused-port heuristic.
func unreachableAddr(t *testing.T) ma.Multiaddr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())
	m, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/" + itoa(addr.Port))
	require.NoError(t, err)
	return m
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestDialWorkerCoalescesConcurrentCallers drives two concurrent
// DialPeer calls against one unreachable address and checks they
// share a single dialWorker and a single aggregated failure, rather
// than each caller driving its own independent dial attempt.
func TestDialWorkerCoalescesConcurrentCallers(t *testing.T) {
	sw, _ := newTestSwarm(t)
	defer sw.Close()

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	target, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)

	sw.peerstore.AddAddrs(target, []ma.Multiaddr{unreachableAddr(t)}, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sw.DialPeer(ctx, target)
		}(i)
	}

	// Give both callers a chance to register with the same worker
	// before it starts failing addresses.
	time.Sleep(10 * time.Millisecond)

	sw.mu.Lock()
	_, hasWorker := sw.dialers[target]
	sw.mu.Unlock()
	require.True(t, hasWorker, "expected a dialWorker to be registered while the dial is in flight")

	wg.Wait()

	require.Error(t, errs[0])
	require.Error(t, errs[1])
	var de0, de1 *DialError
	require.ErrorAs(t, errs[0], &de0)
	require.ErrorAs(t, errs[1], &de1)
	require.Len(t, de0.Errors, 1, "one unreachable address should produce exactly one error entry, not one per caller")
	require.Len(t, de1.Errors, 1)
}

// TestDialWorkerRetriesWithBackoffThenGivesUp exercises the retry
// schedule directly against a dialWorker: a connection-refused address
// is non-terminal, so it should be attempted up to maxRetries times in
// total, with a growing backoff between attempts, before the aggregated
// error is returned.
func TestDialWorkerRetriesWithBackoffThenGivesUp(t *testing.T) {
	sw, _ := newTestSwarm(t)
	defer sw.Close()

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	target, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)

	addr := unreachableAddr(t)
	sw.peerstore.AddAddrs(target, []ma.Multiaddr{addr}, time.Hour)

	w := sw.dialerFor(target)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	_, err = w.dial(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	var de *DialError
	require.ErrorAs(t, err, &de)
	require.Len(t, de.Errors, 1)
	// maxRetries non-terminal failures means at least maxRetries-1
	// backoff waits of backoffBase+coeff*retries^2 each elapsed before
	// giving up.
	require.GreaterOrEqual(t, elapsed, backoffBase, "should have waited out at least one backoff before giving up")
}
