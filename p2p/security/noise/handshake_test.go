package noise

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	tr, err := NewTransport(priv)
	require.NoError(t, err)
	return tr
}

func TestHandshakeSucceedsWithExpectedPeerID(t *testing.T) {
	clientTr := newTestTransport(t)
	serverTr := newTestTransport(t)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	type result struct {
		remote peer.ID
		err    error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		sc, err := clientTr.SecureOutbound(context.Background(), c1, serverTr.localID)
		r := result{err: err}
		if sc != nil {
			r.remote = sc.RemotePeer()
		}
		clientCh <- r
	}()
	go func() {
		sc, err := serverTr.SecureInbound(context.Background(), c2)
		r := result{err: err}
		if sc != nil {
			r.remote = sc.RemotePeer()
		}
		serverCh <- r
	}()

	clientRes := waitResult(t, clientCh)
	serverRes := waitResult(t, serverCh)

	require.NoError(t, clientRes.err)
	require.NoError(t, serverRes.err)
	require.Equal(t, serverTr.localID, clientRes.remote)
	require.Equal(t, clientTr.localID, serverRes.remote)
}

// TestHandshakeAbortsOnPeerIDMismatch confirms SecureOutbound refuses
// the connection when the responder's identity doesn't match the peer
// id the caller expected to dial (spec.md §8 invariant: a connection
// can't be established under the wrong peer id).
func TestHandshakeAbortsOnPeerIDMismatch(t *testing.T) {
	clientTr := newTestTransport(t)
	serverTr := newTestTransport(t)
	wrongID := newTestTransport(t).localID

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	clientCh := make(chan error, 1)
	go func() {
		_, err := clientTr.SecureOutbound(context.Background(), c1, wrongID)
		clientCh <- err
	}()
	go func() {
		_, _ = serverTr.SecureInbound(context.Background(), c2)
	}()

	err := waitErr(t, clientCh)
	require.Error(t, err)
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	require.Contains(t, hsErr.Error(), "peer id mismatch")
}

func waitResult[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake result")
		var zero T
		return zero
	}
}

func waitErr(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake result")
		return errors.New("unreachable")
	}
}
