package mplex

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, err := NewConn(a, false)
	require.NoError(t, err)
	cb, err := NewConn(b, true)
	require.NoError(t, err)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func readN(t *testing.T, r interface{ Read([]byte) (int, error) }, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(3 * time.Second)
	for got < n && time.Now().Before(deadline) {
		m, err := r.Read(buf[got:])
		got += m
		if err != nil {
			break
		}
	}
	require.Equal(t, n, got)
	return buf
}

// TestOpenCloseNoReset exercises spec.md §8 scenario S2: open, write,
// close each direction, no Reset frames.
func TestOpenCloseNoReset(t *testing.T) {
	local, remote := pipeConns(t)

	s, err := local.OpenStream(context.Background())
	require.NoError(t, err)

	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	peerStream, err := remote.AcceptStream()
	require.NoError(t, err)

	got := readN(t, peerStream, 5)
	require.Equal(t, "hello", string(got))

	_, err = peerStream.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, peerStream.CloseWrite())

	got2 := readN(t, s, 5)
	require.Equal(t, "world", string(got2))
}

// TestReset exercises spec.md §8 scenario S3: after the local side
// resets the stream, the peer's next read fails with ErrReset.
func TestReset(t *testing.T) {
	local, remote := pipeConns(t)

	s, err := local.OpenStream(context.Background())
	require.NoError(t, err)

	_, err = s.Write([]byte("12345"))
	require.NoError(t, err)

	peerStream, err := remote.AcceptStream()
	require.NoError(t, err)
	_ = readN(t, peerStream, 5)

	require.NoError(t, s.Reset())

	time.Sleep(100 * time.Millisecond)
	buf := make([]byte, 4)
	_, err = peerStream.Read(buf)
	require.ErrorIs(t, err, network.ErrReset)
}
