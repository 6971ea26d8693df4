package multistream

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
)

func TestNegotiateSelectsSupportedProtocol(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ms := NewMultistream()
	selectedCh := make(chan protocol.ID, 1)
	ms.AddHandler("/echo/1.0.0", func(id protocol.ID, rw Stream) error {
		selectedCh <- id
		return nil
	})

	go ms.Negotiate(server)

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	selected, err := SelectOneOf(client, []protocol.ID{"/unknown/1.0.0", "/echo/1.0.0"})
	require.NoError(t, err)
	require.Equal(t, protocol.ID("/echo/1.0.0"), selected)

	select {
	case got := <-selectedCh:
		require.Equal(t, protocol.ID("/echo/1.0.0"), got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server selection")
	}
}

func TestNegotiateNoSupportedProtocol(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ms := NewMultistream()
	ms.AddHandler("/echo/1.0.0", func(protocol.ID, Stream) error { return nil })

	errCh := make(chan error, 1)
	go func() {
		_, _, err := ms.Negotiate(server)
		errCh <- err
	}()

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := SelectOneOf(client, []protocol.ID{"/foo/1.0.0"})
	require.ErrorIs(t, err, ErrNotSupported)

	client.Close()
	<-errCh
}

func TestAddHandlerWithFuncMatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ms := NewMultistream()
	ms.AddHandlerWithFunc(func(id protocol.ID) bool {
		return id == "/versioned/2.0.0"
	}, func(id protocol.ID, rw Stream) error { return nil })

	go ms.Negotiate(server)

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	selected, err := SelectOneOf(client, []protocol.ID{"/versioned/2.0.0"})
	require.NoError(t, err)
	require.Equal(t, protocol.ID("/versioned/2.0.0"), selected)
}
