package websocket

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func TestWsURL(t *testing.T) {
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001/ws")
	require.NoError(t, err)
	url, err := wsURL(addr)
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:4001/", url)
}

func TestWsMultiaddrTagsScheme(t *testing.T) {
	requested, err := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0/ws")
	require.NoError(t, err)

	got, err := wsMultiaddr(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4242}, requested)
	require.NoError(t, err)
	require.Contains(t, got.String(), "/ws")
	require.Contains(t, got.String(), "4242")
}

// TestConnReadWriteRoundTrip exercises the byte-stream adapter over a
// real client/server websocket pair, including a write split across
// multiple Read calls smaller than the message.
func TestConnReadWriteRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsc, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- wsc
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	clientWs, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	serverWs := <-serverConnCh

	client := newConn(clientWs)
	server := newConn(serverWs)
	defer client.Close()
	defer server.Close()

	payload := []byte("hello over a websocket byte stream")
	n, err := client.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 4)
	for len(got) < len(payload) {
		n, err := server.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, payload, got)
}

func TestConnReadReturnsErrorOnClose(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsc, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- wsc
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	clientWs, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	serverWs := <-serverConnCh

	client := newConn(clientWs)
	server := newConn(serverWs)
	require.NoError(t, client.Close())

	buf := make([]byte, 4)
	_, err = server.Read(buf)
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)
}
