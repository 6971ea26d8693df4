// Package websocket implements a supplemental transport family dialing
// and listening over /ws and /wss multiaddresses, layered exactly like
// p2p/transport/tcp: a raw net.Conn (here, a message-stream adapter over
// a gorilla *websocket.Conn) handed to the same transport.Upgrader.
package websocket

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	matransport "github.com/erwin-kok/go-libp2p-core-engine/core/ma"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	coretransport "github.com/erwin-kok/go-libp2p-core-engine/core/transport"
)

var log = logging.Logger("transport/websocket")

// Transport dials and listens on /ip4|ip6/.../tcp/.../ws(s) addresses.
type Transport struct {
	upgrader coretransport.Upgrader
	dialer   websocket.Dialer
}

func New(upgrader coretransport.Upgrader) *Transport {
	return &Transport{upgrader: upgrader, dialer: websocket.Dialer{HandshakeTimeout: 30 * time.Second}}
}

func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	return matransport.TagFor(addr) == matransport.TransportWS
}

func (t *Transport) Proxy() bool { return false }

func (t *Transport) Dial(ctx context.Context, raddr ma.Multiaddr, p peer.ID) (coretransport.CapableConn, error) {
	url, err := wsURL(raddr)
	if err != nil {
		return nil, err
	}
	wsc, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", url, err)
	}
	return t.upgrader.UpgradeOutbound(ctx, t, newConn(wsc), network.DirOutbound, p, raddr)
}

func (t *Transport) Listen(laddr ma.Multiaddr) (coretransport.Listener, error) {
	hostport, ok := matransport.HostPort(laddr)
	if !ok {
		return nil, fmt.Errorf("websocket: cannot listen on %s", laddr)
	}
	tcpListener, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}

	wl := &wsListener{tcp: tcpListener, conns: make(chan net.Conn), closed: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsc, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugf("websocket: upgrade from %s: %s", r.RemoteAddr, err)
			return
		}
		select {
		case wl.conns <- newConn(wsc):
		case <-wl.closed:
			_ = wsc.Close()
		}
	})}
	wl.srv = srv
	go func() {
		if err := srv.Serve(tcpListener); err != nil {
			log.Debugf("websocket: http server on %s: %s", tcpListener.Addr(), err)
		}
	}()

	inner := t.upgrader.UpgradeListener(t, wl)
	laddr, err = wsMultiaddr(tcpListener.Addr(), laddr)
	if err != nil {
		_ = wl.Close()
		return nil, err
	}
	return &listener{Listener: inner, laddr: laddr}, nil
}

// listener overrides the upgraded listener's Multiaddr with the
// ws-tagged address: the upgrader only sees the bare TCP net.Listener,
// so it cannot itself know to append the /ws component.
type listener struct {
	coretransport.Listener
	laddr ma.Multiaddr
}

func (l *listener) Multiaddr() ma.Multiaddr { return l.laddr }

func wsMultiaddr(bound net.Addr, requested ma.Multiaddr) (ma.Multiaddr, error) {
	tcpAddr, err := manet.FromNetAddr(bound)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	for _, p := range requested.Protocols() {
		if p.Code == ma.P_WSS {
			scheme = "wss"
		}
	}
	comp, err := ma.NewComponent(scheme, "")
	if err != nil {
		return nil, err
	}
	return tcpAddr.Encapsulate(comp), nil
}

func wsURL(m ma.Multiaddr) (string, error) {
	hostport, ok := matransport.HostPort(m)
	if !ok {
		return "", fmt.Errorf("websocket: no host:port in %s", m)
	}
	scheme := "ws"
	for _, p := range m.Protocols() {
		if p.Code == ma.P_WSS {
			scheme = "wss"
		}
	}
	return fmt.Sprintf("%s://%s/", scheme, hostport), nil
}

// wsListener is the plain net.Listener the transport.Upgrader drives;
// it hands back every connection the HTTP server's Upgrade handler
// accepted.
type wsListener struct {
	tcp       net.Listener
	srv       *http.Server
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, fmt.Errorf("websocket: listener closed")
	}
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.tcp.Close()
}

func (l *wsListener) Addr() net.Addr { return l.tcp.Addr() }

// conn adapts a gorilla *websocket.Conn, which is message-oriented, to
// net.Conn's byte-stream contract: Write sends one binary message per
// call, Read drains the current message's reader and pulls the next one
// once it is exhausted.
type conn struct {
	ws      *websocket.Conn
	readMu  sync.Mutex
	writeMu sync.Mutex
	reader  io.Reader
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

func (c *conn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(b)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *conn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *conn) Close() error                       { return c.ws.Close() }
func (c *conn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

var _ coretransport.Transport = (*Transport)(nil)
var _ net.Conn = (*conn)(nil)
var _ net.Listener = (*wsListener)(nil)
