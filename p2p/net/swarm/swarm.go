// Package swarm implements core/network.Network: the transport
// registry, dialer, listener set, and connection bookkeeping (spec.md
// §4.8, §4.9).
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	tec "github.com/jbenet/go-temp-err-catcher"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/semaphore"

	"github.com/erwin-kok/go-libp2p-core-engine/core/connmgr"
	matransport "github.com/erwin-kok/go-libp2p-core-engine/core/ma"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
	coretransport "github.com/erwin-kok/go-libp2p-core-engine/core/transport"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/metrics"
)

// acceptRetryWait bounds how long acceptLoop backs off after a
// transient Accept error before trying again.
const acceptRetryWait = 5 * time.Millisecond

// maxConcurrentDials caps the number of transport Dial calls in flight
// across the whole swarm at once, regardless of how many peers or
// addresses are queued, so a burst of dial requests can't exhaust file
// descriptors or flood the network.
const maxConcurrentDials = 160

var log = logging.Logger("swarm")

// Swarm is the concrete core/network.Network implementation.
type Swarm struct {
	local     peer.ID
	peerstore peerstore.Peerstore
	gater     connmgr.ConnectionGater

	transports map[matransport.Transport]coretransport.Transport

	// streamHandler receives every inbound (peer-opened) stream, after
	// the swarm itself has done nothing but muxed it: protocol
	// negotiation is the host's job, not the swarm's (spec.md §4.10).
	streamHandler func(network.Stream)

	// reporter records bytes crossing every stream, or nil if bandwidth
	// accounting hasn't been enabled via SetBandwidthReporter.
	reporter metrics.Reporter

	// dialLimiter bounds concurrent in-flight Dial calls swarm-wide
	// (see maxConcurrentDials).
	dialLimiter *semaphore.Weighted

	mu         sync.Mutex
	conns      map[peer.ID][]*conn
	listeners  []listenerEntry
	dialers    map[peer.ID]*dialWorker
	notifees   map[network.Notifiee]struct{}
	closed     bool
}

type listenerEntry struct {
	l     coretransport.Listener
	laddr ma.Multiaddr
}

func New(local peer.ID, ps peerstore.Peerstore, gater connmgr.ConnectionGater) *Swarm {
	return &Swarm{
		local:         local,
		peerstore:     ps,
		gater:         gater,
		transports:    make(map[matransport.Transport]coretransport.Transport),
		streamHandler: func(s network.Stream) { _ = s.Reset() },
		dialLimiter:   semaphore.NewWeighted(maxConcurrentDials),
		conns:         make(map[peer.ID][]*conn),
		dialers:       make(map[peer.ID]*dialWorker),
		notifees:      make(map[network.Notifiee]struct{}),
	}
}

// SetBandwidthReporter enables per-stream byte accounting; pass nil to
// disable it again.
func (s *Swarm) SetBandwidthReporter(r metrics.Reporter) {
	s.mu.Lock()
	s.reporter = r
	s.mu.Unlock()
}

func (s *Swarm) bandwidthReporter() metrics.Reporter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reporter
}

func (s *Swarm) AddTransport(tag matransport.Transport, t coretransport.Transport) {
	s.mu.Lock()
	s.transports[tag] = t
	s.mu.Unlock()
}

// SetStreamHandler installs the callback invoked for every inbound
// stream once it is accepted off the mux; the host layers multistream
// negotiation over this hook (spec.md §4.10).
func (s *Swarm) SetStreamHandler(h func(network.Stream)) {
	s.mu.Lock()
	s.streamHandler = h
	s.mu.Unlock()
}

func (s *Swarm) handler() func(network.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamHandler
}

func (s *Swarm) transportFor(addr ma.Multiaddr) coretransport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transports[matransport.TagFor(addr)]
}

func (s *Swarm) LocalPeer() peer.ID { return s.local }

func (s *Swarm) bestConn(p peer.ID) network.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.conns[p]
	if len(cs) == 0 {
		return nil
	}
	return cs[0]
}

func (s *Swarm) addConn(cc coretransport.CapableConn, dir network.Direction) *conn {
	c := newConn(cc, s, dir)
	s.mu.Lock()
	s.conns[c.RemotePeer()] = append(s.conns[c.RemotePeer()], c)
	s.mu.Unlock()
	s.notifyConnected(c)
	go c.acceptLoop(s.handler())
	return c
}

func (s *Swarm) removeConn(c *conn) {
	s.mu.Lock()
	p := c.RemotePeer()
	cs := s.conns[p]
	for i, x := range cs {
		if x == c {
			s.conns[p] = append(cs[:i], cs[i+1:]...)
			break
		}
	}
	if len(s.conns[p]) == 0 {
		delete(s.conns, p)
	}
	s.mu.Unlock()
}

func (s *Swarm) dialerFor(p peer.ID) *dialWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.dialers[p]
	if !ok {
		w = newDialWorker(s, p)
		s.dialers[p] = w
	}
	return w
}

func (s *Swarm) removeDialWorker(p peer.ID, w *dialWorker) {
	s.mu.Lock()
	if s.dialers[p] == w {
		delete(s.dialers, p)
	}
	s.mu.Unlock()
}

func (s *Swarm) DialPeer(ctx context.Context, p peer.ID) (network.Conn, error) {
	if c := s.bestConn(p); c != nil {
		return c, nil
	}
	w := s.dialerFor(p)
	return w.dial(ctx)
}

func (s *Swarm) ClosePeer(p peer.ID) error {
	s.mu.Lock()
	cs := append([]*conn(nil), s.conns[p]...)
	s.mu.Unlock()
	for _, c := range cs {
		_ = c.Close()
	}
	return nil
}

func (s *Swarm) Connectedness(p peer.ID) network.Connectedness {
	if s.bestConn(p) != nil {
		return network.Connected
	}
	return network.NotConnected
}

func (s *Swarm) Peers() []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.ID, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

func (s *Swarm) Conns() []network.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []network.Conn
	for _, cs := range s.conns {
		for _, c := range cs {
			out = append(out, c)
		}
	}
	return out
}

func (s *Swarm) ConnsToPeer(p peer.ID) []network.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]network.Conn, 0, len(s.conns[p]))
	for _, c := range s.conns[p] {
		out = append(out, c)
	}
	return out
}

func (s *Swarm) Notify(n network.Notifiee) {
	s.mu.Lock()
	s.notifees[n] = struct{}{}
	s.mu.Unlock()
}

func (s *Swarm) StopNotify(n network.Notifiee) {
	s.mu.Lock()
	delete(s.notifees, n)
	s.mu.Unlock()
}

func (s *Swarm) notifyConnected(c *conn) {
	s.mu.Lock()
	ns := make([]network.Notifiee, 0, len(s.notifees))
	for n := range s.notifees {
		ns = append(ns, n)
	}
	s.mu.Unlock()
	for _, n := range ns {
		n.Connected(s, c)
	}
}

func (s *Swarm) notifyDisconnected(c *conn) {
	s.mu.Lock()
	ns := make([]network.Notifiee, 0, len(s.notifees))
	for n := range s.notifees {
		ns = append(ns, n)
	}
	s.mu.Unlock()
	for _, n := range ns {
		n.Disconnected(s, c)
	}
}

func (s *Swarm) NewStream(ctx context.Context, p peer.ID) (network.Stream, error) {
	c, err := s.DialPeer(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.NewStream(ctx)
}

func (s *Swarm) Listen(addrs ...ma.Multiaddr) error {
	for _, a := range addrs {
		t := s.transportFor(a)
		if t == nil {
			return fmt.Errorf("swarm: no transport for %s", a)
		}
		l, err := t.Listen(a)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.listeners = append(s.listeners, listenerEntry{l: l, laddr: a})
		s.mu.Unlock()
		go s.acceptLoop(l)
	}
	return nil
}

func (s *Swarm) acceptLoop(l coretransport.Listener) {
	var catcher tec.TempErrorCatcher
	for {
		cc, err := l.Accept()
		if err != nil {
			if catcher.IsTemp(err) {
				log.Debugf("swarm: accept: temporary error, retrying: %s", err)
				time.Sleep(acceptRetryWait)
				continue
			}
			return
		}
		if s.gater != nil && !s.gater.InterceptAccept(network.DirInbound, cc.RemoteMultiaddr()) {
			_ = cc.Close()
			continue
		}
		s.addConn(cc, network.DirInbound)
	}
}

func (s *Swarm) ListenAddresses() []ma.Multiaddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ma.Multiaddr, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.laddr)
	}
	return out
}

func (s *Swarm) InterfaceListenAddresses() ([]ma.Multiaddr, error) {
	addrs := s.ListenAddresses()
	var out []ma.Multiaddr
	for _, a := range addrs {
		resolved, err := matransport.ResolveUnspecified(a)
		if err != nil {
			out = append(out, a)
			continue
		}
		out = append(out, resolved...)
	}
	return out, nil
}

func (s *Swarm) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	dialers := make([]*dialWorker, 0, len(s.dialers))
	for _, w := range s.dialers {
		dialers = append(dialers, w)
	}
	var allConns []*conn
	for _, cs := range s.conns {
		allConns = append(allConns, cs...)
	}
	s.mu.Unlock()

	for _, w := range dialers {
		w.close()
	}
	for _, l := range listeners {
		_ = l.l.Close()
	}
	for _, c := range allConns {
		_ = c.Close()
	}
	return nil
}

var _ network.Network = (*Swarm)(nil)
