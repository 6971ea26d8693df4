// Package basichost implements the default core/host.Host: a
// multistream handler table layered over a core/network.Network
// (spec.md §4.10).
package basichost

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/erwin-kok/go-libp2p-core-engine/core/event"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/net/multistream"
)

var log = logging.Logger("basichost")

// DefaultNegotiationTimeout bounds how long a remote-opened stream may
// sit in multistream negotiation before it is reset.
const DefaultNegotiationTimeout = 60 * time.Second

// BasicHost is the default core/host.Host implementation: it owns the
// Network and layers protocol-handler dispatch over it via
// multistream-select.
type BasicHost struct {
	net                network.Network
	ps                 peerstore.Peerstore
	mux                *multistream.Multistream
	bus                event.Bus
	negotiationTimeout time.Duration
}

// New wires a BasicHost over net, registering the host's stream
// handler table as the negotiation target for every inbound stream.
func New(net network.Network, ps peerstore.Peerstore, bus event.Bus) *BasicHost {
	h := &BasicHost{
		net:                net,
		ps:                 ps,
		mux:                multistream.NewMultistream(),
		bus:                bus,
		negotiationTimeout: DefaultNegotiationTimeout,
	}
	if sh, ok := net.(interface {
		SetStreamHandler(func(network.Stream))
	}); ok {
		sh.SetStreamHandler(h.mux.Handle)
	}
	return h
}

// Mux exposes the handler table so the swarm's accept loop can
// dispatch freshly opened inbound streams into negotiation.
func (h *BasicHost) Mux() *multistream.Multistream { return h.mux }

func (h *BasicHost) ID() peer.ID                    { return h.net.LocalPeer() }
func (h *BasicHost) Peerstore() peerstore.Peerstore { return h.ps }
func (h *BasicHost) Network() network.Network       { return h.net }
func (h *BasicHost) EventBus() event.Bus            { return h.bus }

func (h *BasicHost) Addrs() []ma.Multiaddr {
	addrs, err := h.net.InterfaceListenAddresses()
	if err != nil {
		log.Debugf("basichost: interface addresses: %s", err)
	}
	return addrs
}

func (h *BasicHost) emitProtocolsUpdated(added, removed []protocol.ID) {
	if h.bus == nil {
		return
	}
	em, err := h.bus.Emitter(event.EvtLocalProtocolsUpdated{}, event.Stateful)
	if err != nil {
		return
	}
	defer em.Close()
	_ = em.Emit(event.EvtLocalProtocolsUpdated{Added: added, Removed: removed})
}

func streamHandlerToMultistream(pid protocol.ID, handler network.StreamHandler) multistream.HandlerFunc {
	return func(negotiated protocol.ID, s multistream.Stream) error {
		ns, ok := s.(network.Stream)
		if !ok {
			return fmt.Errorf("basichost: negotiated stream %T does not implement network.Stream", s)
		}
		handler(ns)
		return nil
	}
}

// SetStreamHandler registers handler for pid. Inbound streams
// negotiating pid are handed to handler after their protocol id is set
// (spec.md §4.1).
func (h *BasicHost) SetStreamHandler(pid protocol.ID, handler network.StreamHandler) {
	h.mux.AddHandler(pid, streamHandlerToMultistream(pid, handler))
	h.emitProtocolsUpdated([]protocol.ID{pid}, nil)
}

func (h *BasicHost) SetStreamHandlerMatch(pid protocol.ID, m protocol.Match, handler network.StreamHandler) {
	h.mux.AddHandlerWithFunc(m, streamHandlerToMultistream(pid, handler))
	h.emitProtocolsUpdated([]protocol.ID{pid}, nil)
}

func (h *BasicHost) RemoveStreamHandler(pid protocol.ID) {
	h.mux.RemoveHandler(pid)
	h.emitProtocolsUpdated(nil, []protocol.ID{pid})
}

// NewStream opens a stream to p and negotiates the first of pids the
// peer supports. If the peerstore's protocol book already recorded
// that p supports one of pids, negotiation still runs (multistream
// gives no deadline-free way to skip it over an unopened stream), but
// the fast-path preference order tries that protocol first so the
// common case is a single round trip (spec.md §4.10).
func (h *BasicHost) NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error) {
	if len(pids) == 0 {
		return nil, fmt.Errorf("basichost: NewStream requires at least one protocol id")
	}

	ordered := pids
	if h.ps != nil {
		if supported, err := h.ps.SupportsProtocols(p, pids...); err == nil && len(supported) > 0 {
			ordered = append(append([]protocol.ID{}, supported...), pids...)
		}
	}

	s, err := h.net.NewStream(ctx, p)
	if err != nil {
		return nil, err
	}

	selected, err := multistream.SelectOneOf(s, ordered)
	if err != nil {
		_ = s.Reset()
		return nil, err
	}
	if err := s.SetProtocol(selected); err != nil {
		log.Warnf("basichost: set protocol: %s", err)
	}
	if h.ps != nil {
		_ = h.ps.AddProtocols(p, selected)
	}
	return s, nil
}

// Connect absorbs pi's addresses into the peerstore with a short TTL
// and ensures a live connection, dialing if one does not already exist
// (spec.md §4.10).
func (h *BasicHost) Connect(ctx context.Context, pi peer.AddrInfo) error {
	if h.ps != nil && len(pi.Addrs) > 0 {
		h.ps.AddAddrs(pi.ID, pi.Addrs, peerstore.TempAddrTTL)
	}
	if len(h.net.ConnsToPeer(pi.ID)) > 0 {
		return nil
	}
	_, err := h.net.DialPeer(ctx, pi.ID)
	return err
}

func (h *BasicHost) Close() error {
	return h.net.Close()
}
