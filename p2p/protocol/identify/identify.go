// Package identify implements /ipfs/id/1.0.0: on every new connection
// a background task exchanges version strings, public key, listen
// addresses and supported protocols, and learns the address the peer
// observed us dialing from (SPEC_FULL.md §4 Supplemented Features).
package identify

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-msgio"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/event"
	"github.com/erwin-kok/go-libp2p-core-engine/core/host"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	"github.com/erwin-kok/go-libp2p-core-engine/core/record"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/net/multistream"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/protocol/identify/pb"
)

var log = logging.Logger("net/identify")

// ID is the protocol id this service negotiates on every new
// connection.
const ID = protocol.ID("/ipfs/id/1.0.0")

// DefaultProtocolVersion is sent in every outgoing Identify message's
// ProtocolVersion field.
const DefaultProtocolVersion = "libp2p-core-engine/1.0.0"

// StreamReadTimeout bounds one identify exchange.
const StreamReadTimeout = 60 * time.Second

const maxMessageSize = 8 * 1024

// protocolLister is the narrow surface basichost.BasicHost exposes
// for reading its own negotiated protocol table; identify degrades to
// an empty protocol list against a host that doesn't implement it.
type protocolLister interface {
	Mux() *multistream.Multistream
}

// IDService runs the identify protocol over a host.Host: it answers
// inbound /ipfs/id/1.0.0 requests with a local snapshot, and drives
// outbound identification of every newly connected peer.
type IDService struct {
	host      host.Host
	priv      crypto.PrivKey
	userAgent string

	mu            sync.Mutex
	seq           uint64
	observedAddrs map[string]ma.Multiaddr // keyed by our local multiaddr, the address a peer last reported observing

	emitProtocolsUpdated event.Emitter
	emitCompleted        event.Emitter
	emitFailed           event.Emitter
}

// NewIDService wires the identify handler onto h and begins observing
// its connection notifications.
func NewIDService(h host.Host, priv crypto.PrivKey) *IDService {
	ids := &IDService{
		host:          h,
		priv:          priv,
		userAgent:     "libp2p-core-engine",
		observedAddrs: make(map[string]ma.Multiaddr),
	}

	if bus := h.EventBus(); bus != nil {
		if em, err := bus.Emitter(event.EvtPeerProtocolsUpdated{}); err == nil {
			ids.emitProtocolsUpdated = em
		}
		if em, err := bus.Emitter(event.EvtPeerIdentificationCompleted{}); err == nil {
			ids.emitCompleted = em
		}
		if em, err := bus.Emitter(event.EvtPeerIdentificationFailed{}); err == nil {
			ids.emitFailed = em
		}
	}

	h.SetStreamHandler(ID, ids.handleIdentifyRequest)
	h.Network().Notify(&notifiee{ids: ids})
	return ids
}

// notifiee triggers an identify exchange on every newly established
// connection (spec.md's identify supplement: "on every new
// connection, a background task negotiates /ipfs/id/1.0.0").
type notifiee struct{ ids *IDService }

func (n *notifiee) Listen(network.Network, ma.Multiaddr)      {}
func (n *notifiee) ListenClose(network.Network, ma.Multiaddr) {}
func (n *notifiee) Disconnected(network.Network, network.Conn) {}
func (n *notifiee) Connected(_ network.Network, c network.Conn) {
	go n.ids.IdentifyConn(c)
}

// IdentifyConn opens an identify stream to c's remote peer, sends no
// payload (the protocol is responder-initiated: the dialer just reads
// the listener's snapshot), and absorbs the result into the
// peerstore.
func (ids *IDService) IdentifyConn(c network.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), StreamReadTimeout)
	defer cancel()

	s, err := ids.host.NewStream(ctx, c.RemotePeer(), ID)
	if err != nil {
		ids.fail(c.RemotePeer(), err)
		return
	}
	defer s.Close()

	if err := s.SetDeadline(time.Now().Add(StreamReadTimeout)); err != nil {
		_ = s.Reset()
		ids.fail(c.RemotePeer(), err)
		return
	}

	msg, err := readMessage(s)
	if err != nil {
		_ = s.Reset()
		ids.fail(c.RemotePeer(), fmt.Errorf("identify: read response: %w", err))
		return
	}

	ids.consume(c, msg)
	ids.complete(c.RemotePeer())
}

func (ids *IDService) fail(p peer.ID, err error) {
	log.Debugf("identify: %s: %s", p, err)
	if ids.emitFailed != nil {
		_ = ids.emitFailed.Emit(event.EvtPeerIdentificationFailed{Peer: p, Reason: err})
	}
}

func (ids *IDService) complete(p peer.ID) {
	if ids.emitCompleted != nil {
		_ = ids.emitCompleted.Emit(event.EvtPeerIdentificationCompleted{Peer: p})
	}
}

// consume records msg's contents into the host's peerstore: protocols,
// public key, and (if present) a signed PeerRecord; falls back to the
// bare listen addresses when no signed record is attached.
func (ids *IDService) consume(c network.Conn, msg *pb.Identify) {
	ps := ids.host.Peerstore()
	if ps == nil {
		return
	}
	p := c.RemotePeer()

	if len(msg.Protocols) > 0 {
		protos := make([]protocol.ID, len(msg.Protocols))
		for i, s := range msg.Protocols {
			protos[i] = protocol.ID(s)
		}
		_ = ps.SetProtocols(p, protos...)
		if ids.emitProtocolsUpdated != nil {
			_ = ids.emitProtocolsUpdated.Emit(event.EvtPeerProtocolsUpdated{Peer: p, Added: protos})
		}
	}

	if len(msg.PublicKey) > 0 {
		if pub, err := crypto.UnmarshalPublicKey(msg.PublicKey); err == nil {
			_ = ps.AddPubKey(p, pub)
		}
	}

	if len(msg.SignedPeerRecord) > 0 {
		if env, rec, err := record.ConsumeEnvelope(msg.SignedPeerRecord, record.PeerRecordEnvelopeDomain); err == nil {
			if pr, ok := rec.(*record.PeerRecord); ok && pr.PeerID == p {
				if cab, ok := ps.(peerstore.CertifiedAddrBook); ok {
					_, _ = cab.ConsumePeerRecord(env, peerstore.AddressTTL)
				}
			}
		}
	} else if len(msg.ListenAddrs) > 0 {
		var addrs []ma.Multiaddr
		for _, raw := range msg.ListenAddrs {
			if a, err := ma.NewMultiaddrBytes(raw); err == nil {
				addrs = append(addrs, a)
			}
		}
		ps.AddAddrs(p, addrs, peerstore.ConnectedAddrTTL)
	}

	if len(msg.ObservedAddr) > 0 {
		if a, err := ma.NewMultiaddrBytes(msg.ObservedAddr); err == nil && c.LocalMultiaddr() != nil {
			ids.mu.Lock()
			ids.observedAddrs[c.LocalMultiaddr().String()] = a
			ids.mu.Unlock()
		}
	}
}

// ObservedAddrsFor returns the address peers have reported seeing us
// dial from over local, if any peer has identified us over it yet.
func (ids *IDService) ObservedAddrsFor(local ma.Multiaddr) (ma.Multiaddr, bool) {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	a, ok := ids.observedAddrs[local.String()]
	return a, ok
}

// OwnObservedAddrs returns every address peers have reported observing
// us dial from, across all local addresses identify has seen reports
// for.
func (ids *IDService) OwnObservedAddrs() []ma.Multiaddr {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	out := make([]ma.Multiaddr, 0, len(ids.observedAddrs))
	for _, a := range ids.observedAddrs {
		out = append(out, a)
	}
	return out
}

// handleIdentifyRequest answers an inbound /ipfs/id/1.0.0 stream with
// the local host's current snapshot.
func (ids *IDService) handleIdentifyRequest(s network.Stream) {
	defer s.Close()
	if err := s.SetDeadline(time.Now().Add(StreamReadTimeout)); err != nil {
		_ = s.Reset()
		return
	}

	msg := ids.snapshot(s.Conn())
	if err := writeMessage(s, msg); err != nil {
		log.Debugf("identify: write snapshot to %s: %s", s.Conn().RemotePeer(), err)
		_ = s.Reset()
	}
}

// snapshot builds the Identify message describing the local host as
// observed over conn.
func (ids *IDService) snapshot(conn network.Conn) *pb.Identify {
	msg := &pb.Identify{
		ProtocolVersion: DefaultProtocolVersion,
		AgentVersion:    ids.userAgent,
	}

	if ids.priv != nil {
		if pub := ids.priv.GetPublic(); pub != nil {
			if raw, err := crypto.MarshalPublicKey(pub); err == nil {
				msg.PublicKey = raw
			}
		}
	}

	for _, a := range ids.host.Addrs() {
		msg.ListenAddrs = append(msg.ListenAddrs, a.Bytes())
	}

	if pl, ok := ids.host.(protocolLister); ok {
		for _, p := range pl.Mux().Protocols() {
			msg.Protocols = append(msg.Protocols, string(p))
		}
	}

	if conn != nil {
		msg.ObservedAddr = conn.RemoteMultiaddr().Bytes()
	}

	if ids.priv != nil {
		ids.mu.Lock()
		ids.seq++
		seq := ids.seq
		ids.mu.Unlock()

		pr := record.PeerRecordFromAddrInfo(peer.AddrInfo{ID: ids.host.ID(), Addrs: ids.host.Addrs()}, seq)
		if env, err := record.Seal(pr, ids.priv); err == nil {
			if raw, err := env.Marshal(); err == nil {
				msg.SignedPeerRecord = raw
			}
		}
	}

	return msg
}

// readMessage reads one length-delimited Identify message (go-msgio's
// varint-prefixed framing, the same convention the push protocol would
// need for multiple messages per stream).
func readMessage(s network.Stream) (*pb.Identify, error) {
	r := msgio.NewVarintReaderSize(s, maxMessageSize)
	raw, err := r.ReadMsg()
	if err != nil {
		return nil, err
	}
	defer r.ReleaseMsg(raw)
	return pb.Unmarshal(raw)
}

// writeMessage sends one length-delimited Identify message.
func writeMessage(s network.Stream, msg *pb.Identify) error {
	raw := pb.Marshal(msg)
	if len(raw) > maxMessageSize {
		return fmt.Errorf("identify: message too large: %d bytes", len(raw))
	}
	return msgio.NewVarintWriter(s).WriteMsg(raw)
}

var _ network.Notifiee = (*notifiee)(nil)
