// Package event defines the typed events and bus interfaces (spec.md §4.11).
package event

import (
	"time"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// EvtLocalProtocolsUpdated fires when the local host's stream handler
// table gains or loses protocol ids.
type EvtLocalProtocolsUpdated struct {
	Added   []protocol.ID
	Removed []protocol.ID
}

// EvtLocalAddressesUpdated fires when the host's own listen addresses
// change.
type EvtLocalAddressesUpdated struct {
	Current []ma.Multiaddr
}

// EvtPeerProtocolsUpdated fires when identify learns a remote peer's
// handler table changed.
type EvtPeerProtocolsUpdated struct {
	Peer    peer.ID
	Added   []protocol.ID
	Removed []protocol.ID
}

type EvtPeerIdentificationCompleted struct {
	Peer peer.ID
}

type EvtPeerIdentificationFailed struct {
	Peer   peer.ID
	Reason error
}

// Connectedness mirrors core/network.Connectedness without importing it,
// to keep event a leaf package.
type Connectedness int

const (
	NotConnected Connectedness = iota
	Connected
)

type EvtPeerConnectednessChanged struct {
	Peer          peer.ID
	Connectedness Connectedness
}

// EvtNetworkDisconnected fires when a connection is torn down due to a
// fatal error, carrying the root-cause error kind (spec.md §7).
type EvtNetworkDisconnected struct {
	Peer      peer.ID
	Reason    error
	Timestamp time.Time
}

// Emitter publishes events of a single concrete type onto the bus.
type Emitter interface {
	Emit(evt any) error
	Close() error
}

// Subscription delivers events for one or more registered types.
type Subscription interface {
	Out() <-chan any
	Close() error
	Name() string
}

// SubSettings configures a subscription (buffer size, name) without
// pulling option-parsing into the bus interface itself.
type SubSettings struct {
	Buffer int
	Name   string
}

type SubOption func(*SubSettings)

func BufSize(n int) SubOption {
	return func(s *SubSettings) { s.Buffer = n }
}

func Name(n string) SubOption {
	return func(s *SubSettings) { s.Name = n }
}

// EmitterOpt configures an Emitter (e.g. replay-last-event semantics).
type EmitterOpt func(*EmitterSettings)

type EmitterSettings struct {
	MakeStateful bool
}

func Stateful(s *EmitterSettings) { s.MakeStateful = true }

// Bus is a process-local typed publish/subscribe registry: each distinct
// event Go type gets its own broadcast channel.
type Bus interface {
	Subscribe(eventType any, opts ...SubOption) (Subscription, error)
	Emitter(eventType any, opts ...EmitterOpt) (Emitter, error)
}
