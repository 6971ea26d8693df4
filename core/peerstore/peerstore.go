// Package peerstore defines the peerstore's public surface: address
// book, key book, protocol book, metadata, metrics, and the capability
// traits its storage backend must satisfy (spec.md §4.7, design note #9).
package peerstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	"github.com/erwin-kok/go-libp2p-core-engine/core/record"
	ma "github.com/multiformats/go-multiaddr"
)

// TTL policy constants (spec.md §4.7). Only the ordering invariant is
// specified; these are reasonable concrete defaults.
const (
	TempAddrTTL             = 2 * time.Minute
	RecentlyConnectedAddrTTL = 10 * time.Minute
	ConnectedAddrTTL        = 1 * time.Hour
	ProviderAddrTTL         = 24 * time.Hour
	PermanentAddrTTL        = 100 * 365 * 24 * time.Hour
	AddressTTL              = 1 * time.Hour // default GC sweep threshold
)

var (
	ErrNotFound = errors.New("peerstore: not found")
)

// KVStore is the abstract key-value store the peerstore's sub-stores
// share, namespaced by key prefix. Out of core scope per spec.md §1: the
// concrete persistence mechanism is swappable (in-memory for tests, a
// real datastore for production).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	// Query lists keys (and optionally values) under prefix.
	Query(ctx context.Context, prefix string) (Iterator, error)
}

type Iterator interface {
	Next() bool
	Key() string
	Value() []byte
	Close() error
}

// Batching is a capability trait: a KVStore that can batch writes, used
// by the GC cycle to bound lock hold time (spec.md §5).
type Batching interface {
	Batch(ctx context.Context) (Batch, error)
}

type Batch interface {
	Put(key string, value []byte)
	Delete(key string)
	Commit(ctx context.Context) error
}

// AddrBook manages per-peer addresses with TTL expiry and certified
// records.
type AddrBook interface {
	AddAddr(p peer.ID, addr ma.Multiaddr, ttl time.Duration)
	AddAddrs(p peer.ID, addrs []ma.Multiaddr, ttl time.Duration)
	SetAddr(p peer.ID, addr ma.Multiaddr, ttl time.Duration)
	SetAddrs(p peer.ID, addrs []ma.Multiaddr, ttl time.Duration)
	UpdateAddrs(p peer.ID, oldTTL, newTTL time.Duration)
	Addrs(p peer.ID) []ma.Multiaddr
	ClearAddrs(p peer.ID)
	PeersWithAddrs() []peer.ID
}

// CertifiedAddrBook is an AddrBook that also accepts signed PeerRecords.
type CertifiedAddrBook interface {
	AddrBook
	ConsumePeerRecord(env *record.Envelope, ttl time.Duration) (accepted bool, err error)
	GetPeerRecord(p peer.ID) *record.Envelope
}

// KeyBook stores public and (optionally encrypted) private keys.
type KeyBook interface {
	PubKey(p peer.ID) crypto.PubKey
	AddPubKey(p peer.ID, pk crypto.PubKey) error
	PrivKey(p peer.ID) crypto.PrivKey
	AddPrivKey(p peer.ID, sk crypto.PrivKey) error
	PeersWithKeys() []peer.ID
}

// ProtoBook records the bounded set of protocol ids a peer is known to
// support.
type ProtoBook interface {
	GetProtocols(p peer.ID) ([]protocol.ID, error)
	AddProtocols(p peer.ID, protos ...protocol.ID) error
	SetProtocols(p peer.ID, protos ...protocol.ID) error
	RemoveProtocols(p peer.ID, protos ...protocol.ID) error
	SupportsProtocols(p peer.ID, protos ...protocol.ID) ([]protocol.ID, error)
	FirstSupportedProtocol(p peer.ID, protos ...protocol.ID) (protocol.ID, error)
}

// PeerMetadata is a typed per-peer key/value store for small ancillary
// facts (e.g. ProtocolVersion/AgentVersion from identify).
type PeerMetadata interface {
	Get(p peer.ID, key string) (any, error)
	Put(p peer.ID, key string, val any) error
}

// Metrics tracks an EWMA latency estimate per peer (spec.md §4.7).
type Metrics interface {
	RecordLatency(p peer.ID, rtt time.Duration)
	LatencyEWMA(p peer.ID) time.Duration
}

// Peerstore aggregates all sub-stores plus lifecycle management.
type Peerstore interface {
	io.Closer
	AddrBook
	KeyBook
	ProtoBook
	PeerMetadata
	Metrics

	Peers() []peer.ID
	PeerInfo(p peer.ID) peer.AddrInfo
}
