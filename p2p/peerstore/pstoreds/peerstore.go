package pstoreds

import (
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

// Peerstore composes the address book, key book, protocol book,
// metadata and metrics sub-stores over one shared KVStore (spec.md
// §4.7).
type Peerstore struct {
	*addrBook
	*keyBook
	*protoBook
	*peerMetadata
	*metrics
}

var _ peerstore.Peerstore = (*Peerstore)(nil)

type Option func(*options)

type options struct {
	addrBookOpts []AddrBookOption
	keyBookOpts  []KeyBookOption
	protoOpts    []ProtoBookOption
}

func WithAddrBookOptions(opts ...AddrBookOption) Option {
	return func(o *options) { o.addrBookOpts = append(o.addrBookOpts, opts...) }
}

func WithKeyBookOptions(opts ...KeyBookOption) Option {
	return func(o *options) { o.keyBookOpts = append(o.keyBookOpts, opts...) }
}

func WithProtoBookOptions(opts ...ProtoBookOption) Option {
	return func(o *options) { o.protoOpts = append(o.protoOpts, opts...) }
}

// NewPeerstore builds a production peerstore atop kv, namespacing every
// sub-store's keys under a distinct prefix (spec.md §6).
func NewPeerstore(kv peerstore.KVStore, opts ...Option) (*Peerstore, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ab, err := NewAddrBook(kv, o.addrBookOpts...)
	if err != nil {
		return nil, err
	}

	return &Peerstore{
		addrBook:     ab,
		keyBook:      NewKeyBook(kv, o.keyBookOpts...),
		protoBook:    NewProtoBook(kv, o.protoOpts...),
		peerMetadata: NewPeerMetadata(kv),
		metrics:      NewMetrics(),
	}, nil
}

func (ps *Peerstore) Close() error {
	return ps.addrBook.Close()
}

func (ps *Peerstore) Peers() []peer.ID {
	seen := make(map[peer.ID]struct{})
	var out []peer.ID
	for _, p := range ps.addrBook.PeersWithAddrs() {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range ps.keyBook.PeersWithKeys() {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func (ps *Peerstore) PeerInfo(p peer.ID) peer.AddrInfo {
	return peer.AddrInfo{ID: p, Addrs: ps.addrBook.Addrs(p)}
}
