package pstoreds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
)

const (
	protoPrefix     = "/peers/protocols/"
	defaultMaxProtos = 1024
	numProtoShards  = 256
)

var ErrTooManyProtocols = errors.New("pstoreds: too many protocols")

// protoBook implements peerstore.ProtoBook, sharded by peer_id.hash mod
// 256 locks so unrelated peers never contend (spec.md §4.7).
type protoBook struct {
	kv        peerstore.KVStore
	maxProtos int
	shards    [numProtoShards]sync.Mutex
}

type ProtoBookOption func(*protoBook)

func WithMaxProtocols(n int) ProtoBookOption {
	return func(b *protoBook) { b.maxProtos = n }
}

func NewProtoBook(kv peerstore.KVStore, opts ...ProtoBookOption) *protoBook {
	b := &protoBook{kv: kv, maxProtos: defaultMaxProtos}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *protoBook) shardFor(p peer.ID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p))
	return &b.shards[h.Sum32()%numProtoShards]
}

func protoKey(p peer.ID) string { return protoPrefix + encodeB32(p.Bytes()) }

func (b *protoBook) load(ctx context.Context, p peer.ID) ([]protocol.ID, error) {
	data, err := b.kv.Get(ctx, protoKey(p))
	if errors.Is(err, peerstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeProtoSet(data)
}

func (b *protoBook) store(ctx context.Context, p peer.ID, protos []protocol.ID) error {
	if len(protos) == 0 {
		return b.kv.Delete(ctx, protoKey(p))
	}
	return b.kv.Put(ctx, protoKey(p), encodeProtoSet(protos))
}

func encodeProtoSet(protos []protocol.ID) []byte {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(len(protos)))
	for _, p := range protos {
		putChunk(&buf, []byte(p))
	}
	return buf.Bytes()
}

func decodeProtoSet(data []byte) ([]protocol.ID, error) {
	r := bytes.NewReader(data)
	n, err := getUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.ID, 0, n)
	for i := uint64(0); i < n; i++ {
		chunk, err := getChunk(r)
		if err != nil {
			return nil, err
		}
		out = append(out, protocol.ID(chunk))
	}
	return out, nil
}

func (b *protoBook) GetProtocols(p peer.ID) ([]protocol.ID, error) {
	l := b.shardFor(p)
	l.Lock()
	defer l.Unlock()
	return b.load(context.Background(), p)
}

func (b *protoBook) AddProtocols(p peer.ID, protos ...protocol.ID) error {
	l := b.shardFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	cur, err := b.load(ctx, p)
	if err != nil {
		return err
	}
	have := make(map[protocol.ID]struct{}, len(cur))
	for _, c := range cur {
		have[c] = struct{}{}
	}
	for _, np := range protos {
		if _, ok := have[np]; !ok {
			cur = append(cur, np)
			have[np] = struct{}{}
		}
	}
	if len(cur) > b.maxProtos {
		return fmt.Errorf("%w: %d > %d", ErrTooManyProtocols, len(cur), b.maxProtos)
	}
	return b.store(ctx, p, cur)
}

func (b *protoBook) SetProtocols(p peer.ID, protos ...protocol.ID) error {
	l := b.shardFor(p)
	l.Lock()
	defer l.Unlock()

	if len(protos) > b.maxProtos {
		return fmt.Errorf("%w: %d > %d", ErrTooManyProtocols, len(protos), b.maxProtos)
	}
	return b.store(context.Background(), p, append([]protocol.ID(nil), protos...))
}

func (b *protoBook) RemoveProtocols(p peer.ID, protos ...protocol.ID) error {
	l := b.shardFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	cur, err := b.load(ctx, p)
	if err != nil {
		return err
	}
	remove := make(map[protocol.ID]struct{}, len(protos))
	for _, r := range protos {
		remove[r] = struct{}{}
	}
	kept := cur[:0]
	for _, c := range cur {
		if _, ok := remove[c]; !ok {
			kept = append(kept, c)
		}
	}
	return b.store(ctx, p, kept)
}

func (b *protoBook) SupportsProtocols(p peer.ID, protos ...protocol.ID) ([]protocol.ID, error) {
	cur, err := b.GetProtocols(p)
	if err != nil {
		return nil, err
	}
	have := make(map[protocol.ID]struct{}, len(cur))
	for _, c := range cur {
		have[c] = struct{}{}
	}
	var out []protocol.ID
	for _, p := range protos {
		if _, ok := have[p]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *protoBook) FirstSupportedProtocol(p peer.ID, protos ...protocol.ID) (protocol.ID, error) {
	supported, err := b.SupportsProtocols(p, protos...)
	if err != nil || len(supported) == 0 {
		return "", err
	}
	return supported[0], nil
}

var _ peerstore.ProtoBook = (*protoBook)(nil)
