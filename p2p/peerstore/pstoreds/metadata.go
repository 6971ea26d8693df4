package pstoreds

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

const metadataPrefix = "/peers/metadata/"

// metadata tags used to pick the decoder for Get's returned any value.
const (
	tagString byte = iota
	tagBytes
	tagDuration
	tagInt64
)

// peerMetadata implements peerstore.PeerMetadata with a small tagged
// binary encoding supporting the value kinds identify actually stores
// (strings, durations, raw bytes, integers) (spec.md §4.7).
type peerMetadata struct {
	kv peerstore.KVStore
}

func NewPeerMetadata(kv peerstore.KVStore) *peerMetadata {
	return &peerMetadata{kv: kv}
}

func metadataKey(p peer.ID, key string) string {
	return metadataPrefix + encodeB32(p.Bytes()) + "/" + key
}

func (m *peerMetadata) Get(p peer.ID, key string) (any, error) {
	data, err := m.kv.Get(context.Background(), metadataKey(p, key))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("pstoreds: empty metadata value")
	}
	r := bytes.NewReader(data[1:])
	switch data[0] {
	case tagString:
		return string(data[1:]), nil
	case tagBytes:
		return data[1:], nil
	case tagDuration:
		d, err := getDuration(r)
		return d, err
	case tagInt64:
		v, err := getUvarint(r)
		return int64(v), err
	default:
		return nil, fmt.Errorf("pstoreds: unknown metadata tag %d", data[0])
	}
}

func (m *peerMetadata) Put(p peer.ID, key string, val any) error {
	var buf bytes.Buffer
	switch v := val.(type) {
	case string:
		buf.WriteByte(tagString)
		buf.WriteString(v)
	case []byte:
		buf.WriteByte(tagBytes)
		buf.Write(v)
	case time.Duration:
		buf.WriteByte(tagDuration)
		putDuration(&buf, v)
	case int64:
		buf.WriteByte(tagInt64)
		putUvarint(&buf, uint64(v))
	case int:
		buf.WriteByte(tagInt64)
		putUvarint(&buf, uint64(v))
	default:
		return fmt.Errorf("pstoreds: unsupported metadata value type %T", val)
	}
	return m.kv.Put(context.Background(), metadataKey(p, key), buf.Bytes())
}

var _ peerstore.PeerMetadata = (*peerMetadata)(nil)
