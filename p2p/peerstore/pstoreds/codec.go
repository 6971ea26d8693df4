// Package pstoreds is the production peerstore: address book, key book,
// protocol book, metadata and metrics, all sharing one peerstore.KVStore
// under namespaced key prefixes (spec.md §4.7, §6 key layout).
package pstoreds

import (
	"bytes"
	"time"

	"github.com/multiformats/go-varint"
)

// The sub-stores persist their records as a small internal binary
// encoding (varint-length-prefixed chunks, the same convention used by
// the envelope and muxer frame codecs elsewhere in this module). The
// exact byte layout is a private storage detail, not a wire protocol, so
// it does not need to match any upstream protobuf schema (spec.md §1
// explicitly scopes "byte-for-byte record protobuf encodings" out).

func putUvarint(buf *bytes.Buffer, v uint64) {
	buf.Write(varint.ToUvarint(v))
}

func putChunk(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func getUvarint(r *bytes.Reader) (uint64, error) {
	return varint.ReadUvarint(r)
}

func getChunk(r *bytes.Reader) ([]byte, error) {
	n, err := getUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	total := 0
	for total < len(b) {
		k, err := r.Read(b[total:])
		total += k
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func putDuration(buf *bytes.Buffer, d time.Duration) {
	putUvarint(buf, uint64(d))
}

func getDuration(r *bytes.Reader) (time.Duration, error) {
	v, err := getUvarint(r)
	if err != nil {
		return 0, err
	}
	return time.Duration(v), nil
}

func putTime(buf *bytes.Buffer, t time.Time) {
	putUvarint(buf, uint64(t.UnixNano()))
}

func getTime(r *bytes.Reader) (time.Time, error) {
	v, err := getUvarint(r)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(v)), nil
}
