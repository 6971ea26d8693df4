package mplex

import (
	"bufio"
	"fmt"
	"io"

	pool "github.com/libp2p/go-buffer-pool"
	"github.com/multiformats/go-varint"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
)

// tag identifies both the frame kind and, implicitly, which side of the
// stream the sender considers itself to be (spec.md §4.2).
type tag uint64

const (
	tagNewStream        tag = 0
	tagMessageReceiver  tag = 1
	tagMessageInitiator tag = 2
	tagCloseReceiver    tag = 3
	tagCloseInitiator   tag = 4
	tagResetReceiver    tag = 5
	tagResetInitiator   tag = 6
)

// maxFrameSize bounds a single frame's payload at 1 MiB, the same bound
// spec.md §8 property 6 tests against; longer frames are rejected.
const maxFrameSize = 1 << 20

type frame struct {
	streamID uint64
	t        tag
	data     []byte
}

func writeFrame(w io.Writer, f frame) error {
	header := (f.streamID << 3) | uint64(f.t)
	if _, err := w.Write(varint.ToUvarint(header)); err != nil {
		return err
	}
	if _, err := w.Write(varint.ToUvarint(uint64(len(f.data)))); err != nil {
		return err
	}
	if len(f.data) == 0 {
		return nil
	}
	_, err := w.Write(f.data)
	return err
}

func readFrame(r *bufio.Reader) (frame, error) {
	header, err := varint.ReadUvarint(r)
	if err != nil {
		return frame{}, err
	}
	t := tag(header & 0x7)
	streamID := header >> 3

	n, err := varint.ReadUvarint(r)
	if err != nil {
		return frame{}, err
	}
	if n > maxFrameSize {
		return frame{}, fmt.Errorf("%w: frame length %d exceeds maximum", network.ErrProtocolViolation, n)
	}

	switch t {
	case tagNewStream, tagMessageReceiver, tagMessageInitiator, tagCloseReceiver, tagCloseInitiator, tagResetReceiver, tagResetInitiator:
	default:
		return frame{}, fmt.Errorf("%w: unknown mplex tag %d", network.ErrProtocolViolation, t)
	}

	switch t {
	case tagCloseReceiver, tagCloseInitiator, tagResetReceiver, tagResetInitiator:
		if n != 0 {
			return frame{}, fmt.Errorf("%w: close/reset frame with nonempty payload", network.ErrProtocolViolation)
		}
	}

	var data []byte
	if n > 0 {
		data = pool.Get(int(n))
		if _, err := io.ReadFull(r, data); err != nil {
			pool.Put(data)
			return frame{}, err
		}
	}
	return frame{streamID: streamID, t: t, data: data}, nil
}

// releaseFrameData returns a frame payload to the pool once every
// reader of it is done. Checks cap, not len, since a fully-drained
// stream buffer reaches here as a zero-length tail of the slice
// readFrame originally pool.Got; a no-op for frames readFrame never
// pool.Got (n==0: tagNewStream with no name, close/reset frames).
func releaseFrameData(data []byte) {
	if cap(data) > 0 {
		pool.Put(data)
	}
}

// isInitiatorTag reports whether t is tagged from the stream-opener's
// perspective (spec.md §4.2: "tag encodes the role from the sender's
// perspective").
func isInitiatorTag(t tag) bool {
	switch t {
	case tagMessageInitiator, tagCloseInitiator, tagResetInitiator:
		return true
	default:
		return false
	}
}
