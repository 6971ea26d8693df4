// Package multistream implements multistream-select v1.0.0: a
// length-prefixed, line-oriented in-band protocol chooser (spec.md §4.1,
// §6).
package multistream

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-varint"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
)

var log = logging.Logger("multistream")

// ProtocolID is the multistream-select header line identifying this
// version of the negotiation protocol.
const ProtocolID = "/multistream/1.0.0"

const (
	// maxLineLength bounds a single multistream line (spec.md §4.1).
	maxLineLength = 1024
	msgNA         = "na"
	msgLS         = "ls"
)

var (
	ErrNotSupported = errors.New("multistream: protocol not supported")
	ErrLineTooLong  = fmt.Errorf("%w: line exceeds %d bytes", network.ErrProtocolViolation, maxLineLength)
	ErrNoNewline    = fmt.Errorf("%w: message missing trailing newline", network.ErrProtocolViolation)
	ErrBadHeader    = fmt.Errorf("%w: unexpected multistream header", network.ErrProtocolViolation)
)

// Stream is the minimal surface negotiation needs from a transport:
// read and write, nothing else.
type Stream interface {
	io.Reader
	io.Writer
}

func writeLine(w io.Writer, s string) error {
	if len(s)+1 > maxLineLength {
		return ErrLineTooLong
	}
	payload := append([]byte(s), '\n')
	lenBuf := varint.ToUvarint(uint64(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n == 0 || n > maxLineLength {
		return "", ErrLineTooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if buf[len(buf)-1] != '\n' {
		return "", ErrNoNewline
	}
	return string(buf[:len(buf)-1]), nil
}

// SelectOneOf runs the client side of negotiation: propose each of
// protos in turn until the peer echoes one back (spec.md §4.1, §6 S4).
func SelectOneOf(rw Stream, protos []protocol.ID) (protocol.ID, error) {
	br := bufio.NewReader(rw)

	if err := writeLine(rw, ProtocolID); err != nil {
		return "", err
	}
	if err := expectHeader(br); err != nil {
		return "", err
	}

	for _, p := range protos {
		if err := writeLine(rw, string(p)); err != nil {
			return "", err
		}
		resp, err := readLine(br)
		if err != nil {
			return "", err
		}
		switch resp {
		case msgNA:
			continue
		case msgLS:
			continue
		case string(p):
			return p, nil
		default:
			// Unexpected echo; treat as rejection of this candidate and
			// keep going, matching upstream's lenient client behavior.
			continue
		}
	}
	return "", ErrNotSupported
}

func expectHeader(br *bufio.Reader) error {
	line, err := readLine(br)
	if err != nil {
		return err
	}
	if line != ProtocolID {
		return ErrBadHeader
	}
	return nil
}

// HandlerFunc is invoked once a protocol is selected server-side.
type HandlerFunc func(protocol.ID, Stream) error

type handlerEntry struct {
	id      protocol.ID
	match   protocol.Match
	handler HandlerFunc
}

// Multistream is the server-side handler table: exact ids and predicate
// matchers, tried in registration order (spec.md §4.1).
type Multistream struct {
	handlers []handlerEntry
}

func NewMultistream() *Multistream {
	return &Multistream{}
}

func (m *Multistream) AddHandler(id protocol.ID, h HandlerFunc) {
	m.handlers = append(m.handlers, handlerEntry{id: id, handler: h})
}

func (m *Multistream) AddHandlerWithFunc(match protocol.Match, h HandlerFunc) {
	m.handlers = append(m.handlers, handlerEntry{match: match, handler: h})
}

func (m *Multistream) RemoveHandler(id protocol.ID) {
	out := m.handlers[:0]
	for _, h := range m.handlers {
		if h.id != id || h.match != nil {
			out = append(out, h)
		}
	}
	m.handlers = out
}

func (m *Multistream) Protocols() []protocol.ID {
	var out []protocol.ID
	for _, h := range m.handlers {
		if h.match == nil {
			out = append(out, h.id)
		}
	}
	return out
}

func (m *Multistream) find(id protocol.ID) *handlerEntry {
	for i := range m.handlers {
		h := &m.handlers[i]
		if h.match != nil {
			if h.match(id) {
				return h
			}
			continue
		}
		if h.id == id {
			return h
		}
	}
	return nil
}

// Negotiate runs the server side: read header, echo it, then loop
// reading candidate lines, echoing and dispatching on a match or
// replying "na" otherwise (spec.md §4.1, §6 S4).
func (m *Multistream) Negotiate(rw Stream) (protocol.ID, HandlerFunc, error) {
	br := bufio.NewReader(rw)

	line, err := readLine(br)
	if err != nil {
		return "", nil, err
	}
	if line != ProtocolID {
		return "", nil, ErrBadHeader
	}
	if err := writeLine(rw, ProtocolID); err != nil {
		return "", nil, err
	}

	for {
		line, err := readLine(br)
		if err != nil {
			return "", nil, err
		}
		if line == msgLS {
			// ls is answered with a bare na: the known protocol ids are
			// not listed (clients here only use direct selection, not ls
			// enumeration).
			if err := writeLine(rw, msgNA); err != nil {
				return "", nil, err
			}
			continue
		}
		entry := m.find(protocol.ID(line))
		if entry == nil {
			if err := writeLine(rw, msgNA); err != nil {
				return "", nil, err
			}
			continue
		}
		if err := writeLine(rw, line); err != nil {
			return "", nil, err
		}
		selected := protocol.ID(line)
		if entry.id != "" {
			selected = entry.id
		}
		return selected, entry.handler, nil
	}
}

// Handle wraps Negotiate for a stream that also needs its protocol/state
// updated via network.Stream.SetProtocol before invoking the handler.
func (m *Multistream) Handle(s network.Stream) {
	selected, handler, err := m.Negotiate(s)
	if err != nil {
		log.Debugf("multistream: negotiation failed: %s", err)
		_ = s.Reset()
		return
	}
	if err := s.SetProtocol(selected); err != nil {
		log.Warnf("multistream: set protocol: %s", err)
	}
	if handler != nil {
		if err := handler(selected, s); err != nil {
			log.Debugf("multistream: handler for %s failed: %s", selected, err)
		}
	}
}
