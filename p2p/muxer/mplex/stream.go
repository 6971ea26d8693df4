package mplex

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
)

// slowReaderTimeout bounds how long a stream's forwarder will wait for
// the application to drain one message before resetting the stream
// (spec.md §4.3 Message(id), §7 Backpressure).
const slowReaderTimeout = 5 * time.Second

// pendingQueueSize is the per-stream inbound relay buffer between the
// connection's single read loop and each stream's own forwarder, so one
// slow consumer doesn't stall frame dispatch for every other stream.
const pendingQueueSize = 64

type streamKey struct {
	initiator bool
	id        uint64
}

// streamEvent carries one inbound frame, in wire order, from the
// connection's read loop to the stream's forwarder goroutine.
type streamEvent struct {
	data  []byte
	close bool
	reset bool
}

// stream is one multiplexed logical channel (spec.md §3 Stream, §4.2).
type stream struct {
	key  streamKey
	name string
	conn *Conn

	pending chan streamEvent
	dataCh  chan []byte

	leftover []byte

	closeOnce     sync.Once
	remoteCloseCh chan struct{}

	mu            sync.Mutex
	closedRemote  bool
	closedLocal   bool
	resetErr      error
	readDeadline  time.Time
	writeDeadline time.Time
}

func newStream(key streamKey, name string, c *Conn) *stream {
	s := &stream{
		key:           key,
		name:          name,
		conn:          c,
		pending:       make(chan streamEvent, pendingQueueSize),
		dataCh:        make(chan []byte),
		remoteCloseCh: make(chan struct{}),
	}
	go s.forward()
	return s
}

// forward drains s.pending in order, delivering message payloads to
// dataCh (subject to the slow-reader timeout) and applying close/reset
// signals once all preceding messages have been handed off.
func (s *stream) forward() {
	for {
		select {
		case ev, ok := <-s.pending:
			if !ok {
				return
			}
			switch {
			case ev.reset:
				s.applyRemoteReset()
				return
			case ev.close:
				s.applyRemoteClose()
				return
			default:
				if !s.deliver(ev.data) {
					return
				}
			}
		case <-s.conn.closedCh:
			return
		}
	}
}

func (s *stream) deliver(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	timer := time.NewTimer(slowReaderTimeout)
	defer timer.Stop()
	select {
	case s.dataCh <- data:
		return true
	case <-timer.C:
		s.applyRemoteReset()
		_ = s.conn.sendResetFor(s.key)
		return false
	case <-s.conn.closedCh:
		return false
	}
}

func (s *stream) applyRemoteClose() {
	s.mu.Lock()
	s.closedRemote = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.remoteCloseCh) })
}

func (s *stream) applyRemoteReset() {
	s.mu.Lock()
	s.resetErr = network.ErrReset
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.remoteCloseCh) })
}

func (s *stream) Read(p []byte) (int, error) {
	if len(s.leftover) > 0 {
		n := copy(p, s.leftover)
		rest := s.leftover[n:]
		s.leftover = nil
		if len(rest) == 0 {
			releaseFrameData(rest)
		} else {
			s.leftover = rest
		}
		return n, nil
	}

	for {
		s.mu.Lock()
		resetErr := s.resetErr
		closedRemote := s.closedRemote
		deadline := s.readDeadline
		s.mu.Unlock()
		if resetErr != nil {
			return 0, resetErr
		}
		if closedRemote {
			return 0, io.EOF
		}

		var timeoutCh <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, fmt.Errorf("mplex: read deadline exceeded")
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			timeoutCh = timer.C
		}

		select {
		case data := <-s.dataCh:
			n := copy(p, data)
			rest := data[n:]
			if len(rest) == 0 {
				releaseFrameData(rest)
			} else {
				s.leftover = rest
			}
			return n, nil
		case <-s.remoteCloseCh:
			s.mu.Lock()
			resetErr = s.resetErr
			s.mu.Unlock()
			if resetErr != nil {
				return 0, resetErr
			}
			return 0, io.EOF
		case <-timeoutCh:
			return 0, fmt.Errorf("mplex: read deadline exceeded")
		case <-s.conn.closedCh:
			return 0, network.ErrClosed
		}
	}
}

func (s *stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.resetErr != nil {
		err := s.resetErr
		s.mu.Unlock()
		return 0, err
	}
	if s.closedLocal {
		s.mu.Unlock()
		return 0, network.ErrClosed
	}
	s.mu.Unlock()

	t := tagMessageReceiver
	if s.key.initiator {
		t = tagMessageInitiator
	}
	if err := s.conn.sendFrame(frame{streamID: s.key.id, t: t, data: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *stream) Close() error {
	if err := s.CloseWrite(); err != nil {
		return err
	}
	return s.CloseRead()
}

func (s *stream) CloseWrite() error {
	s.mu.Lock()
	if s.closedLocal || s.resetErr != nil {
		s.mu.Unlock()
		return nil
	}
	s.closedLocal = true
	s.mu.Unlock()

	t := tagCloseReceiver
	if s.key.initiator {
		t = tagCloseInitiator
	}
	err := s.conn.sendFrame(frame{streamID: s.key.id, t: t})
	s.conn.maybeRemoveStream(s.key)
	return err
}

func (s *stream) CloseRead() error {
	s.mu.Lock()
	s.closedRemote = true
	s.mu.Unlock()
	return nil
}

// Reset implements network.MuxedStream: emits a Reset frame and tears
// down both halves (spec.md §4.3 Reset(id), §8 S3).
func (s *stream) Reset() error {
	s.mu.Lock()
	if s.resetErr != nil {
		s.mu.Unlock()
		return nil
	}
	s.resetErr = network.ErrReset
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.remoteCloseCh) })

	err := s.conn.sendResetFor(s.key)
	s.conn.removeStream(s.key)
	return err
}

func (s *stream) SetDeadline(t time.Time) error {
	if err := s.SetReadDeadline(t); err != nil {
		return err
	}
	return s.SetWriteDeadline(t)
}

func (s *stream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadline = t
	s.mu.Unlock()
	return nil
}

func (s *stream) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.writeDeadline = t
	s.mu.Unlock()
	return nil
}

var _ network.MuxedStream = (*stream)(nil)
