// Package ping implements the /ipfs/ping/1.0.0 liveness and latency
// probe: a 32-byte random challenge echoed back verbatim (spec.md §6,
// §8 S1).
package ping

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/erwin-kok/go-libp2p-core-engine/core/host"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
)

var log = logging.Logger("ping")

// ID is the protocol id negotiated for ping streams.
const ID = protocol.ID("/ipfs/ping/1.0.0")

// PingSize is the length in bytes of both the challenge and its echo.
const PingSize = 32

// pingTimeout bounds one challenge/echo round trip.
const pingTimeout = 60 * time.Second

// Result is one round-trip outcome, either a measured latency or an
// error that ended the session.
type Result struct {
	RTT   time.Duration
	Error error
}

// PingService registers the ping handler on a host and issues
// outbound pings, recording latency into the host's peerstore.
type PingService struct {
	h host.Host
}

func NewPingService(h host.Host) *PingService {
	ps := &PingService{h: h}
	h.SetStreamHandler(ID, ps.handleStream)
	return ps
}

func (ps *PingService) handleStream(s network.Stream) {
	defer s.Close()
	for {
		if err := s.SetDeadline(time.Now().Add(pingTimeout)); err != nil {
			_ = s.Reset()
			return
		}
		buf := make([]byte, PingSize)
		if _, err := io.ReadFull(s, buf); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("ping: read challenge from %s: %s", s.Conn().RemotePeer(), err)
			}
			return
		}
		if _, err := s.Write(buf); err != nil {
			log.Debugf("ping: echo to %s: %s", s.Conn().RemotePeer(), err)
			return
		}
	}
}

// Ping opens a stream to p and sends challenges until ctx is
// cancelled, emitting one Result per round trip on the returned
// channel (spec.md §8 S1).
func Ping(ctx context.Context, h host.Host, p peer.ID) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		s, err := h.NewStream(ctx, p, ID)
		if err != nil {
			out <- Result{Error: err}
			return
		}
		defer s.Close()

		for ctx.Err() == nil {
			rtt, err := pingOnce(s)
			if err != nil {
				_ = s.Reset()
				select {
				case out <- Result{Error: err}:
				case <-ctx.Done():
				}
				return
			}
			if ps := h.Peerstore(); ps != nil {
				ps.RecordLatency(p, rtt)
			}
			select {
			case out <- Result{RTT: rtt}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func pingOnce(s network.Stream) (time.Duration, error) {
	if err := s.SetDeadline(time.Now().Add(pingTimeout)); err != nil {
		return 0, err
	}
	challenge := make([]byte, PingSize)
	if _, err := rand.Read(challenge); err != nil {
		return 0, fmt.Errorf("ping: generate challenge: %w", err)
	}

	start := time.Now()
	if _, err := s.Write(challenge); err != nil {
		return 0, err
	}
	echo := make([]byte, PingSize)
	if _, err := io.ReadFull(s, echo); err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	for i := range challenge {
		if challenge[i] != echo[i] {
			return 0, fmt.Errorf("%w: ping echo mismatch", network.ErrProtocolViolation)
		}
	}
	return rtt, nil
}
