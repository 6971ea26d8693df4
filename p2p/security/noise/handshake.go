// Package noise implements the Noise_XX_25519_ChaChaPoly_SHA256
// handshake and post-handshake secure channel (spec.md §4.4, §4.5).
package noise

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/flynn/noise"
	logging "github.com/ipfs/go-log/v2"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/sec"
)

var log = logging.Logger("security/noise")

// ID is the multistream protocol identifier for this security transport.
const ID = "/noise"

// maxMessageSize bounds every Noise protocol message, including the
// identity payload (spec.md §4.4).
const maxMessageSize = 8192

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// HandshakeError wraps the taxonomy's HandshakeFailure sentinel with
// detail (spec.md §7).
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string { return fmt.Sprintf("noise: handshake failed: %s", e.Err) }
func (e *HandshakeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, network.ErrHandshakeFailure) hold for every
// HandshakeError.
func (e *HandshakeError) Is(target error) bool { return target == network.ErrHandshakeFailure }

// Transport implements sec.SecureTransport: every handshake generates a
// fresh static Noise keypair, and the identity key signs it in the
// handshake payload (spec.md §4.4).
type Transport struct {
	localID  peer.ID
	identity crypto.PrivKey
}

func NewTransport(identity crypto.PrivKey) (*Transport, error) {
	id, err := peer.IDFromPublicKey(identity.GetPublic())
	if err != nil {
		return nil, err
	}
	return &Transport{localID: id, identity: identity}, nil
}

func (t *Transport) SecureInbound(ctx context.Context, insecure net.Conn) (sec.SecureConn, error) {
	return t.handshake(ctx, insecure, false, "")
}

func (t *Transport) SecureOutbound(ctx context.Context, insecure net.Conn, remote peer.ID) (sec.SecureConn, error) {
	return t.handshake(ctx, insecure, true, remote)
}

func (t *Transport) handshake(ctx context.Context, nc net.Conn, initiator bool, expected peer.ID) (sec.SecureConn, error) {
	staticKeypair, err := cipherSuite.GenerateKeypair(nil)
	if err != nil {
		return nil, &HandshakeError{err}
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeXX,
		Initiator:   initiator,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		return nil, &HandshakeError{err}
	}

	payload, err := signPayload(t.identity, staticKeypair.Public)
	if err != nil {
		return nil, &HandshakeError{err}
	}
	payloadBytes, err := payload.marshal()
	if err != nil {
		return nil, &HandshakeError{err}
	}

	br := bufio.NewReader(nc)
	var remotePayload *handshakePayload
	var cs1, cs2 *noise.CipherState

	if initiator {
		msg1, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		if err := writeFramed(nc, msg1); err != nil {
			return nil, &HandshakeError{err}
		}

		in, err := readFramed(br)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		plain, _, _, err := hs.ReadMessage(nil, in)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		remotePayload, err = unmarshalPayload(plain)
		if err != nil {
			return nil, &HandshakeError{err}
		}

		msg3, c1, c2, err := hs.WriteMessage(nil, payloadBytes)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		if err := writeFramed(nc, msg3); err != nil {
			return nil, &HandshakeError{err}
		}
		cs1, cs2 = c1, c2
	} else {
		in, err := readFramed(br)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		if _, _, _, err := hs.ReadMessage(nil, in); err != nil {
			return nil, &HandshakeError{err}
		}

		msg2, _, _, err := hs.WriteMessage(nil, payloadBytes)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		if err := writeFramed(nc, msg2); err != nil {
			return nil, &HandshakeError{err}
		}

		in3, err := readFramed(br)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		plain, c1, c2, err := hs.ReadMessage(nil, in3)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		remotePayload, err = unmarshalPayload(plain)
		if err != nil {
			return nil, &HandshakeError{err}
		}
		cs1, cs2 = c1, c2
	}

	remoteStatic := hs.PeerStatic()
	ok, err := remotePayload.verify(remoteStatic)
	if err != nil || !ok {
		return nil, &HandshakeError{fmt.Errorf("identity signature invalid")}
	}

	remoteID, err := peer.IDFromPublicKey(remotePayload.identityKey)
	if err != nil {
		return nil, &HandshakeError{err}
	}
	if expected != "" && remoteID != expected {
		return nil, &HandshakeError{fmt.Errorf("peer id mismatch: expected %s got %s", expected, remoteID)}
	}

	var send, recv *noise.CipherState
	if initiator {
		send, recv = cs1, cs2
	} else {
		send, recv = cs2, cs1
	}

	return newSecureConn(nc, br, send, recv, t.localID, remoteID, remotePayload.identityKey), nil
}

func writeFramed(w io.Writer, msg []byte) error {
	if len(msg) > maxMessageSize {
		return fmt.Errorf("noise: message exceeds maximum size")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

func readFramed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) > maxMessageSize {
		return nil, fmt.Errorf("noise: message exceeds maximum size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

var _ sec.SecureTransport = (*Transport)(nil)
