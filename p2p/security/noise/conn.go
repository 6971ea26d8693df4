package noise

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/flynn/noise"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/sec"
)

// maxPlaintextChunk is the largest plaintext fragment that fits in one
// ciphertext frame: 65535 (max uint16) minus the Poly1305 tag (spec.md
// §4.5: "65535 − 16 = 65519").
const maxPlaintextChunk = 65535 - 16

// secureConn implements sec.SecureConn: 16-bit BE length-prefixed
// ciphertext frames over the underlying net.Conn (spec.md §4.5).
type secureConn struct {
	net.Conn
	br *bufio.Reader

	writeMu sync.Mutex
	send    *noise.CipherState
	recvMu  sync.Mutex
	recv    *noise.CipherState

	localID   peer.ID
	remoteID  peer.ID
	remoteKey crypto.PubKey

	readBuf []byte
}

func newSecureConn(nc net.Conn, br *bufio.Reader, send, recv *noise.CipherState, local, remote peer.ID, remoteKey crypto.PubKey) *secureConn {
	return &secureConn{
		Conn:      nc,
		br:        br,
		send:      send,
		recv:      recv,
		localID:   local,
		remoteID:  remote,
		remoteKey: remoteKey,
	}
}

func (c *secureConn) LocalPeer() peer.ID             { return c.localID }
func (c *secureConn) RemotePeer() peer.ID            { return c.remoteID }
func (c *secureConn) RemotePublicKey() crypto.PubKey { return c.remoteKey }

var _ sec.SecureConn = (*secureConn)(nil)

func (c *secureConn) Read(p []byte) (int, error) {
	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var lenBuf [2]byte
	if _, err := io.ReadFull(c.br, lenBuf[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	ciphertext := make([]byte, n)
	if _, err := io.ReadFull(c.br, ciphertext); err != nil {
		return 0, err
	}
	plain, err := c.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		_ = c.Conn.Close()
		return 0, fmt.Errorf("noise: decryption failed, closing connection: %w", err)
	}
	got := copy(p, plain)
	c.readBuf = plain[got:]
	return got, nil
}

func (c *secureConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintextChunk {
			chunk = chunk[:maxPlaintextChunk]
		}
		ciphertext := c.send.Encrypt(nil, nil, chunk)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(ciphertext)))
		if _, err := c.Conn.Write(lenBuf[:]); err != nil {
			return total, err
		}
		if _, err := c.Conn.Write(ciphertext); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}
