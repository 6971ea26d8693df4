package noise

import (
	"encoding/binary"
	"fmt"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
)

// signaturePrefix is prepended to the static DH public key before
// signing, binding the Noise static key to the libp2p identity key
// (spec.md §4.4, §6).
const signaturePrefix = "noise-libp2p-static-key:"

// handshakePayload is the identity proof carried in the second
// (responder) and third (initiator) Noise messages:
// (identity_public_key, identity_sig) (spec.md §4.4).
type handshakePayload struct {
	identityKey crypto.PubKey
	signature   []byte
}

func signPayload(priv crypto.PrivKey, staticDHPub []byte) (*handshakePayload, error) {
	sig, err := priv.Sign(append([]byte(signaturePrefix), staticDHPub...))
	if err != nil {
		return nil, err
	}
	return &handshakePayload{identityKey: priv.GetPublic(), signature: sig}, nil
}

func (p *handshakePayload) marshal() ([]byte, error) {
	keyBytes, err := crypto.MarshalPublicKey(p.identityKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(keyBytes)+2+len(p.signature))
	out = binary.BigEndian.AppendUint16(out, uint16(len(keyBytes)))
	out = append(out, keyBytes...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(p.signature)))
	out = append(out, p.signature...)
	return out, nil
}

func unmarshalPayload(data []byte) (*handshakePayload, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("noise: truncated handshake payload")
	}
	keyLen := binary.BigEndian.Uint16(data[:2])
	data = data[2:]
	if len(data) < int(keyLen) {
		return nil, fmt.Errorf("noise: truncated identity key")
	}
	keyBytes := data[:keyLen]
	data = data[keyLen:]
	pub, err := crypto.UnmarshalPublicKey(keyBytes)
	if err != nil {
		return nil, err
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("noise: truncated handshake payload")
	}
	sigLen := binary.BigEndian.Uint16(data[:2])
	data = data[2:]
	if len(data) < int(sigLen) {
		return nil, fmt.Errorf("noise: truncated signature")
	}
	sig := data[:sigLen]
	return &handshakePayload{identityKey: pub, signature: sig}, nil
}

func (p *handshakePayload) verify(staticDHPub []byte) (bool, error) {
	return p.identityKey.Verify(append([]byte(signaturePrefix), staticDHPub...), p.signature)
}
