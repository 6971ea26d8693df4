package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// MarshalPublicKey encodes a public key as a one-byte type tag followed by
// its raw bytes, length-prefixed so Unmarshal never over-reads.
func MarshalPublicKey(pk PubKey) ([]byte, error) {
	raw, err := pk.Raw()
	if err != nil {
		return nil, err
	}
	return marshalTagged(pk.Type(), raw), nil
}

func MarshalPrivateKey(sk PrivKey) ([]byte, error) {
	raw, err := sk.Raw()
	if err != nil {
		return nil, err
	}
	return marshalTagged(sk.Type(), raw), nil
}

func marshalTagged(t KeyType, raw []byte) []byte {
	out := make([]byte, 0, 5+len(raw))
	out = append(out, byte(t))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	out = append(out, lenBuf[:]...)
	out = append(out, raw...)
	return out
}

func unmarshalTagged(data []byte) (KeyType, []byte, error) {
	if len(data) < 5 {
		return 0, nil, errors.New("crypto: truncated key encoding")
	}
	t := KeyType(data[0])
	n := binary.BigEndian.Uint32(data[1:5])
	if uint32(len(data)-5) != n {
		return 0, nil, errors.New("crypto: key length mismatch")
	}
	return t, data[5:], nil
}

func UnmarshalPublicKey(data []byte) (PubKey, error) {
	t, raw, err := unmarshalTagged(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case Ed25519:
		return UnmarshalEd25519PublicKey(raw)
	case Secp256k1:
		return UnmarshalSecp256k1PublicKey(raw)
	default:
		return nil, ErrBadKeyType
	}
}

func UnmarshalPrivateKey(data []byte) (PrivKey, error) {
	t, raw, err := unmarshalTagged(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case Ed25519:
		return UnmarshalEd25519PrivateKey(raw)
	case Secp256k1:
		return UnmarshalSecp256k1PrivateKey(raw)
	default:
		return nil, ErrBadKeyType
	}
}
