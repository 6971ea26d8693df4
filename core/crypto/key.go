// Package crypto defines the key types used to derive peer identities and
// to authenticate the Noise handshake. Marshaling is a small self-describing
// type-tag plus raw key bytes; it does not need to match any external wire
// format byte-for-byte, only round-trip within this module.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// KeyType distinguishes the concrete key implementation after marshaling.
type KeyType int

const (
	Ed25519 KeyType = iota
	Secp256k1
)

// PubKey is a public key that can verify signatures produced by its
// corresponding PrivKey.
type PubKey interface {
	// Raw returns the unwrapped key bytes (no type tag).
	Raw() ([]byte, error)
	// Type reports the concrete key algorithm.
	Type() KeyType
	// Verify checks sig against data.
	Verify(data, sig []byte) (bool, error)
	// Equals reports whether two public keys are the same key.
	Equals(PubKey) bool
}

// PrivKey is a private key that can sign data and derive its PubKey.
type PrivKey interface {
	Raw() ([]byte, error)
	Type() KeyType
	Sign(data []byte) ([]byte, error)
	GetPublic() PubKey
	Equals(PrivKey) bool
}

var ErrBadKeyType = errors.New("crypto: invalid or unsupported key type")

// GenerateEd25519Key generates a fresh Ed25519 key pair using src as the
// randomness source (use crypto/rand.Reader in production).
func GenerateEd25519Key(src io.Reader) (PrivKey, PubKey, error) {
	if src == nil {
		src = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return nil, nil, err
	}
	sk := &ed25519PrivateKey{priv: priv}
	return sk, sk.GetPublic(), nil
}

func GenerateSecp256k1Key(src io.Reader) (PrivKey, PubKey, error) {
	if src == nil {
		src = rand.Reader
	}
	priv, err := secp256k1.GeneratePrivateKeyFromRand(src)
	if err != nil {
		return nil, nil, err
	}
	sk := &secp256k1PrivateKey{priv: priv}
	return sk, sk.GetPublic(), nil
}

// --- Ed25519 ---

type ed25519PrivateKey struct {
	priv ed25519.PrivateKey
}

func (k *ed25519PrivateKey) Raw() ([]byte, error) { return append([]byte(nil), k.priv...), nil }
func (k *ed25519PrivateKey) Type() KeyType        { return Ed25519 }
func (k *ed25519PrivateKey) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}
func (k *ed25519PrivateKey) GetPublic() PubKey {
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, k.priv[ed25519.PrivateKeySize-ed25519.PublicKeySize:])
	return &ed25519PublicKey{pub: pub}
}
func (k *ed25519PrivateKey) Equals(o PrivKey) bool {
	ok, ok2 := o.(*ed25519PrivateKey)
	return ok2 && k.priv.Equal(ok.priv)
}

type ed25519PublicKey struct {
	pub ed25519.PublicKey
}

func (k *ed25519PublicKey) Raw() ([]byte, error) { return append([]byte(nil), k.pub...), nil }
func (k *ed25519PublicKey) Type() KeyType        { return Ed25519 }
func (k *ed25519PublicKey) Verify(data, sig []byte) (bool, error) {
	return ed25519.Verify(k.pub, data, sig), nil
}
func (k *ed25519PublicKey) Equals(o PubKey) bool {
	ok, ok2 := o.(*ed25519PublicKey)
	return ok2 && k.pub.Equal(ok.pub)
}

func UnmarshalEd25519PublicKey(raw []byte) (PubKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("crypto: bad ed25519 public key length")
	}
	return &ed25519PublicKey{pub: append(ed25519.PublicKey(nil), raw...)}, nil
}

func UnmarshalEd25519PrivateKey(raw []byte) (PrivKey, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.New("crypto: bad ed25519 private key length")
	}
	return &ed25519PrivateKey{priv: append(ed25519.PrivateKey(nil), raw...)}, nil
}

// --- Secp256k1 ---

type secp256k1PrivateKey struct {
	priv *secp256k1.PrivateKey
}

func (k *secp256k1PrivateKey) Raw() ([]byte, error) { return k.priv.Serialize(), nil }
func (k *secp256k1PrivateKey) Type() KeyType        { return Secp256k1 }
func (k *secp256k1PrivateKey) Sign(data []byte) ([]byte, error) {
	h := sha256Sum(data)
	sig := ecdsa.Sign(k.priv, h[:])
	return sig.Serialize(), nil
}
func (k *secp256k1PrivateKey) GetPublic() PubKey {
	return &secp256k1PublicKey{pub: k.priv.PubKey()}
}
func (k *secp256k1PrivateKey) Equals(o PrivKey) bool {
	ok, ok2 := o.(*secp256k1PrivateKey)
	return ok2 && k.priv.Key.Equals(&ok.priv.Key)
}

type secp256k1PublicKey struct {
	pub *secp256k1.PublicKey
}

func (k *secp256k1PublicKey) Raw() ([]byte, error) { return k.pub.SerializeCompressed(), nil }
func (k *secp256k1PublicKey) Type() KeyType        { return Secp256k1 }
func (k *secp256k1PublicKey) Verify(data, sig []byte) (bool, error) {
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, err
	}
	h := sha256Sum(data)
	return s.Verify(h[:], k.pub), nil
}
func (k *secp256k1PublicKey) Equals(o PubKey) bool {
	ok, ok2 := o.(*secp256k1PublicKey)
	return ok2 && k.pub.IsEqual(ok.pub)
}

func UnmarshalSecp256k1PublicKey(raw []byte) (PubKey, error) {
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, err
	}
	return &secp256k1PublicKey{pub: pub}, nil
}

func UnmarshalSecp256k1PrivateKey(raw []byte) (PrivKey, error) {
	priv := secp256k1.PrivKeyFromBytes(raw)
	return &secp256k1PrivateKey{priv: priv}, nil
}
