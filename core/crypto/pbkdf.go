package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDFHash selects the hash function backing the key-derivation function
// used to encrypt a local private key at rest in the key book.
type PBKDFHash string

const (
	PBKDFSHA1   PBKDFHash = "sha1"
	PBKDFSHA256 PBKDFHash = "sha256"
	PBKDFSHA512 PBKDFHash = "sha512"
)

const (
	pbkdfIterations = 4096
	pbkdfKeyLen     = 32
)

func newHash(h PBKDFHash) (func() hash.Hash, error) {
	switch h {
	case "", PBKDFSHA256:
		return sha256.New, nil
	case PBKDFSHA1:
		return sha1.New, nil
	case PBKDFSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported pbkdf2 hash %q", h)
	}
}

// EncryptPrivateKey seals the marshaled form of sk with a PBKDF2-derived
// AES-GCM key, so the key book never stores a local private key in the
// clear on disk. salt should be unique per peer.
func EncryptPrivateKey(sk PrivKey, password string, salt []byte, h PBKDFHash) ([]byte, error) {
	raw, err := MarshalPrivateKey(sk)
	if err != nil {
		return nil, err
	}
	hf, err := newHash(h)
	if err != nil {
		return nil, err
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdfIterations, pbkdfKeyLen, hf)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, raw, nil), nil
}

func DecryptPrivateKey(ciphertext []byte, password string, salt []byte, h PBKDFHash) (PrivKey, error) {
	hf, err := newHash(h)
	if err != nil {
		return nil, err
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdfIterations, pbkdfKeyLen, hf)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("crypto: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	raw, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt private key: %w", err)
	}
	return UnmarshalPrivateKey(raw)
}
