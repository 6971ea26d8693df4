package pstoreds

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

const (
	keyPrefix        = "/peers/keys/"
	pubKeySuffix     = "/public"
	privKeySuffix    = "/private"
	privKeySaltSize  = 16
)

// keyBook implements peerstore.KeyBook. Public keys are always stored in
// the clear; a local private key may optionally be encrypted at rest
// with a caller-supplied password (spec.md §4.7).
type keyBook struct {
	kv peerstore.KVStore

	mu       sync.RWMutex
	password string
	hash     crypto.PBKDFHash
}

type KeyBookOption func(*keyBook)

// WithPrivateKeyPassword enables at-rest encryption of stored private
// keys, deriving an AES key from password via PBKDF2(hash).
func WithPrivateKeyPassword(password string, hash crypto.PBKDFHash) KeyBookOption {
	return func(b *keyBook) {
		b.password = password
		b.hash = hash
	}
}

func NewKeyBook(kv peerstore.KVStore, opts ...KeyBookOption) *keyBook {
	b := &keyBook{kv: kv, hash: crypto.PBKDFSHA256}
	for _, o := range opts {
		o(b)
	}
	return b
}

func pubKeyKey(p peer.ID) string  { return keyPrefix + encodeB32(p.Bytes()) + pubKeySuffix }
func privKeyKey(p peer.ID) string { return keyPrefix + encodeB32(p.Bytes()) + privKeySuffix }
func saltKey(p peer.ID) string    { return keyPrefix + encodeB32(p.Bytes()) + "/salt" }

func (b *keyBook) PubKey(p peer.ID) crypto.PubKey {
	ctx := context.Background()
	data, err := b.kv.Get(ctx, pubKeyKey(p))
	if err != nil {
		return nil
	}
	pk, err := crypto.UnmarshalPublicKey(data)
	if err != nil {
		return nil
	}
	return pk
}

func (b *keyBook) AddPubKey(p peer.ID, pk crypto.PubKey) error {
	if !p.MatchesPublicKey(pk) {
		return errors.New("pstoreds: public key does not match peer id")
	}
	data, err := crypto.MarshalPublicKey(pk)
	if err != nil {
		return err
	}
	return b.kv.Put(context.Background(), pubKeyKey(p), data)
}

func (b *keyBook) PrivKey(p peer.ID) crypto.PrivKey {
	ctx := context.Background()
	data, err := b.kv.Get(ctx, privKeyKey(p))
	if err != nil {
		return nil
	}

	b.mu.RLock()
	password := b.password
	b.mu.RUnlock()

	if password == "" {
		sk, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil
		}
		return sk
	}

	salt, err := b.kv.Get(ctx, saltKey(p))
	if err != nil {
		return nil
	}
	sk, err := crypto.DecryptPrivateKey(data, password, salt, b.hash)
	if err != nil {
		log.Warnf("keybook: decrypt private key for %s: %s", p, err)
		return nil
	}
	return sk
}

func (b *keyBook) AddPrivKey(p peer.ID, sk crypto.PrivKey) error {
	ctx := context.Background()

	b.mu.RLock()
	password := b.password
	hash := b.hash
	b.mu.RUnlock()

	if password == "" {
		data, err := crypto.MarshalPrivateKey(sk)
		if err != nil {
			return err
		}
		return b.kv.Put(ctx, privKeyKey(p), data)
	}

	salt := make([]byte, privKeySaltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	enc, err := crypto.EncryptPrivateKey(sk, password, salt, hash)
	if err != nil {
		return err
	}
	if err := b.kv.Put(ctx, saltKey(p), salt); err != nil {
		return err
	}
	return b.kv.Put(ctx, privKeyKey(p), enc)
}

// RotateKeychainPass re-encrypts all stored private keys under a new
// password (spec.md §4.7 rotate_keychain_pass).
func (b *keyBook) RotateKeychainPass(newPassword string) error {
	ctx := context.Background()
	it, err := b.kv.Query(ctx, keyPrefix)
	if err != nil {
		return err
	}
	defer it.Close()

	type rotation struct {
		peer peer.ID
		sk   crypto.PrivKey
	}
	var toRotate []rotation
	for it.Next() {
		k := it.Key()
		if len(k) < len(privKeySuffix) || k[len(k)-len(privKeySuffix):] != privKeySuffix {
			continue
		}
		encoded := k[len(keyPrefix) : len(k)-len(privKeySuffix)]
		p, perr := peerFromB32(encoded)
		if perr != nil {
			continue
		}
		sk := b.PrivKey(p)
		if sk == nil {
			continue
		}
		toRotate = append(toRotate, rotation{peer: p, sk: sk})
	}

	b.mu.Lock()
	b.password = newPassword
	b.mu.Unlock()

	for _, r := range toRotate {
		if err := b.AddPrivKey(r.peer, r.sk); err != nil {
			return err
		}
	}
	return nil
}

func (b *keyBook) PeersWithKeys() []peer.ID {
	ctx := context.Background()
	it, err := b.kv.Query(ctx, keyPrefix)
	if err != nil {
		return nil
	}
	defer it.Close()

	seen := make(map[peer.ID]struct{})
	var out []peer.ID
	for it.Next() {
		k := it.Key()
		var encoded string
		switch {
		case hasSuffix(k, pubKeySuffix):
			encoded = k[len(keyPrefix) : len(k)-len(pubKeySuffix)]
		case hasSuffix(k, privKeySuffix):
			encoded = k[len(keyPrefix) : len(k)-len(privKeySuffix)]
		default:
			continue
		}
		p, err := peerFromB32(encoded)
		if err != nil {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

var _ peerstore.KeyBook = (*keyBook)(nil)
