// Package peer defines the self-certifying peer identifier: a multihash of
// a peer's marshaled public key, with legacy base58 and CIDv1 string
// encodings.
package peer

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
)

// ID is a libp2p peer identity: the multihash of a marshaled public key.
type ID string

// maxInlineKeyLength is the largest marshaled public key that may be
// embedded directly in the multihash via the identity hash function,
// avoiding a SHA2-256 digest step for small keys (e.g. Ed25519).
const maxInlineKeyLength = 42

var (
	ErrEmptyPeerID   = errors.New("peer: empty peer ID")
	ErrNoPublicKey   = errors.New("peer: public key not available")
	ErrInvalidAddr   = errors.New("peer: invalid p2p multiaddr")
	codecLibp2pKey   = uint64(0x72)
)

// IDFromPublicKey derives a peer ID by hashing a marshaled public key. Keys
// whose marshaled form is at most maxInlineKeyLength bytes are embedded
// directly via the identity multihash; larger keys are SHA2-256 hashed.
func IDFromPublicKey(pk crypto.PubKey) (ID, error) {
	b, err := crypto.MarshalPublicKey(pk)
	if err != nil {
		return "", err
	}
	var alg uint64
	if len(b) <= maxInlineKeyLength {
		alg = mh.IDENTITY
	} else {
		alg = mh.SHA2_256
	}
	hash, err := mh.Sum(b, alg, -1)
	if err != nil {
		return "", err
	}
	return ID(hash), nil
}

// IDFromPrivateKey derives the peer ID for the private key's public half.
func IDFromPrivateKey(sk crypto.PrivKey) (ID, error) {
	return IDFromPublicKey(sk.GetPublic())
}

// MatchesPublicKey reports whether id is the multihash of pk.
func (id ID) MatchesPublicKey(pk crypto.PubKey) bool {
	oid, err := IDFromPublicKey(pk)
	if err != nil {
		return false
	}
	return oid == id
}

func (id ID) Validate() error {
	if len(id) == 0 {
		return ErrEmptyPeerID
	}
	return nil
}

// String renders the legacy base58btc encoding of the multihash.
func (id ID) String() string {
	return base58.Encode([]byte(id))
}

// ShortString truncates String() for compact logging, matching the
// "<peer.ID 12*abcdef>" idiom used across the libp2p codebase: the first
// two and last six characters of the base58 form.
func (id ID) ShortString() string {
	s := id.String()
	if len(s) <= 10 {
		return fmt.Sprintf("<peer.ID %s>", s)
	}
	return fmt.Sprintf("<peer.ID %s*%s>", s[:2], s[len(s)-6:])
}

// Encode renders the CIDv1 "libp2p-key" encoding of the peer ID.
func (id ID) Encode(base multibase.Encoding) (string, error) {
	c := cid.NewCidV1(codecLibp2pKey, []byte(id))
	return c.StringOfBase(base)
}

// Decode accepts both the legacy base58 multihash string and the CIDv1
// libp2p-key string forms.
func Decode(s string) (ID, error) {
	if s == "" {
		return "", ErrEmptyPeerID
	}
	if s[0] == '1' || s[0] == 'Q' {
		hash, err := base58.Decode(s)
		if err != nil {
			return "", err
		}
		return ID(hash), nil
	}
	c, err := cid.Decode(s)
	if err != nil {
		return "", err
	}
	if c.Type() != codecLibp2pKey {
		return "", fmt.Errorf("peer: unexpected cid codec %d", c.Type())
	}
	if _, err := mh.Decode(c.Hash()); err != nil {
		return "", err
	}
	return ID(c.Hash()), nil
}

func (id ID) Bytes() []byte { return []byte(id) }

func IDFromBytes(b []byte) (ID, error) {
	if _, err := mh.Cast(b); err != nil {
		return "", fmt.Errorf("peer: %w", err)
	}
	return ID(b), nil
}

// HexString is a debugging aid.
func (id ID) HexString() string { return hex.EncodeToString([]byte(id)) }
