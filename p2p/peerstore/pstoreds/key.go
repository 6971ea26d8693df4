package pstoreds

import (
	b32 "github.com/multiformats/go-base32"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

// lowerB32 is the standard base32 alphabet in lowercase, without padding.
var lowerB32 = b32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(b32.NoPadding)

// encodeB32 renders unpadded lowercase base32, used to namespace every
// peerstore KVStore key by peer id (spec.md §6).
func encodeB32(raw []byte) string {
	return lowerB32.EncodeToString(raw)
}

func peerFromB32(encoded string) (peer.ID, error) {
	raw, err := lowerB32.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return peer.IDFromBytes(raw)
}
