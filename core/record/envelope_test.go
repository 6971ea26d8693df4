package record

import (
	"bytes"
	"crypto/rand"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

func newTestPeerRecord(t *testing.T) (*PeerRecord, crypto.PrivKey) {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	return &PeerRecord{PeerID: id, Addrs: []ma.Multiaddr{addr}, Seq: 1}, priv
}

func TestEnvelopeSealAndConsumeRoundTrip(t *testing.T) {
	pr, priv := newTestPeerRecord(t)

	env, err := Seal(pr, priv)
	require.NoError(t, err)

	raw, err := env.Marshal()
	require.NoError(t, err)

	gotEnv, gotRec, err := ConsumeEnvelope(raw, PeerRecordEnvelopeDomain)
	require.NoError(t, err)
	require.True(t, env.Equal(gotEnv))

	gotPR, ok := gotRec.(*PeerRecord)
	require.True(t, ok)
	require.Equal(t, pr.PeerID, gotPR.PeerID)
	require.Equal(t, pr.Seq, gotPR.Seq)
	require.Len(t, gotPR.Addrs, 1)
	require.Equal(t, pr.Addrs[0].String(), gotPR.Addrs[0].String())
}

func TestConsumeEnvelopeRejectsTamperedPayload(t *testing.T) {
	pr, priv := newTestPeerRecord(t)
	env, err := Seal(pr, priv)
	require.NoError(t, err)
	raw, err := env.Marshal()
	require.NoError(t, err)

	// Flip a byte inside the payload chunk without touching lengths,
	// so unmarshal succeeds but the signed body no longer matches.
	tampered := make([]byte, len(raw))
	copy(tampered, raw)
	flipped := false
	start := bytes.Index(raw, env.RawPayload)
	for i := start + len(env.RawPayload) - 1; start >= 0 && i >= start; i-- {
		if tampered[i] != 0xFF {
			tampered[i] ^= 0xFF
			flipped = true
			break
		}
	}
	require.True(t, flipped)

	_, _, err = ConsumeEnvelope(tampered, PeerRecordEnvelopeDomain)
	require.Error(t, err)
}

func TestConsumeEnvelopeRejectsWrongDomain(t *testing.T) {
	pr, priv := newTestPeerRecord(t)
	env, err := Seal(pr, priv)
	require.NoError(t, err)
	raw, err := env.Marshal()
	require.NoError(t, err)

	_, _, err = ConsumeEnvelope(raw, "some-other-domain")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSealRejectsEmptyDomainAndPayloadType(t *testing.T) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)

	_, err = Seal(&badDomainRecord{}, priv)
	require.ErrorIs(t, err, ErrEmptyDomain)

	_, err = Seal(&badCodecRecord{}, priv)
	require.ErrorIs(t, err, ErrEmptyPayloadType)
}

type badDomainRecord struct{}

func (badDomainRecord) Domain() string                { return "" }
func (badDomainRecord) Codec() []byte                  { return []byte("x") }
func (badDomainRecord) MarshalRecord() ([]byte, error) { return nil, nil }
func (*badDomainRecord) UnmarshalRecord([]byte) error  { return nil }

type badCodecRecord struct{}

func (badCodecRecord) Domain() string                { return "some-domain" }
func (badCodecRecord) Codec() []byte                  { return nil }
func (badCodecRecord) MarshalRecord() ([]byte, error) { return nil, nil }
func (*badCodecRecord) UnmarshalRecord([]byte) error  { return nil }
