package record

import (
	"bytes"
	"fmt"

	"github.com/multiformats/go-varint"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

// PeerRecordEnvelopeDomain is the signature domain for PeerRecord
// envelopes exchanged during identify (spec.md §3 PeerRecord).
const PeerRecordEnvelopeDomain = "libp2p-peer-record"

// PeerRecordPayloadType tags a PeerRecord inside an Envelope.
var PeerRecordPayloadType = []byte("/libp2p/peer-record")

// PeerRecord is the certified address set a peer publishes about itself:
// (PeerId, addresses, seq), seq a monotonically advancing timestamp.
type PeerRecord struct {
	PeerID    peer.ID
	Addrs     []ma.Multiaddr
	Seq       uint64
}

func init() {
	DefaultRegistry.RegisterType(PeerRecordPayloadType, func() Record { return &PeerRecord{} })
}

func (r *PeerRecord) Domain() string { return PeerRecordEnvelopeDomain }
func (r *PeerRecord) Codec() []byte  { return PeerRecordPayloadType }

func (r *PeerRecord) MarshalRecord() ([]byte, error) {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(r.PeerID))

	seqBuf := varint.ToUvarint(r.Seq)
	buf.Write(seqBuf)

	nBuf := varint.ToUvarint(uint64(len(r.Addrs)))
	buf.Write(nBuf)
	for _, a := range r.Addrs {
		writeChunk(&buf, a.Bytes())
	}
	return buf.Bytes(), nil
}

func (r *PeerRecord) UnmarshalRecord(data []byte) error {
	br := bytes.NewReader(data)
	idBytes, err := readChunk(br)
	if err != nil {
		return fmt.Errorf("record: peer record id: %w", err)
	}
	id, err := peer.IDFromBytes(idBytes)
	if err != nil {
		return err
	}
	seq, err := varint.ReadUvarint(br)
	if err != nil {
		return fmt.Errorf("record: peer record seq: %w", err)
	}
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return fmt.Errorf("record: peer record addr count: %w", err)
	}
	addrs := make([]ma.Multiaddr, 0, n)
	for i := uint64(0); i < n; i++ {
		ab, err := readChunk(br)
		if err != nil {
			return fmt.Errorf("record: peer record addr %d: %w", i, err)
		}
		addr, err := ma.NewMultiaddrBytes(ab)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	r.PeerID = id
	r.Seq = seq
	r.Addrs = addrs
	return nil
}

// PeerRecordFromAddrInfo builds an unsigned PeerRecord ready to be Sealed.
func PeerRecordFromAddrInfo(pi peer.AddrInfo, seq uint64) *PeerRecord {
	return &PeerRecord{PeerID: pi.ID, Addrs: pi.Addrs, Seq: seq}
}

// TimestampSeq produces a monotonically advancing seq value suitable for
// a freshly constructed PeerRecord, derived from the current wall-clock
// time the way upstream libp2p does (seconds-nanoseconds since epoch).
func TimestampSeq(nowUnixNano int64) uint64 {
	return uint64(nowUnixNano)
}
