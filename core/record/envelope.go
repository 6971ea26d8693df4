// Package record implements signed, domain-separated envelopes (spec.md
// §3 Envelope, §6 Envelope signed body, §8 invariant 2).
package record

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
)

// Record is a typed payload that can be sealed into an Envelope and
// later reconstructed from one.
type Record interface {
	// Domain is the signature domain string under which this record
	// type must be verified.
	Domain() string
	// Codec is the payload_type tag identifying this record's wire
	// shape within a RecordRegistry.
	Codec() []byte
	MarshalRecord() ([]byte, error)
	UnmarshalRecord([]byte) error
}

// Envelope is a signed wrapper around a typed payload.
type Envelope struct {
	PublicKey   crypto.PubKey
	PayloadType []byte
	RawPayload  []byte
	Signature   []byte

	cached Record
}

var (
	ErrInvalidSignature = errors.New("record: invalid envelope signature")
	ErrEmptyDomain       = errors.New("record: payload signed with an empty domain is invalid")
	ErrEmptyPayloadType  = errors.New("record: payload type is empty")
	ErrPayloadTypeUnknown = errors.New("record: unrecognized payload type")
)

// signedBody builds the varint-length-prefixed concatenation that is
// actually signed: domain || payload_type || payload (spec.md §6).
func signedBody(domain string, payloadType, payload []byte) []byte {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(domain))
	writeChunk(&buf, payloadType)
	writeChunk(&buf, payload)
	return buf.Bytes()
}

func writeChunk(buf *bytes.Buffer, b []byte) {
	lenBuf := varint.ToUvarint(uint64(len(b)))
	buf.Write(lenBuf)
	buf.Write(b)
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Seal signs rec with sk, producing an Envelope ready for Marshal.
func Seal(rec Record, sk crypto.PrivKey) (*Envelope, error) {
	payload, err := rec.MarshalRecord()
	if err != nil {
		return nil, err
	}
	if rec.Domain() == "" {
		return nil, ErrEmptyDomain
	}
	payloadType := rec.Codec()
	if len(payloadType) == 0 {
		return nil, ErrEmptyPayloadType
	}

	body := signedBody(rec.Domain(), payloadType, payload)
	sig, err := sk.Sign(body)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		PublicKey:   sk.GetPublic(),
		PayloadType: payloadType,
		RawPayload:  payload,
		Signature:   sig,
		cached:      rec,
	}, nil
}

// Marshal serializes the envelope: pubkey || payload_type chunk ||
// payload chunk || signature chunk, each length-prefixed.
func (e *Envelope) Marshal() ([]byte, error) {
	pkb, err := crypto.MarshalPublicKey(e.PublicKey)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeChunk(&buf, pkb)
	writeChunk(&buf, e.PayloadType)
	writeChunk(&buf, e.RawPayload)
	writeChunk(&buf, e.Signature)
	return buf.Bytes(), nil
}

// unmarshalEnvelope parses the wire form without verifying the
// signature; used internally by ConsumeEnvelope after verification.
func unmarshalEnvelope(data []byte) (*Envelope, error) {
	r := bytes.NewReader(data)
	pkb, err := readChunk(r)
	if err != nil {
		return nil, fmt.Errorf("record: reading public key: %w", err)
	}
	pk, err := crypto.UnmarshalPublicKey(pkb)
	if err != nil {
		return nil, err
	}
	payloadType, err := readChunk(r)
	if err != nil {
		return nil, fmt.Errorf("record: reading payload type: %w", err)
	}
	payload, err := readChunk(r)
	if err != nil {
		return nil, fmt.Errorf("record: reading payload: %w", err)
	}
	sig, err := readChunk(r)
	if err != nil {
		return nil, fmt.Errorf("record: reading signature: %w", err)
	}
	return &Envelope{PublicKey: pk, PayloadType: payloadType, RawPayload: payload, Signature: sig}, nil
}

// ConsumeEnvelope unmarshals data, verifies its signature against domain,
// and decodes the payload using the record registered for PayloadType.
// Any tamper to payload_type or payload invalidates the signature check.
func ConsumeEnvelope(data []byte, domain string) (*Envelope, Record, error) {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return nil, nil, err
	}

	body := signedBody(domain, env.PayloadType, env.RawPayload)
	ok, err := env.PublicKey.Verify(body, env.Signature)
	if err != nil || !ok {
		return nil, nil, ErrInvalidSignature
	}

	rec, err := DefaultRegistry.unmarshalPayload(env.PayloadType, env.RawPayload)
	if err != nil {
		return nil, nil, err
	}
	env.cached = rec
	return env, rec, nil
}

// Record returns the cached typed payload, if this envelope was produced
// by Seal or ConsumeEnvelope against a registered type.
func (e *Envelope) Record() Record { return e.cached }

// Equal reports whether two envelopes carry the same signer, type,
// payload and signature.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.PublicKey.Equals(o.PublicKey) &&
		bytes.Equal(e.PayloadType, o.PayloadType) &&
		bytes.Equal(e.RawPayload, o.RawPayload) &&
		bytes.Equal(e.Signature, o.Signature)
}
