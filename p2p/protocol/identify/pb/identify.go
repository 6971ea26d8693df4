// Package pb holds the identify protocol's wire message, encoded by
// hand with protobuf-go's low-level wire primitives rather than a
// protoc-generated type (spec.md's identify supplement; see
// DESIGN.md).
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, matching upstream identify.proto's layout.
const (
	fieldProtocolVersion = 5
	fieldAgentVersion    = 6
	fieldPublicKey       = 1
	fieldListenAddrs     = 2
	fieldProtocols       = 3
	fieldObservedAddr    = 4
	fieldSignedRecord    = 8
)

// Identify is the message exchanged over /ipfs/id/1.0.0: the
// responder's version strings, public key, listen addresses,
// supported protocols, the address it observed the dialer connecting
// from, and (optionally) a signed PeerRecord envelope.
type Identify struct {
	ProtocolVersion  string
	AgentVersion     string
	PublicKey        []byte
	ListenAddrs      [][]byte
	Protocols        []string
	ObservedAddr     []byte
	SignedPeerRecord []byte
}

// Marshal encodes m using protobuf's wire format (field/wire-type tags
// plus length-delimited or varint-free values), field order matching
// the struct above.
func Marshal(m *Identify) []byte {
	var b []byte
	if m.ProtocolVersion != "" {
		b = protowire.AppendTag(b, fieldProtocolVersion, protowire.BytesType)
		b = protowire.AppendString(b, m.ProtocolVersion)
	}
	if m.AgentVersion != "" {
		b = protowire.AppendTag(b, fieldAgentVersion, protowire.BytesType)
		b = protowire.AppendString(b, m.AgentVersion)
	}
	if len(m.PublicKey) > 0 {
		b = protowire.AppendTag(b, fieldPublicKey, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PublicKey)
	}
	for _, a := range m.ListenAddrs {
		b = protowire.AppendTag(b, fieldListenAddrs, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	for _, p := range m.Protocols {
		b = protowire.AppendTag(b, fieldProtocols, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	if len(m.ObservedAddr) > 0 {
		b = protowire.AppendTag(b, fieldObservedAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ObservedAddr)
	}
	if len(m.SignedPeerRecord) > 0 {
		b = protowire.AppendTag(b, fieldSignedRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, m.SignedPeerRecord)
	}
	return b
}

// Unmarshal decodes an Identify message, tolerating unknown fields
// (forward compatibility, the same stance protoc-generated code
// takes).
func Unmarshal(data []byte) (*Identify, error) {
	m := &Identify{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("pb: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return nil, fmt.Errorf("pb: skip field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
			continue
		}

		val, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("pb: consume bytes field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldProtocolVersion:
			m.ProtocolVersion = string(val)
		case fieldAgentVersion:
			m.AgentVersion = string(val)
		case fieldPublicKey:
			m.PublicKey = append([]byte(nil), val...)
		case fieldListenAddrs:
			m.ListenAddrs = append(m.ListenAddrs, append([]byte(nil), val...))
		case fieldProtocols:
			m.Protocols = append(m.Protocols, string(val))
		case fieldObservedAddr:
			m.ObservedAddr = append([]byte(nil), val...)
		case fieldSignedRecord:
			m.SignedPeerRecord = append([]byte(nil), val...)
		}
	}
	return m, nil
}
