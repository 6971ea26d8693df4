package record

import (
	"fmt"
	"sync"
)

// UnmarshalFunc builds an empty Record of a registered type, ready to
// have UnmarshalRecord called on it.
type UnmarshalFunc func() Record

// Registry maps a payload_type tag to the constructor for its Record
// type. Design note #9: kept as an explicit, constructible value instead
// of package-level global state, so callers control registration order;
// DefaultRegistry is provided for convenience and is safe to register
// into at process startup before any envelopes are consumed.
type Registry struct {
	mu    sync.RWMutex
	types map[string]UnmarshalFunc
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]UnmarshalFunc)}
}

func (r *Registry) RegisterType(payloadType []byte, fn UnmarshalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[string(payloadType)] = fn
}

func (r *Registry) unmarshalPayload(payloadType, payload []byte) (Record, error) {
	r.mu.RLock()
	fn, ok := r.types[string(payloadType)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrPayloadTypeUnknown, payloadType)
	}
	rec := fn()
	if err := rec.UnmarshalRecord(payload); err != nil {
		return nil, err
	}
	return rec, nil
}

// DefaultRegistry is the process-wide registry used by ConsumeEnvelope.
var DefaultRegistry = NewRegistry()
