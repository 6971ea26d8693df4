// Package eventbus implements core/event.Bus: a process-local, typed
// publish/subscribe registry keyed by the event's concrete Go type
// (spec.md §4.11).
package eventbus

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/erwin-kok/go-libp2p-core-engine/core/event"
)

const defaultBuffer = 16

// Bus implements event.Bus with one fan-out node per event type.
type Bus struct {
	mu    sync.Mutex
	nodes map[reflect.Type]*node
}

func New() *Bus {
	return &Bus{nodes: make(map[reflect.Type]*node)}
}

// node fans out one event type to every live subscription, and
// optionally caches the last emitted value for stateful emitters.
type node struct {
	mu      sync.Mutex
	subs    map[*subscription]struct{}
	stateful bool
	last    any
	hasLast bool
}

func (b *Bus) nodeFor(t reflect.Type) *node {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[t]
	if !ok {
		n = &node{subs: make(map[*subscription]struct{})}
		b.nodes[t] = n
	}
	return n
}

func typesOf(eventType any) ([]reflect.Type, error) {
	switch v := eventType.(type) {
	case []any:
		out := make([]reflect.Type, 0, len(v))
		for _, e := range v {
			out = append(out, reflect.TypeOf(e))
		}
		return out, nil
	default:
		t := reflect.TypeOf(v)
		if t == nil {
			return nil, fmt.Errorf("eventbus: nil event type")
		}
		return []reflect.Type{t}, nil
	}
}

func (b *Bus) Subscribe(eventType any, opts ...event.SubOption) (event.Subscription, error) {
	var settings event.SubSettings
	settings.Buffer = defaultBuffer
	for _, o := range opts {
		o(&settings)
	}

	types, err := typesOf(eventType)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		out:   make(chan any, settings.Buffer),
		name:  settings.Name,
		bus:   b,
		types: types,
	}
	for _, t := range types {
		n := b.nodeFor(t)
		n.mu.Lock()
		n.subs[sub] = struct{}{}
		if n.stateful && n.hasLast {
			select {
			case sub.out <- n.last:
			default:
			}
		}
		n.mu.Unlock()
	}
	return sub, nil
}

func (b *Bus) Emitter(eventType any, opts ...event.EmitterOpt) (event.Emitter, error) {
	var settings event.EmitterSettings
	for _, o := range opts {
		o(&settings)
	}
	t := reflect.TypeOf(eventType)
	if t == nil {
		return nil, fmt.Errorf("eventbus: nil event type")
	}
	n := b.nodeFor(t)
	if settings.MakeStateful {
		n.mu.Lock()
		n.stateful = true
		n.mu.Unlock()
	}
	return &emitter{bus: b, typ: t, node: n}, nil
}

type emitter struct {
	bus  *Bus
	typ  reflect.Type
	node *node
}

// Emit publishes evt to every live subscriber of its type. Delivery is
// non-blocking per subscriber: a subscriber whose buffer is full misses
// the event rather than stalling every other subscriber or the emitter.
func (e *emitter) Emit(evt any) error {
	if reflect.TypeOf(evt) != e.typ {
		return fmt.Errorf("eventbus: emit type mismatch: want %s got %T", e.typ, evt)
	}
	e.node.mu.Lock()
	if e.node.stateful {
		e.node.last = evt
		e.node.hasLast = true
	}
	subs := make([]*subscription, 0, len(e.node.subs))
	for s := range e.node.subs {
		subs = append(subs, s)
	}
	e.node.mu.Unlock()

	for _, s := range subs {
		select {
		case s.out <- evt:
		default:
		}
	}
	return nil
}

func (e *emitter) Close() error { return nil }

type subscription struct {
	out       chan any
	name      string
	bus       *Bus
	types     []reflect.Type
	closeOnce sync.Once
}

func (s *subscription) Out() <-chan any { return s.out }
func (s *subscription) Name() string    { return s.name }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		for _, t := range s.types {
			n := s.bus.nodeFor(t)
			n.mu.Lock()
			delete(n.subs, s)
			n.mu.Unlock()
		}
		close(s.out)
	})
	return nil
}

var _ event.Bus = (*Bus)(nil)
