// Package pstoremem provides a simple in-memory KVStore, the default
// backing store for the peerstore's sub-stores (spec.md §4.7). It plays
// the same role as the teacher's memoryAddrBook, generalized from a
// dedicated per-peer address map into a generic namespaced byte store so
// every sub-store (address book, key book, protocol book, metadata) can
// share one backend.
package pstoremem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

type memKVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var (
	_ peerstore.KVStore  = (*memKVStore)(nil)
	_ peerstore.Batching = (*memKVStore)(nil)
)

// NewKVStore returns a map-backed KVStore suitable for tests and
// single-process deployments.
func NewKVStore() peerstore.KVStore {
	return &memKVStore{data: make(map[string][]byte)}
}

func (m *memKVStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, peerstore.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memKVStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memKVStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKVStore) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memKVStore) Query(_ context.Context, prefix string) (peerstore.Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]kvEntry, 0, len(keys))
	for _, k := range keys {
		v := m.data[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		entries = append(entries, kvEntry{key: k, value: cp})
	}
	return &memIterator{entries: entries, idx: -1}, nil
}

type kvEntry struct {
	key   string
	value []byte
}

type memIterator struct {
	entries []kvEntry
	idx     int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *memIterator) Key() string   { return it.entries[it.idx].key }
func (it *memIterator) Value() []byte { return it.entries[it.idx].value }
func (it *memIterator) Close() error  { return nil }

// batch

type memBatch struct {
	store *memKVStore
	puts  map[string][]byte
	dels  map[string]struct{}
}

func (m *memKVStore) Batch(context.Context) (peerstore.Batch, error) {
	return &memBatch{store: m, puts: make(map[string][]byte), dels: make(map[string]struct{})}, nil
}

func (b *memBatch) Put(key string, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.puts[key] = cp
	delete(b.dels, key)
}

func (b *memBatch) Delete(key string) {
	b.dels[key] = struct{}{}
	delete(b.puts, key)
}

func (b *memBatch) Commit(context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for k, v := range b.puts {
		b.store.data[k] = v
	}
	for k := range b.dels {
		delete(b.store.data, k)
	}
	return nil
}
