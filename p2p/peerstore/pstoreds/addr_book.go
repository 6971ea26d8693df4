package pstoreds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
	"github.com/erwin-kok/go-libp2p-core-engine/core/record"
)

var log = logging.Logger("peerstore")

const (
	addressPrefix = "/peers/addresses/"

	// DefaultOpsPerCyclicBatch bounds how many KVStore mutations the GC
	// cycle accumulates before committing a batch (spec.md §4.7, §5).
	DefaultOpsPerCyclicBatch = 20
	// defaultGCInitialDelay is the delay before the first GC sweep.
	defaultGCInitialDelay = 60 * time.Second
	// DefaultGCPurgeInterval is the steady-state GC cadence.
	DefaultGCPurgeInterval = 2 * time.Hour
	// defaultCacheSize bounds the in-memory LRU of address records.
	defaultCacheSize = 1024
)

// addrEntry is one address's expiry bookkeeping within an
// AddressBookRecord.
type addrEntry struct {
	Addr    ma.Multiaddr
	TTL     time.Duration
	Expires time.Time
}

// AddressBookRecord is the per-peer value namespaced under
// "/peers/addresses/<b32(peer_id)>" (spec.md §3).
type AddressBookRecord struct {
	PeerID          peer.ID
	Addrs           map[string]addrEntry // keyed by addr.Bytes() string
	CertifiedRecord *record.Envelope
	CertifiedSeq    uint64
	Dirty           bool
}

func (r *AddressBookRecord) clean(now time.Time) {
	for k, e := range r.Addrs {
		if now.After(e.Expires) {
			delete(r.Addrs, k)
		}
	}
}

func (r *AddressBookRecord) encode() ([]byte, error) {
	var buf bytes.Buffer
	putChunk(&buf, []byte(r.PeerID))
	putUvarint(&buf, uint64(len(r.Addrs)))
	for _, e := range r.Addrs {
		putChunk(&buf, e.Addr.Bytes())
		putDuration(&buf, e.TTL)
		putTime(&buf, e.Expires)
	}
	putUvarint(&buf, r.CertifiedSeq)
	if r.CertifiedRecord != nil {
		envBytes, err := r.CertifiedRecord.Marshal()
		if err != nil {
			return nil, err
		}
		putChunk(&buf, envBytes)
	} else {
		putChunk(&buf, nil)
	}
	return buf.Bytes(), nil
}

func decodeAddressBookRecord(data []byte) (*AddressBookRecord, error) {
	r := bytes.NewReader(data)
	idBytes, err := getChunk(r)
	if err != nil {
		return nil, fmt.Errorf("pstoreds: decode addr record id: %w", err)
	}
	id, err := peer.IDFromBytes(idBytes)
	if err != nil {
		return nil, err
	}
	n, err := getUvarint(r)
	if err != nil {
		return nil, err
	}
	addrs := make(map[string]addrEntry, n)
	for i := uint64(0); i < n; i++ {
		ab, err := getChunk(r)
		if err != nil {
			return nil, err
		}
		addr, err := ma.NewMultiaddrBytes(ab)
		if err != nil {
			return nil, err
		}
		ttl, err := getDuration(r)
		if err != nil {
			return nil, err
		}
		exp, err := getTime(r)
		if err != nil {
			return nil, err
		}
		addrs[string(ab)] = addrEntry{Addr: addr, TTL: ttl, Expires: exp}
	}
	seq, err := getUvarint(r)
	if err != nil {
		return nil, err
	}
	envBytes, err := getChunk(r)
	if err != nil {
		return nil, err
	}
	rec := &AddressBookRecord{PeerID: id, Addrs: addrs, CertifiedSeq: seq}
	if len(envBytes) > 0 {
		env, err := unmarshalStoredEnvelope(envBytes)
		if err != nil {
			return nil, err
		}
		rec.CertifiedRecord = env
	}
	return rec, nil
}

// unmarshalStoredEnvelope decodes an envelope we previously verified and
// stored ourselves; ConsumeEnvelope checks its signature again on load.
func unmarshalStoredEnvelope(data []byte) (*record.Envelope, error) {
	env, _, err := record.ConsumeEnvelope(data, record.PeerRecordEnvelopeDomain)
	return env, err
}

// addrBook implements peerstore.AddrBook / peerstore.CertifiedAddrBook
// atop a shared KVStore, with per-peer locking, an LRU of decoded
// records, and a background GC cycle (spec.md §4.7, §5).
type addrBook struct {
	kv    peerstore.KVStore
	clock clock.Clock

	locksMu sync.Mutex
	locks   map[peer.ID]*sync.Mutex

	cache *lru.Cache[peer.ID, *AddressBookRecord]

	gcInterval time.Duration
	closeCh    chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

type AddrBookOption func(*addrBook)

func WithClock(c clock.Clock) AddrBookOption {
	return func(b *addrBook) { b.clock = c }
}

func WithGCInterval(d time.Duration) AddrBookOption {
	return func(b *addrBook) { b.gcInterval = d }
}

func NewAddrBook(kv peerstore.KVStore, opts ...AddrBookOption) (*addrBook, error) {
	cache, err := lru.New[peer.ID, *AddressBookRecord](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	b := &addrBook{
		kv:         kv,
		clock:      clock.New(),
		locks:      make(map[peer.ID]*sync.Mutex),
		cache:      cache,
		gcInterval: DefaultGCPurgeInterval,
		closeCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.wg.Add(1)
	go b.gcLoop()
	return b, nil
}

func (b *addrBook) Close() error {
	b.closeOnce.Do(func() { close(b.closeCh) })
	b.wg.Wait()
	return nil
}

func (b *addrBook) lockFor(p peer.ID) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()
	l, ok := b.locks[p]
	if !ok {
		l = &sync.Mutex{}
		b.locks[p] = l
	}
	return l
}

func addrKey(p peer.ID) string {
	return addressPrefix + encodeB32(p.Bytes())
}

func (b *addrBook) load(ctx context.Context, p peer.ID) (*AddressBookRecord, error) {
	if rec, ok := b.cache.Get(p); ok {
		return rec, nil
	}
	data, err := b.kv.Get(ctx, addrKey(p))
	if errors.Is(err, peerstore.ErrNotFound) {
		rec := &AddressBookRecord{PeerID: p, Addrs: make(map[string]addrEntry)}
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeAddressBookRecord(data)
	if err != nil {
		return nil, err
	}
	b.cache.Add(p, rec)
	return rec, nil
}

func (b *addrBook) store(ctx context.Context, rec *AddressBookRecord) error {
	if len(rec.Addrs) == 0 && rec.CertifiedRecord == nil {
		b.cache.Remove(rec.PeerID)
		return b.kv.Delete(ctx, addrKey(rec.PeerID))
	}
	data, err := rec.encode()
	if err != nil {
		return err
	}
	b.cache.Add(rec.PeerID, rec)
	return b.kv.Put(ctx, addrKey(rec.PeerID), data)
}

func (b *addrBook) AddAddr(p peer.ID, addr ma.Multiaddr, ttl time.Duration) {
	b.AddAddrs(p, []ma.Multiaddr{addr}, ttl)
}

func (b *addrBook) AddAddrs(p peer.ID, addrs []ma.Multiaddr, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l := b.lockFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	rec, err := b.load(ctx, p)
	if err != nil {
		log.Warnf("addrbook: load %s: %s", p, err)
		return
	}

	exp := b.clock.Now().Add(ttl)
	for _, a := range addrs {
		if a == nil {
			continue
		}
		key := string(a.Bytes())
		cur, ok := rec.Addrs[key]
		if !ok || exp.After(cur.Expires) {
			rec.Addrs[key] = addrEntry{Addr: a, TTL: ttl, Expires: exp}
		}
	}
	if err := b.store(ctx, rec); err != nil {
		log.Warnf("addrbook: store %s: %s", p, err)
	}
}

func (b *addrBook) SetAddr(p peer.ID, addr ma.Multiaddr, ttl time.Duration) {
	b.SetAddrs(p, []ma.Multiaddr{addr}, ttl)
}

// SetAddrs replaces the TTL/expiry of the given addresses; addresses
// absent from addrs keep their existing expiry (spec.md §4.7).
func (b *addrBook) SetAddrs(p peer.ID, addrs []ma.Multiaddr, ttl time.Duration) {
	l := b.lockFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	rec, err := b.load(ctx, p)
	if err != nil {
		log.Warnf("addrbook: load %s: %s", p, err)
		return
	}

	exp := b.clock.Now().Add(ttl)
	for _, a := range addrs {
		if a == nil {
			continue
		}
		key := string(a.Bytes())
		if ttl > 0 {
			rec.Addrs[key] = addrEntry{Addr: a, TTL: ttl, Expires: exp}
		} else {
			delete(rec.Addrs, key)
		}
	}
	if err := b.store(ctx, rec); err != nil {
		log.Warnf("addrbook: store %s: %s", p, err)
	}
}

// UpdateAddrs rescales any entry currently at oldTTL to newTTL
// (spec.md §4.7).
func (b *addrBook) UpdateAddrs(p peer.ID, oldTTL, newTTL time.Duration) {
	l := b.lockFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	rec, err := b.load(ctx, p)
	if err != nil {
		return
	}
	exp := b.clock.Now().Add(newTTL)
	for k, e := range rec.Addrs {
		if e.TTL == oldTTL {
			e.TTL = newTTL
			e.Expires = exp
			rec.Addrs[k] = e
		}
	}
	if err := b.store(ctx, rec); err != nil {
		log.Warnf("addrbook: store %s: %s", p, err)
	}
}

// Addrs filters out expired addresses and marks the cached record dirty
// (spec.md §4.7); the GC sweep does not consult the dirty flag.
func (b *addrBook) Addrs(p peer.ID) []ma.Multiaddr {
	l := b.lockFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	rec, err := b.load(ctx, p)
	if err != nil {
		return nil
	}
	now := b.clock.Now()
	out := make([]ma.Multiaddr, 0, len(rec.Addrs))
	changed := false
	for k, e := range rec.Addrs {
		if now.After(e.Expires) {
			delete(rec.Addrs, k)
			changed = true
			continue
		}
		out = append(out, e.Addr)
	}
	rec.Dirty = true
	if changed {
		if err := b.store(ctx, rec); err != nil {
			log.Warnf("addrbook: store %s: %s", p, err)
		}
	}
	return out
}

func (b *addrBook) ClearAddrs(p peer.ID) {
	l := b.lockFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	b.cache.Remove(p)
	if err := b.kv.Delete(ctx, addrKey(p)); err != nil {
		log.Warnf("addrbook: clear %s: %s", p, err)
	}
}

func (b *addrBook) PeersWithAddrs() []peer.ID {
	ctx := context.Background()
	it, err := b.kv.Query(ctx, addressPrefix)
	if err != nil {
		return nil
	}
	defer it.Close()
	var out []peer.ID
	for it.Next() {
		rec, err := decodeAddressBookRecord(it.Value())
		if err != nil {
			continue
		}
		out = append(out, rec.PeerID)
	}
	return out
}

// ConsumePeerRecord verifies and installs a certified address set,
// requiring a strictly advancing seq (spec.md §4.7, §8 invariant 5).
func (b *addrBook) ConsumePeerRecord(env *record.Envelope, ttl time.Duration) (bool, error) {
	pr, ok := env.Record().(*record.PeerRecord)
	if !ok {
		return false, errors.New("pstoreds: envelope does not carry a PeerRecord")
	}
	if !pr.PeerID.MatchesPublicKey(env.PublicKey) {
		return false, errors.New("pstoreds: envelope public key does not match record peer id")
	}

	p := pr.PeerID
	l := b.lockFor(p)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	rec, err := b.load(ctx, p)
	if err != nil {
		return false, err
	}

	if rec.CertifiedRecord != nil && pr.Seq <= rec.CertifiedSeq {
		return false, nil
	}

	exp := b.clock.Now().Add(ttl)
	newAddrs := make(map[string]addrEntry, len(pr.Addrs))
	for _, a := range pr.Addrs {
		newAddrs[string(a.Bytes())] = addrEntry{Addr: a, TTL: ttl, Expires: exp}
	}
	rec.Addrs = newAddrs
	rec.CertifiedRecord = env
	rec.CertifiedSeq = pr.Seq

	if err := b.store(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (b *addrBook) GetPeerRecord(p peer.ID) *record.Envelope {
	l := b.lockFor(p)
	l.Lock()
	defer l.Unlock()

	rec, err := b.load(context.Background(), p)
	if err != nil {
		return nil
	}
	return rec.CertifiedRecord
}

// gcLoop walks all address records in small batches, dropping expired
// addresses and evicting empty records, delay-first then on a fixed
// cadence (spec.md §4.7, §9 open question (b)).
func (b *addrBook) gcLoop() {
	defer b.wg.Done()

	t := b.clock.Timer(defaultGCInitialDelay)
	defer t.Stop()
	for {
		select {
		case <-b.closeCh:
			return
		case <-t.C:
			b.gcSweep()
			t.Reset(b.gcInterval)
		}
	}
}

func (b *addrBook) gcSweep() {
	ctx := context.Background()
	it, err := b.kv.Query(ctx, addressPrefix)
	if err != nil {
		log.Warnf("addrbook gc: query failed: %s", err)
		return
	}
	defer it.Close()

	batcher, canBatch := b.kv.(peerstore.Batching)
	var batch peerstore.Batch
	ops := 0
	if canBatch {
		batch, _ = batcher.Batch(ctx)
	}

	now := b.clock.Now()
	for it.Next() {
		rec, err := decodeAddressBookRecord(it.Value())
		if err != nil {
			continue
		}
		before := len(rec.Addrs)
		rec.clean(now)
		if len(rec.Addrs) == before && rec.CertifiedRecord == nil {
			continue
		}

		b.cache.Remove(rec.PeerID)
		if len(rec.Addrs) == 0 && rec.CertifiedRecord == nil {
			if batch != nil {
				batch.Delete(addrKey(rec.PeerID))
			} else {
				_ = b.kv.Delete(ctx, addrKey(rec.PeerID))
			}
		} else if len(rec.Addrs) != before {
			data, err := rec.encode()
			if err != nil {
				continue
			}
			if batch != nil {
				batch.Put(addrKey(rec.PeerID), data)
			} else {
				_ = b.kv.Put(ctx, addrKey(rec.PeerID), data)
			}
		}

		ops++
		if batch != nil && ops >= DefaultOpsPerCyclicBatch {
			if err := batch.Commit(ctx); err != nil {
				log.Warnf("addrbook gc: batch commit failed: %s", err)
			}
			batch, _ = batcher.Batch(ctx)
			ops = 0
		}
	}
	if batch != nil && ops > 0 {
		if err := batch.Commit(ctx); err != nil {
			log.Warnf("addrbook gc: final batch commit failed: %s", err)
		}
	}
}

var _ peerstore.CertifiedAddrBook = (*addrBook)(nil)
