package swarm

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

const (
	// dialTimeout bounds one transport dial attempt (spec.md §4.8).
	dialTimeout = 15 * time.Second
	// maxRetries is the per-address retry ceiling before giving up.
	maxRetries = 3
	// backoffBase/backoffCoeff compute the retry schedule: scheduled_at
	// + backoffBase + backoffCoeff*retries^2 (spec.md §4.8).
	backoffBase  = 15 * time.Second
	backoffCoeff = 1 * time.Second
	// maxDialErrors bounds the aggregated DialError detail (spec.md §7).
	maxDialErrors = 16
)

// addressDial tracks one in-flight or scheduled address attempt
// (spec.md §3 AddressDial).
type addressDial struct {
	addr        ma.Multiaddr
	retries     int
	createdAt   time.Time
	scheduledAt time.Time
	index       int // heap index
}

type dialQueue []*addressDial

func (q dialQueue) Len() int            { return len(q) }
func (q dialQueue) Less(i, j int) bool  { return q[i].scheduledAt.Before(q[j].scheduledAt) }
func (q dialQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *dialQueue) Push(x any) {
	d := x.(*addressDial)
	d.index = len(*q)
	*q = append(*q, d)
}
func (q *dialQueue) Pop() any {
	old := *q
	n := len(old)
	d := old[n-1]
	*q = old[:n-1]
	return d
}

// dialAttemptError records one address's final failure for the
// aggregated DialError (spec.md §7).
type dialAttemptError struct {
	Addr ma.Multiaddr
	Err  error
}

// DialError aggregates every address attempted for one dialPeer call.
type DialError struct {
	Peer    peer.ID
	Errors  []dialAttemptError
	Skipped int
}

func (e *DialError) Error() string {
	s := fmt.Sprintf("swarm: dial to %s failed", e.Peer)
	for _, a := range e.Errors {
		s += fmt.Sprintf("\n  * [%s] %s", a.Addr, a.Err)
	}
	if e.Skipped > 0 {
		s += fmt.Sprintf("\n  * ... skipped %d", e.Skipped)
	}
	return s
}

// dialRequest is one caller's request to reach a peer.
type dialRequest struct {
	ctx    context.Context
	respCh chan dialResponse
}

type dialResponse struct {
	conn network.Conn
	err  error
}

// dialWorker coordinates every in-flight dial to one peer, coalescing
// concurrent callers onto shared address attempts (spec.md §4.8).
type dialWorker struct {
	sw   *Swarm
	peer peer.ID

	reqCh  chan *dialRequest
	wake   chan struct{}
	closed chan struct{}

	mu         sync.Mutex
	waiters    []*dialRequest
	queue      dialQueue
	tracked    map[string]*addressDial
	lastErrors []dialAttemptError
	skipped    int
}

func newDialWorker(sw *Swarm, p peer.ID) *dialWorker {
	w := &dialWorker{
		sw:      sw,
		peer:    p,
		reqCh:   make(chan *dialRequest),
		wake:    make(chan struct{}, 1),
		closed:  make(chan struct{}),
		tracked: make(map[string]*addressDial),
	}
	go w.run()
	return w
}

func (w *dialWorker) dial(ctx context.Context) (network.Conn, error) {
	req := &dialRequest{ctx: ctx, respCh: make(chan dialResponse, 1)}
	select {
	case w.reqCh <- req:
	case <-w.closed:
		return nil, network.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.respCh:
		return resp.conn, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *dialWorker) run() {
	idle := time.NewTimer(2 * time.Minute)
	defer idle.Stop()

	for {
		var timerCh <-chan time.Time
		w.mu.Lock()
		if w.queue.Len() > 0 {
			d := time.Until(w.queue[0].scheduledAt)
			if d < 0 {
				d = 0
			}
			timerCh = time.After(d)
		}
		idleEligible := w.queue.Len() == 0 && len(w.waiters) == 0
		w.mu.Unlock()

		if idleEligible {
			select {
			case req := <-w.reqCh:
				w.handleRequest(req)
			case <-idle.C:
				w.sw.removeDialWorker(w.peer, w)
				return
			case <-w.closed:
				return
			}
			continue
		}

		select {
		case req := <-w.reqCh:
			w.handleRequest(req)
		case <-timerCh:
			w.fireReady()
		case <-w.wake:
		case <-w.closed:
			return
		}
	}
}

func (w *dialWorker) signalWake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *dialWorker) handleRequest(req *dialRequest) {
	if c := w.sw.bestConn(w.peer); c != nil {
		req.respCh <- dialResponse{conn: c}
		return
	}

	if w.sw.gater != nil && !w.sw.gater.InterceptPeerDial(w.peer) {
		req.respCh <- dialResponse{err: network.ErrGaterDenied}
		return
	}

	addrs := w.sw.peerstore.Addrs(w.peer)
	if len(addrs) == 0 {
		req.respCh <- dialResponse{err: network.ErrNoAddresses}
		return
	}
	addrs = resolveAddrs(req.ctx, addrs)
	if len(addrs) == 0 {
		req.respCh <- dialResponse{err: network.ErrNoAddresses}
		return
	}

	w.mu.Lock()
	w.waiters = append(w.waiters, req)
	for _, a := range addrs {
		key := a.String()
		if _, ok := w.tracked[key]; ok {
			continue
		}
		d := &addressDial{
			addr:        a,
			createdAt:   time.Now(),
			scheduledAt: time.Now().Add(rankDelay(a)),
		}
		w.tracked[key] = d
		heap.Push(&w.queue, d)
	}
	w.mu.Unlock()

	w.fireReady()
}

func (w *dialWorker) fireReady() {
	for {
		w.mu.Lock()
		if w.queue.Len() == 0 {
			w.mu.Unlock()
			return
		}
		next := w.queue[0]
		if next.scheduledAt.After(time.Now()) {
			w.mu.Unlock()
			return
		}
		heap.Pop(&w.queue)
		w.mu.Unlock()

		go w.attempt(next)
	}
}

func (w *dialWorker) attempt(d *addressDial) {
	if w.sw.gater != nil && !w.sw.gater.InterceptAddrDial(w.peer, d.addr) {
		w.fail(d, network.ErrGaterDenied, true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	go func() {
		select {
		case <-w.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	t := w.sw.transportFor(d.addr)
	if t == nil {
		w.fail(d, fmt.Errorf("swarm: no transport for %s", d.addr), true)
		return
	}

	if err := w.sw.dialLimiter.Acquire(ctx, 1); err != nil {
		w.fail(d, err, false)
		return
	}
	defer w.sw.dialLimiter.Release(1)

	cc, err := t.Dial(ctx, d.addr, w.peer)
	if err != nil {
		w.fail(d, err, false)
		return
	}
	if cc.RemotePeer() != w.peer {
		_ = cc.Close()
		w.fail(d, fmt.Errorf("swarm: dialed peer id mismatch"), true)
		return
	}
	if w.sw.gater != nil {
		if allow, _ := w.sw.gater.InterceptUpgraded(nil); !allow {
			_ = cc.Close()
			w.fail(d, network.ErrGaterDenied, true)
			return
		}
	}

	c := w.sw.addConn(cc, network.DirOutbound)
	w.succeed(c)
}

func (w *dialWorker) succeed(c network.Conn) {
	w.mu.Lock()
	waiters := w.waiters
	w.waiters = nil
	w.tracked = make(map[string]*addressDial)
	w.queue = nil
	w.lastErrors = nil
	w.skipped = 0
	w.mu.Unlock()

	for _, req := range waiters {
		req.respCh <- dialResponse{conn: c}
	}
}

func (w *dialWorker) fail(d *addressDial, err error, terminal bool) {
	w.mu.Lock()
	if !terminal {
		d.retries++
		if d.retries < maxRetries {
			d.scheduledAt = d.scheduledAt.Add(backoffBase + time.Duration(d.retries*d.retries)*backoffCoeff)
			heap.Push(&w.queue, d)
			w.mu.Unlock()
			w.signalWake()
			return
		}
	}
	delete(w.tracked, d.addr.String())
	pending := w.queue.Len() > 0
	w.mu.Unlock()

	w.recordFailure(d.addr, err)

	if !pending {
		w.maybeFail()
	}
}

func (w *dialWorker) recordFailure(addr ma.Multiaddr, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastErrors == nil {
		w.lastErrors = make([]dialAttemptError, 0, maxDialErrors)
	}
	if len(w.lastErrors) < maxDialErrors {
		w.lastErrors = append(w.lastErrors, dialAttemptError{Addr: addr, Err: err})
	} else {
		w.skipped++
	}
}

// maybeFail replies to every waiter with the aggregated error once no
// addresses remain tracked.
func (w *dialWorker) maybeFail() {
	w.mu.Lock()
	if len(w.tracked) > 0 {
		w.mu.Unlock()
		return
	}
	waiters := w.waiters
	w.waiters = nil
	errs := w.lastErrors
	skipped := w.skipped
	w.lastErrors = nil
	w.skipped = 0
	w.mu.Unlock()

	if len(waiters) == 0 {
		return
	}
	derr := &DialError{Peer: w.peer, Errors: errs, Skipped: skipped}
	for _, req := range waiters {
		req.respCh <- dialResponse{err: derr}
	}
}

func (w *dialWorker) close() {
	close(w.closed)
}
