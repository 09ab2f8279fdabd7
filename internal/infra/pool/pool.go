// Package pool provides a bounded pool of reusable network client handles.
//
// Capacity is enforced with a buffered channel of slots: a caller owns a slot
// from a successful Acquire until its lease is released, discarded or
// reclaimed. Idle handles and the lease table are guarded by a mutex, so a
// handle is never leased to two callers at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"postroom/internal/common"
)

// DialFunc opens a new client handle.
type DialFunc[C io.Closer] func(ctx context.Context) (C, error)

// Config holds pool limits.
type Config struct {
	// MaxSize is the maximum number of simultaneously leased handles.
	MaxSize int
	// AcquireTimeout bounds how long Acquire waits for a free slot.
	AcquireTimeout time.Duration
	// IdleTTL is how long a returned handle may sit idle before it is closed.
	IdleTTL time.Duration
	// LeaseTimeout reclaims leases held longer than this. Zero disables reclaiming.
	LeaseTimeout time.Duration
	// SweepInterval is how often the janitor runs.
	SweepInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 2 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
}

// Aborter is implemented by handles that can be torn down while a borrower
// is still using them. Reclaimed leases are aborted instead of closed, since
// Close may talk to the peer over the borrower's stream.
type Aborter interface {
	Abort() error
}

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool is closed")

// Stats is a point-in-time view of the pool.
type Stats struct {
	MaxSize   int
	Leased    int
	Idle      int
	Reclaimed uint64
}

type idleConn[C io.Closer] struct {
	client   C
	idleFrom time.Time
}

// Pool is a bounded pool of C handles. It is safe for concurrent use.
type Pool[C io.Closer] struct {
	dial DialFunc[C]
	cfg  Config
	now  func() time.Time

	slots chan struct{}

	mu        sync.Mutex
	idle      []idleConn[C]
	leases    map[uint64]*Lease[C]
	nextID    uint64
	reclaimed uint64
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a pool and starts its janitor. Call Close to stop it.
func New[C io.Closer](dial DialFunc[C], cfg Config) *Pool[C] {
	cfg.setDefaults()
	p := &Pool[C]{
		dial:   dial,
		cfg:    cfg,
		now:    time.Now,
		slots:  make(chan struct{}, cfg.MaxSize),
		leases: make(map[uint64]*Lease[C]),
		done:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.janitor()

	return p
}

// Acquire leases a handle, reusing an idle one when available and dialing
// otherwise. It waits for a free slot until AcquireTimeout or the caller's
// deadline, whichever comes first, and then fails with common.ErrPoolExhausted.
func (p *Pool[C]) Acquire(ctx context.Context) (*Lease[C], error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	select {
	case p.slots <- struct{}{}:
	case <-p.done:
		return nil, ErrClosed
	case <-waitCtx.Done():
		return nil, fmt.Errorf("%w: waited %s: %w", common.ErrPoolExhausted, p.cfg.AcquireTimeout, waitCtx.Err())
	}

	client, ok, err := p.takeIdle()
	if err != nil {
		<-p.slots
		return nil, err
	}
	if !ok {
		client, err = p.dial(ctx)
		if err != nil {
			<-p.slots
			return nil, fmt.Errorf("dialing pooled connection: %w", err)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = client.Close()
		<-p.slots
		return nil, ErrClosed
	}
	p.nextID++
	lease := &Lease[C]{
		pool:     p,
		id:       p.nextID,
		client:   client,
		leasedAt: p.now(),
	}
	p.leases[lease.id] = lease
	p.mu.Unlock()

	return lease, nil
}

// takeIdle pops the most recently returned idle handle, closing expired ones.
func (p *Pool[C]) takeIdle() (C, bool, error) {
	var zero C
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return zero, false, ErrClosed
	}

	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		ic := p.idle[last]
		p.idle = p.idle[:last]

		if now.Sub(ic.idleFrom) > p.cfg.IdleTTL {
			_ = ic.client.Close()
			continue
		}
		return ic.client, true, nil
	}
	return zero, false, nil
}

// release ends a lease. It returns false if the lease was already ended.
func (p *Pool[C]) release(l *Lease[C], reuse bool) bool {
	p.mu.Lock()
	if _, ok := p.leases[l.id]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.leases, l.id)

	if reuse && !p.closed {
		p.idle = append(p.idle, idleConn[C]{client: l.client, idleFrom: p.now()})
		p.mu.Unlock()
	} else {
		p.mu.Unlock()
		_ = l.client.Close()
	}

	<-p.slots
	return true
}

func (p *Pool[C]) janitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep closes idle handles past IdleTTL and reclaims leases past LeaseTimeout.
func (p *Pool[C]) sweep() {
	now := p.now()
	var toClose, toAbort []C
	freed := 0

	p.mu.Lock()
	kept := p.idle[:0]
	for _, ic := range p.idle {
		if now.Sub(ic.idleFrom) > p.cfg.IdleTTL {
			toClose = append(toClose, ic.client)
			continue
		}
		kept = append(kept, ic)
	}
	p.idle = kept

	if p.cfg.LeaseTimeout > 0 {
		for id, l := range p.leases {
			if now.Sub(l.leasedAt) > p.cfg.LeaseTimeout {
				delete(p.leases, id)
				toAbort = append(toAbort, l.client)
				p.reclaimed++
				freed++
				slog.Warn("pool: reclaimed expired lease",
					"lease_id", id,
					"held_for", now.Sub(l.leasedAt).Round(time.Millisecond),
				)
			}
		}
	}
	p.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
	}
	for _, c := range toAbort {
		abort(c)
	}
	for range freed {
		<-p.slots
	}
}

// abort tears down a handle that may still be in use. Handles without an
// Abort method are closed.
func abort[C io.Closer](c C) {
	if a, ok := any(c).(Aborter); ok {
		_ = a.Abort()
		return
	}
	_ = c.Close()
}

// Stats returns current pool counters.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxSize:   p.cfg.MaxSize,
		Leased:    len(p.leases),
		Idle:      len(p.idle),
		Reclaimed: p.reclaimed,
	}
}

// Close stops the janitor and closes idle handles. Outstanding leases are
// closed when they are released.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	var errs []error
	for _, ic := range idle {
		if err := ic.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lease is a handle borrowed from the pool for a single caller.
type Lease[C io.Closer] struct {
	pool     *Pool[C]
	id       uint64
	client   C
	leasedAt time.Time
}

// Client returns the leased handle. It must not be used after the lease ends.
func (l *Lease[C]) Client() C {
	return l.client
}

// Release returns the handle to the pool for reuse. Releasing a lease that
// already ended, including one reclaimed after LeaseTimeout, is a no-op.
func (l *Lease[C]) Release() {
	if !l.pool.release(l, true) {
		slog.Debug("pool: release of ended lease ignored", "lease_id", l.id)
	}
}

// Discard closes the handle instead of returning it, for broken connections.
// Like Release it is a no-op on an ended lease.
func (l *Lease[C]) Discard() {
	if !l.pool.release(l, false) {
		slog.Debug("pool: discard of ended lease ignored", "lease_id", l.id)
	}
}
