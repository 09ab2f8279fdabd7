package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postroom/internal/common"
)

type fakeConn struct {
	id     int64
	inUse  atomic.Bool
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeDialer struct {
	dialed atomic.Int64
	err    error
}

func (d *fakeDialer) dial(ctx context.Context) (*fakeConn, error) {
	if d.err != nil {
		return nil, d.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fakeConn{id: d.dialed.Add(1)}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestPool builds a pool whose janitor never fires on its own.
func newTestPool(t *testing.T, d *fakeDialer, cfg Config) (*Pool[*fakeConn], *fakeClock) {
	t.Helper()
	cfg.SweepInterval = time.Hour
	p := New(d.dial, cfg)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p.now = clock.Now
	t.Cleanup(func() { _ = p.Close() })
	return p, clock
}

func TestPool_NeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	const maxSize = 3
	d := &fakeDialer{}
	p, _ := newTestPool(t, d, Config{MaxSize: maxSize, AcquireTimeout: 5 * time.Second})

	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)

	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			lease, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			conn := lease.Client()
			assert.True(t, conn.inUse.CompareAndSwap(false, true), "connection leased twice")

			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)

			conn.inUse.Store(false)
			lease.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(maxSize))
	assert.LessOrEqual(t, d.dialed.Load(), int64(maxSize))
	assert.Equal(t, 0, p.Stats().Leased)
}

func TestPool_AcquireTimesOutWhenExhausted(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, &fakeDialer{}, Config{MaxSize: 1, AcquireTimeout: 30 * time.Millisecond})

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPoolExhausted)
	assert.True(t, common.IsRetryable(err))
}

func TestPool_AcquireHonoursCallerDeadline(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, &fakeDialer{}, Config{MaxSize: 1, AcquireTimeout: time.Minute})

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPool_ReusesReleasedConnection(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p, _ := newTestPool(t, d, Config{MaxSize: 2})

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := first.Client()
	first.Release()

	second, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer second.Release()

	assert.Same(t, conn, second.Client())
	assert.Equal(t, int64(1), d.dialed.Load())
}

func TestPool_DoubleReleaseIsNoop(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, &fakeDialer{}, Config{MaxSize: 2, AcquireTimeout: 20 * time.Millisecond})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	lease.Release()
	lease.Discard()

	// Slot accounting must still allow exactly MaxSize leases.
	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, common.ErrPoolExhausted)

	a.Release()
	b.Release()
	assert.Equal(t, 0, p.Stats().Leased)
	assert.Equal(t, 2, p.Stats().Idle)
}

func TestPool_ReclaimsExpiredLease(t *testing.T) {
	t.Parallel()

	p, clock := newTestPool(t, &fakeDialer{}, Config{
		MaxSize:        1,
		AcquireTimeout: 20 * time.Millisecond,
		LeaseTimeout:   time.Second,
	})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := lease.Client()

	clock.Advance(2 * time.Second)
	p.sweep()

	stats := p.Stats()
	assert.Equal(t, 0, stats.Leased)
	assert.Equal(t, uint64(1), stats.Reclaimed)
	assert.True(t, conn.closed.Load())

	// A late release from the timed-out borrower changes nothing.
	lease.Release()
	assert.Equal(t, 0, p.Stats().Idle)

	next, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, conn, next.Client())
	next.Release()
}

type sessionConn struct {
	closes atomic.Int32
	aborts atomic.Int32
}

func (c *sessionConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *sessionConn) Abort() error {
	c.aborts.Add(1)
	return nil
}

func TestPool_ReclaimAbortsInsteadOfClosing(t *testing.T) {
	t.Parallel()

	dial := func(context.Context) (*sessionConn, error) { return &sessionConn{}, nil }
	p := New(dial, Config{MaxSize: 2, LeaseTimeout: time.Second, SweepInterval: time.Hour})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p.now = clock.Now
	t.Cleanup(func() { _ = p.Close() })

	stale, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle.Release()

	clock.Advance(5 * time.Minute)
	p.sweep()

	// The borrower may still be writing on a reclaimed handle.
	assert.Equal(t, int32(1), stale.Client().aborts.Load())
	assert.Zero(t, stale.Client().closes.Load())

	// Idle handles nobody holds are closed normally.
	assert.Equal(t, int32(1), idle.Client().closes.Load())
	assert.Zero(t, idle.Client().aborts.Load())

	stale.Release()
	assert.Zero(t, stale.Client().closes.Load())
	assert.Equal(t, 0, p.Stats().Leased)
}

func TestPool_EvictsIdleConnections(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p, clock := newTestPool(t, d, Config{MaxSize: 2, IdleTTL: time.Minute})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := lease.Client()
	lease.Release()
	require.Equal(t, 1, p.Stats().Idle)

	clock.Advance(2 * time.Minute)
	p.sweep()

	assert.Equal(t, 0, p.Stats().Idle)
	assert.True(t, conn.closed.Load())
}

func TestPool_ExpiredIdleIsNotReused(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p, clock := newTestPool(t, d, Config{MaxSize: 1, IdleTTL: time.Minute})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	old := lease.Client()
	lease.Release()

	clock.Advance(2 * time.Minute)

	fresh, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer fresh.Release()

	assert.NotSame(t, old, fresh.Client())
	assert.True(t, old.closed.Load())
	assert.Equal(t, int64(2), d.dialed.Load())
}

func TestPool_DiscardClosesConnection(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, &fakeDialer{}, Config{MaxSize: 1})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := lease.Client()
	lease.Discard()

	assert.True(t, conn.closed.Load())
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, 0, p.Stats().Leased)
}

func TestPool_DialErrorFreesSlot(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{err: errors.New("connection refused")}
	p, _ := newTestPool(t, d, Config{MaxSize: 1, AcquireTimeout: 20 * time.Millisecond})

	for range 3 {
		_, err := p.Acquire(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrPoolExhausted)
	}
}

func TestPool_AcquireAfterClose(t *testing.T) {
	t.Parallel()

	p := New((&fakeDialer{}).dial, Config{MaxSize: 1, SweepInterval: time.Hour})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
