package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Pool runs a fixed number of worker goroutines that claim units from a
// Queue and hand them to a Handler.
type Pool struct {
	queue   Queue
	handler Handler
	locker  Locker
	limiter *rate.Limiter
	logger  *slog.Logger

	concurrency  int
	pollInterval time.Duration
	leaseTTL     time.Duration
	owner        string
	shouldStop   func() bool
	now          func() time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle worker sleeps before claiming again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithLeaseTTL sets how long a claim is held before the unit is considered
// abandoned. It must exceed the longest execution.
func WithLeaseTTL(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.leaseTTL = d
		}
	}
}

// WithLocker replaces the default in-process LocalLocker.
func WithLocker(l Locker) PoolOption {
	return func(p *Pool) { p.locker = l }
}

// WithRateLimit bounds how many executions may start per second across the
// whole pool. Workers wait for a token before claiming, so an idle pool
// also polls no faster than the limit. A zero limit disables it.
func WithRateLimit(perSecond float64, burst int) PoolOption {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithStopCheck installs a predicate polled between units. When it returns
// true workers exit after finishing their current unit.
func WithStopCheck(f func() bool) PoolOption {
	return func(p *Pool) { p.shouldStop = f }
}

func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithOwner sets the worker identity prefix recorded on leases.
func WithOwner(owner string) PoolOption {
	return func(p *Pool) { p.owner = owner }
}

func NewPool(q Queue, h Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:        q,
		handler:      h,
		locker:       NewLocalLocker(),
		logger:       slog.Default(),
		concurrency:  1,
		pollInterval: 300 * time.Millisecond,
		leaseTTL:     10 * time.Minute,
		owner:        "wkr-" + uuid.NewString()[:8],
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or the stop check fires, then waits for
// in-flight units to finish. Executions are not cancelled by ctx.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		slog.String("owner", p.owner),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("lease_ttl", p.leaseTTL),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			p.work(ctx, owner)
		}(fmt.Sprintf("%s-%d", p.owner, i))
	}
	wg.Wait()

	p.logger.Info("worker pool stopped", slog.String("owner", p.owner))
	return nil
}

func (p *Pool) work(ctx context.Context, owner string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.shouldStop != nil && p.shouldStop() {
			p.logger.Info("worker stop requested", slog.String("owner", owner))
			return
		}

		// Throttle before claiming so the wait never eats into a lease.
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		lease, err := p.queue.Claim(ctx, owner, p.now(), p.leaseTTL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("claim failed", slog.String("owner", owner), slog.String("error", err.Error()))
			p.sleep(ctx, time.Second)
			continue
		}
		if lease == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.process(ctx, lease)
	}
}

func (p *Pool) process(ctx context.Context, lease *Lease) {
	// Outcomes are recorded even when the pool is shutting down.
	bg := context.WithoutCancel(ctx)

	unlock, ok, err := p.locker.TryLock(bg, lease.JobID, p.leaseTTL)
	if err != nil || !ok {
		if err != nil {
			p.logger.Error("job lock failed", slog.String("job_id", lease.JobID), slog.String("error", err.Error()))
		} else {
			p.logger.Warn("job already executing elsewhere, deferring", slog.String("job_id", lease.JobID))
		}
		p.release(bg, lease, p.now().Add(p.pollInterval))
		return
	}
	defer unlock()

	disp := p.handler.Handle(bg, lease)

	switch disp.Kind {
	case DispositionAck:
		if err := p.queue.Ack(bg, lease); err != nil {
			p.logger.Error("ack failed", slog.String("job_id", lease.JobID), slog.String("error", err.Error()))
		}
	case DispositionRetry:
		p.release(bg, lease, disp.NotBefore)
	case DispositionAbandon:
		p.logger.Warn("unit abandoned, waiting for lease expiry",
			slog.String("job_id", lease.JobID),
			slog.Time("lease_until", lease.Until),
		)
	}
}

func (p *Pool) release(ctx context.Context, lease *Lease, at time.Time) {
	if err := p.queue.Retry(ctx, lease, at); err != nil {
		p.logger.Error("reschedule failed", slog.String("job_id", lease.JobID), slog.String("error", err.Error()))
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
