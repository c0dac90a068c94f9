package ratelimit

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// JitterDelay sleeps a random duration in [min, max] on every Wait,
// regardless of how long ago the previous call was.
type JitterDelay struct {
	minDelay time.Duration
	maxDelay time.Duration
	mu       sync.Mutex
	rnd      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewJitterDelay(minDelay, maxDelay time.Duration) *JitterDelay {
	return &JitterDelay{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    Sleep,
	}
}

func (j *JitterDelay) Wait(ctx context.Context) error {
	return j.sleep(ctx, j.Next())
}

func (j *JitterDelay) SetDelay(min, max time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.minDelay = min
	j.maxDelay = max
}

// Next draws the next delay.
func (j *JitterDelay) Next() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.maxDelay <= j.minDelay {
		return j.minDelay
	}

	delta := j.maxDelay - j.minDelay
	return j.minDelay + time.Duration(j.rnd.Int63n(int64(delta)+1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DomainLimiter keeps one token bucket per domain. Domains that trigger
// anti-bot pages are slowed down and recover after consecutive successes.
type DomainLimiter struct {
	mu            sync.Mutex
	base          rate.Limit
	burst         int
	floor         rate.Limit
	backoffFactor float64
	recoverAfter  int
	domains       map[string]*domainState
}

type domainState struct {
	limiter   *rate.Limiter
	successes int
}

// NewDomainLimiter allows rps requests per second per domain. rps <= 0
// disables limiting.
func NewDomainLimiter(rps float64, burst int) *DomainLimiter {
	if burst < 1 {
		burst = 1
	}
	base := rate.Limit(rps)
	if rps <= 0 {
		base = rate.Inf
	}

	return &DomainLimiter{
		base:          base,
		burst:         burst,
		floor:         base / 8,
		backoffFactor: 0.5,
		recoverAfter:  5,
		domains:       make(map[string]*domainState),
	}
}

func (d *DomainLimiter) Wait(ctx context.Context, domain string) error {
	return d.state(domain).limiter.Wait(ctx)
}

// Limit returns the current rate of domain.
func (d *DomainLimiter) Limit(domain string) rate.Limit {
	return d.state(domain).limiter.Limit()
}

// RecordError halves the domain's rate, never below an eighth of the base.
func (d *DomainLimiter) RecordError(domain string) {
	s := d.state(domain)

	d.mu.Lock()
	defer d.mu.Unlock()

	s.successes = 0
	if d.base == rate.Inf {
		return
	}

	next := rate.Limit(float64(s.limiter.Limit()) * d.backoffFactor)
	if next < d.floor {
		next = d.floor
	}
	s.limiter.SetLimit(next)
}

// RecordSuccess restores the base rate after enough consecutive successes.
func (d *DomainLimiter) RecordSuccess(domain string) {
	s := d.state(domain)

	d.mu.Lock()
	defer d.mu.Unlock()

	s.successes++
	if s.successes >= d.recoverAfter {
		s.limiter.SetLimit(d.base)
		s.successes = 0
	}
}

func (d *DomainLimiter) state(domain string) *domainState {
	key := strings.TrimPrefix(strings.ToLower(domain), "www.")

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.domains[key]
	if !ok {
		s = &domainState{limiter: rate.NewLimiter(d.base, d.burst)}
		d.domains[key] = s
	}
	return s
}
