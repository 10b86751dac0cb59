// Package ratelimit implements the rate-budget gate that paces requests
// into external vendors. One token bucket exists per (vendor, resource)
// pair; callers block on Acquire until the budget releases them or their
// timeout elapses. Downstream vendors enforce their own request-rate caps,
// and local pacing keeps their 429 responses out of our error budget.
package ratelimit

import (
	"context"
	"errors"
	"flag"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrBudgetTimeout is returned when a waiter's timeout elapses before the
// bucket can serve its cost. The tokens it was waiting on are returned to
// the bucket.
var ErrBudgetTimeout = errors.New("rate budget: acquire timed out")

type Config struct {
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Float64Var(&cfg.RatePerSecond, prefix+".rate-per-second", 25, "Token refill rate per bucket.")
	f.IntVar(&cfg.Burst, prefix+".burst", 50, "Burst capacity per bucket.")
	f.DurationVar(&cfg.AcquireTimeout, prefix+".acquire-timeout", 30*time.Second, "Default maximum wait for tokens.")
}

type bucketKey struct {
	vendor   string
	resource string
}

// Gate is a collection of token buckets keyed by (vendor, resource).
// Buckets are created on first use with the gate's default limits;
// SetLimit overrides a single bucket. Waiters on one bucket are served in
// arrival order and a timed-out waiter does not disturb the others.
type Gate struct {
	cfg Config

	mtx     sync.Mutex
	buckets map[bucketKey]*rate.Limiter
}

func NewGate(cfg Config) *Gate {
	return &Gate{
		cfg:     cfg,
		buckets: make(map[bucketKey]*rate.Limiter),
	}
}

// SetLimit configures the bucket for (vendor, resource) explicitly.
func (g *Gate) SetLimit(vendor, resource string, perSecond float64, burst int) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.buckets[bucketKey{vendor, resource}] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (g *Gate) bucket(vendor, resource string) *rate.Limiter {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	k := bucketKey{vendor, resource}
	if b, ok := g.buckets[k]; ok {
		return b
	}
	b := rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), g.cfg.Burst)
	g.buckets[k] = b
	return b
}

// Acquire blocks until cost tokens are available for (vendor, resource) or
// the timeout elapses. A zero timeout uses the gate default. The parent
// context cancels the wait as well. A cost above the bucket's burst is
// clamped to it: oversized requests drain the bucket rather than fail,
// since WaitN rejects n > burst outright.
func (g *Gate) Acquire(ctx context.Context, vendor, resource string, cost int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = g.cfg.AcquireTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := g.bucket(vendor, resource)
	if burst := b.Burst(); cost > burst {
		cost = burst
	}
	err := b.WaitN(ctx, cost)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrBudgetTimeout
	}
	return err
}

// Tokens reports the current token balance of a bucket. Diagnostic only.
func (g *Gate) Tokens(vendor, resource string) float64 {
	return g.bucket(vendor, resource).Tokens()
}
