// Package breaker implements per-origin failure accounting for the
// scraper. Each origin (scheme+host) owns a closed/open/half-open state
// machine; a run of failures suspends traffic for a cool-down that doubles
// on each failed probe. Protection pages are deliberately not failures:
// recording them here would poison the score of origins that are merely
// well defended.
package breaker

import (
	"errors"
	"flag"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while an origin's circuit is open.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	Threshold   int           `yaml:"threshold"`
	CoolDown    time.Duration `yaml:"cool_down"`
	CoolDownCap time.Duration `yaml:"cool_down_cap"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Threshold, prefix+".threshold", 5, "Consecutive failures before the circuit opens.")
	f.DurationVar(&cfg.CoolDown, prefix+".cool-down", time.Minute, "Initial cool-down once open.")
	f.DurationVar(&cfg.CoolDownCap, prefix+".cool-down-cap", 10*time.Minute, "Upper bound on the doubled cool-down.")
}

type origin struct {
	mtx sync.Mutex

	state         State
	failures      int
	coolDown      time.Duration
	openedAt      time.Time
	probeInFlight bool
}

// Registry tracks one state machine per origin. The map lock guards only
// map access; state transitions are mutually exclusive per origin.
type Registry struct {
	cfg Config
	now func() time.Time

	mtx     sync.RWMutex
	origins map[string]*origin
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		now:     time.Now,
		origins: make(map[string]*origin),
	}
}

func (r *Registry) get(name string) *origin {
	r.mtx.RLock()
	o, ok := r.origins[name]
	r.mtx.RUnlock()
	if ok {
		return o
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if o, ok = r.origins[name]; ok {
		return o
	}
	o = &origin{coolDown: r.cfg.CoolDown}
	r.origins[name] = o
	return o
}

// Allow reports whether a fetch to the origin may proceed. When the
// cool-down of an open circuit has elapsed the circuit moves to half-open
// and exactly one caller is admitted as the probe.
func (r *Registry) Allow(name string) error {
	o := r.get(name)
	o.mtx.Lock()
	defer o.mtx.Unlock()

	switch o.state {
	case StateClosed:
		return nil
	case StateOpen:
		if r.now().Sub(o.openedAt) < o.coolDown {
			return ErrOpen
		}
		o.state = StateHalfOpen
		o.probeInFlight = true
		return nil
	case StateHalfOpen:
		if o.probeInFlight {
			return ErrOpen
		}
		o.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the origin to closed.
func (r *Registry) RecordSuccess(name string) {
	o := r.get(name)
	o.mtx.Lock()
	defer o.mtx.Unlock()

	o.state = StateClosed
	o.failures = 0
	o.coolDown = r.cfg.CoolDown
	o.probeInFlight = false
}

// RecordFailure counts a genuine failure: transport errors, timeouts, and
// fetches yielding insufficient content. A half-open probe failure reopens
// the circuit with a doubled cool-down, up to the cap.
func (r *Registry) RecordFailure(name string) {
	o := r.get(name)
	o.mtx.Lock()
	defer o.mtx.Unlock()

	switch o.state {
	case StateHalfOpen:
		o.coolDown = min(o.coolDown*2, r.cfg.CoolDownCap)
		o.state = StateOpen
		o.openedAt = r.now()
		o.probeInFlight = false
	default:
		o.failures++
		if o.failures >= r.cfg.Threshold {
			o.state = StateOpen
			o.openedAt = r.now()
		}
	}
}

// State returns the current state of an origin.
func (r *Registry) State(name string) State {
	o := r.get(name)
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if o.state == StateOpen && r.now().Sub(o.openedAt) >= o.coolDown {
		return StateHalfOpen
	}
	return o.state
}

// Failures returns the consecutive failure count of an origin.
func (r *Registry) Failures(name string) int {
	o := r.get(name)
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return o.failures
}
