package llm

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/buscafornecedor/perfilador/pkg/ratelimit"
	"github.com/buscafornecedor/perfilador/pkg/tokens"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

// Request is one structured-output extraction. Resource names the rate
// budget bucket the call draws from, so discovery and profile extraction
// can be throttled independently against the same vendor.
type Request struct {
	Schema   *Schema
	System   string
	User     string
	Resource string
}

// Result carries the decoded target plus routing detail for the caller's
// bookkeeping.
type Result struct {
	Target   any
	Vendor   string
	Attempts int
}

type vendor struct {
	cfg    VendorConfig
	slots  *semaphore.Weighted
	health *healthTracker

	mtx        sync.Mutex
	generators map[string]generator // keyed by schema name
}

// Manager serializes all model traffic for the process: a global
// in-flight hard cap, per-vendor concurrency slots, a shared token-rate
// gate, health-ordered vendor fallback, and the retry taxonomy around
// degenerate or malformed output.
type Manager struct {
	cfg     Config
	vendors []*vendor
	global  *semaphore.Weighted
	gate    *ratelimit.Gate
	check   *validator.Validate

	// newGenerator is swapped out by tests.
	newGenerator func(VendorConfig, *Schema) (generator, error)
}

func NewManager(cfg Config, gate *ratelimit.Gate) (*Manager, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:          cfg,
		global:       semaphore.NewWeighted(cfg.HardCap),
		gate:         gate,
		check:        validator.New(),
		newGenerator: newOpenAIGenerator,
	}
	for _, vc := range cfg.Vendors {
		m.vendors = append(m.vendors, &vendor{
			cfg:        vc,
			slots:      semaphore.NewWeighted(vc.MaxInFlight),
			health:     newHealthTracker(),
			generators: map[string]generator{},
		})
	}
	return m, nil
}

// Call runs the request against the healthiest eligible vendor, falling
// back down the ordering when a vendor's attempts are exhausted. The
// decoded value is a fresh Schema.NewTarget per attempt, so a failed
// decode never leaks into the next try.
func (m *Manager) Call(ctx context.Context, req Request) (*Result, error) {
	if req.Schema == nil || req.Schema.NewTarget == nil {
		return nil, errors.New("request requires a schema with a target factory")
	}

	ordered := m.eligibleVendors()
	if len(ordered) == 0 {
		return nil, ErrNoVendors
	}

	totalAttempts := 0
	var lastErr error
	for i, v := range ordered {
		if i > 0 {
			metricVendorFallbacks.Inc()
		}
		target, attempts, err := m.callVendor(ctx, v, req)
		totalAttempts += attempts
		if err == nil {
			return &Result{Target: target, Vendor: v.cfg.Name, Attempts: totalAttempts}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		level.Warn(log.Logger).Log("msg", "vendor exhausted, falling back", "vendor", v.cfg.Name, "schema", req.Schema.Name, "err", err)
	}
	return nil, errors.Wrapf(ErrExhausted, "all vendors failed, last: %s", lastErr)
}

// eligibleVendors orders vendors by descending health score, skipping
// those under the floor. If every vendor is under the floor the full
// ordering is returned anyway: a struggling vendor beats none.
func (m *Manager) eligibleVendors() []*vendor {
	type scored struct {
		v     *vendor
		score int
	}
	all := make([]scored, 0, len(m.vendors))
	for _, v := range m.vendors {
		s := v.health.score()
		metricVendorHealth.WithLabelValues(v.cfg.Name).Set(float64(s))
		all = append(all, scored{v: v, score: s})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].score > all[j-1].score; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	healthy := make([]*vendor, 0, len(all))
	for _, s := range all {
		if s.score >= healthFloor {
			healthy = append(healthy, s.v)
		}
	}
	if len(healthy) > 0 {
		return healthy
	}
	ordered := make([]*vendor, 0, len(all))
	for _, s := range all {
		ordered = append(ordered, s.v)
	}
	return ordered
}

func (m *Manager) callVendor(ctx context.Context, v *vendor, req Request) (any, int, error) {
	gen, err := m.generatorFor(v, req.Schema)
	if err != nil {
		return nil, 0, err
	}

	system := req.System
	if !v.cfg.SchemaDirective {
		system += renderSchemaDirective(req.Schema)
	}
	inputTokens := tokens.EstimateWithOverhead(system, req.User)
	budget := outputBudget(inputTokens, v.cfg.MaxOutputTokens)

	samplingSet := defaultSampling
	schemaRetried := false
	attempts := 0
	bo := backoff.New(ctx, m.cfg.Backoff)

	for attempts < m.cfg.MaxAttempts {
		attempts++
		raw, err := m.generateOnce(ctx, v, gen, system, req, genOpts{
			maxTokens:    budget,
			sampling:     samplingSet,
			withSampling: v.cfg.SamplingControl,
		}, inputTokens)
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempts, ctx.Err()
			}
			if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport) {
				bo.Wait()
				continue
			}
			return nil, attempts, err
		}

		if degenerate, detector := DetectDegeneration(raw); degenerate {
			metricDegenerations.WithLabelValues(v.cfg.Name, detector).Inc()
			level.Warn(log.Logger).Log("msg", "degenerate model output", "vendor", v.cfg.Name, "detector", detector, "schema", req.Schema.Name)
			// Immediate retry with adjusted sampling, no backoff: the
			// failure is in the decoding loop, not the host.
			samplingSet = adjustedSampling
			continue
		}

		target := req.Schema.NewTarget()
		if err := decodeInto(raw, target); err != nil {
			if !schemaRetried {
				schemaRetried = true
				samplingSet = adjustedSampling
				metricCallsTotal.WithLabelValues(v.cfg.Name, "schema_violation").Inc()
				continue
			}
			return nil, attempts, err
		}
		if err := m.validate(target); err != nil {
			if !schemaRetried {
				schemaRetried = true
				samplingSet = adjustedSampling
				metricCallsTotal.WithLabelValues(v.cfg.Name, "schema_violation").Inc()
				continue
			}
			return nil, attempts, errors.Wrapf(ErrSchemaViolation, "validation: %s", err)
		}
		metricCallsTotal.WithLabelValues(v.cfg.Name, "ok").Inc()
		return target, attempts, nil
	}
	return nil, attempts, errors.Wrapf(ErrExhausted, "vendor %s: %d attempts", v.cfg.Name, attempts)
}

// generateOnce holds all three admission controls for the duration of a
// single model call: the process hard cap, the vendor slot, and the rate
// budget. Rate tokens are charged on the estimated input size.
func (m *Manager) generateOnce(ctx context.Context, v *vendor, gen generator, system string, req Request, opts genOpts, inputTokens int) (string, error) {
	if err := m.global.Acquire(ctx, 1); err != nil {
		return "", classify(err)
	}
	defer m.global.Release(1)
	if err := v.slots.Acquire(ctx, 1); err != nil {
		return "", classify(err)
	}
	defer v.slots.Release(1)

	if m.gate != nil {
		if err := m.gate.Acquire(ctx, v.cfg.Name, req.Resource, inputTokens, 0); err != nil {
			v.health.record(false, true, 0)
			metricCallsTotal.WithLabelValues(v.cfg.Name, "rate_limited").Inc()
			return "", classify(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := gen.generate(callCtx, system, req.User, opts)
	elapsed := time.Since(start)
	metricCallDuration.WithLabelValues(v.cfg.Name).Observe(elapsed.Seconds())

	if err != nil {
		kind := classify(err)
		v.health.record(false, errors.Is(kind, ErrRateLimited), elapsed)
		metricCallsTotal.WithLabelValues(v.cfg.Name, kindLabel(kind)).Inc()
		return "", errors.Wrap(kind, err.Error())
	}
	v.health.record(true, false, elapsed)
	return raw, nil
}

func (m *Manager) generatorFor(v *vendor, s *Schema) (generator, error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	if g, ok := v.generators[s.Name]; ok {
		return g, nil
	}
	g, err := m.newGenerator(v.cfg, s)
	if err != nil {
		return nil, err
	}
	v.generators[s.Name] = g
	return g, nil
}

// validate runs struct-tag validation when the target is a struct;
// free-form targets pass through.
func (m *Manager) validate(target any) error {
	err := m.check.Struct(target)
	if _, invalid := err.(*validator.InvalidValidationError); invalid {
		return nil
	}
	return err
}

func kindLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrRateLimited):
		return "rate_limited"
	case errors.Is(kind, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
