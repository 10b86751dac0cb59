package llm

import (
	"sync"
	"time"
)

// Health scoring per vendor. The score in [0,100] blends recent success
// rate (0.4), inverse recent latency (0.3), rate-limit hit fraction (0.2)
// and recency of success (0.1) over a short rolling window. Vendors below
// the floor are temporarily skipped during vendor selection.
const (
	healthWindow = 50
	healthFloor  = 20

	latencyIdealMs = 2000
	latencyMaxMs   = 30000
)

type callRecord struct {
	ok          bool
	rateLimited bool
	latencyMs   float64
	at          time.Time
}

type healthTracker struct {
	mtx  sync.Mutex
	now  func() time.Time
	ring [healthWindow]callRecord
	n    int // total records ever written
}

func newHealthTracker() *healthTracker {
	return &healthTracker{now: time.Now}
}

func (h *healthTracker) record(ok, rateLimited bool, latency time.Duration) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.ring[h.n%healthWindow] = callRecord{
		ok:          ok,
		rateLimited: rateLimited,
		latencyMs:   float64(latency.Milliseconds()),
		at:          h.now(),
	}
	h.n++
}

// score computes the blended health score. A vendor with no history
// scores 100 so fresh vendors are eligible immediately.
func (h *healthTracker) score() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	size := h.n
	if size > healthWindow {
		size = healthWindow
	}
	if size == 0 {
		return 100
	}

	var successes, rateLimits int
	var latencySum float64
	var lastFailure time.Time
	for i := 0; i < size; i++ {
		r := h.ring[i]
		if r.ok {
			successes++
		} else if r.at.After(lastFailure) {
			lastFailure = r.at
		}
		if r.rateLimited {
			rateLimits++
		}
		latencySum += r.latencyMs
	}

	successScore := 100 * float64(successes) / float64(size)

	avgLatency := latencySum / float64(size)
	var latencyScore float64
	switch {
	case avgLatency <= latencyIdealMs:
		latencyScore = 100
	case avgLatency >= latencyMaxMs:
		latencyScore = 0
	default:
		latencyScore = 100 * (1 - (avgLatency-latencyIdealMs)/(latencyMaxMs-latencyIdealMs))
	}

	rateLimitRatio := float64(rateLimits) / float64(size)
	rateLimitScore := 100 * (1 - minf(rateLimitRatio*5, 1))

	recencyScore := 100.0
	if !lastFailure.IsZero() {
		switch since := h.now().Sub(lastFailure); {
		case since < 10*time.Second:
			recencyScore = 30
		case since < time.Minute:
			recencyScore = 60
		case since < 5*time.Minute:
			recencyScore = 80
		}
	}

	s := successScore*0.4 + latencyScore*0.3 + rateLimitScore*0.2 + recencyScore*0.1
	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}
	return int(s)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
