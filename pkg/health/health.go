// Package health implements liveness and readiness probes for the HTTP
// server. Registered checks run on a shared background scheduler; probe
// endpoints report the last observed state and never execute checks inline.
//
// Checks flip state only after consecutive results, mirroring Kubernetes
// probe thresholds, so a single failed ping does not take the service out
// of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	// failAfter consecutive failures mark a check unhealthy.
	failAfter = 3
	// recoverAfter consecutive successes mark it healthy again.
	recoverAfter = 1
)

type check struct {
	name      string
	timeout   time.Duration
	fn        CheckFunc
	readiness bool

	healthy    bool
	lastErr    error
	failStreak int
	okStreak   int
}

// Health tracks probe state for a service.
//
// All mutable state is guarded by mu. Check functions run outside the lock;
// only their results are recorded under it.
type Health struct {
	mu     sync.Mutex
	ready  bool
	checks []*check
	cancel context.CancelFunc
}

// New returns a Health with no checks registered. The service reports
// not-ready until SetReady(true) is called.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check for the /livez probe. Liveness failures
// signal the process itself is broken, for example a goroutine leak.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(name, timeout, fn, false)
}

// AddReadinessCheck registers a check for the /readyz probe. Readiness
// failures signal a dependency is unavailable, for example the database.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(name, timeout, fn, true)
}

func (h *Health) add(name string, timeout time.Duration, fn CheckFunc, readiness bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &check{
		name:      name,
		timeout:   timeout,
		fn:        fn,
		readiness: readiness,
		healthy:   true,
	})
}

// Start launches the scheduler goroutine. All checks run once immediately,
// then again every interval, until Stop is called or ctx is cancelled.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		h.runAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.runAll(ctx)
			}
		}
	}()
}

// runAll executes every registered check once and records the results.
func (h *Health) runAll(ctx context.Context) {
	h.mu.Lock()
	checks := make([]*check, len(h.checks))
	copy(checks, h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(checkCtx)
		cancel()

		h.mu.Lock()
		c.lastErr = err
		if err != nil {
			c.okStreak = 0
			c.failStreak++
			if c.failStreak >= failAfter {
				c.healthy = false
			}
		} else {
			c.failStreak = 0
			c.okStreak++
			if c.okStreak >= recoverAfter {
				c.healthy = true
			}
		}
		h.mu.Unlock()
	}
}

// SetReady flips the manual readiness gate. It is set to true after startup
// completes and back to false when shutdown begins, so load balancers stop
// routing new traffic before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// IsReady reports whether the manual gate is open and every readiness check
// passes.
func (h *Health) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.ready {
		return false
	}
	for _, c := range h.checks {
		if c.readiness && !c.healthy {
			return false
		}
	}
	return true
}

// Stop halts the scheduler. Safe to call multiple times.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// failure is one unhealthy check in a probe response.
type failure struct {
	name   string
	reason string
}

// LiveEndpoint serves the liveness probe. 200 when all liveness checks
// pass, 503 with per-check reasons otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, h.failures(false))
}

// ReadyEndpoint serves the readiness probe. 200 only when the service was
// marked ready and all readiness checks pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	ready := h.ready
	h.mu.Unlock()

	failures := h.failures(true)
	if !ready {
		failures = append(failures, failure{name: "startup", reason: "service is not ready"})
	}
	writeProbe(w, failures)
}

// failures lists unhealthy checks of the given kind, sorted by name so the
// response body is stable.
func (h *Health) failures(readiness bool) []failure {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []failure
	for _, c := range h.checks {
		if c.readiness != readiness || c.healthy {
			continue
		}
		reason := "check is unhealthy"
		if c.lastErr != nil {
			reason = c.lastErr.Error()
		}
		out = append(out, failure{name: c.name, reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func writeProbe(w http.ResponseWriter, failures []failure) {
	w.Header().Set("Content-Type", "application/json")

	var e jx.Encoder
	if len(failures) == 0 {
		w.WriteHeader(http.StatusOK)
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
		})
		_, _ = w.Write(e.Bytes())
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, f := range failures {
					e.Field(f.name, func(e *jx.Encoder) { e.Str(f.reason) })
				}
			})
		})
	})
	_, _ = w.Write(e.Bytes())
}
