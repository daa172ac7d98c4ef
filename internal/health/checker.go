// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ReadinessChecker is implemented by dependencies that can report whether
// they are ready to serve upgrades.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// CheckFunc adapts a function to ReadinessChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type check struct {
	name     string
	checker  ReadinessChecker
	optional bool
}

// Checker runs named readiness checks. A failing required check makes the
// service unhealthy; a failing optional one only degrades it.
type Checker struct {
	timeout  time.Duration
	cacheFor time.Duration

	mu           sync.RWMutex
	checks       []check
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker with no checks registered.
func NewChecker() *Checker {
	return &Checker{
		timeout:  5 * time.Second,
		cacheFor: time.Second,
	}
}

// Add registers a required check.
func (c *Checker) Add(name string, checker ReadinessChecker) {
	c.add(check{name: name, checker: checker})
}

// AddOptional registers a check whose failure degrades readiness without failing it.
func (c *Checker) AddOptional(name string, checker ReadinessChecker) {
	c.add(check{name: name, checker: checker, optional: true})
}

func (c *Checker) add(ch check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, ch)
	sort.SliceStable(c.checks, func(i, j int) bool { return c.checks[i].name < c.checks[j].name })
	c.cachedReady = nil
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness runs every registered check. Results are cached briefly so
// probes don't hammer git, docker or the lease backend.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheFor {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	checks := append([]check(nil), c.checks...)
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	overall := StatusHealthy
	if len(checks) == 0 {
		overall = StatusUnhealthy
		results["checks"] = CheckResult{Status: StatusUnhealthy, Message: "no readiness checks configured"}
	}

	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for _, ch := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.run(ctx, ch)
			rmu.Lock()
			results[ch.name] = res
			rmu.Unlock()
		}()
	}
	wg.Wait()

	for _, ch := range checks {
		if results[ch.name].Status == StatusHealthy {
			continue
		}
		if !ch.optional {
			overall = StatusUnhealthy
		} else if overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	response := &Response{
		Status: overall,
		Checks: results,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, ch check) CheckResult {
	if ch.checker == nil {
		return CheckResult{Status: StatusUnhealthy, Message: ch.name + " not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := ch.checker.Ready(ctx); err != nil {
		status := StatusUnhealthy
		if ch.optional {
			status = StatusDegraded
		}
		return CheckResult{Status: status, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy reports whether the service can take traffic. Degraded counts as ready.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
