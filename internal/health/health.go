// Package health runs component checks for the /health endpoint and the
// doctor command.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"

	Healthy   = "healthy"
	Unhealthy = "unhealthy"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 5 * time.Second

// DefaultSlowThreshold marks a passing check degraded when it is slower.
const DefaultSlowThreshold = 100 * time.Millisecond

// ComponentStatus represents health of a single component
type ComponentStatus struct {
	Status  string `json:"status"`
	Latency int64  `json:"latency_ms"`
	Error   string `json:"error,omitempty"`
}

// Report represents overall service health
type Report struct {
	Status     string                     `json:"status"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// CheckFunc probes one component. Returning an error wrapped by Degraded
// reports the component as usable but impaired.
type CheckFunc func(ctx context.Context) error

type degradedError struct{ err error }

func (e *degradedError) Error() string { return e.err.Error() }
func (e *degradedError) Unwrap() error { return e.err }

// Degraded marks err as a non-fatal condition.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return &degradedError{err: err}
}

// Checker holds named checks and runs them concurrently.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	started time.Time
	timeout time.Duration
	slow    time.Duration
	now     func() time.Time
}

// New creates a checker with no checks. It reports healthy until one is
// registered and fails.
func New() *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		started: time.Now(),
		timeout: DefaultCheckTimeout,
		slow:    DefaultSlowThreshold,
		now:     time.Now,
	}
}

// Register adds or replaces a check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Check runs every check and folds the results into one report.
func (c *Checker) Check(ctx context.Context) *Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	report := &Report{
		Status:     Healthy,
		Uptime:     formatUptime(c.now().Sub(c.started)),
		Components: make(map[string]ComponentStatus, len(checks)),
		Timestamp:  c.now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			result := c.run(ctx, fn)
			mu.Lock()
			defer mu.Unlock()
			report.Components[name] = result
			switch {
			case result.Status == StatusError:
				report.Status = Unhealthy
			case result.Status == StatusDegraded && report.Status == Healthy:
				report.Status = StatusDegraded
			}
		}(name, fn)
	}
	wg.Wait()
	return report
}

func (c *Checker) run(ctx context.Context, fn CheckFunc) (status ComponentStatus) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			status = ComponentStatus{Status: StatusError, Error: fmt.Sprintf("panic: %v", r)}
		}
		status.Latency = time.Since(start).Milliseconds()
	}()

	err := fn(ctx)
	var degraded *degradedError
	switch {
	case errors.As(err, &degraded):
		return ComponentStatus{Status: StatusDegraded, Error: err.Error()}
	case err != nil:
		return ComponentStatus{Status: StatusError, Error: err.Error()}
	case time.Since(start) > c.slow:
		return ComponentStatus{Status: StatusDegraded}
	}
	return ComponentStatus{Status: StatusOK}
}

// Handler serves the report as JSON: 200 unless a component failed.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		code := http.StatusOK
		if report.Status == Unhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	}
}

// Summary returns a human-readable report.
func (r *Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Status:  %s\n", strings.ToUpper(r.Status))
	fmt.Fprintf(&sb, "Uptime:  %s\n", r.Uptime)

	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cs := r.Components[name]
		fmt.Fprintf(&sb, "  %-14s %-9s %dms", name, cs.Status, cs.Latency)
		if cs.Error != "" {
			sb.WriteString("  " + cs.Error)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
