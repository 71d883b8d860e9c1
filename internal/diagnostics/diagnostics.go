// Package diagnostics checks the services the passenger app depends on:
// database connectivity, the schema, the auth API and Redis.
package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-passenger/internal/observability"
	"github.com/example/ride-passenger/internal/storage"
)

// Check tests one dependency.
type Check interface {
	Name() string
	Run(ctx context.Context) error
}

// Result is the outcome of one check.
type Result struct {
	Name      string  `json:"name"`
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type Report struct {
	Healthy   bool      `json:"healthy"`
	LatencyMs float64   `json:"latency_ms"`
	Checks    []Result  `json:"checks"`
	Errors    []string  `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Runner runs every check concurrently, each bounded by Timeout.
type Runner struct {
	Checks  []Check
	Timeout time.Duration
	now     func() time.Time
}

func NewRunner(timeout time.Duration, checks ...Check) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Runner{Checks: checks, Timeout: timeout, now: time.Now}
}

func (r *Runner) Run(ctx context.Context) Report {
	start := r.now()
	results := make([]Result, len(r.Checks))
	var wg sync.WaitGroup
	for i, c := range r.Checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.Timeout)
			defer cancel()
			t0 := r.now()
			err := c.Run(cctx)
			res := Result{Name: c.Name(), OK: err == nil, LatencyMs: ms(r.now().Sub(t0))}
			if err != nil {
				res.Error = err.Error()
				observability.DiagnosticFailures.WithLabelValues(c.Name()).Inc()
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	rep := Report{Healthy: true, Checks: results, Errors: []string{}, Timestamp: start.UTC()}
	for _, res := range results {
		if !res.OK {
			rep.Healthy = false
			rep.Errors = append(rep.Errors, res.Name+": "+res.Error)
		}
	}
	rep.LatencyMs = ms(r.now().Sub(start))
	return rep
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// Func adapts a function to a Check.
type Func struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (f Func) Name() string                  { return f.Label }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Database pings the store.
func Database(d storage.Diagnoser) Check {
	return Func{Label: "database", Fn: d.Ping}
}

// Schema fails when any of tables is missing.
func Schema(d storage.Diagnoser, tables []string) Check {
	return Func{Label: "schema", Fn: func(ctx context.Context) error {
		missing, err := d.MissingTables(ctx, tables)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
		}
		return nil
	}}
}

// Redis pings the Redis server.
func Redis(c *redis.Client) Check {
	return Func{Label: "redis", Fn: func(ctx context.Context) error { return c.Ping(ctx).Err() }}
}

// Auth checks the auth API through health.
func Auth(health func(ctx context.Context) error) Check {
	return Func{Label: "auth", Fn: health}
}
