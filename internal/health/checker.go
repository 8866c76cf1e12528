// Package health runs periodic health checks with optional recovery actions.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/infra/metrics"
	"github.com/synapseshield/shield/internal/infra/twin"
)

// DefaultInterval is how often Run repeats the checks.
const DefaultInterval = 60 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewChecker creates a checker over the given checks.
func NewChecker(log *zap.SugaredLogger, checks ...Check) *Checker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Checker{interval: DefaultInterval, checks: checks, log: log}
}

// SetInterval changes the period used by Run.
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check now and returns the results.
func (c *Checker) RunOnce(ctx context.Context) []Status {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			c.log.Warnw("health check failed", "check", check.Name, "error", err)
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Errorw("health recovery failed", "check", check.Name, "error", rerr)
				}
			}
		} else {
			s.Healthy = true
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(boolGauge(s.Healthy))
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()

	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func boolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// ─── Check Implementations ──────────────────────────────────────────────────

// Pinger is anything that can report liveness.
type Pinger interface {
	Ping() error
}

// DatabaseCheck pings the state database.
func DatabaseCheck(db Pinger) Check {
	return Check{
		Name:    "sqlite",
		CheckFn: func(ctx context.Context) error { return db.Ping() },
	}
}

// StorageCheck verifies the artifact store answers lookups. recover, when
// not nil, runs after a failure.
func StorageCheck(store domain.ArtifactStore, key string, recover func(ctx context.Context) error) Check {
	return Check{
		Name: "artifact_store",
		CheckFn: func(ctx context.Context) error {
			_, err := store.Exists(ctx, key)
			return err
		},
		RecoverFn: recover,
	}
}

// ModelCheck fails while no trained model is stored.
func ModelCheck(store domain.ArtifactStore, key string) Check {
	return Check{
		Name: "model",
		CheckFn: func(ctx context.Context) error {
			ok, err := store.Exists(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrModelNotFound
			}
			return nil
		},
	}
}

// TwinCheck fails while the twin write breaker is open. It has no recovery:
// the breaker retries the service on its own.
func TwinCheck(b *twin.Breaker) Check {
	return Check{
		Name: "twin",
		CheckFn: func(ctx context.Context) error {
			snap := b.Snapshot()
			if snap.State == twin.BreakerOpen {
				return fmt.Errorf("twin writes paused after %d trips: %w", snap.TotalTrips, domain.ErrTwinUnavailable)
			}
			return nil
		},
	}
}

// DirCheck verifies dir is usable. A missing dir is fine; it is created on
// first write.
func DirCheck(name, dir string) Check {
	return Check{
		Name:    name,
		CheckFn: func(ctx context.Context) error { return checkDir(dir) },
		RecoverFn: func(ctx context.Context) error {
			return os.MkdirAll(dir, 0o755)
		},
	}
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("check dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
