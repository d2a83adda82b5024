// Package breaker wraps outbound webhook/HTTP calls in a per-target circuit
// breaker, so a failing downstream trips open rather than queuing
// indefinitely. One breaker per distinct call target (e.g. per platform's
// webhook URL), held in a Manager keyed by name.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lyzr/orchestrator/common/logger"
)

// Manager holds one gobreaker.CircuitBreaker per named target, created
// lazily on first use.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(name string) gobreaker.Settings
	log      *logger.Logger
}

// NewManager constructs a Manager. settings is invoked once per distinct
// name to build that target's gobreaker.Settings (e.g. so a known-flaky
// integration gets a shorter timeout than the rest).
func NewManager(settings func(name string) gobreaker.Settings, log *logger.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		log:      log,
	}
}

// DefaultSettings is the fallback used when the caller has no per-target
// tuning: trip after 3 consecutive failures, half-open after 30s, allow 2
// trial requests while half-open.
func DefaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// Do routes fn through the named breaker, creating it on first use, and
// logs state transitions (open/half-open/closed).
func (m *Manager) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	cb := m.breaker(name)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

func (m *Manager) breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	settings := m.settings(name)
	settings.OnStateChange = func(cbName string, from, to gobreaker.State) {
		m.log.Warn("circuit breaker state change", "target", cbName, "from", from.String(), "to", to.String())
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	m.breakers[name] = cb
	return cb
}
