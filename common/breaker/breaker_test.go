package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"

	"github.com/lyzr/orchestrator/common/logger"
)

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(DefaultSettings, logger.New("error", "json"))
	failing := errors.New("downstream unavailable")

	for i := 0; i < 3; i++ {
		err := m.Do(context.Background(), "webhook:example", func(context.Context) error {
			return failing
		})
		if !errors.Is(err, failing) {
			t.Fatalf("attempt %d: got %v, want the underlying failure", i, err)
		}
	}

	err := m.Do(context.Background(), "webhook:example", func(context.Context) error {
		return nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("got %v, want ErrOpenState after 3 consecutive failures", err)
	}
}

func TestManager_ReusesBreakerPerName(t *testing.T) {
	m := NewManager(DefaultSettings, logger.New("error", "json"))
	_ = m.Do(context.Background(), "target-a", func(context.Context) error { return nil })
	first := m.breaker("target-a")
	second := m.breaker("target-a")
	if first != second {
		t.Fatal("expected the same breaker instance to be reused for the same name")
	}
}
