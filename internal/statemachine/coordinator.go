package statemachine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/definition"
	"github.com/lyzr/orchestrator/internal/kv"
)

// MaxCASAttempts bounds the reload-recompute-CAS retry loop before the
// coordinator gives up and surfaces a transient error (forcing message
// redelivery).
const MaxCASAttempts = 5

// CASBackoffBase is the starting delay between CAS attempts; each retry
// backs off exponentially with jitter from this base.
const CASBackoffBase = 50 * time.Millisecond

// StateStore persists PersistedState under optimistic concurrency control.
// Implemented by internal/repository.
type StateStore interface {
	Load(ctx context.Context, workflowID uuid.UUID) (PersistedState, error)
	CompareAndSwap(ctx context.Context, expectedVersion int64, next PersistedState) (applied bool, err error)
}

// Deduper provides the idempotency primitive the coordinator uses to drop
// redelivered STAGE_COMPLETE/STAGE_FAILED events. Implemented by
// internal/kv.
type Deduper interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Coordinator drives Apply against durable state: load, compute, CAS,
// retrying on version conflicts, deduplicating by event id, and enforcing
// the defensive stage gate already built into Apply.
type Coordinator struct {
	store StateStore
	dedup Deduper
	log   *logger.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(store StateStore, dedup Deduper, log *logger.Logger) *Coordinator {
	return &Coordinator{store: store, dedup: dedup, log: log}
}

// HandleEvent applies event to workflowID's persisted state under CAS,
// retrying up to MaxCASAttempts times on version conflicts. dedupEventID,
// when non-empty, gates the event on a cluster-wide idempotency record
// (seen:<eventId>, TTL 48h) before the first attempt — a duplicate
// redelivery is dropped without recomputing anything.
func (c *Coordinator) HandleEvent(ctx context.Context, def *definition.Definition, workflowID uuid.UUID, event Event, dedupEventID string) (PersistedState, []Effect, error) {
	if dedupEventID != "" {
		fresh, err := c.dedup.SetIfAbsent(ctx, kv.DedupKey(dedupEventID), []byte("1"), kv.DedupTTL)
		if err != nil {
			return PersistedState{}, nil, apperr.Transient("DEDUP_CHECK_FAILED", "failed to check event dedup record", err)
		}
		if !fresh {
			c.log.Info("event dropped as duplicate", "event_id", dedupEventID, "workflow_id", workflowID)
			return PersistedState{}, []Effect{{Kind: ActionIgnored, Reason: "duplicate event " + dedupEventID}}, nil
		}
	}

	var result PersistedState
	var effects []Effect

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = CASBackoffBase
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2
	bounded := backoff.WithMaxRetries(bo, MaxCASAttempts-1)

	opErr := backoff.Retry(func() error {
		state, err := c.store.Load(ctx, workflowID)
		if err != nil {
			return backoff.Permanent(apperr.Transient("STATE_LOAD_FAILED", "failed to load workflow state", err))
		}

		next, effs, err := Apply(def, state, event)
		if err != nil {
			return backoff.Permanent(err)
		}

		applied, err := c.store.CompareAndSwap(ctx, state.Version, next)
		if err != nil {
			return backoff.Permanent(apperr.Transient("STATE_CAS_FAILED", "failed to persist workflow state transition", err))
		}
		if !applied {
			// Lost the race against a concurrent writer; reload and retry
			// the whole compute.
			return apperr.Transient("STATE_CAS_CONFLICT", "workflow state version changed concurrently", nil)
		}

		result = next
		effects = effs
		return nil
	}, bounded)

	if opErr != nil {
		if appErr, ok := apperr.As(opErr); ok {
			return PersistedState{}, nil, appErr
		}
		return PersistedState{}, nil, apperr.Transient("STATE_TRANSITION_FAILED", "exhausted CAS retry budget", opErr)
	}
	return result, effects, nil
}
