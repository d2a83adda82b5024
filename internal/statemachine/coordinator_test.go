package statemachine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/logger"
)

type fakeStore struct {
	mu             sync.Mutex
	state          PersistedState
	conflictsLeft  int
}

func (f *fakeStore) Load(ctx context.Context, workflowID uuid.UUID) (PersistedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next PersistedState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		f.state.Version++ // simulate a concurrent writer bumping the version
		return false, nil
	}
	if f.state.Version != expectedVersion {
		return false, nil
	}
	next.Version = expectedVersion + 1
	f.state = next
	return true, nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper { return &fakeDeduper{seen: map[string]bool{}} }

func (f *fakeDeduper) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func TestCoordinator_HandleEvent_AppliesAndPersists(t *testing.T) {
	def := testDef()
	wfID := uuid.New()
	store := &fakeStore{state: PersistedState{WorkflowID: wfID, Status: StatusInitiated, Version: 1}}
	coord := NewCoordinator(store, newFakeDeduper(), logger.New("error", "json"))

	next, effects, err := coord.HandleEvent(context.Background(), def, wfID, Event{Type: EventStart}, "")
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if next.Status != StatusRunning || next.CurrentStage != "scaffold" {
		t.Fatalf("got %+v", next)
	}
	if effects[0].Kind != ActionDispatchTask {
		t.Fatalf("got %+v", effects)
	}
	if store.state.Version != 2 {
		t.Fatalf("expected version to bump to 2, got %d", store.state.Version)
	}
}

func TestCoordinator_HandleEvent_RetriesOnCASConflict(t *testing.T) {
	def := testDef()
	wfID := uuid.New()
	store := &fakeStore{state: PersistedState{WorkflowID: wfID, Status: StatusInitiated, Version: 1}, conflictsLeft: 2}
	coord := NewCoordinator(store, newFakeDeduper(), logger.New("error", "json"))

	next, _, err := coord.HandleEvent(context.Background(), def, wfID, Event{Type: EventStart}, "")
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if next.Status != StatusRunning {
		t.Fatalf("expected eventual success after CAS conflicts, got %+v", next)
	}
}

func TestCoordinator_HandleEvent_DropsDuplicateEvent(t *testing.T) {
	def := testDef()
	wfID := uuid.New()
	store := &fakeStore{state: PersistedState{WorkflowID: wfID, Status: StatusRunning, CurrentStage: "scaffold", CompletedStages: map[string]bool{}, Version: 1}}
	dedup := newFakeDeduper()
	coord := NewCoordinator(store, dedup, logger.New("error", "json"))

	eventID := EventID("task1", "agent1", "completed")
	event := Event{Type: EventStageComplete, Stage: "scaffold"}

	_, effects, err := coord.HandleEvent(context.Background(), def, wfID, event, eventID)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if effects[0].Kind != ActionDispatchTask {
		t.Fatalf("first delivery should apply, got %+v", effects)
	}

	_, effects, err = coord.HandleEvent(context.Background(), def, wfID, event, eventID)
	if err != nil {
		t.Fatalf("HandleEvent (redelivery): %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != ActionIgnored {
		t.Fatalf("redelivered event should be dropped as duplicate, got %+v", effects)
	}
}
