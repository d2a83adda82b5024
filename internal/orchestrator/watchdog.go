package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/internal/statemachine"
)

// watchdog arms one timer per in-flight task at dispatch time, per spec.md
// §5/§7's per-task timeout requirement. If no result arrives within the
// stage's timeout_ms, the timer fires a synthetic TIMEOUT event into the
// coordinator; a real result disarms the timer first, same pattern as
// codeready-toolchain-tarsy's scheduleEventCleanup (time.AfterFunc against
// a background context, errors logged not propagated).
type watchdog struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func newWatchdog() *watchdog {
	return &watchdog{timers: make(map[uuid.UUID]*time.Timer)}
}

// arm schedules fire to run after d unless disarm(taskID) is called first.
func (w *watchdog) arm(taskID uuid.UUID, d time.Duration, fire func()) {
	t := time.AfterFunc(d, fire)
	w.mu.Lock()
	w.timers[taskID] = t
	w.mu.Unlock()
}

// disarm cancels taskID's pending timeout, if any. Safe to call even if the
// timer already fired or was never armed.
func (w *watchdog) disarm(taskID uuid.UUID) {
	w.mu.Lock()
	t, ok := w.timers[taskID]
	delete(w.timers, taskID)
	w.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// onTimeout builds the callback armed at task dispatch. It runs on its own
// goroutine (time.AfterFunc) well after dispatchTask's caller has returned,
// so it carries its own background context and re-resolves the workflow
// and definition rather than closing over request-scoped state.
func (s *Service) onTimeout(workflowID uuid.UUID, taskID uuid.UUID, stage string) func() {
	return func() {
		s.watchdog.disarm(taskID)
		ctx := context.Background()

		wf, err := s.workflows.GetByID(ctx, workflowID)
		if err != nil {
			s.log.Warn("timeout watchdog: failed to load workflow", "workflow_id", workflowID, "task_id", taskID, "error", err)
			return
		}
		if statemachine.IsTerminal(statemachine.Status(wf.Status)) || wf.CurrentStage != stage {
			// Workflow already moved on (completed, cancelled, retried
			// elsewhere) since this task was dispatched; nothing to do.
			return
		}

		def, err := s.definitionForWorkflow(ctx, wf)
		if err != nil {
			s.log.Warn("timeout watchdog: failed to resolve definition", "workflow_id", workflowID, "error", err)
			return
		}

		ctx = s.tracedContext(ctx, wf)
		event := statemachine.Event{Type: statemachine.EventTimeout, Stage: stage, TaskID: taskID.String()}
		eventID := statemachine.EventID(taskID.String(), "watchdog", "timeout")
		state, effects, err := s.coordinator.HandleEvent(ctx, def, wf.ID, event, eventID)
		if err != nil {
			s.log.Warn("timeout watchdog: transition failed", "workflow_id", workflowID, "task_id", taskID, "error", err)
			return
		}
		if err := s.tasks.UpdateResult(ctx, taskID, "timeout", nil); err != nil {
			s.log.Warn("timeout watchdog: failed to mark task audit row timed out", "task_id", taskID, "error", err)
		}
		if err := s.dispatchEffects(ctx, def, wf, state, effects); err != nil {
			s.log.Error("timeout watchdog: failed to dispatch effects", "workflow_id", workflowID, "error", err)
		}
	}
}
