package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/logger"
)

type fakeLoader struct {
	records []AgentRecord
}

func (f fakeLoader) LoadAgents(ctx context.Context) ([]AgentRecord, error) {
	return f.records, nil
}

func newTestRegistry(t *testing.T, records []AgentRecord) *Registry {
	t.Helper()
	r := New(fakeLoader{records: records}, logger.New("error", "json"))
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return r
}

func TestValidateAgent_GlobalMatch(t *testing.T) {
	r := newTestRegistry(t, []AgentRecord{{AgentType: "scaffold"}})
	exists, suggestion := r.ValidateAgent("scaffold", nil)
	if !exists || suggestion != "" {
		t.Fatalf("got (%v, %q), want (true, \"\")", exists, suggestion)
	}
}

func TestValidateAgent_PlatformScopedPrecedence(t *testing.T) {
	platformID := uuid.New()
	r := newTestRegistry(t, []AgentRecord{
		{AgentType: "ml-training", PlatformID: &platformID},
	})

	exists, _ := r.ValidateAgent("ml-training", &platformID)
	if !exists {
		t.Fatal("expected platform-scoped agent to resolve")
	}

	// Same agent_type is NOT registered for a different platform and there
	// is no global fallback record, so it must miss.
	other := uuid.New()
	exists, _ = r.ValidateAgent("ml-training", &other)
	if exists {
		t.Fatal("expected miss for a platform with no matching registration")
	}
}

func TestValidateAgent_GlobalFallback(t *testing.T) {
	platformID := uuid.New()
	r := newTestRegistry(t, []AgentRecord{{AgentType: "validation"}})

	exists, _ := r.ValidateAgent("validation", &platformID)
	if !exists {
		t.Fatal("expected global agent to resolve for any platform")
	}
}

// Scenario F — agent unknown with suggestion.
func TestValidateAgent_TypoSuggestion(t *testing.T) {
	r := newTestRegistry(t, []AgentRecord{{AgentType: "ml-training"}})

	exists, suggestion := r.ValidateAgent("ml-trainng", nil)
	if exists {
		t.Fatal("expected typo'd agent_type to miss")
	}
	if suggestion != "ml-training" {
		t.Fatalf("got suggestion %q, want ml-training", suggestion)
	}
	if got := SuggestionMessage(suggestion); got != `Did you mean "ml-training"?` {
		t.Fatalf("got message %q", got)
	}
}

func TestValidateAgent_NoSuggestionWhenNoCloseMatch(t *testing.T) {
	r := newTestRegistry(t, []AgentRecord{{AgentType: "deployment"}})

	exists, suggestion := r.ValidateAgent("totally-unrelated", nil)
	if exists {
		t.Fatal("expected miss")
	}
	if suggestion != "" {
		t.Fatalf("expected no suggestion, got %q", suggestion)
	}
}

func TestExists_SatisfiesAgentResolver(t *testing.T) {
	r := newTestRegistry(t, []AgentRecord{{AgentType: "scaffold"}})
	if !r.Exists("scaffold", nil) {
		t.Fatal("expected Exists to return true")
	}
	if r.Exists("missing", nil) {
		t.Fatal("expected Exists to return false")
	}
}

func TestHeartbeat_OnlineThenStale(t *testing.T) {
	r := newTestRegistry(t, []AgentRecord{{AgentType: "scaffold"}})
	r.RecordHeartbeat("scaffold", nil, 1) // 1s interval -> 3s staleness threshold

	if !r.IsOnline("scaffold", nil) {
		t.Fatal("expected agent to be online immediately after heartbeat")
	}

	r.heartbeatsMu.Lock()
	state := r.heartbeats[scopeKey(nil, "scaffold")]
	state.lastSeen = time.Now().Add(-10 * time.Second)
	r.heartbeats[scopeKey(nil, "scaffold")] = state
	r.heartbeatsMu.Unlock()

	if r.IsOnline("scaffold", nil) {
		t.Fatal("expected agent to be reported offline once past 3x its heartbeat interval")
	}
}

func TestHeartbeat_NeverSeenIsOffline(t *testing.T) {
	r := newTestRegistry(t, []AgentRecord{{AgentType: "scaffold"}})
	if r.IsOnline("scaffold", nil) {
		t.Fatal("expected an agent with no recorded heartbeat to be offline")
	}
}

func TestReload_RebuildsSnapshotWithoutLosingHeartbeats(t *testing.T) {
	r := newTestRegistry(t, []AgentRecord{{AgentType: "scaffold"}})
	r.RecordHeartbeat("scaffold", nil, 30)

	r.loader = fakeLoader{records: []AgentRecord{{AgentType: "scaffold"}, {AgentType: "validation"}}}
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if !r.Exists("validation", nil) {
		t.Fatal("expected newly loaded agent_type to resolve after reload")
	}
	if !r.IsOnline("scaffold", nil) {
		t.Fatal("reload must not clear heartbeat state, which is tracked independently of the snapshot")
	}
}
