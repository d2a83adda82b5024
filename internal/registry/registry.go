// Package registry resolves (platform_id, agent_type) pairs against the set
// of agents known to the orchestration core, and tracks agent liveness via
// heartbeats. The lookup table is an atomically swapped in-memory snapshot:
// readers never take a lock, and updates are wholesale rebuilds rather than
// in-place mutation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/apperr"
)

// DefaultHeartbeatIntervalSec is assumed for agents that never declared one.
const DefaultHeartbeatIntervalSec = 30

// StalenessFactor is multiplied against an agent's declared heartbeat
// interval to derive the offline threshold (3x, default 90s).
const StalenessFactor = 3

// AgentRecord describes one registered agent type, globally or scoped to a
// platform. PlatformID nil means the agent is available to every platform.
type AgentRecord struct {
	AgentType            string
	PlatformID           *uuid.UUID
	HeartbeatIntervalSec int
}

// Loader fetches the current set of registered agents, typically backed by
// internal/repository.
type Loader interface {
	LoadAgents(ctx context.Context) ([]AgentRecord, error)
}

type snapshot struct {
	// byKey indexes records by their precedence-scoped key (see scopeKey).
	byKey map[string]AgentRecord
	// typesByPlatform lists every agent_type visible to a given platform
	// (platform-scoped ∪ global), for Levenshtein suggestion.
	typesByPlatform map[string][]string
	globalTypes     []string
}

func scopeKey(platformID *uuid.UUID, agentType string) string {
	if platformID == nil {
		return "global:" + agentType
	}
	return platformID.String() + ":" + agentType
}

// Registry resolves agent_type lookups and tracks heartbeat liveness.
type Registry struct {
	loader Loader
	log    *logger.Logger

	snap atomic.Pointer[snapshot]

	refreshInterval time.Duration
	sweepInterval   time.Duration

	heartbeatsMu sync.RWMutex
	heartbeats   map[string]heartbeatState

	stop chan struct{}
	done chan struct{}
}

type heartbeatState struct {
	lastSeen     time.Time
	intervalSec  int
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithRefreshInterval overrides how often the registry reloads from Loader.
// Default 30s.
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Registry) { r.refreshInterval = d }
}

// WithSweepInterval overrides how often heartbeat staleness is evaluated.
// Default 15s.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

// New constructs a Registry. Call Start to perform the initial load and
// begin the background refresh/sweep loops.
func New(loader Loader, log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		loader:          loader,
		log:             log,
		refreshInterval: 30 * time.Second,
		sweepInterval:   15 * time.Second,
		heartbeats:      make(map[string]heartbeatState),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := &snapshot{byKey: map[string]AgentRecord{}, typesByPlatform: map[string][]string{}}
	r.snap.Store(empty)
	return r
}

// Start performs the initial snapshot load, then begins background refresh
// and heartbeat-staleness sweeps until ctx is done or Close is called.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Reload(ctx); err != nil {
		return err
	}
	go r.loop(ctx)
	return nil
}

func (r *Registry) loop(ctx context.Context) {
	defer close(r.done)
	refresh := time.NewTicker(r.refreshInterval)
	sweep := time.NewTicker(r.sweepInterval)
	defer refresh.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-refresh.C:
			if err := r.Reload(ctx); err != nil {
				r.log.Error("registry refresh failed", "error", err)
			}
		case <-sweep.C:
			r.sweepStaleHeartbeats()
		}
	}
}

// Close stops the background loops. Safe to call once.
func (r *Registry) Close() error {
	close(r.stop)
	<-r.done
	return nil
}

// Reload rebuilds the snapshot from Loader and atomically swaps it in.
func (r *Registry) Reload(ctx context.Context) error {
	records, err := r.loader.LoadAgents(ctx)
	if err != nil {
		return apperr.Transient("REGISTRY_RELOAD_FAILED", "failed to load agent registry", err)
	}

	next := &snapshot{
		byKey:           make(map[string]AgentRecord, len(records)),
		typesByPlatform: make(map[string][]string),
	}
	platformTypeSet := make(map[string]map[string]bool)
	globalTypeSet := make(map[string]bool)

	for _, rec := range records {
		next.byKey[scopeKey(rec.PlatformID, rec.AgentType)] = rec
		if rec.PlatformID == nil {
			globalTypeSet[rec.AgentType] = true
			continue
		}
		pid := rec.PlatformID.String()
		if platformTypeSet[pid] == nil {
			platformTypeSet[pid] = make(map[string]bool)
		}
		platformTypeSet[pid][rec.AgentType] = true
	}

	next.globalTypes = sortedKeys(globalTypeSet)
	for pid, set := range platformTypeSet {
		merged := make(map[string]bool, len(set)+len(globalTypeSet))
		for t := range set {
			merged[t] = true
		}
		for t := range globalTypeSet {
			merged[t] = true
		}
		next.typesByPlatform[pid] = sortedKeys(merged)
	}

	r.snap.Store(next)
	return nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Exists satisfies internal/definition.AgentResolver: platform-scoped agent
// first, then global.
func (r *Registry) Exists(agentType string, platformID *uuid.UUID) bool {
	exists, _ := r.ValidateAgent(agentType, platformID)
	return exists
}

// ValidateAgent implements the registry's lookup contract: precedence
// platform-scoped then global; on miss, a Levenshtein-1 suggestion drawn
// from types visible to platformID.
func (r *Registry) ValidateAgent(agentType string, platformID *uuid.UUID) (exists bool, suggestion string) {
	snap := r.snap.Load()

	if platformID != nil {
		if _, ok := snap.byKey[scopeKey(platformID, agentType)]; ok {
			return true, ""
		}
	}
	if _, ok := snap.byKey[scopeKey(nil, agentType)]; ok {
		return true, ""
	}

	candidates := snap.globalTypes
	if platformID != nil {
		if types, ok := snap.typesByPlatform[platformID.String()]; ok {
			candidates = types
		}
	}
	return false, closestSuggestion(agentType, candidates)
}

// closestSuggestion returns the single registered type exactly one edit
// away from agentType, or "" if none qualifies.
func closestSuggestion(agentType string, candidates []string) string {
	best := ""
	bestDist := -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(agentType, c)
		if d == 1 && (bestDist == -1 || d < bestDist) {
			best = c
			bestDist = d
		}
	}
	return best
}

// SuggestionMessage formats the human-readable suggestion text Scenario F
// expects to find inside error.message.
func SuggestionMessage(suggestion string) string {
	if suggestion == "" {
		return ""
	}
	return fmt.Sprintf("Did you mean %q?", suggestion)
}

// RecordHeartbeat updates the liveness clock for an agent. No consumer in
// this repository calls it; only the registry tests do.
func (r *Registry) RecordHeartbeat(agentType string, platformID *uuid.UUID, intervalSec int) {
	if intervalSec <= 0 {
		intervalSec = DefaultHeartbeatIntervalSec
	}
	key := scopeKey(platformID, agentType)
	r.heartbeatsMu.Lock()
	r.heartbeats[key] = heartbeatState{lastSeen: time.Now(), intervalSec: intervalSec}
	r.heartbeatsMu.Unlock()
}

// IsOnline reports whether agentType has heartbeated within 3x its declared
// interval. An agent that has never heartbeated is reported offline.
func (r *Registry) IsOnline(agentType string, platformID *uuid.UUID) bool {
	key := scopeKey(platformID, agentType)
	r.heartbeatsMu.RLock()
	state, ok := r.heartbeats[key]
	r.heartbeatsMu.RUnlock()
	if !ok {
		return false
	}
	threshold := time.Duration(state.intervalSec*StalenessFactor) * time.Second
	return time.Since(state.lastSeen) <= threshold
}

func (r *Registry) sweepStaleHeartbeats() {
	now := time.Now()
	r.heartbeatsMu.RLock()
	defer r.heartbeatsMu.RUnlock()
	for key, state := range r.heartbeats {
		threshold := time.Duration(state.intervalSec*StalenessFactor) * time.Second
		if now.Sub(state.lastSeen) > threshold {
			r.log.Warn("agent heartbeat stale", "agent", key, "last_seen", state.lastSeen, "threshold", threshold)
		}
	}
}
