// Package kv defines the technology-neutral key-value port: get/set/delete,
// atomic increment, and compare-and-swap. Concrete backends live in adapter
// subpackages (see internal/kv/rediskv).
package kv

import (
	"context"
	"time"
)

// CASOutcome is the closed set of results a CompareAndSwap call can produce.
type CASOutcome int

const (
	CASApplied CASOutcome = iota
	CASConflict
	CASMissing
)

// CASResult is returned by CompareAndSwap. Version is the new version after
// a successful apply, or the current version on conflict (so callers can
// retry with a fresh expectation without a separate Get).
type CASResult struct {
	Outcome CASOutcome
	Version int64
}

// KV is the key-value port every adapter implements. CompareAndSwap is
// atomic end to end: no partial writes are observable, matching spec.md
// §4.2's CAS contract.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent sets key only if it does not already exist and reports
	// whether the set took effect — the primitive behind idempotency
	// dedup records.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	// CompareAndSwap atomically replaces key's value and version with
	// newValue/expectedVersion+1 if and only if the stored version equals
	// expectedVersion. Use 0 as expectedVersion to create a new key.
	CompareAndSwap(ctx context.Context, key string, expectedVersion int64, newValue []byte) (CASResult, error)
	Health(ctx context.Context) (time.Duration, error)
}

// Namespacing conventions shared by every package that uses the KV port.
// Only the dedup keys are used in this repository; the lock and snapshot
// prefixes and helpers have no callers.
const (
	// DedupKeyPrefix keys idempotency records: seen:<eventId>.
	DedupKeyPrefix = "seen:"
	// DedupTTL is the 48h retention window for idempotency records.
	DedupTTL = 48 * time.Hour
	// WorkflowLockPrefix keys singleton-task locks: lock:workflow:<id>.
	WorkflowLockPrefix = "lock:workflow:"
	// WorkflowLockTTL is the fencing-token lock's lifetime.
	WorkflowLockTTL = 30 * time.Second
	// SnapshotKeyPrefix keys workflow state snapshots used for fast recovery.
	SnapshotKeyPrefix = "snapshot:workflow:"
)

// DedupKey renders the canonical idempotency-record key for an eventId.
func DedupKey(eventID string) string {
	return DedupKeyPrefix + eventID
}

// WorkflowLockKey renders the canonical distributed-lock key for a workflow.
func WorkflowLockKey(workflowID string) string {
	return WorkflowLockPrefix + workflowID
}

// SnapshotKey renders the canonical snapshot-cache key for a workflow.
func SnapshotKey(workflowID string) string {
	return SnapshotKeyPrefix + workflowID
}
