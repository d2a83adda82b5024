// Package rediskv adapts internal/kv.KV onto Redis: plain GET/SET/SETNX/INCR
// for general key-value use, and a single EVAL'd Lua script for
// compare-and-swap so the read-compare-write is atomic server-side, per
// spec.md §4.2's "no partial writes are observable" requirement. Method
// shapes and structured logging follow the teacher's common/redis client
// idiom; the teacher has no CAS primitive, so the script is new code
// written in that same idiom.
package rediskv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/kv"
)

// casScript atomically compares the version key to the caller's expectation
// and, if it matches, writes the new value and bumps the version. Returns
// {code, version} where code is 1=applied, 0=conflict, 2=missing.
var casScript = redis.NewScript(`
local valueKey = KEYS[1]
local versionKey = KEYS[2]
local expected = tonumber(ARGV[1])
local newValue = ARGV[2]

local exists = redis.call('EXISTS', versionKey)
if exists == 0 and expected ~= 0 then
	return {2, 0}
end

local current = 0
if exists == 1 then
	current = tonumber(redis.call('GET', versionKey))
end

if current ~= expected then
	return {0, current}
end

local newVersion = current + 1
redis.call('SET', valueKey, newValue)
redis.call('SET', versionKey, newVersion)
return {1, newVersion}
`)

// Adapter implements kv.KV over a single Redis instance.
type Adapter struct {
	rdb *redis.Client
	log *logger.Logger
}

// New wraps an already-configured Redis client.
func New(rdb *redis.Client, log *logger.Logger) *Adapter {
	return &Adapter{rdb: rdb, log: log}
}

func versionKey(key string) string { return key + ":version" }

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		a.log.Error("kv GET failed", "key", key, "error", err)
		return nil, false, apperr.Transient("KV_GET_FAILED", "kv get "+key, err)
	}
	return val, true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		a.log.Error("kv SET failed", "key", key, "error", err)
		return apperr.Transient("KV_SET_FAILED", "kv set "+key, err)
	}
	return nil
}

func (a *Adapter) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := a.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		a.log.Error("kv SETNX failed", "key", key, "error", err)
		return false, apperr.Transient("KV_SETNX_FAILED", "kv setnx "+key, err)
	}
	return ok, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.rdb.Del(ctx, key).Err(); err != nil {
		a.log.Error("kv DEL failed", "key", key, "error", err)
		return apperr.Transient("KV_DEL_FAILED", "kv delete "+key, err)
	}
	return nil
}

func (a *Adapter) Incr(ctx context.Context, key string) (int64, error) {
	val, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		a.log.Error("kv INCR failed", "key", key, "error", err)
		return 0, apperr.Transient("KV_INCR_FAILED", "kv incr "+key, err)
	}
	return val, nil
}

func (a *Adapter) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, newValue []byte) (kv.CASResult, error) {
	raw, err := casScript.Run(ctx, a.rdb, []string{key, versionKey(key)}, expectedVersion, string(newValue)).Result()
	if err != nil {
		a.log.Error("kv CAS script failed", "key", key, "error", err)
		return kv.CASResult{}, apperr.Transient("KV_CAS_FAILED", "kv cas "+key, err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return kv.CASResult{}, apperr.Fatal("KV_CAS_CORRUPT", "kv cas: unexpected script result shape", nil)
	}
	code, _ := vals[0].(int64)
	version, _ := vals[1].(int64)

	switch code {
	case 1:
		a.log.Debug("kv CAS applied", "key", key, "version", version)
		return kv.CASResult{Outcome: kv.CASApplied, Version: version}, nil
	case 2:
		return kv.CASResult{Outcome: kv.CASMissing}, nil
	default:
		return kv.CASResult{Outcome: kv.CASConflict, Version: version}, nil
	}
}

func (a *Adapter) Health(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return 0, apperr.Transient("KV_UNHEALTHY", "redis kv adapter ping failed", err)
	}
	return time.Since(start), nil
}
