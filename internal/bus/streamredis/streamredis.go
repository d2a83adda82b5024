// Package streamredis adapts internal/bus.Bus onto Redis Streams: XADD for
// durable append, consumer groups via XREADGROUP/XACK, and pending-entry
// reclaiming via XPENDING/XCLAIM for redelivery and dead-lettering. It
// follows the teacher's common/redis client idiom — one method per Redis
// operation, structured logging around every call, typed errors — but is
// built directly on *redis.Client (rather than wrapping common/redis.Client)
// because the bus adapter needs XPENDING/XCLAIM/XGROUP primitives the
// teacher's wrapper does not expose.
package streamredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/apperr"
	"github.com/lyzr/orchestrator/internal/bus"
)

const (
	defaultMaxDeliveries  = 5
	defaultVisibility     = 30 * time.Second
	defaultPublishBufSize = 10000
	reclaimInterval       = 5 * time.Second
)

// Config configures the Redis Streams adapter.
type Config struct {
	// MaxDeliveries is the redelivery count after which a message is routed
	// to the DLQ. Default 5, matching spec.md §4.1.
	MaxDeliveries int
	// VisibilityTimeout is how long a claimed-but-unacked message stays
	// invisible to other consumers before it becomes reclaimable.
	VisibilityTimeout time.Duration
	// PublishBufferSize bounds the number of in-flight publishes buffered
	// during a reconnect. Default 10,000 per spec.md §4.1.
	PublishBufferSize int
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxDeliveries <= 0 {
		out.MaxDeliveries = defaultMaxDeliveries
	}
	if out.VisibilityTimeout <= 0 {
		out.VisibilityTimeout = defaultVisibility
	}
	if out.PublishBufferSize <= 0 {
		out.PublishBufferSize = defaultPublishBufSize
	}
	return out
}

type publishJob struct {
	ctx     context.Context
	topic   string
	env     bus.Envelope
	opts    bus.PublishOptions
	resultC chan error
}

// Adapter implements bus.Bus over Redis Streams.
type Adapter struct {
	rdb    *redis.Client
	log    *logger.Logger
	cfg    Config
	jobs   chan publishJob
	done   chan struct{}
	closed bool
}

// New dials rdb (already configured by the caller) and starts the
// background publisher goroutine. Reconnect on a lost connection is handled
// by go-redis itself; New's own health probe uses bounded exponential
// backoff via cenkalti/backoff so boot doesn't fail on a cold-starting
// Redis container.
func New(ctx context.Context, rdb *redis.Client, log *logger.Logger, cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()
	a := &Adapter{
		rdb:  rdb,
		log:  log,
		cfg:  cfg,
		jobs: make(chan publishJob, cfg.PublishBufferSize),
		done: make(chan struct{}),
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	}, bo); err != nil {
		return nil, apperr.Transient("BUS_UNREACHABLE", "redis stream adapter: initial connect failed", err)
	}

	go a.runPublisher()
	return a, nil
}

func (a *Adapter) runPublisher() {
	for {
		select {
		case <-a.done:
			return
		case job := <-a.jobs:
			err := a.doPublish(job.ctx, job.topic, job.env, job.opts)
			job.resultC <- err
		}
	}
}

func (a *Adapter) doPublish(ctx context.Context, topic string, env bus.Envelope, opts bus.PublishOptions) error {
	values := map[string]interface{}{"body": env.Body}
	headers, err := json.Marshal(env.Headers)
	if err == nil {
		values["headers"] = headers
	}

	id, err := a.rdb.XAdd(ctx, &redis.XAddArgs{Stream: topic, Values: values}).Result()
	if err != nil {
		a.log.Error("bus XADD failed", "topic", topic, "error", err)
		return apperr.Transient("BUS_PUBLISH_FAILED", fmt.Sprintf("publish to %s", topic), err)
	}
	a.log.Debug("bus XADD", "topic", topic, "id", id)

	if opts.MirrorToStream {
		if err := a.rdb.Publish(ctx, topic, env.Body).Err(); err != nil {
			// Mirrored messages are advisory; loss is tolerated — log, don't fail publish.
			a.log.Warn("bus pub/sub mirror failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Publish enqueues env onto the background publisher. A full buffer
// surfaces as a publish error rather than blocking the caller, per
// spec.md §4.1.
func (a *Adapter) Publish(ctx context.Context, topic string, env bus.Envelope, opts bus.PublishOptions) error {
	resultC := make(chan error, 1)
	select {
	case a.jobs <- publishJob{ctx: ctx, topic: topic, env: env, opts: opts, resultC: resultC}:
	default:
		return apperr.Transient("BUS_BUFFER_FULL", fmt.Sprintf("publish buffer full for topic %s", topic), nil)
	}
	select {
	case err := <-resultC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureGroup creates the consumer group at the stream tail ("$") so
// historical backlog is never replayed on first boot, per spec.md §4.1 —
// this deliberately differs from the teacher's CreateStreamGroup, which
// starts groups at "0" (replay-from-beginning) for its own use case.
func (a *Adapter) ensureGroup(ctx context.Context, topic, group string) error {
	err := a.rdb.XGroupCreateMkStream(ctx, topic, group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return apperr.Transient("BUS_GROUP_CREATE_FAILED", fmt.Sprintf("create group %s on %s", group, topic), err)
	}
	return nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Subscribe joins group as consumer and delivers messages to h until
// Unsubscribe is called or ctx is cancelled; the context passed to
// Unsubscribe only bounds how long Unsubscribe waits. Each Subscribe call owns a dedicated consumer slot; never
// share one across topics.
func (a *Adapter) Subscribe(ctx context.Context, topic, group, consumer string, h bus.Handler) (bus.Subscription, error) {
	if err := a.ensureGroup(ctx, topic, group); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	go a.consumeLoop(subCtx, topic, group, consumer, h)
	go a.reclaimLoop(subCtx, topic, group, consumer)

	go func() {
		<-subCtx.Done()
		close(sub.done)
	}()

	return sub, nil
}

func (a *Adapter) consumeLoop(ctx context.Context, topic, group, consumer string, h bus.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := a.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			a.log.Error("bus XREADGROUP failed", "topic", topic, "group", group, "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				a.deliver(ctx, topic, group, msg, h)
			}
		}
	}
}

func (a *Adapter) deliver(ctx context.Context, topic, group string, msg redis.XMessage, h bus.Handler) {
	env := bus.Envelope{ID: msg.ID}
	if body, ok := msg.Values["body"]; ok {
		env.Body = []byte(fmt.Sprintf("%v", body))
	}
	if rawHeaders, ok := msg.Values["headers"]; ok {
		var headers map[string]string
		if err := json.Unmarshal([]byte(fmt.Sprintf("%v", rawHeaders)), &headers); err == nil {
			env.Headers = headers
		}
	}

	ack := h(ctx, env)
	switch ack {
	case bus.AckOK, bus.AckDrop:
		if err := a.rdb.XAck(ctx, topic, group, msg.ID).Err(); err != nil {
			a.log.Error("bus XACK failed", "topic", topic, "group", group, "id", msg.ID, "error", err)
		}
	case bus.AckRequeue:
		// Left pending; the reclaim loop redelivers or DLQs it once the
		// visibility timeout and delivery-count budget are exceeded.
	}
}

// reclaimLoop periodically scans the group's pending entries; messages past
// MaxDeliveries are routed to the DLQ and acked off the original stream,
// everything else is reclaimed for redelivery to this consumer.
func (a *Adapter) reclaimLoop(ctx context.Context, topic, group, consumer string) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reclaimOnce(ctx, topic, group, consumer)
		}
	}
}

func (a *Adapter) reclaimOnce(ctx context.Context, topic, group, consumer string) {
	pending, err := a.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: topic,
		Group:  group,
		Idle:   a.cfg.VisibilityTimeout,
		Start:  "-",
		End:    "+",
		Count:  50,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			a.log.Warn("bus XPENDING failed", "topic", topic, "group", group, "error", err)
		}
		return
	}

	for _, p := range pending {
		if int(p.RetryCount) > a.cfg.MaxDeliveries {
			a.deadLetter(ctx, topic, group, p.ID, int(p.RetryCount))
			continue
		}
		claimed, err := a.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   topic,
			Group:    group,
			Consumer: consumer,
			MinIdle:  a.cfg.VisibilityTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			a.log.Warn("bus XCLAIM failed", "topic", topic, "id", p.ID, "error", err)
			continue
		}
		a.log.Debug("bus reclaimed pending message", "topic", topic, "count", len(claimed))
	}
}

func (a *Adapter) deadLetter(ctx context.Context, topic, group, id string, deliveries int) {
	msgs, err := a.rdb.XRange(ctx, topic, id, id).Result()
	if err != nil || len(msgs) == 0 {
		a.log.Error("bus dead-letter: failed to fetch original message", "topic", topic, "id", id, "error", err)
		return
	}

	dlqTopic := bus.DLQTopic(topic)
	values := map[string]interface{}{
		"original_body":    msgs[0].Values["body"],
		"original_headers": msgs[0].Values["headers"],
		"original_id":      id,
		"deliveries":       deliveries,
		"dead_lettered_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := a.rdb.XAdd(ctx, &redis.XAddArgs{Stream: dlqTopic, Values: values}).Result(); err != nil {
		a.log.Error("bus dead-letter publish failed", "dlq_topic", dlqTopic, "error", err)
		return
	}

	if err := a.rdb.XAck(ctx, topic, group, id).Err(); err != nil {
		a.log.Error("bus dead-letter ack failed", "topic", topic, "id", id, "error", err)
		return
	}
	a.log.Info("bus message dead-lettered", "topic", topic, "dlq_topic", dlqTopic, "id", id, "deliveries", deliveries)
}

// Health probes the adapter's connectivity and returns the round-trip
// latency of a PING.
func (a *Adapter) Health(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return 0, apperr.Transient("BUS_UNHEALTHY", "redis stream adapter ping failed", err)
	}
	return time.Since(start), nil
}

// Close stops the background publisher goroutine. It does not close the
// underlying *redis.Client — the caller owns that connection's lifetime.
func (a *Adapter) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.done)
	return nil
}
