package streamredis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/orchestrator/common/logger"
	"github.com/lyzr/orchestrator/internal/bus"
)

func testRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 14})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err(), "Redis must be running on localhost:6379")
	require.NoError(t, rdb.FlushDB(ctx).Err())
	return rdb
}

func newAdapter(t *testing.T) (*Adapter, *redis.Client) {
	rdb := testRedis(t)
	log := logger.New("error", "json")
	a, err := New(context.Background(), rdb, log, Config{})
	require.NoError(t, err)
	return a, rdb
}

func TestPublishSubscribe_AtLeastOnceDelivery(t *testing.T) {
	a, _ := newAdapter(t)
	topic := "orchestrator:tasks:scaffold-" + uuid.NewString()[:8]

	var mu sync.Mutex
	var delivered []string
	done := make(chan struct{}, 1)

	sub, err := a.Subscribe(context.Background(), topic, "orchestrator-group", "c1", func(ctx context.Context, env bus.Envelope) bus.Ack {
		mu.Lock()
		delivered = append(delivered, string(env.Body))
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return bus.AckOK
	})
	require.NoError(t, err)
	defer sub.Unsubscribe(context.Background())

	require.NoError(t, a.Publish(context.Background(), topic, bus.Envelope{Body: []byte("hello")}, bus.PublishOptions{}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	require.Equal(t, "hello", delivered[0])
}

func TestHealth_ReturnsLatency(t *testing.T) {
	a, _ := newAdapter(t)
	lat, err := a.Health(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, lat, time.Duration(0))
}

func TestPublish_BufferFullSurfacesError(t *testing.T) {
	rdb := testRedis(t)
	// Built directly (not via New) so no publisher goroutine drains the
	// buffer; a zero-capacity channel makes every enqueue attempt non-blocking-fail.
	a := &Adapter{
		rdb:  rdb,
		log:  logger.New("error", "json"),
		cfg:  Config{}.withDefaults(),
		jobs: make(chan publishJob), // unbuffered, nothing reading
		done: make(chan struct{}),
	}

	err := a.Publish(context.Background(), "orchestrator:tasks:x", bus.Envelope{Body: []byte("x")}, bus.PublishOptions{})
	require.Error(t, err)
}
