// Package bridge is the cross-process relay: it lets a remote process
// ask this one to spawn a named coprocess, and publishes this process's
// coprocess-termination events for other processes (or an operator) to
// observe, over Redis Streams and Pub/Sub: a stream per concern, consumer
// groups, XAdd/XReadGroup/XAck for spawn requests, and Redis-backed
// liveness registration for presence.
//
// A bridge never calls scheduler.Spawn directly from its own goroutine:
// every scheduler runs on a single OS thread, so inbound spawn requests
// are only decoded and queued here: Drain is
// meant to be called from the scheduler's idle_proc hook, which always
// runs on the owning thread.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/coprocrt/internal/config"
	"github.com/maumercado/coprocrt/internal/metrics"
)

// EventType names a lifecycle event relayed over the bridge.
type EventType string

const (
	EventCoprocessTerminated EventType = "coprocess.terminated"
	EventCoprocessSpawned    EventType = "coprocess.spawned"
)

// Event is one relayed lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// SpawnRequest is a remote process's request to spawn a coprocess of a
// registered type in this process, delivered over the spawn stream.
type SpawnRequest struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	ReplyTo string         `json:"reply_to,omitempty"`
}

// Bridge is the Redis-backed relay: a client connection plus the stream
// names derived from cfg.StreamPrefix.
type Bridge struct {
	client        *redis.Client
	streamPrefix  string
	consumerGroup string
	consumerName  string
}

func (b *Bridge) eventsStream() string { return b.streamPrefix + ":events" }
func (b *Bridge) spawnStream() string  { return b.streamPrefix + ":spawn" }

// New connects to Redis and ensures the consumer groups this process
// needs exist. consumerName should be unique per process (e.g.
// hostname-pid) so XReadGroup's pending-entries list is meaningful.
func New(cfg config.BridgeConfig, consumerName string) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bridge: failed to connect to redis: %w", err)
	}

	b := &Bridge{
		client:        client,
		streamPrefix:  cfg.StreamPrefix,
		consumerGroup: "coprocrt",
		consumerName:  consumerName,
	}

	if err := b.ensureGroup(ctx, b.eventsStream()); err != nil {
		return nil, err
	}
	if err := b.ensureGroup(ctx, b.spawnStream()); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) ensureGroup(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, b.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		metrics.RecordBridgeError("ensure_group")
		return fmt.Errorf("bridge: failed to create consumer group for %s: %w", stream, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (b *Bridge) Close() error { return b.client.Close() }

// PublishEvent appends ev to the shared events stream, observable by any
// process (or the diag trace-stream, if bridged further) subscribed to
// it.
func (b *Bridge) PublishEvent(ctx context.Context, ev Event) error {
	start := time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bridge: failed to marshal event: %w", err)
	}
	_, err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.eventsStream(),
		Values: map[string]any{"event": data},
	}).Result()
	metrics.RecordBridgeOperation("publish_event", time.Since(start).Seconds())
	if err != nil {
		metrics.RecordBridgeError("publish_event")
		return fmt.Errorf("bridge: failed to publish event: %w", err)
	}
	return nil
}
