package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/coprocrt/internal/logger"
	"github.com/maumercado/coprocrt/internal/metrics"
	"github.com/maumercado/coprocrt/internal/task"
)

// SpawnHandler builds the function body of a coprocess spawned from a
// remote SpawnRequest, keyed by SpawnRequest.Type.
type SpawnHandler func(payload map[string]any) func(self *task.Task) (any, error)

// HandlerRegistry maps a remote spawn request's type name to the
// SpawnHandler that builds its body.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]SpawnHandler
}

// NewHandlerRegistry returns an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]SpawnHandler)}
}

// Register adds a named handler.
func (hr *HandlerRegistry) Register(name string, h SpawnHandler) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.handlers[name] = h
}

func (hr *HandlerRegistry) lookup(name string) (SpawnHandler, bool) {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	h, ok := hr.handlers[name]
	return h, ok
}

// Inbox is a thread-safe queue of decoded SpawnRequests, fed by a
// background Redis consumer goroutine and drained on the scheduler's own
// OS thread (normally from its idle_proc hook), preserving the
// one-thread-per-scheduler rule: nothing here ever calls into the
// scheduler directly.
type Inbox struct {
	mu    sync.Mutex
	queue []pendingSpawn
}

type pendingSpawn struct {
	req     SpawnRequest
	msgID   string
	stream  string
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox { return &Inbox{} }

func (ib *Inbox) push(p pendingSpawn) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.queue = append(ib.queue, p)
}

// Drain removes and returns every request queued so far. Intended to be
// polled from idle_proc; returns nil when nothing is pending.
func (ib *Inbox) Drain() []SpawnRequest {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.queue) == 0 {
		return nil
	}
	out := make([]SpawnRequest, len(ib.queue))
	for i, p := range ib.queue {
		out[i] = p.req
	}
	ib.queue = nil
	return out
}

// Consumer pulls SpawnRequests off the bridge's spawn stream into an
// Inbox, acknowledging each message once it has been queued locally
// (processing is therefore at-most-once: a crash between ack and the
// scheduler actually spawning the coprocess loses the request).
type Consumer struct {
	b       *Bridge
	inbox   *Inbox
	reg     *HandlerRegistry
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer builds a Consumer reading from b's spawn stream into inbox,
// validating each request's type against reg before queuing it.
func NewConsumer(b *Bridge, inbox *Inbox, reg *HandlerRegistry) *Consumer {
	return &Consumer{b: b, inbox: inbox, reg: reg, stopCh: make(chan struct{})}
}

// Start begins the blocking XReadGroup loop in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop signals the consumer loop to exit and waits for it.
func (c *Consumer) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		result, err := c.b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.b.consumerGroup,
			Consumer: c.b.consumerName,
			Streams:  []string{c.b.spawnStream(), ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()
		metrics.RecordBridgeOperation("read_spawn", time.Since(start).Seconds())

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.RecordBridgeError("read_spawn")
			logger.Error().Err(err).Msg("bridge: spawn stream read failed")
			time.Sleep(time.Second)
			continue
		}
		if len(result) == 0 {
			continue
		}

		for _, msg := range result[0].Messages {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["request"].(string)
	if !ok {
		logger.Warn().Str("msg_id", msg.ID).Msg("bridge: malformed spawn message, acking and dropping")
		c.ack(ctx, msg.ID)
		return
	}

	var req SpawnRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("bridge: failed to decode spawn request")
		c.ack(ctx, msg.ID)
		return
	}

	if _, ok := c.reg.lookup(req.Type); !ok {
		logger.Warn().Str("type", req.Type).Msg("bridge: no handler registered for spawn type")
		c.ack(ctx, msg.ID)
		return
	}

	c.inbox.push(pendingSpawn{req: req, msgID: msg.ID, stream: c.b.spawnStream()})
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, msgID string) {
	if err := c.b.client.XAck(ctx, c.b.spawnStream(), c.b.consumerGroup, msgID).Err(); err != nil {
		metrics.RecordBridgeError("ack_spawn")
		logger.Error().Err(err).Str("msg_id", msgID).Msg("bridge: failed to ack spawn message")
	}
}

// RequestSpawn publishes a SpawnRequest onto the spawn stream, for a
// remote process (or a local admin tool) to ask this bridge's consumer
// group to spawn a coprocess. Typically called by a separate client
// process, not by the bridge owning the scheduler.
func RequestSpawn(ctx context.Context, client *redis.Client, streamPrefix string, req SpawnRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("bridge: failed to marshal spawn request: %w", err)
	}
	_, err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + ":spawn",
		Values: map[string]any{"request": data},
	}).Result()
	return err
}

// Handler looks up the handler for a drained SpawnRequest's type,
// returning the function the scheduler should spawn. Called from the
// idle_proc hook after Drain, on the scheduler's own thread.
func (c *Consumer) Handler(req SpawnRequest) (func(self *task.Task) (any, error), bool) {
	h, ok := c.reg.lookup(req.Type)
	if !ok {
		return nil, false
	}
	return h(req.Payload), true
}
