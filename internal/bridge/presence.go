package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/maumercado/coprocrt/internal/logger"
	"github.com/maumercado/coprocrt/internal/metrics"
)

const (
	presenceSetKey    = "coprocrt:processes:active"
	presenceKeySuffix = ":presence"
	defaultInterval   = 5 * time.Second
	defaultTTL        = 15 * time.Second
)

// ProcessInfo describes one live coprocrt process, published to Redis so
// other processes (or an operator) can see who is participating in the
// bridge.
type ProcessInfo struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	LastSeen    time.Time `json:"last_seen"`
	Coprocesses int       `json:"coprocesses"`
}

// Presence periodically announces this process's liveness as a heartbeat.
type Presence struct {
	b        *Bridge
	id       string
	interval time.Duration
	ttl      time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu    sync.RWMutex
	count int
}

// NewPresence builds a Presence for process id (e.g. "host-pid").
func NewPresence(b *Bridge, id string) *Presence {
	return &Presence{b: b, id: id, interval: defaultInterval, ttl: defaultTTL, stopCh: make(chan struct{})}
}

// SetCoprocessCount updates the coprocess count reported on the next
// heartbeat (cmd/api-server feeds it the diag registry's entry count).
func (p *Presence) SetCoprocessCount(n int) {
	p.mu.Lock()
	p.count = n
	p.mu.Unlock()
}

// Start begins the heartbeat loop in a background goroutine.
func (p *Presence) Start(ctx context.Context) {
	p.register(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the heartbeat loop and deregisters the process.
func (p *Presence) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.deregister(ctx)
}

func (p *Presence) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.announce(ctx)
		}
	}
}

func (p *Presence) register(ctx context.Context) {
	if err := p.b.client.SAdd(ctx, presenceSetKey, p.id).Err(); err != nil {
		metrics.RecordBridgeError("presence_register")
		logger.Error().Err(err).Str("process_id", p.id).Msg("bridge: failed to register process presence")
		return
	}
	p.announce(ctx)
	logger.Info().Str("process_id", p.id).Msg("bridge: process presence registered")
}

func (p *Presence) announce(ctx context.Context) {
	p.mu.RLock()
	info := ProcessInfo{ID: p.id, LastSeen: time.Now().UTC(), Coprocesses: p.count}
	p.mu.RUnlock()

	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	key := p.id + presenceKeySuffix
	if err := p.b.client.Set(ctx, key, data, p.ttl).Err(); err != nil {
		metrics.RecordBridgeError("presence_announce")
		logger.Error().Err(err).Str("process_id", p.id).Msg("bridge: failed to announce presence")
	}
}

func (p *Presence) deregister(ctx context.Context) {
	p.b.client.SRem(ctx, presenceSetKey, p.id)
	p.b.client.Del(ctx, p.id+presenceKeySuffix)
	logger.Info().Str("process_id", p.id).Msg("bridge: process presence deregistered")
}

// ActiveProcesses lists every currently-registered process ID, regardless
// of whether its TTL has since expired (use IsAlive to check liveness).
func ActiveProcesses(ctx context.Context, b *Bridge) ([]string, error) {
	return b.client.SMembers(ctx, presenceSetKey).Result()
}

// IsAlive reports whether processID's presence key is still present
// (i.e. it announced within its TTL).
func IsAlive(ctx context.Context, b *Bridge, processID string) (bool, error) {
	n, err := b.client.Exists(ctx, processID+presenceKeySuffix).Result()
	return n > 0, err
}
