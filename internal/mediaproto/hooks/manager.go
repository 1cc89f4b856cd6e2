package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/mediasrv/internal/logger"
)

// Manager registers hooks per event type and fans out triggered events to
// them on a bounded execution pool.
type Manager struct {
	mu     sync.RWMutex
	hooks  map[EventType][]Hook
	pool   *executionPool
	log    *slog.Logger
	config Config
}

// NewManager constructs a Manager applying cfg's concurrency/timeout.
func NewManager(cfg Config) *Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	log := logger.Logger().With("component", "hooks")
	return &Manager{
		hooks:  make(map[EventType][]Hook),
		log:    log,
		config: cfg,
		pool:   newExecutionPool(cfg.Concurrency, cfg.Timeout, log),
	}
}

// Register adds hook to the list invoked for eventType.
func (m *Manager) Register(eventType EventType, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.log.Info("hook registered", "event_type", eventType, "hook_id", hook.ID())
}

// Trigger fans event out to every hook registered for its type,
// asynchronously, bounded by the execution pool.
func (m *Manager) Trigger(ctx context.Context, event Event) {
	if m == nil {
		return
	}
	m.mu.RLock()
	registered := m.hooks[event.Type]
	hooks := make([]Hook, len(registered))
	copy(hooks, registered)
	m.mu.RUnlock()

	for _, h := range hooks {
		m.pool.execute(ctx, h, event)
	}
}

// Close drains in-flight hook executions.
func (m *Manager) Close() error {
	if m == nil || m.pool == nil {
		return nil
	}
	m.pool.close()
	return nil
}

// executionPool bounds concurrent hook execution with a buffered channel
// of worker slots.
type executionPool struct {
	slots   chan struct{}
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func newExecutionPool(size int, timeout time.Duration, log *slog.Logger) *executionPool {
	return &executionPool{slots: make(chan struct{}, size), timeout: timeout, log: log}
}

func (p *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.slots <- struct{}{}
		defer func() { <-p.slots }()

		runCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		err := hook.Execute(runCtx, event)
		if err != nil {
			p.log.Error("hook execution failed", "hook_id", hook.ID(), "event_type", event.Type,
				"duration_ms", time.Since(start).Milliseconds(), "error", err)
			return
		}
		p.log.Debug("hook executed", "hook_id", hook.ID(), "event_type", event.Type,
			"duration_ms", time.Since(start).Milliseconds())
	}()
}

func (p *executionPool) close() {
	p.wg.Wait()
}
