// Package pool implements the connection pool: it owns live sockets and
// reusable handlers, routes reads to handlers via a bounded worker pool,
// and keeps or closes each connection per the handler's run outcome.
package pool

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
	"github.com/alxayo/mediasrv/internal/logger"
	"github.com/alxayo/mediasrv/internal/mediaproto/handler"
	"github.com/alxayo/mediasrv/internal/mediaproto/hooks"
	"github.com/alxayo/mediasrv/internal/mediaproto/request"
	"github.com/alxayo/mediasrv/internal/mediaproto/wire"
)

// hookTrigger is the subset of *hooks.Manager the pool calls; accepting the
// interface lets the pool run hookless in tests without a nil-receiver
// dependency on the hooks package.
type hookTrigger interface {
	Trigger(ctx context.Context, event hooks.Event)
}

// Config collects the tunables this pool recognises.
type Config struct {
	// WorkerPoolSize bounds the number of concurrently active handler
	// goroutines. A handler occupies its slot for the lifetime of a
	// keep-alive session, including idle reads. Excess connections queue
	// for a slot; the queue itself is unbounded.
	WorkerPoolSize int
	// ShutdownTimeout bounds how long Close waits for in-flight handlers
	// to observe socket closure and exit before giving up on the wait.
	ShutdownTimeout time.Duration
	Timeouts        handler.Timeouts
}

func (c *Config) applyDefaults() {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 256
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Pool owns live connections and a small stack of idle, reusable handler
// instances.
type Pool struct {
	cfg     Config
	log     *slog.Logger
	catalog handler.Catalog
	framer  *wire.Framer
	parsers *request.Factory
	hooks   hookTrigger

	sem chan struct{}

	mu      sync.Mutex
	sockets map[string]net.Conn
	idle    []*handler.Handler

	active     atomic.Int64
	closing    atomic.Bool
	wg         sync.WaitGroup
	shutdownCh chan struct{}

	totalAccepted atomic.Int64
	totalRejected atomic.Int64
	totalRequests atomic.Int64
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	OpenConnections int
	TotalAccepted   int64
	TotalRejected   int64
	// TotalRequests counts handler run attempts, including idle-read
	// timeouts that kept a connection alive without a request to answer.
	TotalRequests int64
}

// Stats returns a snapshot of the pool's connection and request counters.
func (p *Pool) Stats() Stats {
	return Stats{
		OpenConnections: p.OpenConnections(),
		TotalAccepted:   p.totalAccepted.Load(),
		TotalRejected:   p.totalRejected.Load(),
		TotalRequests:   p.totalRequests.Load(),
	}
}

// New constructs a Pool that dispatches accepted sockets to handlers built
// around framer/catalog, applying cfg's worker bound and timeouts.
func New(cfg Config, framer *wire.Framer, catalog handler.Catalog) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:        cfg,
		log:        logger.Logger().With("component", "connection_pool"),
		catalog:    catalog,
		framer:     framer,
		parsers:    request.NewFactory(),
		sem:        make(chan struct{}, cfg.WorkerPoolSize),
		sockets:    make(map[string]net.Conn),
		shutdownCh: make(chan struct{}),
	}
}

// SetHooks attaches the lifecycle-event sink triggered on connection
// accept/close. Nil disables hook firing.
func (p *Pool) SetHooks(h hookTrigger) {
	p.hooks = h
}

func (p *Pool) triggerConn(ctx context.Context, eventType hooks.EventType, connID string) {
	if p.hooks == nil {
		return
	}
	p.hooks.Trigger(ctx, *hooks.NewEvent(eventType).WithConnID(connID))
}

// OpenConnections returns the number of sockets the pool currently owns.
func (p *Pool) OpenConnections() int {
	return int(p.active.Load())
}

// Add admits a newly accepted socket: it increments the active counter,
// obtains a handler (idle or newly built), binds the socket, and submits
// it to the worker pool for its first request.
//
// Once the pool is closing, Add rejects by closing the socket
// immediately and returning without registering it.
func (p *Pool) Add(conn net.Conn) {
	if p.closing.Load() {
		p.totalRejected.Add(1)
		_ = conn.Close()
		return
	}
	p.totalAccepted.Add(1)

	id := uuid.NewString()
	p.mu.Lock()
	p.sockets[id] = conn
	h := p.takeIdleLocked()
	p.mu.Unlock()

	if h == nil {
		h = handler.New(p.framer, p.cfg.Timeouts)
		h.SetCatalog(p.catalog)
	}
	h.Rebind(conn, p.parsers.New())

	p.active.Add(1)
	p.triggerConn(context.Background(), hooks.EventConnectionAccept, id)
	p.wg.Add(1)
	go p.serve(id, h)
}

func (p *Pool) takeIdleLocked() *handler.Handler {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	h := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return h
}

func (p *Pool) returnIdle(h *handler.Handler) {
	p.mu.Lock()
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// serve runs h against its bound socket for as long as the connection
// stays alive, acquiring a worker-pool slot for the whole session:
// blocking on the client's next request occupies the slot exactly as a
// blocking system-thread read would.
func (p *Pool) serve(id string, h *handler.Handler) {
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
	case <-p.shutdownCh:
		p.teardown(id, h)
		return
	}
	defer func() { <-p.sem }()

	ctx := context.Background()
	for {
		result := h.Run(ctx)
		p.totalRequests.Add(1)
		if result.Status == handler.RunSuccess {
			p.triggerConn(ctx, hooks.EventRequestCompleted, id)
		}
		if !p.onRunComplete(result) {
			p.teardown(id, h)
			return
		}
	}
}

// onRunComplete decides recycle-vs-close: resubmit (keep-alive) on
// success or on an idle-read timeout; otherwise the caller tears the
// connection down.
func (p *Pool) onRunComplete(result handler.Result) bool {
	if p.closing.Load() {
		return false
	}
	if result.Status == handler.RunSuccess {
		return true
	}
	if protoerrors.IsTimeout(result.Err) {
		p.log.Debug("idle read deadline, keeping connection open")
		return true
	}
	p.log.Debug("handler run ended", "error", result.Err)
	return false
}

// teardown closes the socket, decrements the active counter, deregisters
// it, and returns the handler to the idle stack for reuse with a
// different socket.
func (p *Pool) teardown(id string, h *handler.Handler) {
	_ = h.Conn().Close()
	p.mu.Lock()
	delete(p.sockets, id)
	p.mu.Unlock()
	p.active.Add(-1)
	p.triggerConn(context.Background(), hooks.EventConnectionClose, id)
	p.returnIdle(h)
}

// Close is the terminal shutdown operation: it closes every socket still
// referenced by queued or running tasks and awaits worker completion,
// bounded by ShutdownTimeout. Idempotent.
func (p *Pool) Close() error {
	if !p.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(p.shutdownCh)

	p.mu.Lock()
	conns := make([]net.Conn, 0, len(p.sockets))
	for _, c := range p.sockets {
		conns = append(conns, c)
	}
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.log.Warn("pool close timed out waiting for handlers to drain")
	}
	return nil
}
