// Package server wires the protocol runtime's components into a single
// running instance: catalog, blob store, connection pool, acceptor, and
// optional secure decorator.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/mediasrv/internal/logger"
	"github.com/alxayo/mediasrv/internal/mediaproto/acceptor"
	"github.com/alxayo/mediasrv/internal/mediaproto/catalog"
	"github.com/alxayo/mediasrv/internal/mediaproto/handler"
	"github.com/alxayo/mediasrv/internal/mediaproto/hooks"
	"github.com/alxayo/mediasrv/internal/mediaproto/pool"
	"github.com/alxayo/mediasrv/internal/mediaproto/secure"
	"github.com/alxayo/mediasrv/internal/mediaproto/wire"
)

// Config collects the server's recognised options, plus the constructor
// parameters needed to build the catalog and blob store this core treats
// as external collaborators.
type Config struct {
	ListenAddr string

	// Protocol runtime options.
	OpenConnectionsLimit     int
	HandshakeExecutorThreads int
	HandshakeTimeout         time.Duration
	SecureConnectionRequired bool
	RequestReadTimeout       time.Duration
	BodyReadTimeout          time.Duration

	// WriteTimeout applies the same deadline discipline to responses as
	// the read timeouts apply to requests.
	WriteTimeout time.Duration

	// WorkerPoolSize bounds the connection pool's concurrently active
	// handlers; see pool.Config.WorkerPoolSize.
	WorkerPoolSize int

	// HandshakeCap sizes the secure decorator's ready-socket tray; zero
	// disables background handshaking.
	HandshakeCap int

	// TLSConfig is required when SecureConnectionRequired or
	// HandshakeCap/HandshakeTimeout are set meaningfully; nil disables
	// secure upgrade entirely (every handshake attempt fails, falling
	// back to cleartext unless SecureConnectionRequired is true).
	TLSConfig *tls.Config

	HookConfig hooks.Config
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9545"
	}
	if c.OpenConnectionsLimit <= 0 {
		c.OpenConnectionsLimit = 256
	}
	if c.HandshakeExecutorThreads <= 0 {
		c.HandshakeExecutorThreads = 4
	}
	if c.RequestReadTimeout <= 0 {
		c.RequestReadTimeout = 30 * time.Second
	}
	if c.BodyReadTimeout <= 0 {
		c.BodyReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 256
	}
}

// Server owns the listener, catalog, pool, acceptor, and optional secure
// decorator for one running instance of the protocol.
type Server struct {
	cfg Config
	log *slog.Logger

	listener  net.Listener
	frontend  acceptor.Listener // either the raw listener or a *secure.Decorator
	decorator *secure.Decorator

	catalog *catalog.Catalog
	pool    *pool.Pool
	acc     *acceptor.Acceptor
	hooks   *hooks.Manager

	mu      sync.Mutex
	started bool
}

// New constructs an unstarted Server around an already-open catalog and
// blob store; persistence and blob storage stay behind their interfaces.
func New(cfg Config, cat *catalog.Catalog) *Server {
	cfg.applyDefaults()
	log := logger.Logger().With("component", "media_server")

	framer := wireFramer()
	timeouts := handler.Timeouts{
		HeaderRead: cfg.RequestReadTimeout,
		BodyRead:   cfg.BodyReadTimeout,
		Write:      cfg.WriteTimeout,
	}

	p := pool.New(pool.Config{
		WorkerPoolSize:  cfg.WorkerPoolSize,
		ShutdownTimeout: 10 * time.Second,
		Timeouts:        timeouts,
	}, framer, cat)

	hookMgr := hooks.NewManager(cfg.HookConfig)
	hookMgr.Register(hooks.EventConnectionAccept, hooks.NewLogHook("accept-log", log))
	hookMgr.Register(hooks.EventConnectionClose, hooks.NewLogHook("close-log", log))
	p.SetHooks(hookMgr)

	return &Server{
		cfg:     cfg,
		log:     log,
		catalog: cat,
		pool:    p,
		hooks:   hookMgr,
	}
}

func wireFramer() *wire.Framer {
	return wire.NewFramer(nil)
}

// Start binds the listener, optionally wraps it with the secure
// decorator, and launches the acceptor loop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	if s.cfg.TLSConfig != nil || s.cfg.SecureConnectionRequired {
		s.decorator = secure.New(ln, secure.Config{
			SecureRequired:   s.cfg.SecureConnectionRequired,
			HandshakeTimeout: s.cfg.HandshakeTimeout,
			HandshakeCap:     s.cfg.HandshakeCap,
			HandshakeThreads: s.cfg.HandshakeExecutorThreads,
			TLSConfig:        s.cfg.TLSConfig,
		})
		s.frontend = s.decorator
	} else {
		s.frontend = ln
	}

	s.acc = acceptor.New(s.frontend, s.pool, s.cfg.OpenConnectionsLimit)
	s.acc.Start()
	s.started = true
	s.log.Info("media server listening", "addr", ln.Addr().String())
	return nil
}

// Stop cascades shutdown through the acceptor, secure decorator (if any),
// connection pool, and hook manager.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	if s.acc != nil {
		s.acc.Stop()
	}
	if err := s.pool.Close(); err != nil {
		s.log.Warn("pool close error", "error", err)
	}
	if err := s.hooks.Close(); err != nil {
		s.log.Warn("hooks close error", "error", err)
	}
	if err := s.catalog.Close(); err != nil {
		s.log.Warn("catalog close error", "error", err)
	}
	s.started = false
	s.log.Info("media server stopped")
	return nil
}

// Addr returns the bound listener address, or nil if the server has not
// started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns the current connection-pool counters.
func (s *Server) Stats() pool.Stats {
	return s.pool.Stats()
}

