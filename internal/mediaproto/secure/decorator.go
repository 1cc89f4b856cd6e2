// Package secure implements the secure decorator: it wraps an underlying
// listener to optionally upgrade accepted sockets to TLS, running the
// handshake in the background so the expensive upgrade cost is decoupled
// from the tight accept loop.
package secure

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
	"github.com/alxayo/mediasrv/internal/logger"
)

// Config collects the decorator's options.
type Config struct {
	// SecureRequired, if true, terminates a socket whose handshake fails
	// instead of falling back to cleartext.
	SecureRequired bool
	// HandshakeTimeout bounds a single handshake attempt; zero means wait
	// indefinitely.
	HandshakeTimeout time.Duration
	// HandshakeCap sizes the ready-socket tray and bounds concurrent
	// handshakes buffered ahead of consumption; zero disables background
	// handshaking, so each Accept performs the handshake synchronously.
	HandshakeCap int
	// HandshakeThreads bounds the worker pool performing handshakes
	// concurrently, independent of the tray size.
	HandshakeThreads int
	// TLSConfig drives the actual upgrade; the handshake bytes themselves
	// belong to crypto/tls, never to this package.
	TLSConfig *tls.Config
}

func (c *Config) applyDefaults() {
	if c.HandshakeThreads <= 0 {
		c.HandshakeThreads = 4
	}
}

type readyItem struct {
	idx  int
	conn net.Conn
}

type slotState int32

const (
	slotEmpty slotState = iota
	slotReady
	slotTaken
)

// Decorator wraps an underlying net.Listener, yielding either a secured
// or plain socket from Accept depending on negotiated policy.
type Decorator struct {
	listener net.Listener
	cfg      Config
	log      *slog.Logger

	// async-mode (HandshakeCap > 0) state: a fixed tray of slots plus a
	// free-slot queue the background flow drains to know when it may
	// accept another raw socket.
	slotStates []int32 // atomic slotState per index, for observability
	freeSlots  chan int
	ready      chan readyItem
	workerSem  chan struct{}
	active     atomic.Int32
	bgWg       sync.WaitGroup
	workerWg   sync.WaitGroup
	closing    chan struct{}
	closeOnce  sync.Once
}

// New constructs a Decorator around listener. When cfg.HandshakeCap is 0
// the decorator runs in synchronous mode: each Accept performs the
// handshake inline.
func New(listener net.Listener, cfg Config) *Decorator {
	cfg.applyDefaults()
	d := &Decorator{
		listener: listener,
		cfg:      cfg,
		log:      logger.Logger().With("component", "secure_decorator"),
		closing:  make(chan struct{}),
	}
	if cfg.HandshakeCap > 0 {
		d.slotStates = make([]int32, cfg.HandshakeCap)
		d.freeSlots = make(chan int, cfg.HandshakeCap)
		d.ready = make(chan readyItem, cfg.HandshakeCap)
		d.workerSem = make(chan struct{}, cfg.HandshakeThreads)
		for i := 0; i < cfg.HandshakeCap; i++ {
			d.freeSlots <- i
		}
		d.bgWg.Add(1)
		go d.backgroundLoop()
	}
	return d
}

// Accept yields the next socket, secured or plain depending on
// negotiated policy. In synchronous mode the handshake runs inline; in
// async mode it polls the ready tray for an un-taken slot.
func (d *Decorator) Accept() (net.Conn, error) {
	if d.cfg.HandshakeCap <= 0 {
		return d.acceptSync()
	}
	select {
	case item, ok := <-d.ready:
		if !ok {
			return nil, net.ErrClosed
		}
		atomic.StoreInt32(&d.slotStates[item.idx], int32(slotTaken))
		return newTrackedConn(item.conn, d, item.idx), nil
	case <-d.closing:
		return nil, net.ErrClosed
	}
}

func (d *Decorator) acceptSync() (net.Conn, error) {
	raw, err := d.listener.Accept()
	if err != nil {
		return nil, err
	}
	secured, fallback, err := d.upgrade(raw)
	if err != nil {
		if d.cfg.SecureRequired {
			_ = raw.Close()
			return nil, protoerrors.NewHandshakeFailedError("secure.acceptSync", err)
		}
		d.log.Debug("handshake failed, falling back to cleartext", "error", err)
		return fallback, nil
	}
	return secured, nil
}

// Close cascades shutdown: closes the underlying listener, joins the
// background flow, drains handshake workers, then closes any un-taken
// ready sockets.
func (d *Decorator) Close() error {
	d.closeOnce.Do(func() { close(d.closing) })
	err := d.listener.Close()
	d.bgWg.Wait()
	d.workerWg.Wait()
	if d.ready != nil {
		close(d.ready)
		for item := range d.ready {
			_ = item.conn.Close()
		}
	}
	return err
}

// backgroundLoop accepts raw sockets while a tray slot is free and
// submits a handshake task for each: a free slot index obtained from
// freeSlots represents permission to accept one more raw socket ahead of
// consumption.
func (d *Decorator) backgroundLoop() {
	defer d.bgWg.Done()
	for {
		var idx int
		select {
		case idx = <-d.freeSlots:
		case <-d.closing:
			return
		}

		raw, err := d.listener.Accept()
		if err != nil {
			d.freeSlots <- idx
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-d.closing:
				return
			default:
			}
			d.log.Warn("accept error in handshake background flow", "error", err)
			continue
		}

		atomic.StoreInt32(&d.slotStates[idx], int32(slotReady))
		d.active.Add(1)
		d.workerWg.Add(1)
		d.workerSem <- struct{}{}
		go d.handshakeTask(idx, raw)
	}
}

// handshakeTask attempts the upgrade and places the outcome in the tray,
// or on failure either falls back to cleartext or closes and frees the
// slot immediately.
func (d *Decorator) handshakeTask(idx int, raw net.Conn) {
	defer d.workerWg.Done()
	defer func() { <-d.workerSem }()

	secured, fallback, err := d.upgrade(raw)
	if err != nil {
		if d.cfg.SecureRequired {
			_ = raw.Close()
			d.active.Add(-1)
			atomic.StoreInt32(&d.slotStates[idx], int32(slotEmpty))
			select {
			case d.freeSlots <- idx:
			case <-d.closing:
			}
			return
		}
		d.log.Debug("handshake failed, buffering cleartext fallback", "error", err)
		d.publishReady(idx, fallback)
		return
	}
	d.publishReady(idx, secured)
}

func (d *Decorator) publishReady(idx int, conn net.Conn) {
	select {
	case d.ready <- readyItem{idx: idx, conn: conn}:
	case <-d.closing:
		_ = conn.Close()
		d.active.Add(-1)
		atomic.StoreInt32(&d.slotStates[idx], int32(slotEmpty))
	}
}

// freeSlot reclaims a taken slot once its consumer closes the socket.
func (d *Decorator) freeSlot(idx int) {
	atomic.StoreInt32(&d.slotStates[idx], int32(slotEmpty))
	d.active.Add(-1)
	select {
	case d.freeSlots <- idx:
	case <-d.closing:
	}
}

// tlsRecordHandshake is the record-type byte every TLS client leads with.
const tlsRecordHandshake = 0x16

// upgrade performs the TLS server handshake, bounded by HandshakeTimeout
// when non-zero.
//
// The peer's first byte is sniffed before the handshake runs: a cleartext
// peer that never begins TLS must keep that byte, so the fallback socket
// returned alongside the error replays it. A peer that spoke TLS and then
// failed has no usable cleartext stream to recover; the bare socket is
// returned as the fallback in that case.
func (d *Decorator) upgrade(raw net.Conn) (secured, fallback net.Conn, err error) {
	if d.cfg.TLSConfig == nil {
		return nil, raw, errors.New("secure: no TLS configuration")
	}
	if d.cfg.HandshakeTimeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(d.cfg.HandshakeTimeout)); err != nil {
			return nil, raw, err
		}
		defer raw.SetDeadline(time.Time{})
	}

	first := make([]byte, 1)
	if _, err := io.ReadFull(raw, first); err != nil {
		return nil, raw, err
	}
	buffered := &replayConn{Conn: raw, buf: first}
	if first[0] != tlsRecordHandshake {
		return nil, buffered, errors.New("secure: peer did not begin a TLS handshake")
	}

	tlsConn := tls.Server(buffered, d.cfg.TLSConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, raw, err
	}
	return tlsConn, raw, nil
}

// replayConn hands back bytes consumed while sniffing the peer's first
// record before delegating to the underlying socket.
type replayConn struct {
	net.Conn
	buf []byte
}

func (c *replayConn) Read(p []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// Active reports the number of slots currently occupied (ready or taken),
// exposed for server-level stats.
func (d *Decorator) Active() int { return int(d.active.Load()) }

// trackedConn wraps a tray-delivered socket so its Close also frees the
// tray slot it occupied, completing the Taken -> Empty transition.
type trackedConn struct {
	net.Conn
	d    *Decorator
	idx  int
	once sync.Once
}

func newTrackedConn(conn net.Conn, d *Decorator, idx int) net.Conn {
	return &trackedConn{Conn: conn, d: d, idx: idx}
}

func (t *trackedConn) Close() error {
	err := t.Conn.Close()
	t.once.Do(func() { t.d.freeSlot(t.idx) })
	return err
}
