// Package socket implements a message-oriented endpoint over a single TCP
// connection. One side listens and accepts exactly one peer, the other
// connects; once Connected both sides are symmetric and exchange framed
// messages concurrently.
//
// All socket I/O, parser advancement, state transitions, and listener
// notifications happen on one dedicated worker goroutine per Socket.
// Application goroutines only enqueue sends, drain received messages, and
// request close.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conch/wirebus/pkg/queue"
	"github.com/conch/wirebus/pkg/retry"
	"github.com/conch/wirebus/pkg/wire"
	"golang.org/x/time/rate"
)

var (
	ErrNotInitial = errors.New("socket: connect/listen requires the Initial state")
	ErrBadAddress = errors.New("socket: address must be an IPv4 dotted quad")
)

// Socket is one endpoint of the protocol.
type Socket struct {
	log *slog.Logger
	cfg *Config
	reg *wire.Registry

	state    atomic.Int32 // current State; written by the worker
	closeReq atomic.Bool
	started  atomic.Bool
	done     chan struct{}

	listenerMu sync.Mutex
	listeners  []Listener

	sendq *queue.Queue[wire.Message]
	recvq *queue.Queue[wire.Message]

	lastErr atomic.Pointer[Error]
	stats   Stats

	// Worker-owned fields. The listener handle is additionally readable by
	// Close so a blocked Accept can be interrupted.
	next          State
	conn          net.Conn
	parser        *wire.Parser
	limiter       *rate.Limiter
	lastKeepAlive time.Time
	hostport      string

	lnMu sync.Mutex
	ln   net.Listener
}

// New returns an idle Socket in the Initial state. A nil config uses
// DefaultConfig; a nil registry gets a fresh empty one.
func New(reg *wire.Registry, cfg *Config) *Socket {
	if reg == nil {
		reg = wire.NewRegistry()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	return &Socket{
		log:   cfg.Logger.With("component", "socket"),
		cfg:   cfg,
		reg:   reg,
		done:  make(chan struct{}),
		sendq: queue.New[wire.Message](),
		recvq: queue.New[wire.Message](),
	}
}

// RegisterMessageType binds a wire type id to a message constructor on the
// socket's registry. Re-registering an id replaces the previous binding.
func (s *Socket) RegisterMessageType(id uint32, ctor func() wire.Message) {
	s.reg.Register(id, ctor)
}

// Registry exposes the socket's message type registry.
func (s *Socket) Registry() *wire.Registry { return s.reg }

// AddListener subscribes l to all future notifications.
func (s *Socket) AddListener(l Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()
}

// Listen starts the worker toward the listening role: bind addr:port, accept
// exactly one peer, then exchange messages with it.
func (s *Socket) Listen(addr string, port uint16) error {
	return s.start(addr, port, StateOpening)
}

// Connect starts the worker toward the connecting role.
func (s *Socket) Connect(addr string, port uint16) error {
	return s.start(addr, port, StateConnecting)
}

func (s *Socket) start(addr string, port uint16, first State) error {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}

	if s.State() != StateInitial || !s.started.CompareAndSwap(false, true) {
		return ErrNotInitial
	}

	s.hostport = netip.AddrPortFrom(ip, port).String()
	s.next = first

	go s.run()
	return nil
}

// Send enqueues m for transmission and returns immediately. Messages
// enqueued while not Connected are held until the connection is established;
// once the socket reaches Closed or Error the queue contents are dropped.
func (s *Socket) Send(m wire.Message) {
	if s.State().Terminal() {
		return
	}
	s.sendq.Push(m)
}

// TakeReceived removes and returns the next arrived message, if any.
func (s *Socket) TakeReceived() (wire.Message, bool) {
	return s.recvq.TryPop()
}

// Close requests a shutdown and returns immediately; the worker observes the
// request at the next tick boundary. Close is idempotent and legal from any
// state.
func (s *Socket) Close() {
	if s.State().Terminal() {
		return
	}

	if !s.started.Load() {
		// No worker to apply the transition.
		s.state.Store(int32(StateClosed))
		s.notifyStateChanged(StateClosed)
		return
	}

	s.closeReq.Store(true)

	// Unblock a pending Accept.
	s.lnMu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.lnMu.Unlock()
}

// Wait blocks until the worker goroutine has exited. It returns immediately
// if the worker was never started.
func (s *Socket) Wait() {
	if !s.started.Load() {
		return
	}
	<-s.done
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	return State(s.state.Load())
}

// LastError returns the most recent error record, or nil.
func (s *Socket) LastError() *Error {
	return s.lastErr.Load()
}

// Metrics returns a snapshot of the socket's counters.
func (s *Socket) Metrics() Metrics {
	return s.stats.snapshot()
}

// run is the worker loop: one tick per iteration of the current state's
// handler, then the pending next-state is applied.
func (s *Socket) run() {
	defer close(s.done)
	s.log.Debug("worker started", "addr", s.hostport)

	for {
		state := s.State()
		if state.Terminal() {
			s.sendq.DrainAll()
			s.log.Debug("worker exiting", "state", state.String())
			return
		}

		switch state {
		case StateInitial:
			// Nothing to do until start assigns the first transition.
		case StateConnecting:
			s.doConnect()
		case StateOpening:
			s.doOpen()
		case StateListening:
			s.doAccept()
		case StateConnected:
			s.tickConnected()
		case StateClosing:
			s.doClose()
		}

		s.applyNextState()
	}
}

// applyNextState honors a pending close request, then commits the tick's
// transition and fires state_changed.
func (s *Socket) applyNextState() {
	if s.closeReq.CompareAndSwap(true, false) {
		switch s.next {
		case StateClosing, StateClosed, StateError:
			// Already tearing down.
		default:
			s.next = StateClosing
		}
	}

	current := s.State()
	if s.next == current {
		return
	}

	s.state.Store(int32(s.next))
	s.log.Debug("state changed", "from", current.String(), "to", s.next.String())
	s.notifyStateChanged(s.next)
}

func (s *Socket) doConnect() {
	var conn net.Conn
	err := retry.Do(context.Background(),
		func(ctx context.Context) error {
			c, err := net.DialTimeout("tcp4", s.hostport, s.cfg.DialTimeout)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.WithExponentialBackoff(
			s.cfg.ConnectAttempts, s.cfg.ConnectBackoffMin, s.cfg.ConnectBackoffMax,
		)...,
	)
	if err != nil {
		s.fatal(KindConnectFailed, "connect failed", err)
		return
	}

	s.attach(conn)
	s.next = StateConnected
}

func (s *Socket) doOpen() {
	var ln net.Listener
	err := retry.Do(context.Background(),
		func(ctx context.Context) error {
			l, err := net.Listen("tcp4", s.hostport)
			if err != nil {
				return err
			}
			ln = l
			return nil
		},
		retry.WithExponentialBackoff(
			s.cfg.ConnectAttempts, s.cfg.ConnectBackoffMin, s.cfg.ConnectBackoffMax,
		)...,
	)
	if err != nil {
		s.fatal(KindBindFailed, "bind failed", err)
		return
	}

	s.lnMu.Lock()
	s.ln = ln
	s.lnMu.Unlock()

	s.next = StateListening
}

// doAccept takes exactly one connection, then retires the listening socket.
func (s *Socket) doAccept() {
	s.lnMu.Lock()
	ln := s.ln
	s.lnMu.Unlock()
	if ln == nil {
		s.next = StateClosing
		return
	}

	conn, err := ln.Accept()
	if err != nil {
		if s.closeReq.Load() {
			s.next = StateClosing
			return
		}
		s.fatal(KindAcceptFailed, "accept failed", err)
		return
	}

	_ = ln.Close()
	s.lnMu.Lock()
	s.ln = nil
	s.lnMu.Unlock()

	s.attach(conn)
	s.next = StateConnected
}

func (s *Socket) attach(conn net.Conn) {
	s.conn = conn
	s.parser = wire.NewParser(s.reg, s.log)
	s.lastKeepAlive = time.Now()
	s.stats.markConnected(time.Now())

	if s.cfg.MaxSendRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.cfg.MaxSendRate), int(s.cfg.MaxSendRate))
	}

	s.log.Info("connected", "remote", conn.RemoteAddr().String())
}

// tickConnected is one pass of the Connected handler: drain the send queue,
// advance the receive parser by one window, then probe liveness.
func (s *Socket) tickConnected() {
	if !s.drainSends() {
		return
	}
	if !s.receiveTick() {
		return
	}
	s.keepAliveTick()
}

// drainSends transmits everything queued so far. It reports false when the
// connection died underneath a write.
func (s *Socket) drainSends() bool {
	for _, m := range s.sendq.DrainAll() {
		buf, err := wire.EncodeMessage(s.reg, m)
		if err != nil {
			s.raise(newError(KindSendFailed, "message encode failed", err))
			continue
		}

		s.waitSendRate(len(buf))

		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		_, err = s.conn.Write(buf)
		_ = s.conn.SetWriteDeadline(time.Time{})
		if err != nil {
			s.raise(newError(KindSendFailed, "message write failed", err))
			s.next = StateClosing
			return false
		}

		s.stats.MessagesSent.Add(1)
		s.stats.BytesSent.Add(uint64(len(buf)))
	}

	return true
}

func (s *Socket) waitSendRate(n int) {
	if s.limiter == nil {
		return
	}
	if burst := s.limiter.Burst(); n > burst {
		n = burst
	}
	_ = s.limiter.WaitN(context.Background(), n)
}

// receiveTick advances the parser by at most one frame. It reports false
// when an error ended the tick.
func (s *Socket) receiveTick() bool {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	msg, err := s.parser.Tick(s.conn)
	_ = s.conn.SetReadDeadline(time.Time{})

	if err == nil {
		if msg != nil {
			s.recvq.Push(msg)
			s.stats.MessagesReceived.Add(1)
			s.stats.BytesReceived.Add(uint64(s.parser.LastPayloadLen()))
			s.notifyMessageReceived()
		}
		return true
	}

	switch {
	case errors.Is(err, wire.ErrPeerClosed):
		s.raise(newError(KindConnectionReset, "connection reset by peer", err))
		s.next = StateClosing
	case errors.Is(err, wire.ErrPayloadTooLarge):
		s.fatal(KindOutOfMemory, "cannot buffer announced payload", err)
	case errors.Is(err, wire.ErrUnknownType):
		s.raise(newError(KindUnknownMessageType, "unknown message type", err))
	case errors.Is(err, wire.ErrParseFailed):
		s.raise(newError(KindParseFailed, "payload parse failed", err))
	case errors.Is(err, wire.ErrHeaderMismatch):
		s.raise(newError(KindReceiveFailed, "header mismatch", err))
	case errors.Is(err, wire.ErrSizeInvalid):
		s.raise(newError(KindReceiveFailed, "size invalid", err))
	default:
		s.raise(newError(KindReceiveFailed, "receive failed", err))
	}

	return false
}

// keepAliveTick writes the 4-byte zero probe once KeepAliveInterval has
// elapsed since the last one.
func (s *Socket) keepAliveTick() {
	if time.Since(s.lastKeepAlive) < s.cfg.KeepAliveInterval {
		return
	}

	if err := wire.WriteKeepAlive(s.conn); err != nil {
		s.raise(newError(KindConnectionReset, "connection reset by peer", err))
		s.next = StateClosing
		return
	}

	s.lastKeepAlive = time.Now()
	s.stats.KeepAlivesSent.Add(1)
}

func (s *Socket) doClose() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	s.lnMu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
	s.lnMu.Unlock()

	s.next = StateClosed
}

// raise records a non-fatal error and fans it out; the endpoint continues in
// its current state.
func (s *Socket) raise(e *Error) {
	s.lastErr.Store(e)
	s.stats.Errors.Add(1)
	s.log.Warn("protocol error", "kind", e.Kind.String(), "desc", e.Desc, "error", e.Err)
	s.notifyError(e)
}

// fatal records a fatal error, clears any in-flight frame, and drives the
// lifecycle to Error.
func (s *Socket) fatal(kind Kind, desc string, cause error) {
	e := newFatalError(kind, desc, cause)
	s.lastErr.Store(e)
	s.stats.Errors.Add(1)
	s.log.Error("fatal protocol error", "kind", kind.String(), "desc", desc, "error", cause)

	if s.parser != nil {
		s.parser.Reset()
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	s.notifyError(e)
	s.next = StateError
}

func (s *Socket) snapshotListeners() []Listener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	return append([]Listener(nil), s.listeners...)
}

func (s *Socket) notifyStateChanged(state State) {
	for _, l := range s.snapshotListeners() {
		l.StateChanged(state)
	}
}

func (s *Socket) notifyMessageReceived() {
	for _, l := range s.snapshotListeners() {
		l.MessageReceived()
	}
}

func (s *Socket) notifyError(e *Error) {
	for _, l := range s.snapshotListeners() {
		l.Error(e)
	}
}
