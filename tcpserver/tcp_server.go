// Package tcpserver runs a TCP listener whose accepted connections pass
// through an admission pool. Admitted connections exchange framed messages
// through Send and Recv; failed connections are evicted according to the
// configured timeout policy.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/socketnet/connection"
	"github.com/cyberinferno/socketnet/frame"
	"github.com/cyberinferno/socketnet/logger"
	"github.com/cyberinferno/socketnet/pool"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned by Listen or Serve in the wrong state.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by operations that need a running accept loop.
	ErrNotRunning = errors.New("server not running")
)

// AdmitFunc is called once for every connection the pool admits. It runs on
// the goroutine that caused the admission (the accept loop, or the caller of
// Disconnect/SetCapacity) and must not block long.
type AdmitFunc func(c *connection.Connection)

// Server accepts TCP connections, admits them through a pool and exchanges
// framed messages with admitted peers.
type Server struct {
	id    uuid.UUID
	cfg   Config
	log   logger.Logger
	codec *frame.Codec
	pool  *pool.Pool

	mu       sync.Mutex
	state    State
	listener net.Listener
	group    *errgroup.Group
	done     chan struct{}
	onAdmit  AdmitFunc

	paused atomic.Bool
	nextID atomic.Uint32
}

// New creates a stopped Server.
//
// Parameters:
//   - cfg: Server configuration (see DefaultConfig)
//   - log: Logger; nil discards output
//
// Returns:
//   - The new Server, or an error if the configuration is invalid
func New(cfg Config, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	defaults := DefaultConfig(cfg.Addr)
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}

	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = defaults.PausePollInterval
	}

	if cfg.AcceptErrorBackoff <= 0 {
		cfg.AcceptErrorBackoff = defaults.AcceptErrorBackoff
	}

	id := uuid.New()
	log = log.With(logger.Field{Key: "server", Value: cfg.Name}, logger.Field{Key: "instance", Value: id.String()})
	p, err := pool.New(pool.Options{
		Capacity:   cfg.Capacity,
		MaxWaiting: cfg.Backlog,
		Bans:       cfg.Bans,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", cfg.Name, err)
	}

	return &Server{
		id:    id,
		cfg:   cfg,
		log:   log,
		codec: frame.NewCodec(cfg.Registry, frame.Limits{MaxHeaderBytes: cfg.MaxHeaderBytes, MaxBodyBytes: cfg.MaxBodyBytes}),
		pool:  p,
		state: Stopped,
	}, nil
}

// Start binds the listener and starts the accept loop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve()
}

// Listen binds to the configured address. The server moves to Listening.
//
// Returns:
//   - ErrAlreadyRunning if the server is not Stopped, or the bind error
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return fmt.Errorf("server %s: %w", s.cfg.Name, ErrAlreadyRunning)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("server failed to listen", logger.Field{Key: "addr", Value: s.cfg.Addr}, logger.Err(err))
		return fmt.Errorf("server %s failed to listen: %w", s.cfg.Name, err)
	}

	s.listener = ln
	s.state = Listening
	s.log.Info("server listening", logger.Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

// Serve starts the accept loop in its own goroutine. The server moves to
// Accepting, or to Paused when StartPaused is set.
//
// Returns:
//   - ErrNotRunning if Listen has not been called
//   - ErrAlreadyRunning if the loop is already running
func (s *Server) Serve() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Stopped:
		return fmt.Errorf("server %s: %w", s.cfg.Name, ErrNotRunning)
	case Accepting, Paused:
		return fmt.Errorf("server %s: %w", s.cfg.Name, ErrAlreadyRunning)
	}

	s.done = make(chan struct{})
	s.group = &errgroup.Group{}
	if s.cfg.StartPaused {
		s.pauseLocked()
	} else {
		s.state = Accepting
		s.clearPauseLocked()
	}

	ln, done := s.listener, s.done
	s.group.Go(func() error {
		s.acceptLoop(ln, done)
		return nil
	})

	return nil
}

// Stop closes the listener, waits for the accept loop and closes every
// pooled connection. Safe to call in any state.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}

	s.state = Stopped
	if s.done != nil {
		close(s.done)
	}

	_ = s.listener.Close()
	group := s.group
	s.group, s.done, s.listener = nil, nil, nil
	s.mu.Unlock()

	if group != nil {
		_ = group.Wait()
	}

	closed := s.pool.CloseAll()
	s.log.Info("server stopped", logger.Field{Key: "closed", Value: closed})
}

// Pause makes the accept loop stop pulling new connections without closing
// the listener. Pending connections stay in the kernel backlog.
func (s *Server) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Accepting:
		s.pauseLocked()
		s.log.Info("server paused")
		return nil
	case Paused:
		return nil
	default:
		return fmt.Errorf("server %s: %w", s.cfg.Name, ErrNotRunning)
	}
}

// Resume undoes Pause.
func (s *Server) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Paused:
		s.state = Accepting
		s.clearPauseLocked()
		s.log.Info("server resumed")
		return nil
	case Accepting:
		return nil
	default:
		return fmt.Errorf("server %s: %w", s.cfg.Name, ErrNotRunning)
	}
}

// pauseLocked must be called with s.mu held. An immediate listener deadline
// kicks a blocked Accept so the loop notices the pause.
func (s *Server) pauseLocked() {
	s.state = Paused
	s.paused.Store(true)
	if dl, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
		_ = dl.SetDeadline(time.Now())
	}
}

// clearPauseLocked must be called with s.mu held. The deadline goes first so
// the loop never calls Accept against a stale one.
func (s *Server) clearPauseLocked() {
	if dl, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
		_ = dl.SetDeadline(time.Time{})
	}
	s.paused.Store(false)
}

// InstanceID identifies this Server in logs shared by several processes.
func (s *Server) InstanceID() string {
	return s.id.String()
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// OnAdmit registers the admission callback, replacing any previous one.
// Pass nil to clear it.
func (s *Server) OnAdmit(fn AdmitFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onAdmit = fn
}

// acceptLoop runs until done is closed. A failed Accept is logged and
// retried; it never ends the loop.
func (s *Server) acceptLoop(ln net.Listener, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		if s.paused.Load() {
			select {
			case <-done:
				return
			case <-time.After(s.cfg.PausePollInterval):
			}
			continue
		}

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}

			// only Pause sets a deadline, so a timeout is never a failure
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			s.log.Error("accept error", logger.Err(err))
			select {
			case <-done:
				return
			case <-time.After(s.cfg.AcceptErrorBackoff):
			}
			continue
		}

		s.admit(conn)
	}
}

// admit drops connections from banned hosts before wrapping them, then
// offers the rest to the pool and notifies for every promotion.
func (s *Server) admit(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	if s.pool.IsBanned(connection.HostOf(addr)) {
		s.log.Info("connection from banned host refused", logger.Field{Key: "addr", Value: addr})
		_ = conn.Close()
		return
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c := connection.New(s.nextID.Add(1), conn, s.codec, s.cfg.IdleTimeout, s.log)
	promoted, err := s.pool.Offer(c)
	if err != nil {
		s.log.Warn("connection refused", logger.Field{Key: "addr", Value: addr}, logger.Err(err))
		return
	}

	active, waiting := s.pool.Len()
	s.log.Debug("connection accepted",
		logger.Field{Key: "addr", Value: addr},
		logger.Field{Key: "active", Value: active},
		logger.Field{Key: "waiting", Value: waiting})
	s.notify(promoted)
}

func (s *Server) notify(promoted []*connection.Connection) {
	if len(promoted) == 0 {
		return
	}

	s.mu.Lock()
	fn := s.onAdmit
	s.mu.Unlock()

	if fn == nil {
		return
	}

	for _, c := range promoted {
		s.runCallback(fn, c)
	}
}

func (s *Server) runCallback(fn AdmitFunc, c *connection.Connection) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("admission callback panicked",
				logger.Field{Key: "addr", Value: c.Address()},
				logger.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()

	fn(c)
}
