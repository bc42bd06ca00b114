// Package tcpclient provides the peer side of a socketnet server: a single
// long-lived framed connection that reports its state changes to a
// registered handler.
package tcpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/socketnet/connection"
	"github.com/cyberinferno/socketnet/encoder"
	"github.com/cyberinferno/socketnet/frame"
	"github.com/cyberinferno/socketnet/logger"
)

var (
	// ErrNotConnected is returned by Send and Recv without a live connection.
	ErrNotConnected = errors.New("client not connected")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("client is closed")
	// ErrAlreadyConnected is returned by Connect while connected or connecting.
	ErrAlreadyConnected = errors.New("already connected or connecting")
)

// ConnectionState represents the current state of the client.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // No connection; Connect may be called
	Connecting                          // Dial in progress
	Connected                           // Send and Recv are available
	Closed                              // Close was called; the client is unusable
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is passed to the handler registered with
// OnConnectionState.
type ConnectionStateEvent struct {
	State     ConnectionState // The new state
	Address   string          // The server address
	Timestamp time.Time       // When the change happened
	Error     error           // Non-nil if the change was caused by a failure
}

// ConnectionStateHandler is invoked from its own goroutine; implementations
// must be safe for concurrent use.
type ConnectionStateHandler func(event ConnectionStateEvent)

// Config holds configuration for a Client.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// IdleTimeout is the deadline applied to every Send and Recv; 0 disables it.
	IdleTimeout time.Duration
	// DialTimeout bounds Connect; 0 leaves it to the context.
	DialTimeout time.Duration
	// MaxHeaderBytes caps a single frame header.
	MaxHeaderBytes uint32
	// MaxBodyBytes caps a single frame body.
	MaxBodyBytes uint64
	// Registry resolves encoder names; nil selects encoder.Default.
	Registry *encoder.Registry
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: DialTimeout 10s, no idle timeout, frame limits
//     of frame.DefaultLimits.
func DefaultConfig(address string) Config {
	limits := frame.DefaultLimits()
	return Config{
		Address:        address,
		DialTimeout:    10 * time.Second,
		MaxHeaderBytes: limits.MaxHeaderBytes,
		MaxBodyBytes:   limits.MaxBodyBytes,
	}
}

// Client holds at most one connection to a server. It is safe for concurrent
// use; Send and Recv may run at the same time.
type Client struct {
	cfg   Config
	log   logger.Logger
	codec *frame.Codec

	mu      sync.RWMutex
	conn    *connection.Connection
	state   ConnectionState
	onState ConnectionStateHandler
}

// New creates a Disconnected client.
//
// Parameters:
//   - cfg: Connection settings (see DefaultConfig)
//   - log: Logger; nil discards output
//
// Returns:
//   - A new *Client; call Close when done
func New(cfg Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Client{
		cfg:   cfg,
		log:   log.With(logger.Field{Key: "server_addr", Value: cfg.Address}),
		codec: frame.NewCodec(cfg.Registry, frame.Limits{MaxHeaderBytes: cfg.MaxHeaderBytes, MaxBodyBytes: cfg.MaxBodyBytes}),
		state: Disconnected,
	}
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onState = handler
}

// Connect dials the server.
//
// Parameters:
//   - ctx: Cancels the dial; DialTimeout applies on top of it
//
// Returns:
//   - nil on success
//   - ErrClosed, ErrAlreadyConnected, or the dial error
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connected, Connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	c.setStateLocked(Connecting, nil)
	c.mu.Unlock()

	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.state == Connecting {
			c.setStateLocked(Disconnected, err)
		}

		c.log.Warn("connect failed", logger.Err(err))
		return fmt.Errorf("connect to %s: %w", c.cfg.Address, err)
	}

	if c.state == Closed {
		_ = raw.Close()
		return ErrClosed
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c.conn = connection.New(0, raw, c.codec, c.cfg.IdleTimeout, c.log)
	c.setStateLocked(Connected, nil)
	c.log.Info("connected", logger.Field{Key: "local_addr", Value: raw.LocalAddr().String()})
	return nil
}

// Disconnect closes the current connection. Connect may be called again.
// Safe to call in any state.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.setStateLocked(Disconnected, nil)
	return err
}

// Close disconnects and makes the client unusable. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil
	}

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	c.setStateLocked(Closed, nil)
	return err
}

// Send frames msg and writes it to the server.
//
// Returns:
//   - nil on success
//   - ErrNotConnected without a connection
//   - frame.ErrEncoding (the connection is kept), connection.ErrTimeout, or
//     connection.ErrTransportClosed (the client becomes Disconnected)
func (c *Client) Send(msg any, opts frame.SendOptions) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Send(msg, opts); err != nil {
		c.handleIOError(conn, err)
		return err
	}

	return nil
}

// Recv blocks until one message arrives. Failures follow the same rules as
// Send.
func (c *Client) Recv() (*frame.Message, error) {
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	msg, err := conn.Recv()
	if err != nil {
		c.handleIOError(conn, err)
		return nil, err
	}

	return msg, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// IsConnected reports whether the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// LocalAddr returns the client end of the connection, which is the address
// the server knows this client by, or nil when disconnected.
func (c *Client) LocalAddr() net.Addr {
	conn := c.current()
	if conn == nil {
		return nil
	}

	return conn.LocalAddr()
}

func (c *Client) current() *connection.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn
}

// handleIOError drops conn after a transport failure unless it was already
// replaced or removed.
func (c *Client) handleIOError(conn *connection.Connection, err error) {
	if !connection.IsTransportClosed(err) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}

	_ = conn.Close()
	c.conn = nil
	c.setStateLocked(Disconnected, err)
	c.log.Info("connection lost", logger.Err(err))
}

// setStateLocked must be called with c.mu held.
func (c *Client) setStateLocked(state ConnectionState, err error) {
	c.state = state
	if c.onState == nil {
		return
	}

	go c.onState(ConnectionStateEvent{
		State:     state,
		Address:   c.cfg.Address,
		Timestamp: time.Now(),
		Error:     err,
	})
}
