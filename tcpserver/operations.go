package tcpserver

import (
	"fmt"
	"time"

	"github.com/cyberinferno/socketnet/connection"
	"github.com/cyberinferno/socketnet/frame"
	"github.com/cyberinferno/socketnet/logger"
	"github.com/cyberinferno/socketnet/pool"
)

// Send frames msg and writes it to the active connection at addr. The pool
// lock is only held for the lookup.
//
// Parameters:
//   - addr: Peer address ("host:port") of an active connection
//   - msg: A []byte (sent verbatim) or a value for the selected encoder
//   - opts: Encoder, compression and transmission type
//
// Returns:
//   - nil on success
//   - pool.ErrNotFound if addr is not active
//   - frame.ErrEncoding if msg cannot be framed (the connection is kept)
//   - connection.ErrTransportClosed (connection removed) or
//     connection.ErrTimeout (removed only with DisconnectOnTimeout)
func (s *Server) Send(addr string, msg any, opts frame.SendOptions) error {
	c, err := s.Connection(addr)
	if err != nil {
		return err
	}

	if err := c.Send(msg, opts); err != nil {
		s.handleIOError(c, err)
		return err
	}

	return nil
}

// Recv blocks until the active connection at addr delivers one message.
// Failures follow the same removal policy as Send.
//
// Structured bodies are only unmarshaled by Message.Decode. A body that
// fails there returns frame.ErrDecoding to the caller but leaves the
// connection in place, since the frame boundary was intact and the stream
// is still in sync.
func (s *Server) Recv(addr string) (*frame.Message, error) {
	c, err := s.Connection(addr)
	if err != nil {
		return nil, err
	}

	msg, err := c.Recv()
	if err != nil {
		s.handleIOError(c, err)
		return nil, err
	}

	return msg, nil
}

func (s *Server) handleIOError(c *connection.Connection, err error) {
	switch {
	case connection.IsTransportClosed(err):
		s.log.Info("connection lost", logger.Field{Key: "addr", Value: c.Address()}, logger.Err(err))
	case connection.IsTimeout(err) && s.cfg.DisconnectOnTimeout:
		s.log.Info("connection timed out", logger.Field{Key: "addr", Value: c.Address()})
	default:
		return
	}

	promoted, evictErr := s.pool.Evict(c)
	if evictErr != nil {
		// someone else removed it first
		return
	}

	s.notify(promoted)
}

// Connections returns the active connections in admission order.
func (s *Server) Connections() []*connection.Connection {
	return s.pool.Active()
}

// Waiting returns the connections queued for admission, head first.
func (s *Server) Waiting() []*connection.Connection {
	return s.pool.Waiting()
}

// Connection returns the active connection at addr.
//
// Returns:
//   - The connection, or an error wrapping pool.ErrNotFound
func (s *Server) Connection(addr string) (*connection.Connection, error) {
	c, ok := s.pool.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", pool.ErrNotFound, addr)
	}

	return c, nil
}

// Disconnect closes the active connection at addr, optionally banning its
// host, and admits the next waiting connection. A failed ban is returned
// after the connection was removed and the next one admitted.
func (s *Server) Disconnect(addr string, ban bool) error {
	promoted, err := s.pool.Remove(addr, ban)
	s.notify(promoted)
	return err
}

// Ban refuses future connections from host. Banning a banned host is a no-op.
func (s *Server) Ban(host string) error {
	return s.pool.Ban(host)
}

// BanFor refuses connections from host for ttl.
func (s *Server) BanFor(host string, ttl time.Duration) error {
	return s.pool.BanFor(host, ttl)
}

// Unban lifts a ban. Unbanning a host that is not banned is a no-op.
func (s *Server) Unban(host string) error {
	return s.pool.Unban(host)
}

// Banned returns the banned hosts in lexical order.
func (s *Server) Banned() ([]string, error) {
	return s.pool.Banned()
}

// SetCapacity changes the number of concurrently active clients. Growth
// admits waiting connections at once; shrinking never evicts.
func (s *Server) SetCapacity(n int) error {
	promoted, err := s.pool.SetCapacity(n)
	if err != nil {
		return err
	}

	s.log.Info("capacity changed", logger.Field{Key: "capacity", Value: n})
	s.notify(promoted)
	return nil
}

// Capacity returns the current active bound.
func (s *Server) Capacity() int {
	return s.pool.Capacity()
}
