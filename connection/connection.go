// Package connection wraps one established byte-stream transport together
// with its peer address, optional idle timeout and framing codec. Both the
// server's pool entries and the peer client are built on it.
package connection

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/socketnet/frame"
	"github.com/cyberinferno/socketnet/logger"
)

var (
	// ErrTransportClosed is returned once the peer disconnected, the stream
	// was reset or the connection was closed locally.
	ErrTransportClosed = frame.ErrTransportClosed
	// ErrTimeout is returned when a send or receive exceeds the idle timeout.
	ErrTimeout = errors.New("timeout")
)

// Connection is one transport endpoint. Send and Recv may be called from
// different goroutines at the same time; concurrent calls in the same
// direction are serialized so frames never interleave.
type Connection struct {
	id          uint32
	conn        net.Conn
	address     string
	host        string
	codec       *frame.Codec
	idleTimeout time.Duration
	acceptedAt  time.Time
	log         logger.Logger

	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  atomic.Bool

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// New wraps conn. The Connection takes ownership of conn and closes it on
// Close.
//
// Parameters:
//   - id: Identifier assigned by the owner (server sequence number, 0 for clients)
//   - conn: The established transport
//   - codec: Framing codec used for Send and Recv
//   - idleTimeout: Per-operation deadline; 0 disables it
//   - log: Parent logger; a nil logger discards output
//
// Returns:
//   - The new Connection
func New(id uint32, conn net.Conn, codec *frame.Codec, idleTimeout time.Duration, log logger.Logger) *Connection {
	if log == nil {
		log = logger.NewNopLogger()
	}

	address := conn.RemoteAddr().String()
	return &Connection{
		id:          id,
		conn:        conn,
		address:     address,
		host:        HostOf(address),
		codec:       codec,
		idleTimeout: idleTimeout,
		acceptedAt:  time.Now(),
		log:         log.With(logger.Field{Key: "conn", Value: id}, logger.Field{Key: "addr", Value: address}),
	}
}

// HostOf strips the port from a "host:port" address. Input without a port is
// returned unchanged.
func HostOf(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}

	return host
}

func (c *Connection) ID() uint32 { return c.id }

// Address returns the peer address in "host:port" form. It is the key the
// pool and server use to find the connection.
func (c *Connection) Address() string { return c.address }

// Host returns the peer host, the unit bans apply to.
func (c *Connection) Host() string { return c.host }

func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// LocalAddr is the address of this end of the transport.
func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Connection) IdleTimeout() time.Duration { return c.idleTimeout }

func (c *Connection) AcceptedAt() time.Time { return c.acceptedAt }

// BytesSent returns the number of frame bytes written so far.
func (c *Connection) BytesSent() uint64 { return c.bytesSent.Load() }

// BytesReceived returns the number of frame bytes read so far.
func (c *Connection) BytesReceived() uint64 { return c.bytesReceived.Load() }

// Send frames msg and writes it to the peer.
//
// Parameters:
//   - msg: A []byte (sent verbatim) or a value for the selected encoder
//   - opts: Encoder, compression and transmission type
//
// Returns:
//   - nil on success
//   - frame.ErrEncoding if msg could not be framed (nothing was written)
//   - ErrTimeout or ErrTransportClosed on I/O failure
func (c *Connection) Send(msg any, opts frame.SendOptions) error {
	if c.closed.Load() {
		return ErrTransportClosed
	}

	data, err := c.codec.Encode(msg, opts)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return c.classify(err, false)
	}

	n, err := c.conn.Write(data)
	c.bytesSent.Add(uint64(n))
	if err != nil {
		return c.classify(err, n > 0)
	}

	return nil
}

// Recv blocks until one full frame arrives, the idle timeout expires or the
// connection is closed.
//
// Returns:
//   - The received message
//   - ErrTimeout, ErrTransportClosed or frame.ErrDecoding on failure
func (c *Connection) Recv() (*frame.Message, error) {
	if c.closed.Load() {
		return nil, ErrTransportClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.conn.SetReadDeadline(c.deadline()); err != nil {
		return nil, c.classify(err, false)
	}

	cr := &countingReader{r: c.conn}
	msg, err := c.codec.ReadFrame(cr)
	c.bytesReceived.Add(uint64(cr.n))
	if err != nil {
		return nil, c.classify(err, cr.n > 0)
	}

	return msg, nil
}

// Close closes the transport. A Send or Recv blocked on it returns
// ErrTransportClosed. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.log.Debug("connection closed",
		logger.Field{Key: "sent", Value: c.bytesSent.Load()},
		logger.Field{Key: "received", Value: c.bytesReceived.Load()})
	return c.conn.Close()
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

func (c *Connection) deadline() time.Time {
	if c.idleTimeout <= 0 {
		return time.Time{}
	}

	return time.Now().Add(c.idleTimeout)
}

// classify maps transport errors onto ErrTimeout and ErrTransportClosed. A
// timeout that struck after part of a frame moved has desynchronized the
// stream and is reported as ErrTransportClosed instead.
func (c *Connection) classify(err error, partial bool) error {
	switch {
	case errors.Is(err, frame.ErrEncoding), errors.Is(err, frame.ErrDecoding), errors.Is(err, ErrTransportClosed):
		return err
	case isNetTimeout(err):
		if partial {
			return fmt.Errorf("%w: timed out mid-frame: %w", ErrTransportClosed, err)
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		// resets, broken pipes and locally closed sockets alike
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
}

// IsTimeout reports whether err is a timeout that left the connection usable.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTransportClosed reports whether err leaves the connection unusable.
// Malformed frames count, since the stream position is lost.
func IsTransportClosed(err error) bool {
	return errors.Is(err, ErrTransportClosed) || errors.Is(err, frame.ErrDecoding)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type countingReader struct {
	r io.Reader
	n int
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += n
	return n, err
}
