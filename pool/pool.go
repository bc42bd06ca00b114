// Package pool implements admission control for accepted connections: a
// bounded set of active connections, a FIFO queue of connections waiting
// for a slot, and a ban-list consulted before anything is queued.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cyberinferno/socketnet/banlist"
	"github.com/cyberinferno/socketnet/connection"
	"github.com/cyberinferno/socketnet/logger"
)

var (
	// ErrNotFound is returned when no active connection has the address.
	ErrNotFound = errors.New("connection not found")
	// ErrBanned is returned by Offer for a connection from a banned host.
	ErrBanned = errors.New("host is banned")
	// ErrDuplicate is returned by Offer when the address is already pooled.
	ErrDuplicate = errors.New("address already pooled")
	// ErrQueueFull is returned by Offer when the waiting queue is at its bound.
	ErrQueueFull = errors.New("waiting queue full")
	// ErrInvalidCapacity is returned for a negative capacity.
	ErrInvalidCapacity = errors.New("invalid capacity")
)

// banLookupTimeout bounds every ban-list call.
const banLookupTimeout = 2 * time.Second

// Options configures a Pool.
type Options struct {
	// Capacity is the maximum number of active connections.
	Capacity int
	// MaxWaiting bounds the waiting queue; 0 means unbounded.
	MaxWaiting int
	// Bans is the ban-list; nil selects an in-memory list.
	Bans banlist.BanList
	// Logger receives admission events; nil discards them.
	Logger logger.Logger
}

// Pool holds the active and waiting connections. Every method is safe for
// concurrent use; all state changes happen under one mutex and promotion
// always runs before that mutex is released, so no observer ever sees free
// capacity next to a non-empty queue. Ban-list calls may do network or disk
// I/O and are made without holding the mutex.
type Pool struct {
	mu         sync.Mutex
	capacity   int
	maxWaiting int
	active     []*connection.Connection
	waiting    []*connection.Connection
	bans       banlist.BanList
	log        logger.Logger
}

// New creates a Pool.
//
// Returns:
//   - The new Pool, or ErrInvalidCapacity if opts.Capacity is negative
func New(opts Options) (*Pool, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, opts.Capacity)
	}

	if opts.Bans == nil {
		opts.Bans = banlist.NewMemoryBanList(time.Minute)
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	return &Pool{
		capacity:   opts.Capacity,
		maxWaiting: opts.MaxWaiting,
		bans:       opts.Bans,
		log:        opts.Logger,
	}, nil
}

// Offer queues c for admission and promotes as many waiting connections as
// capacity allows. A connection that is refused is closed.
//
// Parameters:
//   - c: A freshly accepted connection
//
// Returns:
//   - The connections promoted by this call, in admission order
//   - ErrBanned, ErrDuplicate or ErrQueueFull if c was refused
func (p *Pool) Offer(c *connection.Connection) ([]*connection.Connection, error) {
	if p.IsBanned(c.Host()) {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s", ErrBanned, c.Host())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if indexOf(p.active, c.Address()) >= 0 || indexOf(p.waiting, c.Address()) >= 0 {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, c.Address())
	}

	if p.maxWaiting > 0 && len(p.active) >= p.capacity && len(p.waiting) >= p.maxWaiting {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %d waiting", ErrQueueFull, len(p.waiting))
	}

	p.waiting = append(p.waiting, c)
	return p.promoteLocked(), nil
}

// Promote moves waiting connections to active in FIFO order while there is
// room. Every mutating method already promotes, so callers only need this
// after changing state outside the pool.
func (p *Pool) Promote() []*connection.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.promoteLocked()
}

// Remove closes the active connection at addr, drops it from the pool and
// promotes waiting connections into the freed slot. Close errors are
// ignored.
//
// Parameters:
//   - addr: The connection address ("host:port")
//   - ban: Also ban the connection's host
//
// Returns:
//   - The connections promoted by this call
//   - ErrNotFound if addr is not active
//   - The ban-list error if the ban failed; the connection is removed and
//     the promoted connections are returned all the same
func (p *Pool) Remove(addr string, ban bool) ([]*connection.Connection, error) {
	p.mu.Lock()
	i := indexOf(p.active, addr)
	if i < 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	c := p.active[i]
	_ = c.Close()
	p.active = append(p.active[:i], p.active[i+1:]...)
	p.log.Info("connection removed", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "ban", Value: ban})
	promoted := p.promoteLocked()
	p.mu.Unlock()

	if ban {
		if err := p.BanFor(c.Host(), banlist.Permanent); err != nil {
			return promoted, fmt.Errorf("removed %s but ban failed: %w", addr, err)
		}
	}

	return promoted, nil
}

// Evict removes c if it is still active. Unlike Remove it matches on
// identity, so a stale reference never drops a newer connection that reused
// the same address.
//
// Returns:
//   - The connections promoted by this call
//   - ErrNotFound if c is no longer active
func (p *Pool) Evict(c *connection.Connection) ([]*connection.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, active := range p.active {
		if active != c {
			continue
		}

		_ = c.Close()
		p.active = append(p.active[:i], p.active[i+1:]...)
		p.log.Info("connection evicted", logger.Field{Key: "addr", Value: c.Address()})
		return p.promoteLocked(), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, c.Address())
}

// Discard closes and drops a connection that is still waiting. It reports
// whether addr was found in the queue.
func (p *Pool) Discard(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := indexOf(p.waiting, addr)
	if i < 0 {
		return false
	}

	_ = p.waiting[i].Close()
	p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
	return true
}

// Ban permanently bans host. Existing connections from host are left alone;
// use Remove with ban set to also drop one.
func (p *Pool) Ban(host string) error {
	return p.BanFor(host, banlist.Permanent)
}

// BanFor bans host for ttl. Banning an already banned host only refreshes
// the ttl.
func (p *Pool) BanFor(host string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), banLookupTimeout)
	defer cancel()

	if err := p.bans.Ban(ctx, host, ttl); err != nil {
		p.log.Error("ban failed", logger.Field{Key: "host", Value: host}, logger.Err(err))
		return err
	}

	p.log.Info("host banned", logger.Field{Key: "host", Value: host}, logger.Field{Key: "ttl", Value: ttl.String()})
	return nil
}

// Unban lifts a ban. Unbanning a host that is not banned is a no-op.
func (p *Pool) Unban(host string) error {
	ctx, cancel := context.WithTimeout(context.Background(), banLookupTimeout)
	defer cancel()

	if err := p.bans.Unban(ctx, host); err != nil {
		return err
	}

	p.log.Info("host unbanned", logger.Field{Key: "host", Value: host})
	return nil
}

// IsBanned reports whether host is banned. Lookup failures count as not
// banned.
func (p *Pool) IsBanned(host string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), banLookupTimeout)
	defer cancel()

	banned, err := p.bans.IsBanned(ctx, host)
	if err != nil {
		p.log.Warn("ban lookup failed", logger.Field{Key: "host", Value: host}, logger.Err(err))
		return false
	}

	return banned
}

// Banned returns the banned hosts in lexical order.
func (p *Pool) Banned() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), banLookupTimeout)
	defer cancel()

	hosts, err := p.bans.List(ctx)
	if err != nil {
		return nil, err
	}

	sort.Strings(hosts)
	return hosts, nil
}

// SetCapacity changes the active bound. Growing promotes immediately;
// shrinking never evicts and only stops promotion until enough active
// connections leave.
//
// Returns:
//   - The connections promoted by this call
//   - ErrInvalidCapacity if n is negative
func (p *Pool) SetCapacity(n int) ([]*connection.Connection, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.capacity = n
	return p.promoteLocked(), nil
}

func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.capacity
}

// Get returns the active connection at addr.
func (p *Pool) Get(addr string) (*connection.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := indexOf(p.active, addr)
	if i < 0 {
		return nil, false
	}

	return p.active[i], true
}

// Active returns a snapshot of the active connections in admission order.
func (p *Pool) Active() []*connection.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*connection.Connection(nil), p.active...)
}

// Waiting returns a snapshot of the waiting queue, head first.
func (p *Pool) Waiting() []*connection.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*connection.Connection(nil), p.waiting...)
}

// Len returns the number of active and waiting connections.
func (p *Pool) Len() (active int, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.active), len(p.waiting)
}

// CloseAll closes and drops every pooled connection.
//
// Returns:
//   - The number of connections closed
func (p *Pool) CloseAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, list := range [][]*connection.Connection{p.active, p.waiting} {
		for _, c := range list {
			_ = c.Close()
			n++
		}
	}

	p.active = nil
	p.waiting = nil
	return n
}

// promoteLocked must be called with p.mu held.
func (p *Pool) promoteLocked() []*connection.Connection {
	var promoted []*connection.Connection
	for len(p.active) < p.capacity && len(p.waiting) > 0 {
		c := p.waiting[0]
		p.waiting[0] = nil
		p.waiting = p.waiting[1:]
		p.active = append(p.active, c)
		promoted = append(promoted, c)

		p.log.Info("connection admitted",
			logger.Field{Key: "addr", Value: c.Address()},
			logger.Field{Key: "active", Value: len(p.active)},
			logger.Field{Key: "waiting", Value: len(p.waiting)})
	}

	return promoted
}

func indexOf(list []*connection.Connection, addr string) int {
	for i, c := range list {
		if c.Address() == addr {
			return i
		}
	}

	return -1
}
