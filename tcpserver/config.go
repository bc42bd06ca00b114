package tcpserver

import (
	"time"

	"github.com/cyberinferno/socketnet/banlist"
	"github.com/cyberinferno/socketnet/encoder"
)

// Config holds configuration for a Server.
type Config struct {
	// Name labels log entries.
	Name string
	// Addr is the "host:port" to listen on.
	Addr string
	// Capacity is the maximum number of concurrently active clients.
	Capacity int
	// Backlog bounds how many accepted connections may wait for a slot;
	// further connections are closed right after accept. 0 means unbounded.
	Backlog int
	// MaxHeaderBytes caps a single frame header.
	MaxHeaderBytes uint32
	// MaxBodyBytes caps a single frame body.
	MaxBodyBytes uint64
	// DisconnectOnTimeout removes a connection whose send or receive timed out.
	DisconnectOnTimeout bool
	// IdleTimeout is the per-operation deadline of every connection; 0 disables it.
	IdleTimeout time.Duration
	// StartPaused makes Serve start in Paused instead of Accepting.
	StartPaused bool
	// PausePollInterval is how often a paused accept loop re-checks its state.
	PausePollInterval time.Duration
	// AcceptErrorBackoff is the pause after a failed Accept.
	AcceptErrorBackoff time.Duration
	// Bans is the ban-list; nil selects an in-memory list.
	Bans banlist.BanList
	// Registry resolves encoder names; nil selects encoder.Default.
	Registry *encoder.Registry
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - addr: The "host:port" to listen on
//
// Returns:
//   - A Config with defaults: Capacity 4, Backlog 16, MaxHeaderBytes 256,
//     MaxBodyBytes 64 MiB, no idle timeout, not paused,
//     PausePollInterval 100ms, AcceptErrorBackoff 50ms.
func DefaultConfig(addr string) Config {
	return Config{
		Name:               "socketnet",
		Addr:               addr,
		Capacity:           4,
		Backlog:            16,
		MaxHeaderBytes:     256,
		MaxBodyBytes:       64 * 1024 * 1024,
		PausePollInterval:  100 * time.Millisecond,
		AcceptErrorBackoff: 50 * time.Millisecond,
	}
}
