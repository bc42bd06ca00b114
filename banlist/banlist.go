// Package banlist stores the peer hosts a server refuses at accept time.
// The in-memory store serves a single process; the Redis store lets several
// servers share one ban-list.
package banlist

import (
	"context"
	"time"
)

// Permanent is the ttl for bans that never expire.
const Permanent time.Duration = 0

// BanList is a set of banned hosts. Ban and Unban are idempotent: banning a
// banned host refreshes its ttl and unbanning an unknown host is a no-op.
// Implementations must be safe for concurrent use.
type BanList interface {
	// Ban adds host to the list.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - host: The peer host, without port
	//   - ttl: How long the ban lasts; Permanent for no expiry
	Ban(ctx context.Context, host string, ttl time.Duration) error

	// Unban removes host from the list.
	Unban(ctx context.Context, host string) error

	// IsBanned reports whether host is currently banned.
	IsBanned(ctx context.Context, host string) (bool, error)

	// List returns the banned hosts in no particular order.
	List(ctx context.Context) ([]string, error)
}
