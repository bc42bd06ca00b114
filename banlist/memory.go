package banlist

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryBanList keeps bans in process memory. Expired timed bans are purged
// every cleanupInterval and are never reported as banned in between.
type MemoryBanList struct {
	cache *cache.Cache
}

// NewMemoryBanList creates an empty in-memory ban-list.
//
// Parameters:
//   - cleanupInterval: How often expired bans are dropped from memory
//
// Returns:
//   - A new MemoryBanList
func NewMemoryBanList(cleanupInterval time.Duration) *MemoryBanList {
	return &MemoryBanList{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

func (m *MemoryBanList) Ban(_ context.Context, host string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	m.cache.Set(host, struct{}{}, ttl)
	return nil
}

func (m *MemoryBanList) Unban(_ context.Context, host string) error {
	m.cache.Delete(host)
	return nil
}

func (m *MemoryBanList) IsBanned(_ context.Context, host string) (bool, error) {
	_, found := m.cache.Get(host)
	return found, nil
}

func (m *MemoryBanList) List(_ context.Context) ([]string, error) {
	items := m.cache.Items()
	hosts := make([]string, 0, len(items))
	for host := range items {
		hosts = append(hosts, host)
	}

	return hosts, nil
}
