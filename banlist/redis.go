package banlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces ban keys when no prefix is configured.
const DefaultRedisPrefix = "socketnet:ban:"

// redisBanList stores one key per banned host so each ban carries its own
// expiry.
type redisBanList struct {
	client *redis.Client
	prefix string
}

// NewRedisBanList creates a ban-list backed by Redis.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	bans := NewRedisBanList(client, "")
func NewRedisBanList(client *redis.Client, prefix string) BanList {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &redisBanList{client: client, prefix: prefix}
}

func (r *redisBanList) key(host string) string {
	return r.prefix + host
}

func (r *redisBanList) Ban(ctx context.Context, host string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = Permanent
	}

	if err := r.client.Set(ctx, r.key(host), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis ban %s: %w", host, err)
	}

	return nil
}

func (r *redisBanList) Unban(ctx context.Context, host string) error {
	if err := r.client.Del(ctx, r.key(host)).Err(); err != nil {
		return fmt.Errorf("redis unban %s: %w", host, err)
	}

	return nil
}

func (r *redisBanList) IsBanned(ctx context.Context, host string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(host)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis ban lookup %s: %w", host, err)
	}

	return n > 0, nil
}

func (r *redisBanList) List(ctx context.Context) ([]string, error) {
	var hosts []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		hosts = append(hosts, strings.TrimPrefix(iter.Val(), r.prefix))
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis ban scan: %w", err)
	}

	return hosts, nil
}
