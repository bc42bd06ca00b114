package banlist

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseBanList(t *testing.T, bans BanList) {
	ctx := context.Background()

	t.Run("ban and lookup", func(t *testing.T) {
		require.NoError(t, bans.Ban(ctx, "10.0.0.1", Permanent))
		banned, err := bans.IsBanned(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, banned)

		banned, err = bans.IsBanned(ctx, "10.0.0.2")
		require.NoError(t, err)
		assert.False(t, banned)
	})

	t.Run("banning twice keeps one entry", func(t *testing.T) {
		require.NoError(t, bans.Ban(ctx, "10.0.0.1", Permanent))
		hosts, err := bans.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.1"}, hosts)
	})

	t.Run("unban unknown host is no-op", func(t *testing.T) {
		require.NoError(t, bans.Unban(ctx, "10.9.9.9"))
		hosts, err := bans.List(ctx)
		require.NoError(t, err)
		assert.Len(t, hosts, 1)
	})

	t.Run("unban removes host", func(t *testing.T) {
		require.NoError(t, bans.Unban(ctx, "10.0.0.1"))
		require.NoError(t, bans.Unban(ctx, "10.0.0.1"))
		banned, err := bans.IsBanned(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, banned)
	})

	t.Run("timed ban expires", func(t *testing.T) {
		require.NoError(t, bans.Ban(ctx, "10.0.0.3", 100*time.Millisecond))
		banned, err := bans.IsBanned(ctx, "10.0.0.3")
		require.NoError(t, err)
		assert.True(t, banned)

		assert.Eventually(t, func() bool {
			banned, err := bans.IsBanned(ctx, "10.0.0.3")
			return err == nil && !banned
		}, 3*time.Second, 20*time.Millisecond)
	})

	t.Run("list returns every host", func(t *testing.T) {
		require.NoError(t, bans.Ban(ctx, "b", Permanent))
		require.NoError(t, bans.Ban(ctx, "a", time.Hour))
		hosts, err := bans.List(ctx)
		require.NoError(t, err)
		sort.Strings(hosts)
		assert.Equal(t, []string{"a", "b"}, hosts)
	})
}

func TestMemoryBanList(t *testing.T) {
	exerciseBanList(t, NewMemoryBanList(time.Minute))
}

func TestBadgerBanList(t *testing.T) {
	bans, err := OpenBadgerBanList("")
	require.NoError(t, err)
	defer bans.Close()

	exerciseBanList(t, bans)
}

func TestBadgerBanList_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	bans, err := OpenBadgerBanList(dir)
	require.NoError(t, err)
	require.NoError(t, bans.Ban(ctx, "10.1.1.1", Permanent))
	require.NoError(t, bans.Close())

	bans, err = OpenBadgerBanList(dir)
	require.NoError(t, err)
	defer bans.Close()

	banned, err := bans.IsBanned(ctx, "10.1.1.1")
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestRedisBanList(t *testing.T) {
	addr := os.Getenv("SOCKETNET_REDIS_ADDR")
	if addr == "" {
		t.Skip("SOCKETNET_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	prefix := "socketnet:test:" + time.Now().Format("150405.000000") + ":"
	exerciseBanList(t, NewRedisBanList(client, prefix))

	iter := client.Scan(context.Background(), 0, prefix+"*", 100).Iterator()
	for iter.Next(context.Background()) {
		client.Del(context.Background(), iter.Val())
	}
}
