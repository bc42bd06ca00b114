// Package config loads socketnet settings from a TOML file. Keys absent
// from the file keep the component defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cyberinferno/socketnet/banlist"
	"github.com/cyberinferno/socketnet/logger"
	"github.com/cyberinferno/socketnet/tcpclient"
	"github.com/cyberinferno/socketnet/tcpserver"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// ErrUnknownBackend is returned for a [bans] backend other than memory,
// redis or badger.
var ErrUnknownBackend = errors.New("unknown ban-list backend")

// Bans selects and seeds the ban-list.
type Bans struct {
	Backend         string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	CleanupInterval time.Duration
	// BadgerDir holds the badger database; empty keeps it in memory.
	BadgerDir string
	// Hosts are banned permanently when the ban-list is built.
	Hosts []string
}

// Log configures the process logger.
type Log struct {
	Level zerolog.Level
	// Dir enables daily-rotated log files; empty logs to stdout only.
	Dir     string
	Service string
}

// Config is the fully resolved configuration.
type Config struct {
	Server tcpserver.Config
	Client tcpclient.Config
	Bans   Bans
	Log    Log
}

type fileConfig struct {
	Server struct {
		Name                string `toml:"name"`
		Addr                string `toml:"addr"`
		Capacity            int    `toml:"capacity"`
		Backlog             int    `toml:"backlog"`
		MaxHeaderBytes      uint32 `toml:"max_header_bytes"`
		MaxBodyBytes        uint64 `toml:"max_body_bytes"`
		DisconnectOnTimeout bool   `toml:"disconnect_on_timeout"`
		IdleTimeout         string `toml:"idle_timeout"`
		StartPaused         bool   `toml:"start_paused"`
		PausePollInterval   string `toml:"pause_poll_interval"`
		AcceptErrorBackoff  string `toml:"accept_error_backoff"`
	} `toml:"server"`
	Client struct {
		Addr           string `toml:"addr"`
		IdleTimeout    string `toml:"idle_timeout"`
		DialTimeout    string `toml:"dial_timeout"`
		MaxHeaderBytes uint32 `toml:"max_header_bytes"`
		MaxBodyBytes   uint64 `toml:"max_body_bytes"`
	} `toml:"client"`
	Bans struct {
		Backend         string   `toml:"backend"`
		RedisAddr       string   `toml:"redis_addr"`
		RedisPassword   string   `toml:"redis_password"`
		RedisDB         int      `toml:"redis_db"`
		RedisPrefix     string   `toml:"redis_prefix"`
		CleanupInterval string   `toml:"cleanup_interval"`
		BadgerDir       string   `toml:"badger_dir"`
		Hosts           []string `toml:"hosts"`
	} `toml:"bans"`
	Log struct {
		Level   string `toml:"level"`
		Dir     string `toml:"dir"`
		Service string `toml:"service"`
	} `toml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: tcpserver.DefaultConfig("127.0.0.1:7000"),
		Client: tcpclient.DefaultConfig("127.0.0.1:7000"),
		Bans: Bans{
			Backend:         BackendMemory,
			RedisAddr:       "127.0.0.1:6379",
			RedisPrefix:     banlist.DefaultRedisPrefix,
			CleanupInterval: time.Minute,
		},
		Log: Log{
			Level:   zerolog.InfoLevel,
			Service: "socketnet",
		},
	}
}

// Load reads the TOML file at path on top of Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	return apply(raw, meta)
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return apply(raw, meta)
}

func apply(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	srv := raw.Server
	if meta.IsDefined("server", "name") {
		cfg.Server.Name = strings.TrimSpace(srv.Name)
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(srv.Addr)
	}

	if meta.IsDefined("server", "capacity") {
		cfg.Server.Capacity = srv.Capacity
	}

	if meta.IsDefined("server", "backlog") {
		cfg.Server.Backlog = srv.Backlog
	}

	if meta.IsDefined("server", "max_header_bytes") {
		cfg.Server.MaxHeaderBytes = srv.MaxHeaderBytes
	}

	if meta.IsDefined("server", "max_body_bytes") {
		cfg.Server.MaxBodyBytes = srv.MaxBodyBytes
	}

	if meta.IsDefined("server", "disconnect_on_timeout") {
		cfg.Server.DisconnectOnTimeout = srv.DisconnectOnTimeout
	}

	if meta.IsDefined("server", "start_paused") {
		cfg.Server.StartPaused = srv.StartPaused
	}

	durations := []struct {
		key  []string
		raw  string
		dest *time.Duration
	}{
		{[]string{"server", "idle_timeout"}, srv.IdleTimeout, &cfg.Server.IdleTimeout},
		{[]string{"server", "pause_poll_interval"}, srv.PausePollInterval, &cfg.Server.PausePollInterval},
		{[]string{"server", "accept_error_backoff"}, srv.AcceptErrorBackoff, &cfg.Server.AcceptErrorBackoff},
		{[]string{"client", "idle_timeout"}, raw.Client.IdleTimeout, &cfg.Client.IdleTimeout},
		{[]string{"client", "dial_timeout"}, raw.Client.DialTimeout, &cfg.Client.DialTimeout},
		{[]string{"bans", "cleanup_interval"}, raw.Bans.CleanupInterval, &cfg.Bans.CleanupInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}

		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dest = v
	}

	if meta.IsDefined("client", "addr") {
		cfg.Client.Address = strings.TrimSpace(raw.Client.Addr)
	}

	if meta.IsDefined("client", "max_header_bytes") {
		cfg.Client.MaxHeaderBytes = raw.Client.MaxHeaderBytes
	}

	if meta.IsDefined("client", "max_body_bytes") {
		cfg.Client.MaxBodyBytes = raw.Client.MaxBodyBytes
	}

	bans := raw.Bans
	if meta.IsDefined("bans", "backend") {
		cfg.Bans.Backend = strings.ToLower(strings.TrimSpace(bans.Backend))
		switch cfg.Bans.Backend {
		case BackendMemory, BackendRedis, BackendBadger:
		default:
			return Config{}, fmt.Errorf("%w: %q", ErrUnknownBackend, bans.Backend)
		}
	}

	if meta.IsDefined("bans", "redis_addr") {
		cfg.Bans.RedisAddr = strings.TrimSpace(bans.RedisAddr)
	}

	if meta.IsDefined("bans", "redis_password") {
		cfg.Bans.RedisPassword = bans.RedisPassword
	}

	if meta.IsDefined("bans", "redis_db") {
		cfg.Bans.RedisDB = bans.RedisDB
	}

	if meta.IsDefined("bans", "redis_prefix") {
		cfg.Bans.RedisPrefix = bans.RedisPrefix
	}

	if meta.IsDefined("bans", "badger_dir") {
		cfg.Bans.BadgerDir = strings.TrimSpace(bans.BadgerDir)
	}

	if meta.IsDefined("bans", "hosts") {
		cfg.Bans.Hosts = normalizeHosts(bans.Hosts)
	}

	if meta.IsDefined("log", "level") {
		level, ok := logger.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, fmt.Errorf("parse log.level: unknown level %q", raw.Log.Level)
		}
		cfg.Log.Level = level
	}

	if meta.IsDefined("log", "dir") {
		cfg.Log.Dir = strings.TrimSpace(raw.Log.Dir)
	}

	if meta.IsDefined("log", "service") {
		cfg.Log.Service = strings.TrimSpace(raw.Log.Service)
	}

	return cfg, nil
}

func normalizeHosts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, host := range in {
		v := strings.TrimSpace(host)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// NewLogger builds the logger described by the [log] section.
func (c Config) NewLogger() (logger.Logger, error) {
	if c.Log.Dir == "" {
		return logger.NewZerologLogger(zerolog.New(os.Stdout), c.Log.Service, c.Log.Level), nil
	}

	return logger.NewZerologFileLogger(c.Log.Service, c.Log.Dir, c.Log.Level)
}

// NewBanList builds the ban-list described by the [bans] section and bans
// every configured host. The returned close function releases the Redis
// client or the badger database, if any.
func (c Config) NewBanList(ctx context.Context) (banlist.BanList, func() error, error) {
	var (
		bans    banlist.BanList
		closeFn = func() error { return nil }
	)

	switch c.Bans.Backend {
	case BackendMemory, "":
		bans = banlist.NewMemoryBanList(c.Bans.CleanupInterval)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Bans.RedisAddr,
			Password: c.Bans.RedisPassword,
			DB:       c.Bans.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis %s: %w", c.Bans.RedisAddr, err)
		}

		bans = banlist.NewRedisBanList(client, c.Bans.RedisPrefix)
		closeFn = client.Close
	case BackendBadger:
		db, err := banlist.OpenBadgerBanList(c.Bans.BadgerDir)
		if err != nil {
			return nil, nil, err
		}

		bans = db
		closeFn = db.Close
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Bans.Backend)
	}

	for _, host := range c.Bans.Hosts {
		if err := bans.Ban(ctx, host, banlist.Permanent); err != nil {
			_ = closeFn()
			return nil, nil, fmt.Errorf("ban %s: %w", host, err)
		}
	}

	return bans, closeFn, nil
}
