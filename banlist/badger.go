package banlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var badgerPrefix = []byte("ban/")

// BadgerBanList persists bans in an embedded Badger database so they survive
// restarts of a single server. Expiry has one-second resolution and a timed
// ban lasts at least its ttl.
type BadgerBanList struct {
	db *badger.DB
}

// OpenBadgerBanList opens (or creates) the ban database in dir. An empty dir
// keeps the database in memory.
func OpenBadgerBanList(dir string) (*BadgerBanList, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ban database: %w", err)
	}

	return &BadgerBanList{db: db}, nil
}

// Close releases the database.
func (b *BadgerBanList) Close() error {
	return b.db.Close()
}

func badgerKey(host string) []byte {
	return append(append([]byte{}, badgerPrefix...), host...)
}

func (b *BadgerBanList) Ban(_ context.Context, host string, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(badgerKey(host), nil)
		if ttl > 0 {
			entry.ExpiresAt = uint64(time.Now().Add(ttl).Unix()) + 1
		}

		return txn.SetEntry(entry)
	})
}

func (b *BadgerBanList) Unban(_ context.Context, host string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(host))
	})
}

func (b *BadgerBanList) IsBanned(_ context.Context, host string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(host))
		return err
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("badger lookup %s: %w", host, err)
	}
}

func (b *BadgerBanList) List(_ context.Context) ([]string, error) {
	var hosts []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			hosts = append(hosts, string(key[len(badgerPrefix):]))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}

	if hosts == nil {
		hosts = []string{}
	}

	return hosts, nil
}
