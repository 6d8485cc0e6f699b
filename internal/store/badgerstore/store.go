// Package badgerstore is the default store.Store backend: a raw BadgerDB
// key/value database, grounded on internal/storage/badger/manager.go and
// internal/storage/badger/connection.go from the teacher application (same
// NewManager-wraps-a-database shape, same fmt.Errorf wrapping of Badger
// errors, same ResetOnStartup knob as BadgerConfig.ResetOnStartup).
package badgerstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/compmake/engine/internal/store"
)

// Store implements store.Store directly on top of *badger.DB — every
// namespace:job_id key the engine writes (spec section 4.1) is a single
// Badger key, so Batch maps onto a single badger.Txn with no translation
// layer in between.
type Store struct {
	db     *badger.DB
	logger arbor.ILogger
}

// Options configures Open.
type Options struct {
	Path           string
	ResetOnStartup bool
	Logger         arbor.ILogger
}

// Open creates or opens a Badger database at opts.Path.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = arbor.NewLogger()
	}

	if opts.ResetOnStartup {
		if err := os.RemoveAll(opts.Path); err != nil {
			return nil, fmt.Errorf("badgerstore: reset on startup: %w", err)
		}
	}

	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", opts.Path, err)
	}

	logger.Info().Str("path", opts.Path).Msg("badger store opened")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badgerstore: has %s: %w", key, err)
	}
	return found, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("badgerstore: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("badgerstore: delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key matching pattern ('*' wildcard anywhere).
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	matcher := globToMatcher(pattern)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().KeyCopy(nil))
			if matcher(k) {
				out = append(out, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: keys: %w", err)
	}
	return out, nil
}

func (s *Store) Batch(ctx context.Context, fn func(store.Batch) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&batch{txn: txn}); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("badgerstore: commit batch: %w", err)
	}
	return nil
}

// batch stages writes against one badger.Txn, giving the engine the single
// logical transaction spec sections 4.3 and 4.8 require.
type batch struct {
	txn *badger.Txn
}

func (b *batch) Set(key string, value []byte) error {
	if err := b.txn.Set([]byte(key), value); err != nil {
		return fmt.Errorf("badgerstore: batch set %s: %w", key, err)
	}
	return nil
}

func (b *batch) Delete(key string) error {
	err := b.txn.Delete([]byte(key))
	if err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("badgerstore: batch delete %s: %w", key, err)
	}
	return nil
}

func (b *batch) Get(key string) ([]byte, error) {
	item, err := b.txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: batch get %s: %w", key, err)
	}
	var value []byte
	err = item.Value(func(v []byte) error {
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

// globToMatcher compiles a '*'-wildcard pattern into a matcher function;
// the grammar only ever needs a single leading or trailing '*' in practice
// (namespace prefix matches), but this handles an arbitrary number of stars.
func globToMatcher(pattern string) func(string) bool {
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }
	}
	parts := strings.Split(pattern, "*")
	anchoredStart := !strings.HasPrefix(pattern, "*")
	anchoredEnd := !strings.HasSuffix(pattern, "*")
	return func(s string) bool {
		rest := s
		for i, p := range parts {
			if p == "" {
				continue
			}
			idx := strings.Index(rest, p)
			if idx < 0 {
				return false
			}
			if i == 0 && anchoredStart && idx != 0 {
				return false
			}
			rest = rest[idx+len(p):]
		}
		if anchoredEnd {
			last := parts[len(parts)-1]
			return strings.HasSuffix(s, last)
		}
		return true
	}
}
