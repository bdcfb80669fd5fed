package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is a small encrypted-at-rest KV wrapper (Badger).
// Note: encryption is provided by Badger options (value log + key registry), not by this wrapper.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; if nil, DB is opened without encryption (not recommended)
	ReadOnly      bool
	InMemory      bool // tests only; Path is ignored
}

var errNotOpened = errors.New("secretstore: not opened")

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	path := opts.Path
	if opts.InMemory {
		path = ""
	}
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly).
		WithInMemory(opts.InMemory)
	if len(opts.EncryptionKey) > 0 {
		if len(opts.EncryptionKey) != 32 {
			return nil, fmt.Errorf("secretstore: encryption key must be 32 bytes, got %d", len(opts.EncryptionKey))
		}
		// Badger requires an index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20) // 100MB
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open %s: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func normalizeKey(key string) ([]byte, error) {
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return nil, errors.New("secretstore: key is empty")
	}
	return k, nil
}

// GetBytes returns a copy of the value. found is false when the key is absent.
func (s *Store) GetBytes(key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	var (
		out   []byte
		found bool
	)
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

func (s *Store) SetBytes(key string, val []byte) error {
	if s == nil || s.db == nil {
		return errNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	v := append([]byte(nil), val...)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (s *Store) GetString(key string) (string, bool, error) {
	b, found, err := s.GetBytes(key)
	if err != nil || !found {
		return "", found, err
	}
	return string(b), true, nil
}

func (s *Store) SetString(key string, val string) error {
	return s.SetBytes(key, []byte(val))
}

// Delete removes key; deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if s == nil || s.db == nil {
		return errNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// ListKeys returns the sorted keys that start with prefix.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errNotOpened
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// ParseKey expects 32 bytes (hex, optionally 0x-prefixed, or base64). Returns nil if input is empty.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	// hex first: a 64-char hex string is also valid base64
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
