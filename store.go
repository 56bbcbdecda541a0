package tracker

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by KVStore.Get for a missing key.
var ErrNotFound = errors.New("store: not found")

// KVStore is a synchronous string-keyed byte store.
type KVStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// KeyLister is implemented by stores that can enumerate keys.
type KeyLister interface {
	Keys(prefix string) ([]string, error)
}

// MemoryStore is a KVStore kept in process memory.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	s.m[key] = bytes.Clone(value)
	s.mu.Unlock()
	return nil
}

// Remove deletes key. Missing keys are not an error.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// Keys lists keys starting with prefix.
func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// BoltStore is a KVStore persisted in a bbolt database file.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBoltStore opens or creates the database at path. An empty bucket
// name uses "covid-tracker".
func OpenBoltStore(path, bucket string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = "covid-tracker"
	}
	name := []byte(bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, bucket: name}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value for key, or ErrNotFound.
func (s *BoltStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

// Set writes value in its own transaction.
func (s *BoltStore) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

// Remove deletes key. Missing keys are not an error.
func (s *BoltStore) Remove(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Keys lists keys starting with prefix in byte order.
func (s *BoltStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// SafeStore namespaces keys under a prefix and never returns engine
// errors: reads report a miss and writes report false, with the failure
// logged.
type SafeStore struct {
	kv     KVStore
	prefix string
	logger Logger
}

// NewSafeStore wraps kv. Keys are stored as prefix + ":" + key; an empty
// prefix stores keys unchanged.
func NewSafeStore(kv KVStore, prefix string, logger Logger) *SafeStore {
	return &SafeStore{kv: kv, prefix: prefix, logger: loggerOrNop(logger)}
}

func (s *SafeStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get returns the raw value, or false on a miss or any failure.
func (s *SafeStore) Get(key string) ([]byte, bool) {
	v, err := s.kv.Get(s.key(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Storage read failed", "key", s.key(key), "error", err)
		}
		return nil, false
	}
	return v, true
}

// Set stores the raw value and reports success.
func (s *SafeStore) Set(key string, value []byte) bool {
	if err := s.kv.Set(s.key(key), value); err != nil {
		s.logger.Warn("Storage write failed", "key", s.key(key), "error", err)
		return false
	}
	return true
}

// Remove deletes key and reports success.
func (s *SafeStore) Remove(key string) bool {
	if err := s.kv.Remove(s.key(key)); err != nil {
		s.logger.Warn("Storage remove failed", "key", s.key(key), "error", err)
		return false
	}
	return true
}

// GetJSON decodes the stored JSON into v. Undecodable values count as a
// miss.
func (s *SafeStore) GetJSON(key string, v any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("Stored value is not valid JSON", "key", s.key(key), "error", err)
		return false
	}
	return true
}

// SetJSON stores v encoded as JSON.
func (s *SafeStore) SetJSON(key string, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("Value not encodable", "key", s.key(key), "error", err)
		return false
	}
	return s.Set(key, raw)
}

// Clear removes every key under this store's prefix and returns how many
// were removed. It needs an engine implementing KeyLister.
func (s *SafeStore) Clear() int {
	lister, ok := s.kv.(KeyLister)
	if !ok {
		return 0
	}
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + ":"
	}
	keys, err := lister.Keys(prefix)
	if err != nil {
		s.logger.Warn("Storage list failed", "prefix", prefix, "error", err)
		return 0
	}
	n := 0
	for _, k := range keys {
		if err := s.kv.Remove(k); err == nil {
			n++
		}
	}
	return n
}

// Prefix returns the namespace prefix.
func (s *SafeStore) Prefix() string {
	return s.prefix
}
