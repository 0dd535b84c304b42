package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Provider is an interface for a decision cache backend.
// It maps cache keys to boolean authorization decisions with an expiry.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the cached decision for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// If the cache entry has expired, the boolean should be false.
	Get(key string) (bool, bool)
	// Put stores the given decision in the cache under the given key,
	// expiring after the given TTL.
	// A zero or negative TTL is equivalent to Remove.
	Put(key string, value bool, ttl time.Duration)
	// PutDefault stores the given decision using the provider's
	// configured default TTL.
	PutDefault(key string, value bool)
	// Remove deletes the cache entry for the given key.
	// Removing a missing key is a no-op.
	Remove(key string)
}

type entry struct {
	value   bool
	expires time.Time
}

// MemCache is an unbounded in-memory provider.
// It is the reference implementation used in tests.
type MemCache struct {
	mutex      *sync.RWMutex
	db         map[string]entry
	defaultTTL time.Duration
}

func NewMemCache(defaultTTL time.Duration) MemCache {
	return MemCache{
		mutex:      &sync.RWMutex{},
		db:         make(map[string]entry),
		defaultTTL: defaultTTL,
	}
}

func (m MemCache) Get(key string) (bool, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	e, ok := m.db[key]
	if !ok || time.Now().After(e.expires) {
		return false, false
	}
	return e.value, true
}

func (m MemCache) Put(key string, value bool, ttl time.Duration) {
	if ttl <= 0 {
		m.Remove(key)
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = entry{value, time.Now().Add(ttl)}
}

func (m MemCache) PutDefault(key string, value bool) {
	m.Put(key, value, m.defaultTTL)
}

func (m MemCache) Remove(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
}

// LRUCache is the production provider: a bounded cache evicting the
// least-recently-used entry once the configured capacity is reached.
// Entries also expire after their TTL regardless of LRU pressure;
// expiry is checked on read and expired entries are purged lazily.
type LRUCache struct {
	lru        *lru.Cache[string, entry]
	defaultTTL time.Duration
}

func NewLRUCache(maxEntries int, defaultTTL time.Duration) (*LRUCache, error) {
	c, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}
	return &LRUCache{
		lru:        c,
		defaultTTL: defaultTTL,
	}, nil
}

func (l *LRUCache) Get(key string) (bool, bool) {
	e, ok := l.lru.Get(key)
	if !ok {
		return false, false
	}
	if time.Now().After(e.expires) {
		l.lru.Remove(key)
		return false, false
	}
	return e.value, true
}

func (l *LRUCache) Put(key string, value bool, ttl time.Duration) {
	if ttl <= 0 {
		l.Remove(key)
		return
	}
	l.lru.Add(key, entry{value, time.Now().Add(ttl)})
}

func (l *LRUCache) PutDefault(key string, value bool) {
	l.Put(key, value, l.defaultTTL)
}

func (l *LRUCache) Remove(key string) {
	l.lru.Remove(key)
}

// SQLiteCache is a durable provider keeping decisions across restarts.
type SQLiteCache struct {
	db         *sql.DB
	defaultTTL time.Duration
}

func NewSQLiteCache(filename string, defaultTTL time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("opening decision cache db: %w", err)
	}
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS decisions (key TEXT PRIMARY KEY, granted INTEGER, expires INTEGER)")
	if err != nil {
		return nil, fmt.Errorf("creating decisions table: %w", err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS expires_idx ON decisions (expires)")
	if err != nil {
		return nil, fmt.Errorf("creating expiry index: %w", err)
	}
	return &SQLiteCache{
		db:         db,
		defaultTTL: defaultTTL,
	}, nil
}

func (s *SQLiteCache) Get(key string) (bool, bool) {
	var granted bool
	var expires int64
	err := s.db.QueryRow("SELECT granted, expires FROM decisions WHERE key = ?", key).Scan(&granted, &expires)
	if err != nil {
		return false, false
	}
	if time.Now().After(time.Unix(expires, 0)) {
		s.Remove(key)
		return false, false
	}
	return granted, true
}

func (s *SQLiteCache) Put(key string, value bool, ttl time.Duration) {
	if ttl <= 0 {
		s.Remove(key)
		return
	}
	expires := time.Now().Add(ttl).Unix()
	_, err := s.db.Exec("INSERT OR REPLACE INTO decisions (key, granted, expires) VALUES (?, ?, ?)", key, value, expires)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
	}
}

func (s *SQLiteCache) PutDefault(key string, value bool) {
	s.Put(key, value, s.defaultTTL)
}

func (s *SQLiteCache) Remove(key string) {
	_, err := s.db.Exec("DELETE FROM decisions WHERE key = ?", key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not remove from cache")
	}
}
