package pref

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrBackendClosed is returned by a closed backend.
var ErrBackendClosed = errors.New("pref: backend closed")

// Record is a stored preference value with its write time.
type Record struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Backend persists preference records by key.
type Backend interface {
	Load(key string) (Record, bool, error)
	Save(key string, rec Record) error
	Keys() ([]string, error)
	Close() error
}

// MemoryBackend keeps records in memory. Records are copied on save and load.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

// Load implements Backend.
func (m *MemoryBackend) Load(key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, false, ErrBackendClosed
	}
	rec, ok := m.records[key]
	if !ok {
		return Record{}, false, nil
	}
	rec.Value = append(json.RawMessage(nil), rec.Value...)
	return rec, true, nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBackendClosed
	}
	rec.Value = append(json.RawMessage(nil), rec.Value...)
	m.records[key] = rec
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendClosed
	}
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

const pebblePrefix = "pref:"

// PebbleBackend stores records in a Pebble database on disk.
type PebbleBackend struct {
	db *pebble.DB
}

// OpenPebble opens or creates the preference database in dir.
func OpenPebble(dir string) (*PebbleBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleBackend{db: db}, nil
}

// Load implements Backend.
func (b *PebbleBackend) Load(key string) (Record, bool, error) {
	v, closer, err := b.db.Get([]byte(pebblePrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	defer closer.Close()

	var rec Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Save implements Backend.
func (b *PebbleBackend) Save(key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Set([]byte(pebblePrefix+key), data, pebble.Sync)
}

// Keys implements Backend.
func (b *PebbleBackend) Keys() ([]string, error) {
	it, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebblePrefix),
		UpperBound: []byte(pebblePrefix[:len(pebblePrefix)-1] + ";"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var keys []string
	for ok := it.First(); ok; ok = it.Next() {
		keys = append(keys, strings.TrimPrefix(string(it.Key()), pebblePrefix))
	}
	return keys, it.Error()
}

// Close implements Backend.
func (b *PebbleBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
