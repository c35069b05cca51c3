// Package profiles stores named redaction settings.
//
// A profile is one anonymizer.Config saved under a name, typically one per
// court unit or per judge. Two implementations are provided:
//   - memoryStore: in-memory only, used in tests and when no path is configured.
//   - boltStore:   embedded key-value store (bbolt), used in production.
//
// Values are stored as JSON so a profile written by an older build still
// decodes: missing keys take the anonymizer defaults.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"judicial-anonymizer/internal/anonymizer"
	"judicial-anonymizer/internal/logger"
)

// ErrNotFound is returned by Get and Delete for an unknown profile name.
var ErrNotFound = errors.New("profile not found")

// ErrInvalidName is returned for empty or oversized profile names.
var ErrInvalidName = errors.New("invalid profile name")

// MaxNameLength bounds a profile name in bytes.
const MaxNameLength = 128

// Store is the profile persistence interface.
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the profile saved under name.
	Get(name string) (*anonymizer.Config, error)

	// Put saves cfg under name, replacing any existing profile.
	Put(name string, cfg *anonymizer.Config) error

	// Delete removes the profile saved under name.
	Delete(name string) error

	// List returns all profile names in sorted order.
	List() ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

var log = logger.New("PROFILES", "info")

// SetLogLevel changes the package log level.
func SetLogLevel(level string) { log.SetLevel(level) }

// Open returns a bbolt-backed store at path, or an in-memory store when
// path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		log.Info("open", "no profiles path configured, using memory store")
		return NewMemoryStore(), nil
	}
	return NewBoltStore(path)
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func encode(cfg *anonymizer.Config) ([]byte, error) {
	if cfg == nil {
		d := anonymizer.DefaultConfig()
		cfg = &d
	}
	return json.Marshal(cfg)
}

func decode(data []byte) (*anonymizer.Config, error) {
	cfg := anonymizer.DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &cfg, nil
}

// --- memoryStore ---------------------------------------------------------

// memoryStore keeps encoded profiles in a map. Storing the encoding rather
// than the pointer keeps callers from mutating a saved profile.
type memoryStore struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{store: make(map[string][]byte)}
}

func (s *memoryStore) Get(name string) (*anonymizer.Config, error) {
	s.mu.RLock()
	data, ok := s.store[name]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

func (s *memoryStore) Put(name string, cfg *anonymizer.Config) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := encode(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.store[name] = data
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store[name]; !ok {
		return ErrNotFound
	}
	delete(s.store, name)
	return nil
}

func (s *memoryStore) List() ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.store))
	for k := range s.store {
		names = append(names, k)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Close() error { return nil }

// --- boltStore -----------------------------------------------------------

const bucketName = "profiles"

// boltStore is a Store backed by an embedded bbolt database. The file is
// created at the given path if it does not exist.
type boltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the bbolt database at path and ensures
// the profiles bucket exists.
func NewBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open profile store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create profiles bucket: %w", err)
	}

	log.Info("open", "profile store opened", "path", path)
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(name string) (*anonymizer.Config, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *boltStore) Put(name string, cfg *anonymizer.Config) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := encode(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketName)
		}
		return b.Put([]byte(name), data)
	})
}

func (s *boltStore) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil || b.Get([]byte(name)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(name))
	})
}

func (s *boltStore) List() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		// bbolt iterates keys in byte order.
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
