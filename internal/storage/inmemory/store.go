// Package inmemory provides a map-backed storage.ObjectStore.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dvloznov/pricepaid-importer/internal/storage"
)

// Op records one mutating or probing call, in call order.
type Op struct {
	Kind string // "put", "get", "exists", "list"
	Key  string
}

// Store is an in-memory implementation of ObjectStore.
// It is safe for concurrent use. Data is lost on restart; it backs tests
// and dry runs.
type Store struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
	ops     []Op

	// FailPut, when set, is consulted before every Put; a non-nil error aborts the write.
	FailPut func(key string) error
}

// NewStore creates an empty store named bucket.
func NewStore(bucket string) *Store {
	return &Store{
		bucket:  bucket,
		objects: make(map[string][]byte),
	}
}

// Bucket implements storage.ObjectStore.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put implements storage.ObjectStore.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, Op{Kind: "put", Key: key})
	if s.FailPut != nil {
		if err := s.FailPut(key); err != nil {
			return err
		}
	}

	// Copy to avoid external modifications
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get implements storage.ObjectStore.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, Op{Kind: "get", Key: key})
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Exists implements storage.ObjectStore.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, Op{Kind: "exists", Key: key})
	_, ok := s.objects[key]
	return ok, nil
}

// List implements storage.ObjectStore.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, Op{Kind: "list", Key: prefix})
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements storage.ObjectStore.
func (s *Store) Close() error {
	return nil
}

// Ops returns a copy of the recorded call log.
func (s *Store) Ops() []Op {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Op(nil), s.ops...)
}

// Puts returns the keys written so far, in order.
func (s *Store) Puts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for _, op := range s.ops {
		if op.Kind == "put" {
			keys = append(keys, op.Key)
		}
	}
	return keys
}

// Keys returns every stored key in lexical order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResetOps clears the call log, keeping the objects.
func (s *Store) ResetOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

// Ensure Store implements the ObjectStore interface.
var _ storage.ObjectStore = (*Store)(nil)
