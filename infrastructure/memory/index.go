// Package memory holds in-process implementations of the media indexes.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"audio-extract-service/domain/media"
)

// store is a concurrency-safe keyed map shared by both indexes
type store[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newStore[T any]() store[T] {
	return store[T]{items: make(map[string]T)}
}

func (s *store[T]) put(key string, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; exists {
		return fmt.Errorf("key %q already indexed", key)
	}
	s.items[key] = v
	return nil
}

func (s *store[T]) get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *store[T]) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

func (s *store[T]) list() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.items[k])
	}
	return out
}

// UploadIndex implements media.UploadIndex in memory
type UploadIndex struct {
	s store[media.UploadRecord]
}

// NewUploadIndex creates an empty upload index
func NewUploadIndex() *UploadIndex {
	return &UploadIndex{s: newStore[media.UploadRecord]()}
}

func (i *UploadIndex) Put(rec media.UploadRecord) error         { return i.s.put(rec.ID, rec) }
func (i *UploadIndex) Get(id string) (media.UploadRecord, bool) { return i.s.get(id) }
func (i *UploadIndex) Delete(id string)                         { i.s.delete(id) }
func (i *UploadIndex) List() []media.UploadRecord               { return i.s.list() }

// ArtifactIndex implements media.ArtifactIndex in memory
type ArtifactIndex struct {
	s store[media.ArtifactRecord]
}

// NewArtifactIndex creates an empty artifact index
func NewArtifactIndex() *ArtifactIndex {
	return &ArtifactIndex{s: newStore[media.ArtifactRecord]()}
}

func (i *ArtifactIndex) Put(rec media.ArtifactRecord) error { return i.s.put(rec.Filename, rec) }
func (i *ArtifactIndex) Get(filename string) (media.ArtifactRecord, bool) {
	return i.s.get(filename)
}
func (i *ArtifactIndex) Delete(filename string)       { i.s.delete(filename) }
func (i *ArtifactIndex) List() []media.ArtifactRecord { return i.s.list() }

// Ensure the indexes implement the media ports
var (
	_ media.UploadIndex   = (*UploadIndex)(nil)
	_ media.ArtifactIndex = (*ArtifactIndex)(nil)
)
