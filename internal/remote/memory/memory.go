// Package memory provides an in-process remote store backend.
//
// It mirrors the semantics of the git-object HTTP backend (atomic
// multi-file commits, idempotent deletes, corrupt-tolerant listings)
// without any network. Tests and offline operation use it.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dafiiit/hivecad-sync/internal/document"
	"github.com/dafiiit/hivecad-sync/internal/remote"
)

// Store implements remote.Store entirely in memory.
type Store struct {
	mu        sync.Mutex
	files     map[string][]byte
	connected bool
}

// New creates the in-memory backend. It satisfies remote.Constructor;
// the configuration is ignored.
func New(remote.Config) (remote.Store, error) {
	return &Store{files: make(map[string][]byte)}, nil
}

// Name implements remote.Store.
func (s *Store) Name() remote.Provider {
	return remote.ProviderMemory
}

// Connect implements remote.Store.
func (s *Store) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// IsConnected implements remote.Store.
func (s *Store) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// PushDocument implements remote.Store. The three parts land under the
// lock in one step, so readers never observe a partial bundle.
func (s *Store) PushDocument(_ context.Context, bundle *document.Bundle) error {
	if bundle == nil || bundle.Meta == nil || bundle.Meta.ID == "" {
		return fmt.Errorf("bundle must have a meta with an id")
	}
	id := bundle.Meta.ID

	meta, err := json.Marshal(bundle.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}
	snapshot, err := json.Marshal(bundle.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	namespaces, err := json.Marshal(bundle.Namespaces)
	if err != nil {
		return fmt.Errorf("failed to marshal namespaces: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[remote.MetaPath(id)] = meta
	s.files[remote.SnapshotPath(id)] = snapshot
	s.files[remote.NamespacesPath(id)] = namespaces
	return nil
}

// PullDocument implements remote.Store.
func (s *Store) PullDocument(_ context.Context, id string) (*document.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaData, ok := s.files[remote.MetaPath(id)]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}

	bundle := &document.Bundle{Meta: &document.Meta{}}
	if err := json.Unmarshal(metaData, bundle.Meta); err != nil {
		return nil, fmt.Errorf("document %s meta: %w: %v", id, document.ErrCorruptData, err)
	}
	if data, ok := s.files[remote.SnapshotPath(id)]; ok {
		bundle.Snapshot = &document.Snapshot{}
		if err := json.Unmarshal(data, bundle.Snapshot); err != nil {
			return nil, fmt.Errorf("document %s snapshot: %w", id, err)
		}
	}
	if data, ok := s.files[remote.NamespacesPath(id)]; ok {
		bundle.Namespaces = &document.Namespaces{}
		if err := json.Unmarshal(data, bundle.Namespaces); err != nil {
			return nil, fmt.Errorf("document %s namespaces: %w", id, err)
		}
	}
	return bundle, nil
}

// PullAllMetas implements remote.Store.
func (s *Store) PullAllMetas(context.Context) ([]*document.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metas []*document.Meta
	for path, data := range s.files {
		if remote.MetaIDFromPath(path) == "" {
			continue
		}
		meta := &document.Meta{}
		if err := json.Unmarshal(data, meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// DeleteDocument implements remote.Store.
func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := remote.DocumentPrefix(id)
	for path := range s.files {
		if strings.HasPrefix(path, prefix) {
			delete(s.files, path)
		}
	}
	delete(s.files, remote.ThumbnailPath(id))
	return nil
}

// PushThumbnail implements remote.Store.
func (s *Store) PushThumbnail(_ context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[remote.ThumbnailPath(id)] = append([]byte(nil), blob...)
	return nil
}

// PullThumbnail implements remote.Store.
func (s *Store) PullThumbnail(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.files[remote.ThumbnailPath(id)]
	if !ok {
		return nil, fmt.Errorf("thumbnail %s: %w", id, document.ErrNotFound)
	}
	return append([]byte(nil), blob...), nil
}

// ResetAll implements remote.Store.
func (s *Store) ResetAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path := range s.files {
		if strings.HasPrefix(path, remote.DocumentsPrefix()) ||
			strings.HasPrefix(path, remote.ThumbnailsPrefix()) {
			delete(s.files, path)
		}
	}
	return nil
}
