package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dafiiit/hivecad-sync/internal/document"
	"github.com/dafiiit/hivecad-sync/internal/remote"
)

func newTestStore(t *testing.T) remote.Store {
	t.Helper()
	s, err := New(remote.Config{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func bundle(id string) *document.Bundle {
	return &document.Bundle{
		Meta:       &document.Meta{ID: id, Name: "part-" + id},
		Snapshot:   &document.Snapshot{Code: "cube(1)", Objects: json.RawMessage(`[]`), SchemaVersion: 1},
		Namespaces: &document.Namespaces{Entries: map[string]json.RawMessage{}},
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PushDocument(ctx, bundle("a")); err != nil {
		t.Fatalf("PushDocument() failed: %v", err)
	}

	got, err := s.PullDocument(ctx, "a")
	if err != nil {
		t.Fatalf("PullDocument() failed: %v", err)
	}
	if got.Meta.Name != "part-a" {
		t.Errorf("Meta.Name = %q, want %q", got.Meta.Name, "part-a")
	}
	if got.Snapshot == nil || got.Snapshot.Code != "cube(1)" {
		t.Errorf("Snapshot not round-tripped: %+v", got.Snapshot)
	}
}

func TestPullMissing(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.PullDocument(context.Background(), "absent"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("PullDocument() = %v, want ErrNotFound", err)
	}
}

func TestPullAllMetas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.PushDocument(ctx, bundle(id)); err != nil {
			t.Fatalf("PushDocument(%q) failed: %v", id, err)
		}
	}

	metas, err := s.PullAllMetas(ctx)
	if err != nil {
		t.Fatalf("PullAllMetas() failed: %v", err)
	}
	if len(metas) != 2 {
		t.Errorf("PullAllMetas() returned %d metas, want 2", len(metas))
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PushDocument(ctx, bundle("a")); err != nil {
		t.Fatalf("PushDocument() failed: %v", err)
	}
	if err := s.PushThumbnail(ctx, "a", []byte("png")); err != nil {
		t.Fatalf("PushThumbnail() failed: %v", err)
	}

	if err := s.DeleteDocument(ctx, "a"); err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}

	if _, err := s.PullDocument(ctx, "a"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("document survived delete: %v", err)
	}
	if _, err := s.PullThumbnail(ctx, "a"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("thumbnail survived delete: %v", err)
	}

	// Deleting again is a no-op.
	if err := s.DeleteDocument(ctx, "a"); err != nil {
		t.Errorf("repeated DeleteDocument() = %v, want nil", err)
	}
}

func TestThumbnailRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PushThumbnail(ctx, "a", []byte("png-1")); err != nil {
		t.Fatalf("PushThumbnail() failed: %v", err)
	}

	blob, err := s.PullThumbnail(ctx, "a")
	if err != nil {
		t.Fatalf("PullThumbnail() failed: %v", err)
	}
	if string(blob) != "png-1" {
		t.Errorf("PullThumbnail() = %q, want %q", blob, "png-1")
	}
}

func TestResetAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PushDocument(ctx, bundle("a")); err != nil {
		t.Fatalf("PushDocument() failed: %v", err)
	}
	if err := s.PushThumbnail(ctx, "a", []byte("png")); err != nil {
		t.Fatalf("PushThumbnail() failed: %v", err)
	}

	if err := s.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll() failed: %v", err)
	}

	metas, err := s.PullAllMetas(ctx)
	if err != nil {
		t.Fatalf("PullAllMetas() failed: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("ResetAll() left %d documents behind", len(metas))
	}
}
