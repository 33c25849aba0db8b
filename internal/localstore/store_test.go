package localstore

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "local.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testBundle(id, name string) *document.Bundle {
	return &document.Bundle{
		Meta: &document.Meta{
			ID:           id,
			Name:         name,
			Visibility:   document.VisibilityPrivate,
			CreatedAt:    document.NowMillis(),
			LastModified: document.NowMillis(),
		},
		Snapshot:   &document.Snapshot{Code: "cube(1)", SchemaVersion: 1},
		Namespaces: &document.Namespaces{Entries: map[string]json.RawMessage{"std": json.RawMessage(`{}`)}},
	}
}

func TestSaveLoad(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Save(testBundle("doc-1", "Bracket")))

	got, err := s.Load("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Bracket", got.Meta.Name)
	assert.Equal(t, "cube(1)", got.Snapshot.Code)

	_, err = s.Load("missing")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestDeleteWritesTombstoneFirst(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Save(testBundle("doc-1", "Bracket")))
	require.NoError(t, s.Delete("doc-1"))

	_, err := s.Load("doc-1")
	assert.ErrorIs(t, err, document.ErrNotFound)

	live, err := s.IsTombstoned("doc-1")
	require.NoError(t, err)
	assert.True(t, live)

	// Derived records are gone too.
	history, err := s.History("doc-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeleteAbsentDocumentStillTombstones(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Delete("never-existed"))

	live, err := s.IsTombstoned("never-existed")
	require.NoError(t, err)
	assert.True(t, live)
}

func TestSaveClearsTombstone(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Save(testBundle("doc-1", "Bracket")))
	require.NoError(t, s.Delete("doc-1"))

	// Re-importing the document supersedes the deletion.
	require.NoError(t, s.Save(testBundle("doc-1", "Bracket v2")))

	live, err := s.IsTombstoned("doc-1")
	require.NoError(t, err)
	assert.False(t, live)

	got, err := s.Load("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Bracket v2", got.Meta.Name)
}

func TestClearTombstone(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Save(testBundle("doc-1", "Bracket")))
	require.NoError(t, s.Delete("doc-1"))

	var fired int
	unsubscribe := s.OnChange(func() { fired++ })
	defer unsubscribe()

	require.NoError(t, s.ClearTombstone("doc-1"))
	assert.Equal(t, 1, fired)

	live, err := s.IsTombstoned("doc-1")
	require.NoError(t, err)
	assert.False(t, live)

	ids, err := s.TombstonedIDs()
	require.NoError(t, err)
	assert.NotContains(t, ids, "doc-1")

	// Clearing an absent tombstone is a no-op.
	require.NoError(t, s.ClearTombstone("doc-1"))
}

func TestTombstoneTTL(t *testing.T) {
	s := setupStore(t)

	base := time.Now().UnixMilli()
	day := (24 * time.Hour).Milliseconds()

	s.nowMillis = func() int64 { return base }
	require.NoError(t, s.Delete("old"))

	// One day later the tombstone is still honored.
	s.nowMillis = func() int64 { return base + day }
	live, err := s.IsTombstoned("old")
	require.NoError(t, err)
	assert.True(t, live)

	// Thirty-one days later it is treated as absent and removed on read.
	s.nowMillis = func() int64 { return base + 31*day }
	live, err = s.IsTombstoned("old")
	require.NoError(t, err)
	assert.False(t, live)

	ids, err := s.TombstonedIDs()
	require.NoError(t, err)
	assert.NotContains(t, ids, "old")
}

func TestTombstonedIDsPrunesExpired(t *testing.T) {
	s := setupStore(t)

	base := time.Now().UnixMilli()
	day := (24 * time.Hour).Milliseconds()

	s.nowMillis = func() int64 { return base - 31*day }
	require.NoError(t, s.Delete("expired"))

	s.nowMillis = func() int64 { return base }
	require.NoError(t, s.Delete("fresh"))

	ids, err := s.TombstonedIDs()
	require.NoError(t, err)
	assert.Contains(t, ids, "fresh")
	assert.NotContains(t, ids, "expired")
}

func TestList(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Save(testBundle("a", "A")))
	require.NoError(t, s.Save(testBundle("b", "B")))
	require.NoError(t, s.Delete("b"))

	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "a", metas[0].ID)
}

func TestHistoryAppends(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.SaveWithMessage(testBundle("doc-1", "v1"), "initial"))
	require.NoError(t, s.SaveWithMessage(testBundle("doc-1", "v2"), "tweak"))

	entries, err := s.History("doc-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "initial", entries[0].Message)
	assert.Equal(t, "tweak", entries[1].Message)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
}

func TestOnChange(t *testing.T) {
	s := setupStore(t)

	var fired int
	unsubscribe := s.OnChange(func() { fired++ })

	require.NoError(t, s.Save(testBundle("doc-1", "A")))
	assert.Equal(t, 1, fired, "save must notify synchronously")

	require.NoError(t, s.Delete("doc-1"))
	assert.Equal(t, 2, fired)

	unsubscribe()
	require.NoError(t, s.Save(testBundle("doc-2", "B")))
	assert.Equal(t, 2, fired, "unsubscribed listener must not fire")
}

func TestPruneOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.db")

	s, err := Open(path, nil)
	require.NoError(t, err)

	base := time.Now().UnixMilli()
	day := (24 * time.Hour).Milliseconds()
	s.nowMillis = func() int64 { return base - 40*day }
	require.NoError(t, s.Delete("ancient"))
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	live, err := reopened.IsTombstoned("ancient")
	require.NoError(t, err)
	assert.False(t, live)
}
