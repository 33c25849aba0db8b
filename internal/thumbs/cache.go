// Package thumbs manages the local thumbnail cache.
//
// Thumbnails are rendered previews written by the CAD application into a
// cache directory, one PNG per document id. The cache is the sync
// engine's thumbnail source on push, and the Watcher notifies the engine
// when the application writes a new preview so the next cycle uploads it.
package thumbs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

const thumbExt = ".png"

// Cache is a directory of thumbnail files keyed by document id.
type Cache struct {
	dir string
}

// NewCache opens (creating if needed) the cache directory.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// Get returns the thumbnail blob for id, or document.ErrNotFound.
func (c *Cache) Get(id string) ([]byte, error) {
	blob, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("thumbnail %s: %w", id, document.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read thumbnail %s: %w", id, err)
	}
	return blob, nil
}

// Put writes the thumbnail blob for id, replacing any previous one. The
// write goes through a temp file and rename so a concurrent reader never
// observes a partial thumbnail.
func (c *Cache) Put(id string, blob []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp thumbnail: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write thumbnail %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp thumbnail: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store thumbnail %s: %w", id, err)
	}
	return nil
}

// Delete removes the thumbnail for id. Absent thumbnails are not an error.
func (c *Cache) Delete(id string) error {
	if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete thumbnail %s: %w", id, err)
	}
	return nil
}

// IDs lists the ids of all cached thumbnails.
func (c *Cache) IDs() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list thumbnail cache: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := idFromFilename(entry.Name())
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Cache) path(id string) string {
	return filepath.Join(c.dir, id+thumbExt)
}

// idFromFilename extracts the document id from a cache filename, or ""
// if the file is not a thumbnail.
func idFromFilename(name string) string {
	if !strings.HasSuffix(name, thumbExt) || strings.HasPrefix(name, ".") {
		return ""
	}
	return strings.TrimSuffix(name, thumbExt)
}
