package githttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/dafiiit/hivecad-sync/internal/document"
	"github.com/dafiiit/hivecad-sync/internal/remote"
)

// Store implements remote.Store over the git-object HTTP API.
type Store struct {
	client    *client
	branch    string
	connected atomic.Bool
	logger    *log.Logger
}

// DefaultBranch is used when the configuration names no branch.
const DefaultBranch = "main"

// New creates the git-object HTTP backend. It satisfies remote.Constructor.
func New(cfg remote.Config) (remote.Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("githttp: endpoint is required")
	}
	branch := cfg.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	c := newClient(strings.TrimRight(cfg.Endpoint, "/"), cfg.Token, nil)
	return &Store{
		client: c,
		branch: branch,
		logger: c.logger,
	}, nil
}

// Name implements remote.Store.
func (s *Store) Name() remote.Provider {
	return remote.ProviderGitHTTP
}

// Connect probes the branch ref to establish connectivity. An unborn
// branch is a valid connected state; only transport and permission
// failures count against connectivity.
func (s *Store) Connect(ctx context.Context) error {
	if _, err := s.client.getRef(ctx, s.branch); err != nil {
		s.connected.Store(false)
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.connected.Store(true)
	return nil
}

// IsConnected implements remote.Store.
func (s *Store) IsConnected() bool {
	return s.connected.Load()
}

// PushDocument implements remote.Store.
//
// The bundle's three parts are uploaded as blobs once, then committed
// through the tree-commit protocol. Blobs are content-addressed, so they
// survive a compare-and-swap restart; only the tree and commit are
// rebuilt from the new base.
func (s *Store) PushDocument(ctx context.Context, bundle *document.Bundle) error {
	if bundle == nil || bundle.Meta == nil || bundle.Meta.ID == "" {
		return fmt.Errorf("bundle must have a meta with an id")
	}
	id := bundle.Meta.ID

	parts := []struct {
		path    string
		payload interface{}
	}{
		{remote.MetaPath(id), bundle.Meta},
		{remote.SnapshotPath(id), bundle.Snapshot},
		{remote.NamespacesPath(id), bundle.Namespaces},
	}

	entries := make([]treeEntry, 0, len(parts))
	for _, part := range parts {
		data, err := json.Marshal(part.payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", part.path, err)
		}
		sha, err := s.client.createBlob(ctx, data)
		if err != nil {
			return s.trackErr(fmt.Errorf("failed to upload %s: %w", part.path, err))
		}
		blobSHA := sha
		entries = append(entries, treeEntry{
			Path: part.path,
			Mode: blobMode,
			Type: "blob",
			SHA:  &blobSHA,
		})
	}

	message := fmt.Sprintf("Push document %s", id)
	return s.commit(ctx, message, func(ctx context.Context, base *treeResponse) ([]treeEntry, error) {
		return entries, nil
	})
}

// PullDocument implements remote.Store.
func (s *Store) PullDocument(ctx context.Context, id string) (*document.Bundle, error) {
	tree, err := s.headTree(ctx)
	if err != nil {
		return nil, s.trackErr(err)
	}
	if tree == nil {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}

	byPath := indexTree(tree)

	metaEntry, ok := byPath[remote.MetaPath(id)]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}

	bundle := &document.Bundle{}

	metaData, err := s.client.getBlob(ctx, *metaEntry.SHA)
	if err != nil {
		return nil, s.trackErr(fmt.Errorf("failed to pull meta for %s: %w", id, err))
	}
	bundle.Meta = &document.Meta{}
	if err := json.Unmarshal(metaData, bundle.Meta); err != nil {
		return nil, fmt.Errorf("document %s meta: %w: %v", id, document.ErrCorruptData, err)
	}

	if entry, ok := byPath[remote.SnapshotPath(id)]; ok {
		data, err := s.client.getBlob(ctx, *entry.SHA)
		if err != nil {
			return nil, s.trackErr(fmt.Errorf("failed to pull snapshot for %s: %w", id, err))
		}
		bundle.Snapshot = &document.Snapshot{}
		if err := json.Unmarshal(data, bundle.Snapshot); err != nil {
			return nil, fmt.Errorf("document %s snapshot: %w", id, err)
		}
	}

	if entry, ok := byPath[remote.NamespacesPath(id)]; ok {
		data, err := s.client.getBlob(ctx, *entry.SHA)
		if err != nil {
			return nil, s.trackErr(fmt.Errorf("failed to pull namespaces for %s: %w", id, err))
		}
		bundle.Namespaces = &document.Namespaces{}
		if err := json.Unmarshal(data, bundle.Namespaces); err != nil {
			return nil, fmt.Errorf("document %s namespaces: %w", id, err)
		}
	}

	return bundle, nil
}

// PullAllMetas implements remote.Store. Metas that fail to parse are
// logged and skipped so one corrupt file cannot hide the whole catalog.
func (s *Store) PullAllMetas(ctx context.Context) ([]*document.Meta, error) {
	tree, err := s.headTree(ctx)
	if err != nil {
		return nil, s.trackErr(err)
	}
	if tree == nil {
		return nil, nil
	}

	var metas []*document.Meta
	for _, entry := range tree.Tree {
		id := remote.MetaIDFromPath(entry.Path)
		if id == "" || entry.SHA == nil {
			continue
		}

		data, err := s.client.getBlob(ctx, *entry.SHA)
		if err != nil {
			s.logger.Printf("WARNING: failed to pull meta %s: %v", entry.Path, err)
			continue
		}

		meta := &document.Meta{}
		if err := json.Unmarshal(data, meta); err != nil {
			s.logger.Printf("WARNING: skipping corrupt meta %s: %v", entry.Path, err)
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// DeleteDocument implements remote.Store. Every file under the document's
// namespace plus its thumbnail goes away in one commit. Files already
// absent are simply not staged; deleting a fully absent document is a
// no-op, not an error.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	message := fmt.Sprintf("Delete document %s", id)
	return s.commit(ctx, message, func(ctx context.Context, base *treeResponse) ([]treeEntry, error) {
		if base == nil {
			return nil, nil
		}

		prefix := remote.DocumentPrefix(id)
		thumbPath := remote.ThumbnailPath(id)

		var deletions []treeEntry
		for _, entry := range base.Tree {
			if strings.HasPrefix(entry.Path, prefix) || entry.Path == thumbPath {
				deletions = append(deletions, treeEntry{
					Path: entry.Path,
					Mode: blobMode,
					Type: "blob",
					SHA:  nil,
				})
			}
		}
		return deletions, nil
	})
}

// PushThumbnail implements remote.Store. The write is conditional on the
// token from the preceding read; a conflict re-reads the token and tries
// again under the shared retry policy.
func (s *Store) PushThumbnail(ctx context.Context, id string, blob []byte) error {
	path := remote.ThumbnailPath(id)

	err := remote.RetryConflict(ctx, func(ctx context.Context) error {
		token := ""
		if _, sha, err := s.client.getContents(ctx, path); err != nil {
			if !isNotFound(err) {
				return err
			}
		} else {
			token = sha
		}
		return s.client.putContents(ctx, path, blob, token)
	})
	if err != nil {
		return s.trackErr(fmt.Errorf("failed to push thumbnail %s: %w", id, err))
	}
	return nil
}

// PullThumbnail implements remote.Store.
func (s *Store) PullThumbnail(ctx context.Context, id string) ([]byte, error) {
	content, _, err := s.client.getContents(ctx, remote.ThumbnailPath(id))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("thumbnail %s: %w", id, document.ErrNotFound)
		}
		return nil, s.trackErr(fmt.Errorf("failed to pull thumbnail %s: %w", id, err))
	}
	return content, nil
}

// ResetAll implements remote.Store. All in-scope paths are staged for
// deletion in a single commit; N sequential deletes would let readers
// observe a half-reset state.
func (s *Store) ResetAll(ctx context.Context) error {
	return s.commit(ctx, "Reset all documents", func(ctx context.Context, base *treeResponse) ([]treeEntry, error) {
		if base == nil {
			return nil, nil
		}

		var deletions []treeEntry
		for _, entry := range base.Tree {
			if strings.HasPrefix(entry.Path, remote.DocumentsPrefix()) ||
				strings.HasPrefix(entry.Path, remote.ThumbnailsPrefix()) {
				deletions = append(deletions, treeEntry{
					Path: entry.Path,
					Mode: blobMode,
					Type: "blob",
					SHA:  nil,
				})
			}
		}
		return deletions, nil
	})
}

// stageFunc produces the tree entries to layer over the base tree.
// base is nil when the branch is unborn. Returning no entries skips the
// commit entirely.
type stageFunc func(ctx context.Context, base *treeResponse) ([]treeEntry, error)

// commit runs the atomic tree-commit protocol:
//
//  1. Read the branch tip.
//  2. Read the tree behind the tip's commit.
//  3. Layer the staged entries over that base tree.
//  4. Create a commit with the tip as parent.
//  5. Advance the ref, conditional on it still being at the tip.
//
// A failed step 5 means the pointer moved concurrently; the protocol
// restarts from step 1 under the shared retry policy, because the tree
// staged against the old tip may no longer describe reality.
func (s *Store) commit(ctx context.Context, message string, stage stageFunc) error {
	err := remote.RetryConflict(ctx, func(ctx context.Context) error {
		tip, err := s.client.getRef(ctx, s.branch)
		if err != nil {
			return err
		}

		var base *treeResponse
		baseTreeSHA := ""
		if tip != "" {
			tipCommit, err := s.client.getCommit(ctx, tip)
			if err != nil {
				return err
			}
			baseTreeSHA = tipCommit.Tree.SHA
			base, err = s.client.getTree(ctx, baseTreeSHA)
			if err != nil {
				return err
			}
		}

		entries, err := stage(ctx, base)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		newTree, err := s.client.createTree(ctx, baseTreeSHA, entries)
		if err != nil {
			return err
		}

		var parents []string
		if tip != "" {
			parents = []string{tip}
		}
		newCommit, err := s.client.createCommit(ctx, message, newTree, parents)
		if err != nil {
			return err
		}

		return s.client.updateRef(ctx, s.branch, newCommit, tip)
	})
	if err != nil {
		return s.trackErr(err)
	}
	return nil
}

// headTree returns the recursive tree at the branch tip, or nil for an
// unborn branch.
func (s *Store) headTree(ctx context.Context) (*treeResponse, error) {
	tip, err := s.client.getRef(ctx, s.branch)
	if err != nil {
		return nil, err
	}
	if tip == "" {
		return nil, nil
	}

	tipCommit, err := s.client.getCommit(ctx, tip)
	if err != nil {
		return nil, err
	}
	return s.client.getTree(ctx, tipCommit.Tree.SHA)
}

// trackErr flips the connectivity flag on transport failures on the way
// through.
func (s *Store) trackErr(err error) error {
	if err != nil && errors.Is(err, document.ErrNotConnected) {
		s.connected.Store(false)
	}
	return err
}

func indexTree(tree *treeResponse) map[string]treeEntry {
	byPath := make(map[string]treeEntry, len(tree.Tree))
	for _, entry := range tree.Tree {
		if entry.SHA != nil {
			byPath[entry.Path] = entry
		}
	}
	return byPath
}

func isNotFound(err error) bool {
	return errors.Is(err, document.ErrNotFound)
}
