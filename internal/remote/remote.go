// Package remote provides a unified interface for remote document stores.
//
// A remote store holds the pushed copies of local documents: for each
// document a meta file, a snapshot file, and a namespaces file, plus an
// optional thumbnail. The reference backend is a git-object store reached
// over HTTP (internal/remote/githttp); an in-memory backend
// (internal/remote/memory) serves tests and offline operation.
//
// The design follows a strategy pattern: implementations are registered
// with an explicit Registry value, and a Factory selects the active
// backend. The registry is plain data handed to whoever needs it; there
// is no process-wide singleton.
//
// # Concurrency model
//
// Remote backends offer exactly one concurrency primitive: conditional
// write by content hash. Multi-file updates therefore go through the
// atomic tree-commit protocol (build a new tree over the current base,
// advance the branch pointer only if it has not moved), and single-file
// updates go through conditional writes retried with backoff (see
// Backoff).
package remote

import (
	"context"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

// Provider identifies a remote store backend.
type Provider string

const (
	// ProviderGitHTTP is the git-object store reached over HTTP.
	ProviderGitHTTP Provider = "githttp"

	// ProviderMemory is the in-process store used by tests and
	// offline mode.
	ProviderMemory Provider = "memory"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Store is the interface every remote backend implements.
//
// All operations honor ctx cancellation. Errors are classified against
// the document package taxonomy: document.ErrNotConnected,
// document.ErrNotFound, document.ErrConflict, document.ErrPermissionDenied,
// document.ErrCorruptData.
type Store interface {
	// Name returns the backend's provider identifier.
	Name() Provider

	// Connect establishes (or re-establishes) connectivity.
	Connect(ctx context.Context) error

	// IsConnected reports whether the backend is currently reachable.
	IsConnected() bool

	// PushDocument writes the bundle's three files atomically: remote
	// readers observe either all of meta/snapshot/namespaces updated or
	// none of them.
	PushDocument(ctx context.Context, bundle *document.Bundle) error

	// PullDocument reads the full bundle for id.
	// Returns document.ErrNotFound if the document is absent and
	// document.ErrCorruptData if a part fails to parse.
	PullDocument(ctx context.Context, id string) (*document.Bundle, error)

	// PullAllMetas lists every document's meta. Entries that fail to
	// parse are skipped, not fatal to the listing.
	PullAllMetas(ctx context.Context) ([]*document.Meta, error)

	// DeleteDocument removes every file under the document's namespace,
	// thumbnail included. Files already absent are not an error.
	DeleteDocument(ctx context.Context, id string) error

	// PushThumbnail writes the thumbnail blob via a conditional
	// single-file write, retrying conflicts with backoff.
	PushThumbnail(ctx context.Context, id string, blob []byte) error

	// PullThumbnail reads the thumbnail blob for id.
	// Returns document.ErrNotFound if absent.
	PullThumbnail(ctx context.Context, id string) ([]byte, error)

	// ResetAll removes every in-scope path in one atomic commit. A
	// half-reset state is never externally observable.
	ResetAll(ctx context.Context) error
}

// Config carries the settings a backend constructor needs. Fields not
// relevant to a given backend are ignored by it.
type Config struct {
	// Endpoint is the backend's base URL.
	Endpoint string

	// Token authenticates requests to the backend.
	Token string

	// Branch is the branch whose tip the tree-commit protocol advances.
	Branch string
}

// Path layout. The physical mapping is backend-defined; these logical
// paths are shared by every implementation.
const (
	documentsPrefix  = "documents/"
	thumbnailsPrefix = "thumbnails/"
)

// MetaPath returns the logical path of a document's meta file.
func MetaPath(id string) string { return documentsPrefix + id + "/meta" }

// SnapshotPath returns the logical path of a document's snapshot file.
func SnapshotPath(id string) string { return documentsPrefix + id + "/snapshot" }

// NamespacesPath returns the logical path of a document's namespaces file.
func NamespacesPath(id string) string { return documentsPrefix + id + "/namespaces" }

// ThumbnailPath returns the logical path of a document's thumbnail.
func ThumbnailPath(id string) string { return thumbnailsPrefix + id }

// DocumentPrefix returns the logical path prefix covering every file of
// one document except its thumbnail.
func DocumentPrefix(id string) string { return documentsPrefix + id + "/" }

// DocumentsPrefix returns the prefix covering all document files.
func DocumentsPrefix() string { return documentsPrefix }

// ThumbnailsPrefix returns the prefix covering all thumbnails.
func ThumbnailsPrefix() string { return thumbnailsPrefix }

// MetaIDFromPath extracts the document id from a meta file path.
// Returns "" if the path is not a meta path.
func MetaIDFromPath(path string) string {
	const suffix = "/meta"
	if len(path) <= len(documentsPrefix)+len(suffix) {
		return ""
	}
	if path[:len(documentsPrefix)] != documentsPrefix {
		return ""
	}
	if path[len(path)-len(suffix):] != suffix {
		return ""
	}
	return path[len(documentsPrefix) : len(path)-len(suffix)]
}
