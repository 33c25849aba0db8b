// Package document defines the data model shared by the local store, the
// remote store, the metadata index, and the sync engine.
//
// A document is a CAD project: the user's code, the serialized geometry it
// produced, and descriptive metadata. The unit of remote transfer is the
// Bundle (meta + snapshot + namespaces); the unit of discovery is the Meta.
//
// Timestamps are epoch milliseconds throughout. Identity is Meta.ID: stable,
// generated once, never reused.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls who can discover a document through the metadata index.
type Visibility string

const (
	// VisibilityPrivate restricts discovery to the owner.
	VisibilityPrivate Visibility = "private"

	// VisibilityPublic makes the document discoverable by anyone.
	VisibilityPublic Visibility = "public"
)

// Meta is the descriptive record for one document. It is stored in the
// local store, pushed to the remote store as the bundle's meta file, and
// upserted into the metadata index for search.
type Meta struct {
	// ID is the stable document identity.
	ID string `json:"id"`

	// Name is the user-facing project name.
	Name string `json:"name"`

	// OwnerID is the identity of the owning user, empty for anonymous use.
	OwnerID string `json:"ownerId,omitempty"`

	// OwnerEmail is the owner's email address, empty for anonymous use.
	OwnerEmail string `json:"ownerEmail,omitempty"`

	// Description is free-form text shown in search results.
	Description string `json:"description,omitempty"`

	// Visibility is private or public.
	Visibility Visibility `json:"visibility"`

	// Tags are user-assigned labels.
	Tags []string `json:"tags,omitempty"`

	// Folder is the user's organizational folder path.
	Folder string `json:"folder,omitempty"`

	// ThumbnailRef points at the rendered preview, empty if none exists.
	ThumbnailRef string `json:"thumbnailRef,omitempty"`

	// LastModified is the last mutation time in epoch milliseconds.
	LastModified int64 `json:"lastModified"`

	// CreatedAt is the creation time in epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`

	// RemoteProvider names the remote store backend this document syncs to.
	RemoteProvider string `json:"remoteProvider,omitempty"`

	// RemoteLocator is the provider-specific location (repo, branch, path).
	RemoteLocator string `json:"remoteLocator,omitempty"`

	// LockedBy holds the current lock holder in the metadata index,
	// empty when unlocked.
	LockedBy string `json:"lockedBy,omitempty"`
}

// Bundle is the atomic unit pushed to and pulled from the remote store.
// The three parts must become visible to remote readers together or not
// at all.
type Bundle struct {
	Meta       *Meta       `json:"meta"`
	Snapshot   *Snapshot   `json:"snapshot"`
	Namespaces *Namespaces `json:"namespaces"`
}

// Tombstone records that a document was intentionally deleted. It is
// written durably before the document itself is removed, and suppresses
// resurrection of the document during sync until it expires.
type Tombstone struct {
	// DocumentID is the deleted document's identity.
	DocumentID string `json:"documentId"`

	// DeletedAt is the deletion time in epoch milliseconds.
	DeletedAt int64 `json:"deletedAt"`
}

// TombstoneTTL is how long a tombstone is honored. Expiry is advisory
// cleanup, not a correctness requirement: an expired tombstone may still
// be removed lazily on next read.
const TombstoneTTL = 30 * 24 * time.Hour

// Expired reports whether the tombstone is older than TombstoneTTL at the
// given reference time (epoch milliseconds).
func (t *Tombstone) Expired(nowMillis int64) bool {
	return nowMillis-t.DeletedAt > TombstoneTTL.Milliseconds()
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewID generates a fresh document identity.
func NewID() string {
	return uuid.NewString()
}

// Status is the sync engine's externally observable state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// SyncState is the engine's observable state record, published to
// subscribers after every transition.
type SyncState struct {
	Status Status `json:"status" yaml:"status"`

	// LastSyncTime is when the last cycle completed successfully,
	// epoch milliseconds, zero if never.
	LastSyncTime int64 `json:"lastSyncTime" yaml:"lastSyncTime"`

	// HasPendingChanges is set when local mutations exist that a sync
	// cycle has not yet propagated.
	HasPendingChanges bool `json:"hasPendingChanges" yaml:"hasPendingChanges"`

	// LastError holds the most recent cycle-level failure message,
	// empty after a successful cycle.
	LastError string `json:"lastError,omitempty" yaml:"lastError,omitempty"`

	// WouldLoseData answers "if the device is lost now, is data lost":
	// true while local mutations exist that are not yet durable in the
	// remote store.
	WouldLoseData bool `json:"wouldLoseData" yaml:"wouldLoseData"`
}

// CycleStats summarizes one completed sync cycle.
type CycleStats struct {
	Deleted    int `json:"deleted"`
	Pushed     int `json:"pushed"`
	Pulled     int `json:"pulled"`
	Skipped    int `json:"skipped"`
	ItemErrors int `json:"itemErrors"`
}
