// Package localstore provides the durable local document cache.
//
// The store is the synchronous side of the system: callers mutate it
// directly and it always succeeds or fails locally, with no network
// involvement. The sync engine later reconciles its contents with the
// remote store and the metadata index.
//
// Alongside the documents themselves the store keeps:
//   - a tombstone ledger recording intentional deletions
//   - an append-only commit log of local saves
//   - a branch pointer per document (head of its commit log)
//
// Deletion ordering is the load-bearing invariant here: Delete writes the
// tombstone in its own transaction before the document and its derived
// records are removed. Any process observing a missing document therefore
// either also observes its tombstone, or the deletion has not happened yet.
package localstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

// Bucket names.
var (
	bucketDocuments  = []byte("documents")
	bucketTombstones = []byte("tombstones")
	bucketCommitLog  = []byte("commitlog")
	bucketBranches   = []byte("branches")
)

// Store is the bbolt-backed local document cache.
type Store struct {
	db     *bbolt.DB
	logger *log.Logger

	// nowMillis is swapped in tests to control tombstone expiry.
	nowMillis func() int64

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextListen  int
}

// CommitEntry is one record of the append-only commit log.
type CommitEntry struct {
	// Seq is the entry's position in the document's log.
	Seq uint64 `json:"seq"`

	// DocumentID is the document this entry belongs to.
	DocumentID string `json:"documentId"`

	// SavedAt is when the save happened, epoch milliseconds.
	SavedAt int64 `json:"savedAt"`

	// Message describes the save.
	Message string `json:"message,omitempty"`
}

// Open opens (creating if necessary) the local store at path.
//
// Expired tombstones are pruned as part of initialization. If logger is
// nil, a default logger writing to stderr is used.
//
// The caller MUST call Close() when done.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	s := &Store{
		db:        db,
		logger:    logger,
		nowMillis: document.NowMillis,
		listeners: make(map[int]func()),
	}

	if err := s.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	if n, err := s.pruneExpiredTombstones(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prune tombstones: %w", err)
	} else if n > 0 {
		logger.Printf("Pruned %d expired tombstones", n)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDocuments, bucketTombstones, bucketCommitLog, bucketBranches} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Save stores or replaces the document bundle, appends a commit log entry,
// advances the document's branch pointer, and clears any tombstone for the
// same id in the same transaction. Re-creating a tombstoned document is an
// explicit act that supersedes the prior deletion.
func (s *Store) Save(bundle *document.Bundle) error {
	return s.SaveWithMessage(bundle, "save")
}

// SaveWithMessage is Save with an explicit commit log message.
func (s *Store) SaveWithMessage(bundle *document.Bundle, message string) error {
	if bundle == nil || bundle.Meta == nil || bundle.Meta.ID == "" {
		return fmt.Errorf("bundle must have a meta with an id")
	}
	id := bundle.Meta.ID

	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	entry := CommitEntry{
		DocumentID: id,
		SavedAt:    s.nowMillis(),
		Message:    message,
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDocuments).Put([]byte(id), data); err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}

		// A tombstone for this id is superseded by the new save.
		if err := tx.Bucket(bucketTombstones).Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to clear tombstone: %w", err)
		}

		logBucket := tx.Bucket(bucketCommitLog)
		seq, err := logBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate log sequence: %w", err)
		}
		entry.Seq = seq

		entryData, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		if err := logBucket.Put(logKey(id, seq), entryData); err != nil {
			return fmt.Errorf("failed to append log entry: %w", err)
		}

		var head [8]byte
		binary.BigEndian.PutUint64(head[:], seq)
		if err := tx.Bucket(bucketBranches).Put([]byte(id), head[:]); err != nil {
			return fmt.Errorf("failed to advance branch pointer: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// Load retrieves the document bundle for id.
// Returns document.ErrNotFound if the document is absent.
func (s *Store) Load(id string) (*document.Bundle, error) {
	var bundle *document.Bundle

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document %s: %w", id, document.ErrNotFound)
		}

		bundle = &document.Bundle{}
		if err := json.Unmarshal(data, bundle); err != nil {
			return fmt.Errorf("document %s: %w: %v", id, document.ErrCorruptData, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// Delete removes the document under the tombstone protocol.
//
// The tombstone is committed in its own transaction FIRST; only then are
// the document, its commit log, and its branch pointer removed. A crash
// between the two transactions leaves a tombstoned document, which the
// next Delete or sync cycle cleans up. The reverse ordering would leave an
// undeleted orphan with no deletion record.
//
// Deleting an absent document still records the tombstone and returns nil.
func (s *Store) Delete(id string) error {
	ts := document.Tombstone{DocumentID: id, DeletedAt: s.nowMillis()}
	tsData, err := json.Marshal(&ts)
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTombstones).Put([]byte(id), tsData)
	})
	if err != nil {
		return fmt.Errorf("failed to write tombstone: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDocuments).Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		if err := tx.Bucket(bucketBranches).Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete branch pointer: %w", err)
		}
		return deleteLogEntries(tx.Bucket(bucketCommitLog), id)
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// List returns the metas of all stored documents. Entries that fail to
// parse are logged and skipped rather than aborting the listing.
func (s *Store) List() ([]*document.Meta, error) {
	var metas []*document.Meta

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			var bundle document.Bundle
			if err := json.Unmarshal(v, &bundle); err != nil {
				s.logger.Printf("WARNING: skipping corrupt document %s: %v", k, err)
				return nil
			}
			metas = append(metas, bundle.Meta)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return metas, nil
}

// IsTombstoned reports whether id has a live (unexpired) tombstone.
// An expired tombstone found during the read is removed lazily.
func (s *Store) IsTombstoned(id string) (bool, error) {
	var live bool

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTombstones)
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}

		var ts document.Tombstone
		if err := json.Unmarshal(data, &ts); err != nil {
			// A tombstone we cannot parse cannot be honored.
			s.logger.Printf("WARNING: removing corrupt tombstone %s: %v", id, err)
			return bucket.Delete([]byte(id))
		}

		if ts.Expired(s.nowMillis()) {
			return bucket.Delete([]byte(id))
		}

		live = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read tombstone: %w", err)
	}
	return live, nil
}

// TombstonedIDs returns the set of ids with live tombstones, removing
// expired records encountered along the way.
func (s *Store) TombstonedIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTombstones)
		var expired [][]byte

		err := bucket.ForEach(func(k, v []byte) error {
			var ts document.Tombstone
			if err := json.Unmarshal(v, &ts); err != nil {
				s.logger.Printf("WARNING: skipping corrupt tombstone %s: %v", k, err)
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			if ts.Expired(s.nowMillis()) {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			ids[string(k)] = struct{}{}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	return ids, nil
}

// ClearTombstone removes the tombstone for id, if any. Clearing cancels
// the deletion's outward propagation: the next cycle treats the remote
// copy as ordinary novelty and pulls it back.
func (s *Store) ClearTombstone(id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTombstones).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to clear tombstone: %w", err)
	}
	s.notify()
	return nil
}

// History returns the commit log entries for id, oldest first.
func (s *Store) History(id string) ([]CommitEntry, error) {
	var entries []CommitEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCommitLog).Cursor()
		prefix := logPrefix(id)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry CommitEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				s.logger.Printf("WARNING: skipping corrupt log entry %s: %v", k, err)
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

// OnChange registers a listener fired synchronously after any mutating
// operation. The notification carries no payload and provides no ordering
// guarantee across operations; it exists to flag pending changes.
// The returned function unsubscribes the listener.
func (s *Store) OnChange(listener func()) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListen
	s.nextListen++
	s.listeners[id] = listener

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// pruneExpiredTombstones removes tombstones past their TTL.
func (s *Store) pruneExpiredTombstones() (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTombstones)
		var expired [][]byte

		err := bucket.ForEach(func(k, v []byte) error {
			var ts document.Tombstone
			if err := json.Unmarshal(v, &ts); err != nil {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			if ts.Expired(s.nowMillis()) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// logKey builds the commit log key id + 0x00 + big-endian seq, keeping a
// document's entries contiguous and ordered.
func logKey(id string, seq uint64) []byte {
	key := make([]byte, 0, len(id)+9)
	key = append(key, id...)
	key = append(key, 0)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(key, b[:]...)
}

func logPrefix(id string) []byte {
	prefix := make([]byte, 0, len(id)+1)
	prefix = append(prefix, id...)
	return append(prefix, 0)
}

func deleteLogEntries(bucket *bbolt.Bucket, id string) error {
	c := bucket.Cursor()
	prefix := logPrefix(id)

	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return fmt.Errorf("failed to delete log entry: %w", err)
		}
	}
	return nil
}
