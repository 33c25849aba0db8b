// Package syncengine reconciles the local store, the remote store, and
// the metadata index.
//
// The engine is the only component whose logic spans stores. Callers
// mutate the local store directly; the engine runs periodically (or on
// demand) and drives a three-phase cycle:
//
//	Phase 1  propagate local deletions outward (tombstone set)
//	Phase 2  push local documents, thumbnails, and index metadata
//	Phase 3  pull documents that exist remotely but not locally
//
// Phase order is load-bearing: deletions must go out before novelty is
// pulled, or a tombstoned document still present remotely would be
// re-pulled in the very cycle meant to purge it.
//
// A single in-flight flag makes the sync trigger idempotent: invoking it
// while a cycle runs, or while suspended, is a documented no-op. Per-item
// failures inside a cycle are logged and counted but never abort the
// cycle; only a failure in the cycle's own control logic transitions the
// engine to the error state.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dafiiit/hivecad-sync/internal/document"
	"github.com/dafiiit/hivecad-sync/internal/identity"
	"github.com/dafiiit/hivecad-sync/internal/remote"
)

// LocalStore is the slice of the local store the engine consumes.
type LocalStore interface {
	Save(bundle *document.Bundle) error
	Load(id string) (*document.Bundle, error)
	List() ([]*document.Meta, error)
	IsTombstoned(id string) (bool, error)
	TombstonedIDs() (map[string]struct{}, error)
	OnChange(listener func()) func()
}

// MetadataIndex is the slice of the metadata index the engine consumes.
// Index writes are best-effort: the index may lag the remote store and is
// never the source of truth.
type MetadataIndex interface {
	Upsert(ctx context.Context, meta *document.Meta) error
	Delete(ctx context.Context, id string) error
}

// ThumbnailSource supplies locally cached thumbnails for Phase 2 pushes.
type ThumbnailSource interface {
	// Get returns the thumbnail blob for id, or document.ErrNotFound.
	Get(id string) ([]byte, error)
}

// Config wires the engine's collaborators.
type Config struct {
	Local     LocalStore
	Remote    remote.Store
	Index     MetadataIndex
	Identity  identity.Provider
	Scheduler Scheduler

	// Thumbnails is optional; nil disables thumbnail pushes.
	Thumbnails ThumbnailSource

	// Interval is the periodic trigger interval.
	Interval time.Duration

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultInterval is used when the configuration names no interval.
const DefaultInterval = 30 * time.Second

// Engine is the reconciliation orchestrator.
type Engine struct {
	local     LocalStore
	remote    remote.Store
	index     MetadataIndex
	ident     identity.Provider
	scheduler Scheduler
	thumbs    ThumbnailSource
	interval  time.Duration
	logger    *log.Logger

	mu          sync.Mutex
	inFlight    bool
	suspended   bool
	state       document.SyncState
	lastStats   document.CycleStats
	cancelTimer func()
	unsubscribe func()

	subsMu sync.Mutex
	subs   map[int]func(document.SyncState)
	subSeq int
}

// New creates an engine. Local, Remote, Index, Identity, and Scheduler
// are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Local == nil || cfg.Remote == nil || cfg.Index == nil {
		return nil, fmt.Errorf("local store, remote store, and metadata index are required")
	}
	if cfg.Identity == nil {
		cfg.Identity = identity.Anonymous{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TickerScheduler{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		local:     cfg.Local,
		remote:    cfg.Remote,
		index:     cfg.Index,
		ident:     cfg.Identity,
		scheduler: cfg.Scheduler,
		thumbs:    cfg.Thumbnails,
		interval:  cfg.Interval,
		logger:    cfg.Logger,
		state:     document.SyncState{Status: document.StatusIdle},
		subs:      make(map[int]func(document.SyncState)),
	}, nil
}

// Start begins periodic reconciliation and subscribes to local change
// notifications so pending-change state reflects caller mutations.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unsubscribe == nil {
		e.unsubscribe = e.local.OnChange(func() {
			e.mu.Lock()
			e.state.HasPendingChanges = true
			e.state.WouldLoseData = true
			state := e.state
			e.mu.Unlock()
			e.publish(state)
		})
	}

	if e.cancelTimer == nil && !e.suspended {
		e.cancelTimer = e.scheduler.Every(e.interval, func() {
			_ = e.SyncNow(ctx)
		})
	}
}

// Stop halts the periodic trigger and the change subscription. A cycle
// already in flight is not aborted; combine with WaitForIdle for a hard
// stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelTimer != nil {
		e.cancelTimer()
		e.cancelTimer = nil
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// Suspend halts the periodic timer and blocks new cycles immediately.
// Used before destructive maintenance (bulk reset) so a concurrent
// trigger cannot race it. A cycle already running is not aborted.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.suspended = true
	if e.cancelTimer != nil {
		e.cancelTimer()
		e.cancelTimer = nil
	}
}

// Resume lifts a suspension and restarts the periodic timer, but only if
// the remote store is still connected.
func (e *Engine) Resume(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.suspended = false
	if e.cancelTimer == nil && e.remote.IsConnected() {
		e.cancelTimer = e.scheduler.Every(e.interval, func() {
			_ = e.SyncNow(ctx)
		})
	}
}

// WaitForIdle polls until no cycle is in flight, or fails after timeout.
func (e *Engine) WaitForIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		busy := e.inFlight
		e.mu.Unlock()
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for sync to drain", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// State returns a snapshot of the current sync state.
func (e *Engine) State() document.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastStats returns the statistics of the most recent completed cycle.
func (e *Engine) LastStats() document.CycleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStats
}

// Subscribe registers a listener invoked after every state transition.
// The returned function unsubscribes it.
func (e *Engine) Subscribe(listener func(document.SyncState)) func() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	id := e.subSeq
	e.subSeq++
	e.subs[id] = listener

	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) publish(state document.SyncState) {
	e.subsMu.Lock()
	listeners := make([]func(document.SyncState), 0, len(e.subs))
	for _, fn := range e.subs {
		listeners = append(listeners, fn)
	}
	e.subsMu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// SyncNow triggers one reconciliation cycle.
//
// Idempotent by design: while a cycle is in flight, or while suspended,
// the call is a no-op and returns nil. Returns the cycle-level error, if
// any; item-level failures are logged, counted in the cycle stats, and
// never surface here.
func (e *Engine) SyncNow(ctx context.Context) error {
	e.mu.Lock()
	if e.inFlight || e.suspended {
		e.mu.Unlock()
		return nil
	}

	if !e.remote.IsConnected() {
		e.mu.Unlock()
		if err := e.remote.Connect(ctx); err != nil {
			e.logger.Printf("Remote unreachable: %v", err)
			e.setOffline()
			return nil
		}
		e.mu.Lock()
		// Re-check: another trigger may have won the race while we
		// were connecting.
		if e.inFlight || e.suspended {
			e.mu.Unlock()
			return nil
		}
	}

	e.inFlight = true
	e.state.Status = document.StatusSyncing
	state := e.state
	e.mu.Unlock()
	e.publish(state)

	stats, err := e.runCycle(ctx)

	e.mu.Lock()
	e.inFlight = false
	e.lastStats = stats
	if errors.Is(err, document.ErrNotConnected) {
		// The remote dropped mid-cycle: that is offline, not an engine
		// error. The next cycle re-probes connectivity.
		e.state.Status = document.StatusOffline
		state := e.state
		e.mu.Unlock()
		e.publish(state)
		e.logger.Printf("Remote connection lost during sync: %v", err)
		return nil
	}
	if err != nil {
		e.state.Status = document.StatusError
		e.state.LastError = err.Error()
	} else {
		e.state.Status = document.StatusIdle
		e.state.LastSyncTime = document.NowMillis()
		e.state.HasPendingChanges = false
		e.state.WouldLoseData = false
		e.state.LastError = ""
	}
	state = e.state
	e.mu.Unlock()
	e.publish(state)

	if err != nil {
		e.logger.Printf("Sync cycle failed: %v", err)
		return err
	}
	e.logger.Printf("Sync cycle complete: deleted=%d pushed=%d pulled=%d skipped=%d itemErrors=%d",
		stats.Deleted, stats.Pushed, stats.Pulled, stats.Skipped, stats.ItemErrors)
	return nil
}

func (e *Engine) setOffline() {
	e.mu.Lock()
	e.state.Status = document.StatusOffline
	state := e.state
	e.mu.Unlock()
	e.publish(state)
}

// runCycle executes the three phases in strict order. Errors returned
// here are cycle-level: failures of the control logic itself, not of
// individual documents.
func (e *Engine) runCycle(ctx context.Context) (document.CycleStats, error) {
	var stats document.CycleStats

	tombstoned, err := e.local.TombstonedIDs()
	if err != nil {
		return stats, fmt.Errorf("failed to read tombstone set: %w", err)
	}

	// Phase 1: propagate deletions. Runs before the pull phase so a
	// tombstoned document still present remotely is purged, not
	// re-pulled.
	for id := range tombstoned {
		e.propagateDeletion(ctx, id, &stats)
	}

	// Phase 2: push local state.
	metas, err := e.local.List()
	if err != nil {
		return stats, fmt.Errorf("failed to list local documents: %w", err)
	}
	for _, meta := range metas {
		if _, dead := tombstoned[meta.ID]; dead {
			continue
		}
		if err := e.pushDocument(ctx, meta.ID); err != nil {
			e.logger.Printf("WARNING: failed to push %s: %v", meta.ID, err)
			stats.ItemErrors++
			continue
		}
		stats.Pushed++
	}

	// Phase 3: pull remote novelty.
	remoteMetas, err := e.remote.PullAllMetas(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list remote documents: %w", err)
	}

	localIDs := make(map[string]struct{}, len(metas))
	for _, meta := range metas {
		localIDs[meta.ID] = struct{}{}
	}

	for _, meta := range remoteMetas {
		if _, exists := localIDs[meta.ID]; exists {
			// Same-id content conflicts are not merged here: the
			// next push wins.
			continue
		}

		dead, err := e.local.IsTombstoned(meta.ID)
		if err != nil {
			return stats, fmt.Errorf("failed to check tombstone for %s: %w", meta.ID, err)
		}
		if dead {
			// Another device resurrected a document we deleted.
			// Re-propagate the deletion instead of pulling it back.
			e.propagateDeletion(ctx, meta.ID, &stats)
			continue
		}

		if err := e.pullDocument(ctx, meta.ID); err != nil {
			if errors.Is(err, document.ErrCorruptData) {
				e.logger.Printf("WARNING: skipping corrupt remote document %s: %v", meta.ID, err)
				stats.Skipped++
				continue
			}
			e.logger.Printf("WARNING: failed to pull %s: %v", meta.ID, err)
			stats.ItemErrors++
			continue
		}
		stats.Pulled++
	}

	return stats, nil
}

// propagateDeletion pushes one tombstone outward: remote store first,
// then metadata index. A failed remote delete is logged and leaves the
// tombstone for the next cycle; only a landed remote delete counts as a
// deletion.
func (e *Engine) propagateDeletion(ctx context.Context, id string, stats *document.CycleStats) {
	if err := e.remote.DeleteDocument(ctx, id); err != nil && !errors.Is(err, document.ErrNotFound) {
		e.logger.Printf("WARNING: failed to delete %s from remote: %v", id, err)
		stats.ItemErrors++
		return
	}
	if err := e.index.Delete(ctx, id); err != nil {
		e.logger.Printf("WARNING: failed to delete %s from index: %v", id, err)
		stats.ItemErrors++
	}
	stats.Deleted++
}

// pushDocument pushes one document's bundle, thumbnail, and metadata.
// Ownership is stamped when an identity is available. The index upsert
// requires an identity; without one it is skipped, so the index can lag
// the remote store for anonymous sessions.
func (e *Engine) pushDocument(ctx context.Context, id string) error {
	bundle, err := e.local.Load(id)
	if err != nil {
		return err
	}

	userID := e.ident.CurrentUserID()
	if userID != "" {
		bundle.Meta.OwnerID = userID
		bundle.Meta.OwnerEmail = e.ident.CurrentUserEmail()
	}
	bundle.Meta.RemoteProvider = e.remote.Name().String()

	if err := e.remote.PushDocument(ctx, bundle); err != nil {
		return err
	}

	if e.thumbs != nil {
		blob, err := e.thumbs.Get(id)
		switch {
		case err == nil:
			if err := e.remote.PushThumbnail(ctx, id, blob); err != nil {
				e.logger.Printf("WARNING: failed to push thumbnail %s: %v", id, err)
			}
		case !errors.Is(err, document.ErrNotFound):
			e.logger.Printf("WARNING: failed to read thumbnail %s: %v", id, err)
		}
	}

	if userID == "" {
		return nil
	}
	if err := e.index.Upsert(ctx, bundle.Meta); err != nil {
		e.logger.Printf("WARNING: failed to upsert %s into index: %v", id, err)
	}
	return nil
}

// pullDocument pulls one remote document into the local store.
func (e *Engine) pullDocument(ctx context.Context, id string) error {
	bundle, err := e.remote.PullDocument(ctx, id)
	if err != nil {
		return err
	}
	return e.local.Save(bundle)
}
