package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-delta/delta"
	"github.com/alimasry/go-delta/internal/logger"
)

// dirtyState tracks what needs flushing for a single document.
type dirtyState struct {
	contentDirty   bool // delta/version needs writing to backing store
	flushedChanges int  // number of changes already flushed (index into history)
	created        bool // doc created locally but not yet in backing store
}

// CachedStore wraps a backing DocumentStore with an in-memory cache.
// All reads and writes are served from the cache. Dirty documents are
// flushed to the backing store periodically in the background.
type CachedStore struct {
	cache         *MemoryStore
	backing       DocumentStore
	mu            sync.Mutex
	dirty         map[string]*dirtyState
	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	log           *zap.Logger
}

// NewCachedStore creates a CachedStore that caches in memory and flushes
// dirty documents to the backing store every flushInterval.
func NewCachedStore(backing DocumentStore, flushInterval time.Duration) *CachedStore {
	cs := &CachedStore{
		cache:         NewMemoryStore(),
		backing:       backing,
		dirty:         make(map[string]*dirtyState),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		log:           logger.NewNamed("store.cached"),
	}
	go cs.flushLoop()
	return cs
}

func (cs *CachedStore) Create(ctx context.Context, id string, doc *delta.Document) error {
	if _, err := cs.backing.Get(ctx, id); err == nil {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	if err := cs.cache.Create(ctx, id, doc); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.dirty[id] = &dirtyState{contentDirty: true, created: true}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info, err := cs.cache.Get(ctx, id)
	if err == nil {
		return info, nil
	}
	// Cache miss, load from backing store.
	if err := cs.loadFromBacking(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.Get(ctx, id)
}

// List merges the backing store's documents with cached ones not yet flushed.
func (cs *CachedStore) List(ctx context.Context) ([]DocumentInfo, error) {
	backed, err := cs.backing.List(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := cs.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(backed))
	for i, info := range backed {
		byID[info.ID] = i
	}
	for _, info := range cached {
		if i, ok := byID[info.ID]; ok {
			backed[i] = info
		} else {
			backed = append(backed, info)
		}
	}
	return backed, nil
}

func (cs *CachedStore) UpdateContent(ctx context.Context, id string, doc *delta.Document, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}
	if err := cs.cache.UpdateContent(ctx, id, doc, version); err != nil {
		return err
	}
	cs.mu.Lock()
	ds := cs.dirty[id]
	if ds == nil {
		ds = &dirtyState{flushedChanges: cs.cachedHistoryLen(id)}
		cs.dirty[id] = ds
	}
	ds.contentDirty = true
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) AppendChange(ctx context.Context, id string, change *delta.Document, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}

	// Snapshot history length before append so we know how many changes were
	// already flushed if this doc was previously clean (removed from dirty map).
	prevLen := cs.cachedHistoryLen(id)

	if err := cs.cache.AppendChange(ctx, id, change, version); err != nil {
		return err
	}
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedChanges: prevLen}
	}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) GetChanges(ctx context.Context, id string, fromVersion int) ([]*delta.Document, error) {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.GetChanges(ctx, id, fromVersion)
}

func (cs *CachedStore) cachedHistoryLen(id string) int {
	cs.cache.mu.RLock()
	defer cs.cache.mu.RUnlock()
	if rec, ok := cs.cache.docs[id]; ok {
		return len(rec.history)
	}
	return 0
}

// loadFromBacking loads a document and its changes from the backing store
// into the cache. It sets flushedChanges so that already-persisted changes
// are not re-flushed.
func (cs *CachedStore) loadFromBacking(ctx context.Context, id string) error {
	info, err := cs.backing.Get(ctx, id)
	if err != nil {
		return err
	}
	changes, err := cs.backing.GetChanges(ctx, id, 0)
	if err != nil {
		return err
	}

	cs.cache.mu.Lock()
	if _, exists := cs.cache.docs[id]; !exists {
		cs.cache.docs[id] = &docRecord{
			info:    *info,
			history: changes,
		}
	}
	cs.cache.mu.Unlock()

	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedChanges: len(changes)}
	}
	cs.mu.Unlock()

	return nil
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.flush()
		case <-cs.stop:
			cs.flush()
			return
		}
	}
}

// flush writes all dirty documents to the backing store.
func (cs *CachedStore) flush() {
	cs.mu.Lock()
	snapshot := make(map[string]*dirtyState, len(cs.dirty))
	for id, ds := range cs.dirty {
		cp := *ds
		snapshot[id] = &cp
	}
	cs.mu.Unlock()

	ctx := context.Background()

	for id, ds := range snapshot {
		cs.cache.mu.RLock()
		rec, ok := cs.cache.docs[id]
		if !ok {
			cs.cache.mu.RUnlock()
			continue
		}
		info := rec.info
		total := len(rec.history)
		var pending []*delta.Document
		if ds.flushedChanges < total {
			pending = make([]*delta.Document, total-ds.flushedChanges)
			copy(pending, rec.history[ds.flushedChanges:])
		}
		cs.cache.mu.RUnlock()

		l := cs.log.With(zap.String("doc", id))

		// 1. Create doc in backing store if needed.
		if ds.created {
			if err := cs.backing.Create(ctx, id, info.Delta); err != nil {
				l.Warn("create in backing store failed", zap.Error(err))
				continue
			}
		}

		// 2. Flush new changes before content, so a crash can be replayed.
		for i, change := range pending {
			version := ds.flushedChanges + i + 1
			if err := cs.backing.AppendChange(ctx, id, change, version); err != nil {
				l.Warn("flush change failed", zap.Int("version", version), zap.Error(err))
				// Stop flushing this doc, retry next cycle.
				break
			}
			ds.flushedChanges++
		}

		// 3. Flush content if dirty.
		if ds.contentDirty {
			if err := cs.backing.UpdateContent(ctx, id, info.Delta, info.Version); err != nil {
				l.Warn("flush content failed", zap.Error(err))
			} else {
				ds.contentDirty = false
			}
		}

		ds.created = false
		l.Debug("flushed", zap.Int("changes", ds.flushedChanges), zap.Int("version", info.Version))

		// Update the authoritative dirty state.
		cs.mu.Lock()
		if cur := cs.dirty[id]; cur != nil {
			cur.flushedChanges = ds.flushedChanges
			cur.created = ds.created
			if !ds.contentDirty {
				cur.contentDirty = false
			}
			// Drop from the dirty map only if nothing arrived since the snapshot.
			if !cur.contentDirty && !cur.created && cur.flushedChanges >= cs.cachedHistoryLen(id) {
				delete(cs.dirty, id)
			}
		}
		cs.mu.Unlock()
	}
}

// Close signals the flush loop to perform a final flush and waits for it
// to complete.
func (cs *CachedStore) Close() {
	close(cs.stop)
	<-cs.done
}
