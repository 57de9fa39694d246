// Package cache persists the client query-cache snapshot across restarts.
//
// The stored document carries a schema version and a persistence time so
// a restore never resurrects a cache shape the running code cannot use,
// or data stale beyond the TTL. Persistence is fire-and-forget: a broken
// local store only costs the warm start, never a caller error.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taskdeck/clientsync/internal/kv"
	"github.com/taskdeck/clientsync/internal/logging"
	"github.com/taskdeck/clientsync/internal/models"
)

// CacheKey is the kv key holding the serialized cache document.
const CacheKey = "query_cache"

// CurrentVersion tags the cache document schema. Bump it whenever the
// snapshot shape changes incompatibly; older documents are discarded on
// restore.
const CurrentVersion = 1

// DefaultTTL is the maximum age of a restorable cache document.
const DefaultTTL = 24 * time.Hour

// Persister reads and writes the versioned cache document.
type Persister struct {
	store   kv.Store
	version int
	ttl     time.Duration

	// injected for tests
	now func() time.Time
}

// NewPersister creates a Persister with the current schema version and
// default TTL.
func NewPersister(store kv.Store) *Persister {
	return &Persister{
		store:   store,
		version: CurrentVersion,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

// PersistClient wraps the snapshot with the current version and time and
// writes it. Failures are logged; the caller is not notified.
func (p *Persister) PersistClient(ctx context.Context, snapshot json.RawMessage) {
	doc := models.CacheDocument{
		Version:   p.version,
		Timestamp: p.now().UnixMilli(),
		Client:    snapshot,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		logging.Warn("failed to encode cache document",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if err := p.store.Set(ctx, CacheKey, data); err != nil {
		logging.Warn("failed to persist cache document",
			map[string]interface{}{"error": err.Error()})
	}
}

// RestoreClient returns the stored snapshot, or nil when the document is
// absent, carries a different schema version, or is older than the TTL.
// Stale documents are deleted as a side effect.
func (p *Persister) RestoreClient(ctx context.Context) json.RawMessage {
	data, err := p.store.Get(ctx, CacheKey)
	if err == kv.ErrNotFound {
		return nil
	}
	if err != nil {
		logging.Warn("failed to read cache document",
			map[string]interface{}{"error": err.Error()})
		return nil
	}

	var doc models.CacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Warn("cache document is corrupt, discarding",
			map[string]interface{}{"error": err.Error()})
		p.RemoveClient(ctx)
		return nil
	}

	if doc.Version != p.version {
		logging.Info("cache document version mismatch, discarding",
			map[string]interface{}{"stored": doc.Version, "expected": p.version})
		p.RemoveClient(ctx)
		return nil
	}

	age := p.now().UnixMilli() - doc.Timestamp
	if age > p.ttl.Milliseconds() {
		logging.Info("cache document expired, discarding",
			map[string]interface{}{"age_ms": age})
		p.RemoveClient(ctx)
		return nil
	}

	return doc.Client
}

// RemoveClient unconditionally deletes the stored document. Failures are
// logged, not propagated.
func (p *Persister) RemoveClient(ctx context.Context) {
	if err := p.store.Delete(ctx, CacheKey); err != nil {
		logging.Warn("failed to remove cache document",
			map[string]interface{}{"error": err.Error()})
	}
}
