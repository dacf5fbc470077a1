package crawler

import (
	"context"
	"time"
)

// SettingsStore persists crawler settings. Implementations map
// duplicate names to ConflictError and unknown ids/names to
// NotFoundError.
type SettingsStore interface {
	Create(ctx context.Context, s Settings) error
	Update(ctx context.Context, s Settings) error
	Get(ctx context.Context, id string) (Settings, error)
	GetByName(ctx context.Context, name string) (Settings, error)
	List(ctx context.Context, filter ListFilter) ([]Settings, int, error)
	Delete(ctx context.Context, id string) error
}

// CatalogStore is the upsert target for fetched catalog items.
type CatalogStore interface {
	// ContentHash returns the stored hash for (source, slug), or ""
	// when the item has never been ingested.
	ContentHash(ctx context.Context, source, slug string) (string, error)
	Upsert(ctx context.Context, movie MovieRecord) error
}

// RunTracker keeps the per-crawler-name run state record.
type RunTracker interface {
	// TryStart atomically transitions a crawler from idle to running.
	// It returns false when a run is already in flight, which is the
	// dedup gate for concurrent triggers.
	TryStart(name, runID string) bool
	Finish(name string, status RunStatus, counters RunCounters)
	State(name string) (RunState, bool)
	// Release drops a running slot without a terminal state, for
	// callers that claimed the slot but failed to dispatch.
	Release(name, runID string)
}

// Queue provides enqueue/dequeue semantics for run requests.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Source walks one source host's catalog and fetches item payloads.
type Source interface {
	// ListSlugs returns the slugs on the given 1-based catalog page
	// and whether more pages follow.
	ListSlugs(ctx context.Context, page int) ([]string, bool, error)
	FetchItem(ctx context.Context, slug string) (Item, error)
}

// SourceFactory builds a Source bound to one crawler's settings snapshot.
type SourceFactory func(s Settings) Source

// ArchiveStore writes raw payload artifacts and returns a URI.
type ArchiveStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces ids for settings records and runs.
type IDGenerator interface {
	NewID() (string, error)
}
