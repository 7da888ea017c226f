package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups whose target row does not exist
var ErrNotFound = errors.New("store: not found")

// SourceStore persists crawl targets
type SourceStore interface {
	Create(ctx context.Context, source CrawlSourceCreate) (*CrawlSource, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CrawlSource, error)
	List(ctx context.Context) ([]*CrawlSource, error)
}

// RunStore persists crawl runs and drives their state machine, pending
// to running on MarkStarted and running to a terminal status on
// MarkCompleted
type RunStore interface {
	Create(ctx context.Context, sourceID uuid.UUID) (*CrawlRun, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CrawlRun, error)
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*CrawlRun, error)
	MarkStarted(ctx context.Context, id uuid.UUID) error
	// MarkCompleted settles the run, failed when errMsg is non-empty and
	// completed otherwise
	MarkCompleted(ctx context.Context, id uuid.UUID, errMsg string) error
	UpdateStats(ctx context.Context, id uuid.UUID, found, crawled, failed int) error
}

// PageStore persists fetch attempt records
type PageStore interface {
	Create(ctx context.Context, page CrawledPageCreate) (*CrawledPage, error)
	CreateBatch(ctx context.Context, pages []CrawledPageCreate) error
	GetByID(ctx context.Context, id uuid.UUID) (*CrawledPage, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*CrawledPage, error)
	// LatestByURLHash returns the most recent fetch record of a URL
	// within a source, across runs
	LatestByURLHash(ctx context.Context, sourceID uuid.UUID, urlHash string) (*CrawledPage, error)
}

// QueueStore is the durable work queue shared by every worker of a run,
// possibly across processes
type QueueStore interface {
	// Add inserts a single pending item, duplicates of (run, url_hash)
	// are silently absorbed and reported through the nil item
	Add(ctx context.Context, item QueueItemCreate) (*QueueItem, error)
	// AddBatch inserts pending items, silently absorbing duplicates,
	// and returns how many rows were actually inserted
	AddBatch(ctx context.Context, items []QueueItemCreate) (int, error)
	// Claim atomically moves up to limit pending items of the run to
	// processing on behalf of workerID, bumping their attempt counter.
	// Concurrent claimers never receive the same row.
	Claim(ctx context.Context, runID uuid.UUID, workerID string, limit int) ([]*QueueItem, error)
	// Complete marks the item done, a noop when it already reached a
	// terminal status
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail marks the item failed recording the error, a noop when it
	// already reached a terminal status
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
	// ResetStale reverts processing rows claimed longer ago than the
	// timeout back to pending, returning how many were reset
	ResetStale(ctx context.Context, timeout time.Duration) (int, error)
	PendingCount(ctx context.Context, runID uuid.UUID) (int, error)
	// CountByStatus is a diagnostic over the items of a run
	CountByStatus(ctx context.Context, runID uuid.UUID, status QueueStatus) (int, error)
}

// Store groups the four repositories a crawl engine depends on
type Store struct {
	Sources SourceStore
	Runs    RunStore
	Pages   PageStore
	Queue   QueueStore
}
