// Package store defines the persistent entities of the crawler and the
// repository contracts used to durably hold them, together with an
// in-memory and a Postgres-backed implementation
package store

import (
	"time"

	"github.com/google/uuid"
)

// SourceType discriminates how much of a domain a source covers
type SourceType string

const (
	SourceTypeSinglePage SourceType = "single_page"
	SourceTypeFullDomain SourceType = "full_domain"
)

// SourceStatus is mutated by an external scheduler, the engine only
// ever reads it
type SourceStatus string

const (
	SourceStatusActive SourceStatus = "active"
	SourceStatusPaused SourceStatus = "paused"
)

// RunStatus tracks the lifecycle of a crawl run, pending to running to
// one of the two terminal states
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// QueueStatus tracks a queue item through its claim cycle. Terminal
// statuses never regress, resetting a stale processing row back to
// pending is the single exception.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// CrawlSourceCreate carries the operator-provided fields of a new
// crawl target
type CrawlSourceCreate struct {
	Domain    string
	EntryURL  string
	Type      SourceType
	Frequency string
	MaxPages  *int
}

// CrawlSource is a crawl target, the domain is always derived from the
// entry URL. NextRunAt belongs to an external scheduler.
type CrawlSource struct {
	ID        uuid.UUID
	Domain    string
	EntryURL  string
	Type      SourceType
	Status    SourceStatus
	Frequency string
	MaxPages  *int
	NextRunAt *time.Time
	CreatedAt time.Time
}

// CrawlRun is one execution attempt against a source. The counters
// satisfy PagesFound == PagesCrawled + PagesFailed at every
// persistence point.
type CrawlRun struct {
	ID           uuid.UUID
	SourceID     uuid.UUID
	Status       RunStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	PagesFound   int
	PagesCrawled int
	PagesFailed  int
	Error        *string
	CreatedAt    time.Time
}

// QueueItemCreate is a URL scheduled for fetching, already normalized
// and hashed by the caller
type QueueItemCreate struct {
	RunID    uuid.UUID
	URL      string
	URLHash  string
	Depth    int
	Priority int
}

// QueueItem is a durable unit of crawl work. (RunID, URLHash) is unique
// so the same URL can never be enqueued twice within a run, and a row
// in processing always carries the worker that claimed it and when.
type QueueItem struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	URL         string
	URLHash     string
	Depth       int
	Priority    int
	Status      QueueStatus
	WorkerID    *string
	ClaimedAt   *time.Time
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}

// CrawledPageCreate is the record of one fetch attempt about to be
// persisted, content and content hash are present together or not at
// all
type CrawledPageCreate struct {
	RunID       uuid.UUID
	SourceID    uuid.UUID
	URL         string
	URLHash     string
	StatusCode  *int
	Content     *string
	ContentHash *string
	Error       *string
}

// CrawledPage is a persisted fetch attempt, append-only within a run
type CrawledPage struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	SourceID    uuid.UUID
	URL         string
	URLHash     string
	StatusCode  *int
	Content     *string
	ContentHash *string
	Error       *string
	CrawledAt   time.Time
}
