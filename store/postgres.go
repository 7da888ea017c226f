package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the production Store backend. Claims and stale resets go
// through the claim_queue_items and reset_stale_queue_items server-side
// routines shipped in schema.sql, which rely on FOR UPDATE SKIP LOCKED
// so that orchestrators in different processes can share a run without
// ever receiving the same row.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool against the datastore URL. The service key
// is applied as the connection password when the URL does not already
// carry one.
func Connect(ctx context.Context, datastoreURL, serviceKey string) (*Postgres, *Store, error) {
	config, err := pgxpool.ParseConfig(datastoreURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing datastore URL: %w", err)
	}
	if config.ConnConfig.Password == "" {
		config.ConnConfig.Password = serviceKey
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to datastore: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging datastore: %w", err)
	}
	p := &Postgres{pool: pool}
	return p, &Store{
		Sources: pgSources{pool},
		Runs:    pgRuns{pool},
		Pages:   pgPages{pool},
		Queue:   pgQueue{pool},
	}, nil
}

// Close releases the underlying connection pool
func (p *Postgres) Close() {
	p.pool.Close()
}

type pgSources struct{ pool *pgxpool.Pool }

const sourceColumns = `id, domain, entry_url, type, status, frequency, max_pages, next_run_at, created_at`

func scanSource(row pgx.Row) (*CrawlSource, error) {
	var s CrawlSource
	err := row.Scan(&s.ID, &s.Domain, &s.EntryURL, &s.Type, &s.Status,
		&s.Frequency, &s.MaxPages, &s.NextRunAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning crawl source: %w", err)
	}
	return &s, nil
}

func (r pgSources) Create(ctx context.Context, source CrawlSourceCreate) (*CrawlSource, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO crawl_sources (domain, entry_url, type, frequency, max_pages)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sourceColumns,
		source.Domain, source.EntryURL, source.Type, source.Frequency, source.MaxPages)
	return scanSource(row)
}

func (r pgSources) GetByID(ctx context.Context, id uuid.UUID) (*CrawlSource, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM crawl_sources WHERE id = $1`, id)
	return scanSource(row)
}

func (r pgSources) List(ctx context.Context) ([]*CrawlSource, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM crawl_sources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing crawl sources: %w", err)
	}
	defer rows.Close()
	var out []*CrawlSource
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, source)
	}
	return out, rows.Err()
}

type pgRuns struct{ pool *pgxpool.Pool }

const runColumns = `id, source_id, status, started_at, completed_at,
	pages_found, pages_crawled, pages_failed, error, created_at`

func scanRun(row pgx.Row) (*CrawlRun, error) {
	var r CrawlRun
	err := row.Scan(&r.ID, &r.SourceID, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.PagesFound, &r.PagesCrawled, &r.PagesFailed, &r.Error, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning crawl run: %w", err)
	}
	return &r, nil
}

func (r pgRuns) Create(ctx context.Context, sourceID uuid.UUID) (*CrawlRun, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO crawl_runs (source_id) VALUES ($1)
		RETURNING `+runColumns, sourceID)
	return scanRun(row)
}

func (r pgRuns) GetByID(ctx context.Context, id uuid.UUID) (*CrawlRun, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM crawl_runs WHERE id = $1`, id)
	return scanRun(row)
}

func (r pgRuns) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*CrawlRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+` FROM crawl_runs
		WHERE source_id = $1 ORDER BY created_at DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing crawl runs: %w", err)
	}
	defer rows.Close()
	var out []*CrawlRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r pgRuns) MarkStarted(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE crawl_runs SET status = 'running', started_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking run started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgRuns) MarkCompleted(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE crawl_runs
		SET status = CASE WHEN $2 <> '' THEN 'failed' ELSE 'completed' END,
		    error = NULLIF($2, ''),
		    completed_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("marking run completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgRuns) UpdateStats(ctx context.Context, id uuid.UUID, found, crawled, failed int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE crawl_runs
		SET pages_found = $2, pages_crawled = $3, pages_failed = $4
		WHERE id = $1`, id, found, crawled, failed)
	if err != nil {
		return fmt.Errorf("updating run stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgPages struct{ pool *pgxpool.Pool }

const pageColumns = `id, run_id, source_id, url, url_hash, status_code,
	content, content_hash, error, crawled_at`

func scanPage(row pgx.Row) (*CrawledPage, error) {
	var p CrawledPage
	err := row.Scan(&p.ID, &p.RunID, &p.SourceID, &p.URL, &p.URLHash,
		&p.StatusCode, &p.Content, &p.ContentHash, &p.Error, &p.CrawledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning crawled page: %w", err)
	}
	return &p, nil
}

func (r pgPages) Create(ctx context.Context, page CrawledPageCreate) (*CrawledPage, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO crawled_pages
			(run_id, source_id, url, url_hash, status_code, content, content_hash, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+pageColumns,
		page.RunID, page.SourceID, page.URL, page.URLHash,
		page.StatusCode, page.Content, page.ContentHash, page.Error)
	return scanPage(row)
}

func (r pgPages) CreateBatch(ctx context.Context, pages []CrawledPageCreate) error {
	if len(pages) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(pages))
	for _, page := range pages {
		rows = append(rows, []any{
			page.RunID, page.SourceID, page.URL, page.URLHash,
			page.StatusCode, page.Content, page.ContentHash, page.Error,
		})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"crawled_pages"},
		[]string{"run_id", "source_id", "url", "url_hash", "status_code", "content", "content_hash", "error"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("batch inserting crawled pages: %w", err)
	}
	return nil
}

func (r pgPages) GetByID(ctx context.Context, id uuid.UUID) (*CrawledPage, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM crawled_pages WHERE id = $1`, id)
	return scanPage(row)
}

func (r pgPages) ListByRun(ctx context.Context, runID uuid.UUID) ([]*CrawledPage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pageColumns+` FROM crawled_pages
		WHERE run_id = $1 ORDER BY crawled_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing crawled pages: %w", err)
	}
	defer rows.Close()
	var out []*CrawledPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

func (r pgPages) LatestByURLHash(ctx context.Context, sourceID uuid.UUID, urlHash string) (*CrawledPage, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+pageColumns+` FROM crawled_pages
		WHERE source_id = $1 AND url_hash = $2
		ORDER BY crawled_at DESC LIMIT 1`, sourceID, urlHash)
	return scanPage(row)
}

type pgQueue struct{ pool *pgxpool.Pool }

const queueColumns = `id, run_id, url, url_hash, depth, priority, status,
	worker_id, claimed_at, attempts, max_attempts, created_at`

func scanQueueItem(row pgx.Row) (*QueueItem, error) {
	var i QueueItem
	err := row.Scan(&i.ID, &i.RunID, &i.URL, &i.URLHash, &i.Depth, &i.Priority,
		&i.Status, &i.WorkerID, &i.ClaimedAt, &i.Attempts, &i.MaxAttempts, &i.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning queue item: %w", err)
	}
	return &i, nil
}

func (r pgQueue) Add(ctx context.Context, item QueueItemCreate) (*QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO crawl_queue (run_id, url, url_hash, depth, priority)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, url_hash) DO NOTHING
		RETURNING `+queueColumns,
		item.RunID, item.URL, item.URLHash, item.Depth, item.Priority)
	created, err := scanQueueItem(row)
	if errors.Is(err, ErrNotFound) {
		// duplicate silently absorbed
		return nil, nil
	}
	return created, err
}

func (r pgQueue) AddBatch(ctx context.Context, items []QueueItemCreate) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO crawl_queue (run_id, url, url_hash, depth, priority)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, url_hash) DO NOTHING`,
			item.RunID, item.URL, item.URLHash, item.Depth, item.Priority)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	inserted := 0
	for range items {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("batch inserting queue items: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r pgQueue) Claim(ctx context.Context, runID uuid.UUID, workerID string, limit int) ([]*QueueItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+queueColumns+` FROM claim_queue_items($1, $2, $3)`,
		runID, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming queue items: %w", err)
	}
	defer rows.Close()
	var claimed []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, item)
	}
	return claimed, rows.Err()
}

func (r pgQueue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE crawl_queue SET status = 'completed'
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("completing queue item: %w", err)
	}
	return nil
}

func (r pgQueue) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE crawl_queue SET status = 'failed'
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("failing queue item: %w", err)
	}
	return nil
}

func (r pgQueue) ResetStale(ctx context.Context, timeout time.Duration) (int, error) {
	var reset int
	err := r.pool.QueryRow(ctx,
		`SELECT reset_stale_queue_items($1)`, timeout.Minutes()).Scan(&reset)
	if err != nil {
		return 0, fmt.Errorf("resetting stale queue items: %w", err)
	}
	return reset, nil
}

func (r pgQueue) PendingCount(ctx context.Context, runID uuid.UUID) (int, error) {
	return r.CountByStatus(ctx, runID, QueueStatusPending)
}

func (r pgQueue) CountByStatus(ctx context.Context, runID uuid.UUID, status QueueStatus) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM crawl_queue
		WHERE run_id = $1 AND status = $2`, runID, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting queue items: %w", err)
	}
	return count, nil
}
