package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memory is the shared state behind the in-memory Store. It honors the
// same contracts as the Postgres backend, uniqueness of
// (run, url_hash), atomic claims, idempotent completion, and serves as
// the reference backend for tests and dry runs.
type memory struct {
	mutex   sync.Mutex
	sources map[uuid.UUID]*CrawlSource
	runs    map[uuid.UUID]*CrawlRun
	pages   map[uuid.UUID]*CrawledPage
	items   map[uuid.UUID]*QueueItem
	// seen tracks (run, url_hash) pairs for duplicate absorption
	seen map[uuid.UUID]map[string]bool
	// insertion counter to keep claim ordering stable
	sequence int64
	order    map[uuid.UUID]int64
}

// NewMemory creates an empty in-memory store wired into all four
// repositories
func NewMemory() *Store {
	m := &memory{
		sources: make(map[uuid.UUID]*CrawlSource),
		runs:    make(map[uuid.UUID]*CrawlRun),
		pages:   make(map[uuid.UUID]*CrawledPage),
		items:   make(map[uuid.UUID]*QueueItem),
		seen:    make(map[uuid.UUID]map[string]bool),
		order:   make(map[uuid.UUID]int64),
	}
	return &Store{
		Sources: memorySources{m},
		Runs:    memoryRuns{m},
		Pages:   memoryPages{m},
		Queue:   memoryQueue{m},
	}
}

type memorySources struct{ *memory }

func (s memorySources) Create(ctx context.Context, source CrawlSourceCreate) (*CrawlSource, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	created := &CrawlSource{
		ID:        uuid.New(),
		Domain:    source.Domain,
		EntryURL:  source.EntryURL,
		Type:      source.Type,
		Status:    SourceStatusActive,
		Frequency: source.Frequency,
		MaxPages:  source.MaxPages,
		CreatedAt: time.Now(),
	}
	s.sources[created.ID] = created
	return copySource(created), nil
}

func (s memorySources) GetByID(ctx context.Context, id uuid.UUID) (*CrawlSource, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySource(source), nil
}

func (s memorySources) List(ctx context.Context) ([]*CrawlSource, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*CrawlSource, 0, len(s.sources))
	for _, source := range s.sources {
		out = append(out, copySource(source))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memoryRuns struct{ *memory }

func (r memoryRuns) Create(ctx context.Context, sourceID uuid.UUID) (*CrawlRun, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	run := &CrawlRun{
		ID:        uuid.New(),
		SourceID:  sourceID,
		Status:    RunStatusPending,
		CreatedAt: time.Now(),
	}
	r.runs[run.ID] = run
	return copyRun(run), nil
}

func (r memoryRuns) GetByID(ctx context.Context, id uuid.UUID) (*CrawlRun, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

func (r memoryRuns) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*CrawlRun, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []*CrawlRun
	for _, run := range r.runs {
		if run.SourceID == sourceID {
			out = append(out, copyRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryRuns) MarkStarted(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	run.Status = RunStatusRunning
	run.StartedAt = &now
	return nil
}

func (r memoryRuns) MarkCompleted(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	run.CompletedAt = &now
	if errMsg != "" {
		run.Status = RunStatusFailed
		run.Error = &errMsg
	} else {
		run.Status = RunStatusCompleted
	}
	return nil
}

func (r memoryRuns) UpdateStats(ctx context.Context, id uuid.UUID, found, crawled, failed int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.PagesFound = found
	run.PagesCrawled = crawled
	run.PagesFailed = failed
	return nil
}

type memoryPages struct{ *memory }

func (p memoryPages) Create(ctx context.Context, page CrawledPageCreate) (*CrawledPage, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.insertPage(page), nil
}

func (p memoryPages) CreateBatch(ctx context.Context, pages []CrawledPageCreate) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, page := range pages {
		p.insertPage(page)
	}
	return nil
}

func (m *memory) insertPage(page CrawledPageCreate) *CrawledPage {
	created := &CrawledPage{
		ID:          uuid.New(),
		RunID:       page.RunID,
		SourceID:    page.SourceID,
		URL:         page.URL,
		URLHash:     page.URLHash,
		StatusCode:  page.StatusCode,
		Content:     page.Content,
		ContentHash: page.ContentHash,
		Error:       page.Error,
		CrawledAt:   time.Now(),
	}
	m.pages[created.ID] = created
	m.sequence++
	m.order[created.ID] = m.sequence
	return copyPage(created)
}

func (p memoryPages) GetByID(ctx context.Context, id uuid.UUID) (*CrawledPage, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	page, ok := p.pages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPage(page), nil
}

func (p memoryPages) ListByRun(ctx context.Context, runID uuid.UUID) ([]*CrawledPage, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var out []*CrawledPage
	for _, page := range p.pages {
		if page.RunID == runID {
			out = append(out, copyPage(page))
		}
	}
	sort.Slice(out, func(i, j int) bool { return p.order[out[i].ID] < p.order[out[j].ID] })
	return out, nil
}

func (p memoryPages) LatestByURLHash(ctx context.Context, sourceID uuid.UUID, urlHash string) (*CrawledPage, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var (
		latest   *CrawledPage
		latestAt int64 = -1
	)
	for _, page := range p.pages {
		if page.SourceID == sourceID && page.URLHash == urlHash && p.order[page.ID] > latestAt {
			latest, latestAt = page, p.order[page.ID]
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyPage(latest), nil
}

type memoryQueue struct{ *memory }

func (q memoryQueue) Add(ctx context.Context, item QueueItemCreate) (*QueueItem, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.insertItem(item), nil
}

func (q memoryQueue) AddBatch(ctx context.Context, items []QueueItemCreate) (int, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	inserted := 0
	for _, item := range items {
		if q.insertItem(item) != nil {
			inserted++
		}
	}
	return inserted, nil
}

func (m *memory) insertItem(item QueueItemCreate) *QueueItem {
	hashes, ok := m.seen[item.RunID]
	if !ok {
		hashes = make(map[string]bool)
		m.seen[item.RunID] = hashes
	}
	if hashes[item.URLHash] {
		return nil
	}
	hashes[item.URLHash] = true
	created := &QueueItem{
		ID:          uuid.New(),
		RunID:       item.RunID,
		URL:         item.URL,
		URLHash:     item.URLHash,
		Depth:       item.Depth,
		Priority:    item.Priority,
		Status:      QueueStatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
	m.items[created.ID] = created
	m.sequence++
	m.order[created.ID] = m.sequence
	return copyItem(created)
}

func (q memoryQueue) Claim(ctx context.Context, runID uuid.UUID, workerID string, limit int) ([]*QueueItem, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	var pending []*QueueItem
	for _, item := range q.items {
		if item.RunID == runID && item.Status == QueueStatusPending {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return q.order[pending[i].ID] < q.order[pending[j].ID]
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	now := time.Now()
	claimed := make([]*QueueItem, 0, len(pending))
	for _, item := range pending {
		item.Status = QueueStatusProcessing
		item.WorkerID = &workerID
		item.ClaimedAt = &now
		item.Attempts++
		claimed = append(claimed, copyItem(item))
	}
	return claimed, nil
}

func (q memoryQueue) Complete(ctx context.Context, id uuid.UUID) error {
	return q.settle(id, QueueStatusCompleted)
}

func (q memoryQueue) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	return q.settle(id, QueueStatusFailed)
}

func (m *memory) settle(id uuid.UUID, status QueueStatus) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status == QueueStatusCompleted || item.Status == QueueStatusFailed {
		return nil
	}
	item.Status = status
	return nil
}

func (q memoryQueue) ResetStale(ctx context.Context, timeout time.Duration) (int, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	cutoff := time.Now().Add(-timeout)
	reset := 0
	for _, item := range q.items {
		if item.Status == QueueStatusProcessing && item.ClaimedAt != nil && item.ClaimedAt.Before(cutoff) {
			item.Status = QueueStatusPending
			item.WorkerID = nil
			item.ClaimedAt = nil
			reset++
		}
	}
	return reset, nil
}

func (q memoryQueue) PendingCount(ctx context.Context, runID uuid.UUID) (int, error) {
	return q.CountByStatus(ctx, runID, QueueStatusPending)
}

func (q memoryQueue) CountByStatus(ctx context.Context, runID uuid.UUID, status QueueStatus) (int, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	count := 0
	for _, item := range q.items {
		if item.RunID == runID && item.Status == status {
			count++
		}
	}
	return count, nil
}

func copySource(s *CrawlSource) *CrawlSource { c := *s; return &c }
func copyRun(r *CrawlRun) *CrawlRun          { c := *r; return &c }
func copyPage(p *CrawledPage) *CrawledPage   { c := *p; return &c }
func copyItem(i *QueueItem) *QueueItem       { c := *i; return &c }
