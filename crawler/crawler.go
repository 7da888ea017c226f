// Package crawler contains the orchestration logic driving a crawl
// run, claiming work from the durable queue, fetching pages, extracting
// links and feeding discoveries back into the queue
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codepr/crawld/ratelimit"
	"github.com/codepr/crawld/robots"
	"github.com/codepr/crawld/store"
	"github.com/codepr/crawld/urlutil"
)

const (
	// Default politeness delay between requests to the same domain
	defaultDelay time.Duration = 500 * time.Millisecond
	// Default number of queue items claimed per loop iteration
	defaultBatchSize int = 10
	// Default depth limit for link discovery
	defaultMaxDepth int = 10
	// Default page budget for a single run
	defaultMaxPages int = 1000
	// Default number of concurrent fetch workers per batch
	defaultConcurrency int = 5
)

// Settings represents general knobs for the crawler and its
// dependencies
type Settings struct {
	// Delay is the minimum interval between requests to the same
	// domain, raised per-domain by a robots.txt Crawl-delay directive
	Delay time.Duration
	// BatchSize is the number of queue items claimed at a time
	BatchSize int
	// MaxDepth bounds link discovery, an item at depth d only spawns
	// children when d+1 < MaxDepth
	MaxDepth int
	// MaxPages is the page budget of a run, checked before each claim
	MaxPages int
	// Concurrency is the size of the worker pool fetching a batch
	Concurrency int
	// WorkerID identifies this orchestrator on claimed queue rows
	WorkerID string
	// Cache tracks enqueued URL hashes across batches
	Cache Cachable
}

// Option is a type definition for the option pattern while creating a
// new crawler
type Option func(*Settings)

// WithDelay overrides the default politeness delay
func WithDelay(delay time.Duration) Option {
	return func(s *Settings) { s.Delay = delay }
}

// WithBatchSize overrides the claim batch size
func WithBatchSize(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.BatchSize = n
		}
	}
}

// WithMaxDepth overrides the link discovery depth limit
func WithMaxDepth(n int) Option {
	return func(s *Settings) { s.MaxDepth = n }
}

// WithMaxPages overrides the page budget
func WithMaxPages(n int) Option {
	return func(s *Settings) { s.MaxPages = n }
}

// WithConcurrency overrides the per-batch worker pool size
func WithConcurrency(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.Concurrency = n
		}
	}
}

// WithWorkerID overrides the generated worker identifier
func WithWorkerID(id string) Option {
	return func(s *Settings) { s.WorkerID = id }
}

// Downloader is the fetching dependency of the orchestrator, satisfied
// by fetcher.Fetcher
type Downloader interface {
	Download(targetURL string) ([]byte, int, error)
}

// Crawler drives crawl runs against a shared durable queue. Multiple
// Crawler instances, also across processes, can cooperate on the same
// run through the atomic claim semantics of the queue.
type Crawler struct {
	store    *store.Store
	fetcher  Downloader
	logger   *zap.Logger
	settings *Settings
}

// Result summarizes a finished run
type Result struct {
	PagesCrawled int
	PagesFailed  int
}

// New creates a new Crawler on top of a Store and a Fetcher, all
// collaborators are passed in explicitly, there is no process-wide
// state
func New(st *store.Store, f Downloader, logger *zap.Logger, opts ...Option) *Crawler {
	settings := &Settings{
		Delay:       defaultDelay,
		BatchSize:   defaultBatchSize,
		MaxDepth:    defaultMaxDepth,
		MaxPages:    defaultMaxPages,
		Concurrency: defaultConcurrency,
		WorkerID:    defaultWorkerID(),
		Cache:       newMemoryCache(),
	}
	for _, opt := range opts {
		opt(settings)
	}
	return &Crawler{
		store:    st,
		fetcher:  f,
		logger:   logger,
		settings: settings,
	}
}

// defaultWorkerID derives a claim identity unique enough to tell
// cooperating orchestrator processes apart
func defaultWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "crawld"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// CreateSource persists a new crawl target, deriving the domain from
// the entry URL
func (c *Crawler) CreateSource(ctx context.Context, entryURL string, sourceType store.SourceType) (*store.CrawlSource, error) {
	domain, err := urlutil.Domain(entryURL)
	if err != nil {
		return nil, err
	}
	if domain == "" {
		return nil, fmt.Errorf("entry URL %q has no host", entryURL)
	}
	source, err := c.store.Sources.Create(ctx, store.CrawlSourceCreate{
		Domain:    domain,
		EntryURL:  entryURL,
		Type:      sourceType,
		Frequency: "once",
	})
	if err != nil {
		return nil, fmt.Errorf("creating source: %w", err)
	}
	c.logger.Info("created source",
		zap.String("source_id", source.ID.String()),
		zap.String("domain", source.Domain))
	return source, nil
}

// outcome is the in-memory result of processing one claimed item
type outcome struct {
	item    *store.QueueItem
	page    store.CrawledPageCreate
	links   []store.QueueItemCreate
	success bool
	errMsg  string
}

// StartRun executes one full crawl of the source: seeds the queue from
// the entry URL and the domain sitemaps, then claims, fetches and
// extracts until the queue drains or the page budget is hit. The run
// row always reaches a terminal status, failed with the error string
// when the datastore gives up mid-run and completed otherwise.
func (c *Crawler) StartRun(ctx context.Context, sourceID uuid.UUID) (Result, error) {
	source, err := c.store.Sources.GetByID(ctx, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("source %s not found: %w", sourceID, err)
	}

	run, err := c.store.Runs.Create(ctx, source.ID)
	if err != nil {
		return Result{}, fmt.Errorf("creating run: %w", err)
	}
	if err := c.store.Runs.MarkStarted(ctx, run.ID); err != nil {
		return Result{}, fmt.Errorf("starting run: %w", err)
	}
	c.logger.Info("run started",
		zap.String("run_id", run.ID.String()),
		zap.String("domain", source.Domain))

	result, runErr := c.crawl(ctx, source, run)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := c.store.Runs.MarkCompleted(ctx, run.ID, errMsg); err != nil && runErr == nil {
		runErr = fmt.Errorf("completing run: %w", err)
	}
	c.logger.Info("run completed",
		zap.String("run_id", run.ID.String()),
		zap.Int("pages_crawled", result.PagesCrawled),
		zap.Int("pages_failed", result.PagesFailed),
		zap.Error(runErr))
	return result, runErr
}

func (c *Crawler) crawl(ctx context.Context, source *store.CrawlSource, run *store.CrawlRun) (Result, error) {
	baseURL, err := urlutil.BaseURL(source.EntryURL)
	if err != nil {
		return Result{}, fmt.Errorf("invalid entry URL: %w", err)
	}

	robotsHandler := robots.NewHandler(baseURL, c.logger)
	limiter := ratelimit.New(c.settings.Delay)
	if crawlDelay, ok := robotsHandler.CrawlDelay(); ok {
		if crawlDelay < c.settings.Delay {
			crawlDelay = c.settings.Delay
		}
		limiter.SetDelay(source.Domain, crawlDelay)
	}

	if err := c.seed(ctx, source, run, robotsHandler); err != nil {
		return Result{}, err
	}

	maxPages := c.settings.MaxPages
	if source.MaxPages != nil && *source.MaxPages < maxPages {
		maxPages = *source.MaxPages
	}
	maxDepth := c.settings.MaxDepth
	if source.Type == store.SourceTypeSinglePage {
		maxDepth = 1
	}

	var result Result
	for {
		if result.PagesCrawled+result.PagesFailed >= maxPages {
			c.logger.Info("page budget reached, stopping crawl",
				zap.String("run_id", run.ID.String()), zap.Int("max_pages", maxPages))
			break
		}
		items, err := c.store.Queue.Claim(ctx, run.ID, c.settings.WorkerID, c.settings.BatchSize)
		if err != nil {
			return result, fmt.Errorf("claiming batch: %w", err)
		}
		if len(items) == 0 {
			break
		}

		outcomes := c.processBatch(ctx, source, run, robotsHandler, limiter, maxDepth, items)

		var (
			pages    []store.CrawledPageCreate
			newItems []store.QueueItemCreate
			batch    = make(map[string]bool)
		)
		for _, out := range outcomes {
			pages = append(pages, out.page)
			for _, link := range out.links {
				if batch[link.URLHash] || c.settings.Cache.Contains(run.ID.String(), link.URLHash) {
					continue
				}
				batch[link.URLHash] = true
				newItems = append(newItems, link)
			}
			if out.success {
				if err := c.store.Queue.Complete(ctx, out.item.ID); err != nil {
					return result, fmt.Errorf("completing item: %w", err)
				}
				result.PagesCrawled++
				c.logger.Info("crawled", zap.String("url", out.item.URL),
					zap.Int("depth", out.item.Depth))
			} else {
				if err := c.store.Queue.Fail(ctx, out.item.ID, out.errMsg); err != nil {
					return result, fmt.Errorf("failing item: %w", err)
				}
				result.PagesFailed++
				c.logger.Warn("fetch failed", zap.String("url", out.item.URL),
					zap.String("error", out.errMsg))
			}
		}

		// pages land before the queue rows they were discovered by, and
		// both land before the counters, so an external reader never
		// observes counters ahead of the persisted pages
		if err := c.store.Pages.CreateBatch(ctx, pages); err != nil {
			return result, fmt.Errorf("persisting pages: %w", err)
		}
		if len(newItems) > 0 {
			added, err := c.store.Queue.AddBatch(ctx, newItems)
			if err != nil {
				return result, fmt.Errorf("enqueueing discoveries: %w", err)
			}
			for _, item := range newItems {
				c.settings.Cache.Set(run.ID.String(), item.URLHash)
			}
			c.logger.Debug("enqueued new URLs",
				zap.String("run_id", run.ID.String()), zap.Int("added", added))
		}
		found := result.PagesCrawled + result.PagesFailed
		if err := c.store.Runs.UpdateStats(ctx, run.ID, found, result.PagesCrawled, result.PagesFailed); err != nil {
			return result, fmt.Errorf("updating run stats: %w", err)
		}
	}
	return result, nil
}

// seed fills the queue with the entry URL plus every URL harvested from
// the domain sitemaps, normalized, restricted to the source domain,
// robots-checked and deduplicated by hash, all at depth 0
func (c *Crawler) seed(ctx context.Context, source *store.CrawlSource, run *store.CrawlRun, robotsHandler *robots.Handler) error {
	sitemapParser := robots.NewSitemapParser(c.logger)
	candidates := []string{source.EntryURL}
	for _, sitemapURL := range robotsHandler.Sitemaps() {
		candidates = append(candidates, sitemapParser.Parse(sitemapURL)...)
	}

	var items []store.QueueItemCreate
	for _, candidate := range candidates {
		item, ok := c.admit(source, run, robotsHandler, candidate, 0)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil
	}
	if _, err := c.store.Queue.AddBatch(ctx, items); err != nil {
		return fmt.Errorf("seeding queue: %w", err)
	}
	c.logger.Info("queue seeded",
		zap.String("run_id", run.ID.String()), zap.Int("urls", len(items)))
	return nil
}

// admit applies the link policy to a candidate URL: normalization,
// same-domain restriction, robots allowance and hash dedup through the
// enqueue cache. It returns the queue item to insert and whether the
// candidate survived.
func (c *Crawler) admit(source *store.CrawlSource, run *store.CrawlRun, robotsHandler *robots.Handler, rawURL string, depth int) (store.QueueItemCreate, bool) {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		return store.QueueItemCreate{}, false
	}
	domain, err := urlutil.Domain(normalized)
	if err != nil || domain != source.Domain {
		return store.QueueItemCreate{}, false
	}
	if !robotsHandler.CanFetch(normalized) {
		return store.QueueItemCreate{}, false
	}
	hash, err := urlutil.Hash(normalized)
	if err != nil {
		return store.QueueItemCreate{}, false
	}
	if c.settings.Cache.Contains(run.ID.String(), hash) {
		return store.QueueItemCreate{}, false
	}
	c.settings.Cache.Set(run.ID.String(), hash)
	return store.QueueItemCreate{
		RunID:   run.ID,
		URL:     normalized,
		URLHash: hash,
		Depth:   depth,
	}, true
}

// processBatch dispatches the claimed items on a bounded worker pool
// and joins on the whole batch, collecting one outcome per item
func (c *Crawler) processBatch(ctx context.Context, source *store.CrawlSource, run *store.CrawlRun, robotsHandler *robots.Handler, limiter *ratelimit.Limiter, maxDepth int, items []*store.QueueItem) []outcome {
	outcomes := make([]outcome, len(items))
	group := new(errgroup.Group)
	group.SetLimit(c.settings.Concurrency)
	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			outcomes[i] = c.processItem(ctx, source, run, robotsHandler, limiter, maxDepth, item)
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// processItem fetches a single claimed item and derives its page
// record and discovered links. A panic while processing is recorded as
// a plain failure so one poisoned URL cannot sink the run.
func (c *Crawler) processItem(ctx context.Context, source *store.CrawlSource, run *store.CrawlRun, robotsHandler *robots.Handler, limiter *ratelimit.Limiter, maxDepth int, item *store.QueueItem) (out outcome) {
	out.item = item
	out.page = store.CrawledPageCreate{
		RunID:    run.ID,
		SourceID: source.ID,
		URL:      item.URL,
		URLHash:  item.URLHash,
	}
	defer func() {
		if r := recover(); r != nil {
			out.success = false
			out.links = nil
			out.errMsg = fmt.Sprintf("processing %s panicked: %v", item.URL, r)
			out.page.Error = &out.errMsg
		}
	}()

	domain, err := urlutil.Domain(item.URL)
	if err != nil {
		domain = source.Domain
	}
	if err := limiter.Acquire(ctx, domain); err != nil {
		out.errMsg = err.Error()
		out.page.Error = &out.errMsg
		return out
	}

	body, status, err := c.fetcher.Download(item.URL)
	if status != 0 {
		statusCode := status
		out.page.StatusCode = &statusCode
	}
	if body != nil {
		content := string(body)
		sum := sha256.Sum256(body)
		contentHash := hex.EncodeToString(sum[:])
		out.page.Content = &content
		out.page.ContentHash = &contentHash
	}
	if err != nil {
		out.errMsg = err.Error()
		out.page.Error = &out.errMsg
	}

	out.success = status >= http.StatusOK && status < http.StatusMultipleChoices && body != nil
	if out.success && item.Depth+1 < maxDepth {
		for _, link := range extractLinks(body, item.URL) {
			normalized, err := urlutil.Normalize(link)
			if err != nil {
				continue
			}
			linkDomain, err := urlutil.Domain(normalized)
			if err != nil || linkDomain != source.Domain {
				continue
			}
			if !robotsHandler.CanFetch(normalized) {
				continue
			}
			hash, err := urlutil.Hash(normalized)
			if err != nil {
				continue
			}
			out.links = append(out.links, store.QueueItemCreate{
				RunID:   run.ID,
				URL:     normalized,
				URLHash: hash,
				Depth:   item.Depth + 1,
			})
		}
	}
	return out
}
