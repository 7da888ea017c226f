// Package fetcher implements the downloading primitives used to retrieve
// remote resources during a crawl
package fetcher

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Default timeout applied to every HTTP call before giving up an URL
const defaultTimeout time.Duration = 10 * time.Second

// Default number of concurrent workers for DownloadMany
const defaultMaxWorkers int = 5

// userAgents is the closed rotation pool, one entry is picked at random
// for each outgoing request
var userAgents = [...]string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// Result is the authoritative record of one download attempt, carrying
// the URL it refers to, the raw body when the fetch succeeded, the HTTP
// status code when a response was received at all and any error occurred
type Result struct {
	URL        string
	Body       []byte
	StatusCode int
	Err        error
}

// Fetcher performs plain HTTP GET requests with a rotating user-agent.
// It applies no rate limiting, consults no robots rules and never
// retries, all crawling policy belongs to the orchestrator.
type Fetcher struct {
	timeout    time.Duration
	maxWorkers int
	// sessions holds one http.Client per in-flight caller so that a
	// keep-alive connection is never shared across workers
	sessions sync.Pool
}

// Option is a type definition for the option pattern while creating a
// new Fetcher
type Option func(*Fetcher)

// WithTimeout overrides the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) { f.timeout = timeout }
}

// WithMaxWorkers overrides the concurrency level of DownloadMany
func WithMaxWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxWorkers = n
		}
	}
}

// New creates a new Fetcher with a 10 seconds timeout and a default
// concurrency level, both overridable through options
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		timeout:    defaultTimeout,
		maxWorkers: defaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.sessions.New = func() any {
		return &http.Client{Timeout: f.timeout}
	}
	return f
}

// Download performs a single GET against the target URL.
// It returns the raw body and the status code on a 2xx response, a nil
// body with the real status code and a descriptive error on any other
// response, and a nil body with a zero status code on transport
// failures such as timeouts or connection resets.
func (f *Fetcher) Download(targetURL string) ([]byte, int, error) {
	client := f.sessions.Get().(*http.Client)
	defer f.sessions.Put(client)

	req, err := http.NewRequest(http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching %s failed: %w", targetURL, err)
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])

	res, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching %s failed: %w", targetURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, res.StatusCode, fmt.Errorf("fetching %s failed: %s", targetURL, res.Status)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("fetching %s failed: %w", targetURL, err)
	}
	return body, res.StatusCode, nil
}

// DownloadMany fetches all the URLs concurrently on a bounded pool of
// maxWorkers goroutines, each one holding a dedicated HTTP session.
// Results are collected after every download completes, one entry per
// input URL in no particular order.
func (f *Fetcher) DownloadMany(urls []string) []Result {
	if len(urls) == 0 {
		return nil
	}
	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, f.maxWorkers)
		results   = make([]Result, len(urls))
	)
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			body, status, err := f.Download(u)
			results[i] = Result{URL: u, Body: body, StatusCode: status, Err: err}
		}(i, u)
	}
	wg.Wait()
	return results
}
