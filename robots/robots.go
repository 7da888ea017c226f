// Package robots implements the politeness rules of a crawled domain,
// parsing its robots.txt directives and walking its sitemaps
package robots

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	// Path of the robots.txt on every server
	robotsTxtPath = "/robots.txt"
	// Default sitemap location probed when robots.txt declares none
	defaultSitemapPath = "/sitemap.xml"
	// Timeout for the bootstrap HTTP client
	bootstrapTimeout = 10 * time.Second
)

// newBootstrapClient builds the HTTP client used to retrieve robots.txt
// and sitemaps. Unlike page fetches, a transient failure here would
// silently shrink the whole seed set, so this client retries temporary
// errors with an exponential backoff.
func newBootstrapClient() *http.Client {
	transport := rehttp.NewTransport(
		nil,
		rehttp.RetryAll(rehttp.RetryMaxRetries(3), rehttp.RetryTemporaryErr()),
		rehttp.ExpJitterDelay(100*time.Millisecond, 2*time.Second),
	)
	return &http.Client{Timeout: bootstrapTimeout, Transport: transport}
}

// download retrieves a single resource with the bootstrap client,
// returning the body only on a 200 response
func download(client *http.Client, targetURL string) ([]byte, int, error) {
	res, err := client.Get(targetURL)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching %s failed: %w", targetURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, res.StatusCode, fmt.Errorf("fetching %s failed: %s", targetURL, res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("fetching %s failed: %w", targetURL, err)
	}
	return body, res.StatusCode, nil
}

// Handler holds the parsed robots.txt of a single domain. The file is
// fetched once at construction, a missing or malformed robots.txt
// degrades to the permissive empty ruleset.
type Handler struct {
	baseURL string
	data    *robotstxt.RobotsData
	group   *robotstxt.Group
	logger  *zap.Logger
}

// NewHandler fetches <baseURL>/robots.txt and parses it for the
// wildcard user-agent group. Construction never fails, any fetch or
// parse error simply leaves every URL allowed.
func NewHandler(baseURL string, logger *zap.Logger) *Handler {
	h := &Handler{baseURL: baseURL, logger: logger}
	client := newBootstrapClient()

	body, status, err := download(client, baseURL+robotsTxtPath)
	if err != nil || status != http.StatusOK || len(body) == 0 {
		h.logger.Debug("no robots.txt found", zap.String("base_url", baseURL))
		h.data, _ = robotstxt.FromBytes(nil)
	} else {
		data, parseErr := robotstxt.FromBytes(body)
		if parseErr != nil {
			h.logger.Warn("unparsable robots.txt, allowing all",
				zap.String("base_url", baseURL), zap.Error(parseErr))
			h.data, _ = robotstxt.FromBytes(nil)
		} else {
			h.data = data
			if delay, ok := h.crawlDelayOf(data); ok {
				h.logger.Info("loaded robots.txt",
					zap.String("base_url", baseURL), zap.Duration("crawl_delay", delay))
			} else {
				h.logger.Info("loaded robots.txt", zap.String("base_url", baseURL))
			}
		}
	}
	h.group = h.data.FindGroup("*")
	return h
}

func (h *Handler) crawlDelayOf(data *robotstxt.RobotsData) (time.Duration, bool) {
	group := data.FindGroup("*")
	if group == nil || group.CrawlDelay <= 0 {
		return 0, false
	}
	return group.CrawlDelay, true
}

// CanFetch consults the wildcard group rules for the URL, defaulting to
// allowed whenever the URL cannot be interpreted
func (h *Handler) CanFetch(rawURL string) bool {
	if h.group == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return h.group.Test(path)
}

// CrawlDelay returns the Crawl-delay directive for the wildcard group
// if one was declared
func (h *Handler) CrawlDelay() (time.Duration, bool) {
	if h.group == nil || h.group.CrawlDelay <= 0 {
		return 0, false
	}
	return h.group.CrawlDelay, true
}

// Sitemaps returns the sitemap URLs declared in robots.txt, falling
// back to the conventional /sitemap.xml location when none are declared
func (h *Handler) Sitemaps() []string {
	if len(h.data.Sitemaps) > 0 {
		return append([]string(nil), h.data.Sitemaps...)
	}
	return []string{h.baseURL + defaultSitemapPath}
}
