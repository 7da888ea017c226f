package robots

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Maximum nesting of sitemap indices before the walk gives up
const maxSitemapDepth = 10

// SitemapParser walks sitemap XML documents, following nested sitemap
// indices down to the page URLs they list. Any fetch or parse failure
// at a node is logged and contributes no URLs, the walk continues.
type SitemapParser struct {
	client *http.Client
	logger *zap.Logger
}

// NewSitemapParser creates a parser backed by the retrying bootstrap
// client
func NewSitemapParser(logger *zap.Logger) *SitemapParser {
	return &SitemapParser{client: newBootstrapClient(), logger: logger}
}

// Parse retrieves the sitemap at the given URL and returns every page
// URL reachable from it. Both the sitemap-index and the urlset forms
// are understood, under the standard sitemaps.org namespace or without
// any namespace. Cycles between indices are broken by a visited set and
// nesting is bounded by a fixed maximum depth.
func (p *SitemapParser) Parse(sitemapURL string) []string {
	var urls []string
	visited := make(map[string]bool)
	p.walk(sitemapURL, &urls, visited, 0)
	return urls
}

func (p *SitemapParser) walk(sitemapURL string, urls *[]string, visited map[string]bool, depth int) {
	if visited[sitemapURL] {
		return
	}
	visited[sitemapURL] = true
	if depth >= maxSitemapDepth {
		p.logger.Warn("max sitemap depth reached", zap.String("sitemap", sitemapURL))
		return
	}

	body, status, err := download(p.client, sitemapURL)
	if err != nil || status != http.StatusOK || len(body) == 0 {
		p.logger.Warn("skipping unreachable sitemap",
			zap.String("sitemap", sitemapURL), zap.Error(err))
		return
	}

	children, found, err := decodeSitemap(body)
	if err != nil {
		p.logger.Warn("skipping unparsable sitemap",
			zap.String("sitemap", sitemapURL), zap.Error(err))
		return
	}
	for _, child := range children {
		p.walk(child, urls, visited, depth+1)
	}
	*urls = append(*urls, found...)
}

// decodeSitemap extracts <sitemap><loc> references and <url><loc> page
// entries from a sitemap document. Matching on local element names
// covers the namespaced and the unnamespaced forms alike.
func decodeSitemap(body []byte) (children, urls []string, err error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	var (
		inSitemap bool
		inURL     bool
		inLoc     bool
		loc       strings.Builder
	)
	for {
		token, tokenErr := decoder.Token()
		if tokenErr == io.EOF {
			return children, urls, nil
		}
		if tokenErr != nil {
			return nil, nil, tokenErr
		}
		switch element := token.(type) {
		case xml.StartElement:
			switch strings.ToLower(element.Name.Local) {
			case "sitemap":
				inSitemap = true
			case "url":
				inURL = true
			case "loc":
				inLoc = true
				loc.Reset()
			}
		case xml.CharData:
			if inLoc {
				loc.Write(element)
			}
		case xml.EndElement:
			switch strings.ToLower(element.Name.Local) {
			case "loc":
				inLoc = false
				entry := strings.TrimSpace(loc.String())
				if entry == "" {
					break
				}
				if inSitemap {
					children = append(children, entry)
				} else if inURL {
					urls = append(urls, entry)
				}
			case "sitemap":
				inSitemap = false
			case "url":
				inURL = false
			}
		}
	}
}
