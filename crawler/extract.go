package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractLinks parses an HTML body with goquery and returns the anchor
// targets resolved against the page URL. Only absolute http and https
// results survive, anything else (mailto, javascript, bare fragments)
// is discarded. A body that fails to parse contributes no links.
func extractLinks(body []byte, pageURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var links []string
	doc.Find("a[href]").Each(func(i int, element *goquery.Selection) {
		href, _ := element.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		resolved, ok := resolveRelativeURL(base, href)
		if !ok {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		links = append(links, resolved.String())
	})
	return links
}

// resolveRelativeURL joins a relative href to the page base URL,
// producing an absolute URL to fetch on. Protocol-relative hrefs
// (//host/path) inherit the base scheme. It returns the resolved URL
// and a boolean representing the success of the process.
func resolveRelativeURL(base *url.URL, href string) (*url.URL, bool) {
	parsed, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	if parsed.IsAbs() {
		return parsed, true
	}
	return base.ResolveReference(parsed), true
}
