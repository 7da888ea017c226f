package robots

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func sitemapServer(pages map[string]string) *httptest.Server {
	handler := http.NewServeMux()
	for path, body := range pages {
		body := body
		handler.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(body))
		})
	}
	return httptest.NewServer(handler)
}

func TestParseURLSet(t *testing.T) {
	server := sitemapServer(map[string]string{
		"/sitemap.xml": `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://x.test/one</loc></url>
  <url><loc>http://x.test/two</loc><lastmod>2024-01-01</lastmod></url>
</urlset>`,
	})
	defer server.Close()

	p := NewSitemapParser(zap.NewNop())
	urls := p.Parse(server.URL + "/sitemap.xml")
	assert.Equal(t, []string{"http://x.test/one", "http://x.test/two"}, urls)
}

func TestParseUnnamespacedURLSet(t *testing.T) {
	server := sitemapServer(map[string]string{
		"/sitemap.xml": `<urlset>
  <url><loc> http://x.test/padded </loc></url>
</urlset>`,
	})
	defer server.Close()

	p := NewSitemapParser(zap.NewNop())
	assert.Equal(t, []string{"http://x.test/padded"}, p.Parse(server.URL+"/sitemap.xml"))
}

func TestParseSitemapIndex(t *testing.T) {
	var server *httptest.Server
	handler := http.NewServeMux()
	handler.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/sm-1.xml</loc></sitemap>
  <sitemap><loc>%s/sm-2.xml</loc></sitemap>
</sitemapindex>`, server.URL, server.URL)
	})
	handler.HandleFunc("/sm-1.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>http://x.test/a</loc></url><url><loc>http://x.test/b</loc></url></urlset>`)
	})
	handler.HandleFunc("/sm-2.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>http://x.test/c</loc></url></urlset>`)
	})
	server = httptest.NewServer(handler)
	defer server.Close()

	p := NewSitemapParser(zap.NewNop())
	urls := p.Parse(server.URL + "/index.xml")
	assert.ElementsMatch(t, []string{"http://x.test/a", "http://x.test/b", "http://x.test/c"}, urls)
}

func TestParseSelfReferencingIndexTerminates(t *testing.T) {
	var server *httptest.Server
	handler := http.NewServeMux()
	handler.HandleFunc("/loop.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<sitemapindex>
  <sitemap><loc>%s/loop.xml</loc></sitemap>
  <sitemap><loc>%s/leaf.xml</loc></sitemap>
</sitemapindex>`, server.URL, server.URL)
	})
	handler.HandleFunc("/leaf.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>http://x.test/leaf</loc></url></urlset>`)
	})
	server = httptest.NewServer(handler)
	defer server.Close()

	p := NewSitemapParser(zap.NewNop())
	assert.Equal(t, []string{"http://x.test/leaf"}, p.Parse(server.URL+"/loop.xml"))
}

func TestParseBrokenNodesAreSkipped(t *testing.T) {
	var server *httptest.Server
	handler := http.NewServeMux()
	handler.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<sitemapindex>
  <sitemap><loc>%s/broken.xml</loc></sitemap>
  <sitemap><loc>%s/missing.xml</loc></sitemap>
  <sitemap><loc>%s/good.xml</loc></sitemap>
</sitemapindex>`, server.URL, server.URL, server.URL)
	})
	handler.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>http://x.test/unclosed`)
	})
	handler.HandleFunc("/good.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>http://x.test/good</loc></url></urlset>`)
	})
	server = httptest.NewServer(handler)
	defer server.Close()

	p := NewSitemapParser(zap.NewNop())
	assert.Equal(t, []string{"http://x.test/good"}, p.Parse(server.URL+"/index.xml"))
}

func TestParseUnreachableSitemap(t *testing.T) {
	server := sitemapServer(nil)
	server.Close()

	p := NewSitemapParser(zap.NewNop())
	assert.Empty(t, p.Parse(server.URL+"/sitemap.xml"))
}
