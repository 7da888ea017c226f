package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractLinks(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/relative">rel</a>
		<a href="sibling">sib</a>
		<a href="http://other.test/abs">abs</a>
		<a href="//other.test/proto">proto</a>
		<a href="  /padded  ">pad</a>
		<a href="">empty</a>
		<a href="mailto:someone@example.com">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="#fragment">frag</a>
		<img src="/not-a-link.png">
	</body></html>`)

	links := extractLinks(body, "http://x.test/dir/page")
	assert.Equal(t, []string{
		"http://x.test/relative",
		"http://x.test/dir/sibling",
		"http://other.test/abs",
		"http://other.test/proto",
		"http://x.test/padded",
		"http://x.test/dir/page#fragment",
	}, links)
}

func TestExtractLinksUnparsableBase(t *testing.T) {
	assert.Nil(t, extractLinks([]byte(`<a href="/x">x</a>`), "http://bad url with spaces"))
}

func TestExtractLinksGarbageBody(t *testing.T) {
	// goquery is lenient with malformed HTML, broken markup still
	// yields whatever anchors survive
	links := extractLinks([]byte(`<<<>>>< a href="/x"`), "http://x.test/")
	assert.Empty(t, links)
}

func TestMemoryCache(t *testing.T) {
	cache := newMemoryCache()
	assert.False(t, cache.Contains("run-1", "hash-a"))
	cache.Set("run-1", "hash-a")
	assert.True(t, cache.Contains("run-1", "hash-a"))
	assert.False(t, cache.Contains("run-2", "hash-a"))
}
