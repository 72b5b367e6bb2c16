package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/extract"
	collyfetcher "github.com/JakeFAU/pagecrawl/internal/fetcher/colly"
	"github.com/JakeFAU/pagecrawl/internal/service"
	"github.com/JakeFAU/pagecrawl/internal/storage/memory"
)

func newIntegrationServer(t *testing.T, legacyStatus bool) *Server {
	t.Helper()
	svc, err := service.New(service.Dependencies{
		Static:    collyfetcher.New(collyfetcher.Config{UserAgent: "pagecrawl-test", Timeout: 5 * time.Second}, zap.NewNop()),
		Extractor: extract.New(extract.Config{FitMarkdown: true}, zap.NewNop()),
		Blobs:     memory.NewBlobStore(),
	}, service.Config{Timeout: 10 * time.Second, DefaultRender: crawler.RenderNever}, zap.NewNop())
	require.NoError(t, err)
	cfg := testConfig()
	cfg.API.LegacyStatus = legacyStatus
	return NewServer(svc, cfg, zap.NewNop(), nil)
}

func TestCrawlEndToEnd(t *testing.T) {
	t.Parallel()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head><title>Page %s</title></head><body>
<nav><a href="/home">Home</a></nav>
<article><h1>Heading %s</h1><p>Body text for %s with a <a href="https://other.example.org/x">link</a>.</p></article>
</body></html>`, r.URL.Path, r.URL.Path, r.URL.Path)
	}))
	t.Cleanup(target.Close)

	server := newIntegrationServer(t, false)
	rec, payload := postCrawl(t, server, `{"url":"`+target.URL+`/first"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var content crawler.CrawlResult
	require.NoError(t, json.Unmarshal(payload["content"], &content))
	assert.True(t, content.Success)
	assert.Equal(t, http.StatusOK, content.StatusCode)
	assert.Equal(t, target.URL+"/first", content.URL)
	assert.Contains(t, content.HTML, "<nav>")
	assert.NotContains(t, content.CleanedHTML, "<nav>")
	assert.Contains(t, content.Markdown, "# Heading /first")
	assert.Equal(t, "Page /first", content.Metadata.Title)
	require.Len(t, content.Links.External, 1)
	assert.Equal(t, "https://other.example.org/x", content.Links.External[0].Href)
	assert.NotEmpty(t, content.ContentHash)
	assert.NotEmpty(t, content.BlobURI)
	assert.False(t, content.UsedHeadless)
}

func TestCrawlEndToEndUnreachable(t *testing.T) {
	t.Parallel()

	target := httptest.NewServer(http.NotFoundHandler())
	unreachable := target.URL
	target.Close()

	rec, payload := postCrawl(t, newIntegrationServer(t, false), `{"url":"`+unreachable+`"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, crawler.KindNetwork, requireFailureShape(t, payload).Kind)

	rec, payload = postCrawl(t, newIntegrationServer(t, true), `{"url":"`+unreachable+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	requireFailureShape(t, payload)
}

func TestCrawlEndToEndConcurrentRequests(t *testing.T) {
	t.Parallel()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>%s</h1></body></html>`, r.URL.Path)
	}))
	t.Cleanup(target.Close)

	server := newIntegrationServer(t, false)
	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	results := make([]crawler.CrawlResult, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, payload := postCrawl(t, server, `{"url":"`+target.URL+path+`"}`)
			if !assert.Equal(t, http.StatusOK, rec.Code) {
				return
			}
			assert.NoError(t, json.Unmarshal(payload["content"], &results[i]))
		}()
	}
	wg.Wait()

	for i, path := range paths {
		assert.Equal(t, target.URL+path, results[i].URL)
		assert.Contains(t, results[i].Markdown, "# "+path)
	}
}
