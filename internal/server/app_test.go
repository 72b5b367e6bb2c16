package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/config"
	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.LocalDir = t.TempDir()
	cfg.PubSub.Backend = config.PublisherMemory
	cfg.PubSub.TopicName = "crawl-results"
	cfg.Crawler.DefaultRender = string(crawler.RenderNever)
	return cfg
}

func TestBuildAndCrawl(t *testing.T) {
	t.Parallel()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Built</title></head><body><h1>Built</h1></body></html>`)
	}))
	t.Cleanup(target.Close)

	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	result, err := app.Crawler().Crawl(context.Background(), crawler.CrawlRequest{URL: target.URL})
	require.NoError(t, err)
	assert.Equal(t, "Built", result.Metadata.Title)
	require.NotEmpty(t, result.BlobURI)
	assert.True(t, strings.HasPrefix(result.BlobURI, "file://"), result.BlobURI)

	entries, err := os.ReadDir(filepath.Join(cfg.Storage.LocalDir, cfg.Storage.Prefix))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildFailsOnUnusableStorage(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Storage.LocalDir = file
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, app)
}

func TestBuildMountsCleanWhenCardsEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cards.Enabled = true
	cfg.Cards.APIKey = "test-key"
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	req := httptest.NewRequest(http.MethodPost, "/clean", strings.NewReader(`{"markdown":"  "}`))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"invalid_input"`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test request
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body map[string]string
		return resp.StatusCode == http.StatusOK &&
			json.NewDecoder(resp.Body).Decode(&body) == nil &&
			body["status"] == "ok"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, requestHeaders(nil))
	h := requestHeaders(map[string]string{"accept-language": "en-US"})
	assert.Equal(t, "en-US", h.Get("Accept-Language"))
}
