package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/cards"
	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

type fakeCards struct {
	got   []string
	cards []cards.Card
	err   error
}

func (f *fakeCards) Generate(_ context.Context, markdown string) ([]cards.Card, error) {
	f.got = append(f.got, markdown)
	return f.cards, f.err
}

func postClean(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/clean", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return rec, payload
}

func TestServer_Clean_ReturnsCards(t *testing.T) {
	t.Parallel()

	gen := &fakeCards{cards: []cards.Card{{ID: 1, Title: "Tokens", Content: "Buckets refill.", AudioDescription: "Picture a bucket."}}}
	s := NewServer(&fakeCrawler{}, testConfig(), zap.NewNop(), nil, WithCardGenerator(gen))

	rec, payload := postClean(t, s, `{"markdown":"# Rate limiting"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"# Rate limiting"}, gen.got)

	var content cleanContent
	require.NoError(t, json.Unmarshal(payload["content"], &content))
	assert.True(t, content.Success)
	require.Len(t, content.Cards, 1)
	assert.Equal(t, "Tokens", content.Cards[0].Title)
	assert.Contains(t, rec.Body.String(), `"audio_description":"Picture a bucket."`)
}

func TestServer_Clean_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		err    error
		status int
		kind   crawler.Kind
	}{
		{"not json", `nope`, nil, http.StatusBadRequest, crawler.KindInvalidInput},
		{"empty markdown", `{"markdown":""}`, crawler.NewError(crawler.KindInvalidInput, "cards", errors.New("markdown content is required")), http.StatusBadRequest, crawler.KindInvalidInput},
		{"upstream", `{"markdown":"# x"}`, crawler.NewError(crawler.KindNetwork, "cards api", errors.New("overloaded")), http.StatusBadGateway, crawler.KindNetwork},
		{"no cards", `{"markdown":"# x"}`, crawler.NewError(crawler.KindExtraction, "cards", errors.New("model returned no cards")), http.StatusBadGateway, crawler.KindExtraction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewServer(&fakeCrawler{}, testConfig(), zap.NewNop(), nil, WithCardGenerator(&fakeCards{err: tc.err}))
			rec, payload := postClean(t, s, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			failure := requireFailureShape(t, payload)
			assert.Equal(t, tc.kind, failure.Kind)
		})
	}
}

func TestServer_Clean_NotMountedWithoutGenerator(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/clean", bytes.NewBufferString(`{"markdown":"# x"}`))
	rec := httptest.NewRecorder()
	newTestServer(&fakeCrawler{}).Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Clean_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	s := NewServer(&fakeCrawler{}, cfg, zap.NewNop(), nil, WithCardGenerator(&fakeCards{}))

	req := httptest.NewRequest(http.MethodPost, "/clean", bytes.NewBufferString(`{"markdown":"# x"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
