package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	longParagraph := "<p>" + strings.Repeat("plain server rendered text ", 200) + "</p>"

	cases := []struct {
		name    string
		resp    crawler.FetchResponse
		promote bool
	}{
		{
			name:    "empty body",
			resp:    crawler.FetchResponse{StatusCode: 200, Body: []byte("  \n")},
			promote: true,
		},
		{
			name:    "next.js marker",
			resp:    crawler.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next"></div>` + longParagraph)},
			promote: true,
		},
		{
			name:    "empty react root",
			resp:    crawler.FetchResponse{StatusCode: 200, Body: []byte(`<body><div id="root"></div>` + longParagraph + `</body>`)},
			promote: true,
		},
		{
			name:    "script density",
			resp:    crawler.FetchResponse{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)},
			promote: true,
		},
		{
			name: "noscript warning",
			resp: crawler.FetchResponse{
				StatusCode: 200,
				Body:       []byte(`<noscript>Please Enable JavaScript to continue.</noscript>` + longParagraph),
			},
			promote: true,
		},
		{
			name:    "plain document",
			resp:    crawler.FetchResponse{StatusCode: 200, Body: []byte("<html><body>" + longParagraph + "</body></html>")},
			promote: false,
		},
		{
			name:    "non 2xx",
			resp:    crawler.FetchResponse{StatusCode: 404, Body: []byte("")},
			promote: false,
		},
		{
			name: "non html content",
			resp: crawler.FetchResponse{
				StatusCode: 200,
				Headers:    http.Header{"Content-Type": {"application/json"}},
				Body:       []byte(""),
			},
			promote: false,
		},
		{
			name: "html with charset",
			resp: crawler.FetchResponse{
				StatusCode: 200,
				Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
				Body:       []byte(`<div data-reactroot></div>` + longParagraph),
			},
			promote: true,
		},
	}

	h := NewHeuristic(100)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.promote, h.ShouldPromote(tc.resp))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2048, NewHeuristic(0).BodyLengthThreshold)
	require.Equal(t, 2048, NewHeuristic(-5).BodyLengthThreshold)
	require.Equal(t, 10, NewHeuristic(10).BodyLengthThreshold)
}

func TestScriptDensityHigh(t *testing.T) {
	t.Parallel()

	require.False(t, scriptDensityHigh(nil))
	require.False(t, scriptDensityHigh([]byte("<p>no scripts here at all</p>")))
	require.True(t, scriptDensityHigh([]byte("<p>x</p><script src=a.js")))
	require.True(t, scriptDensityHigh([]byte("<p>x</p><script>never closed")))
}
