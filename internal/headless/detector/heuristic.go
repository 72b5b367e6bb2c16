// Package detector decides when a static fetch should be re-rendered in a
// headless browser.
package detector

import (
	"bytes"
	"mime"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Markers of client-rendered application shells. Matched against the
// lowercased body.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"__nuxt\""),
	[]byte("id=\"root\"></div>"),
	[]byte("id=\"app\"></div>"),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("ng-version"),
}

var noscriptPhrases = [][]byte{
	[]byte("enable javascript"),
	[]byte("javascript is required"),
	[]byte("javascript is disabled"),
	[]byte("requires javascript"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	if !isHTML(resp) {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(lower) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if bytes.Contains(lower, []byte("<noscript")) {
		for _, phrase := range noscriptPhrases {
			if bytes.Contains(lower, phrase) {
				return true
			}
		}
	}
	return false
}

func isHTML(resp crawler.FetchResponse) bool {
	if resp.Headers == nil {
		return true
	}
	raw := resp.Headers.Get("Content-Type")
	if raw == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return true
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// scriptDensityHigh reports whether inline and external script tags cover at
// least a quarter of the lowercased document.
func scriptDensityHigh(lower []byte) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := bytes.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := bytes.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed open tag: count the rest of the document.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := bytes.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage > 0 && scriptCoverage*100/total >= 25
}
