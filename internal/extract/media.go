package extract

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

func extractMedia(doc *goquery.Document, base *url.URL) crawler.Media {
	media := crawler.Media{
		Images: []crawler.Image{},
		Videos: []crawler.Video{},
		Audios: []crawler.Audio{},
	}
	seen := map[string]struct{}{}
	firstSeen := func(src string) bool {
		if _, dup := seen[src]; dup {
			return false
		}
		seen[src] = struct{}{}
		return true
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := imageSource(s, base)
		if !ok || !firstSeen(src) {
			return
		}
		media.Images = append(media.Images, crawler.Image{
			Src:    src,
			Alt:    strings.TrimSpace(s.AttrOr("alt", "")),
			Width:  dimension(s.AttrOr("width", "")),
			Height: dimension(s.AttrOr("height", "")),
		})
	})

	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		poster, _ := resolveURL(base, s.AttrOr("poster", ""))
		for _, src := range mediaSources(s, base) {
			if firstSeen(src) {
				media.Videos = append(media.Videos, crawler.Video{Src: src, Poster: poster})
			}
		}
	})

	doc.Find("audio").Each(func(_ int, s *goquery.Selection) {
		for _, src := range mediaSources(s, base) {
			if firstSeen(src) {
				media.Audios = append(media.Audios, crawler.Audio{Src: src})
			}
		}
	})
	return media
}

// imageSource prefers src, then the lazy-loading data-src, then the first
// srcset candidate.
func imageSource(s *goquery.Selection, base *url.URL) (string, bool) {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if src, ok := resolveURL(base, s.AttrOr(attr, "")); ok {
			return src, true
		}
	}
	if srcset := strings.TrimSpace(s.AttrOr("srcset", "")); srcset != "" {
		first := strings.TrimSpace(strings.Split(srcset, ",")[0])
		if fields := strings.Fields(first); len(fields) > 0 {
			return resolveURL(base, fields[0])
		}
	}
	return "", false
}

func mediaSources(s *goquery.Selection, base *url.URL) []string {
	var out []string
	if src, ok := resolveURL(base, s.AttrOr("src", "")); ok {
		out = append(out, src)
	}
	s.Find("source[src]").Each(func(_ int, source *goquery.Selection) {
		if src, ok := resolveURL(base, source.AttrOr("src", "")); ok {
			out = append(out, src)
		}
	})
	return out
}

func dimension(raw string) int {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "px")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
