package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

func extractMetadata(doc *goquery.Document) crawler.Metadata {
	meta := crawler.Metadata{
		Title:    collapseSpace(doc.Find("head title").First().Text()),
		Language: strings.TrimSpace(doc.Find("html").AttrOr("lang", "")),
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		if property := strings.ToLower(strings.TrimSpace(s.AttrOr("property", ""))); strings.HasPrefix(property, "og:") {
			if meta.OpenGraph == nil {
				meta.OpenGraph = map[string]string{}
			}
			if _, seen := meta.OpenGraph[property]; !seen {
				meta.OpenGraph[property] = content
			}
			return
		}
		switch strings.ToLower(strings.TrimSpace(s.AttrOr("name", ""))) {
		case "description":
			setOnce(&meta.Description, content)
		case "keywords":
			setOnce(&meta.Keywords, content)
		case "author":
			setOnce(&meta.Author, content)
		}
	})

	if meta.Title == "" {
		meta.Title = meta.OpenGraph["og:title"]
	}
	if meta.Description == "" {
		meta.Description = meta.OpenGraph["og:description"]
	}
	return meta
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
