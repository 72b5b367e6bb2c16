package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

// resolveURL resolves ref against base and returns an absolute http(s) URL
// without its fragment. ok is false for anything else.
func resolveURL(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", false
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "sms:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

// sameSite reports whether host belongs to the crawled site: the same base
// domain or a subdomain of it.
func sameSite(host, siteBase string) bool {
	base := crawler.BaseDomain(host)
	return base == siteBase || strings.HasSuffix(base, "."+siteBase)
}

func extractLinks(doc *goquery.Document, base *url.URL) crawler.Links {
	links := crawler.Links{Internal: []crawler.Link{}, External: []crawler.Link{}}
	siteBase := ""
	if base != nil {
		siteBase = crawler.BaseDomain(base.Hostname())
	}
	seen := map[string]struct{}{}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := resolveURL(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}

		u, err := url.Parse(href)
		if err != nil {
			return
		}
		link := crawler.Link{
			Href:       href,
			Text:       collapseSpace(s.Text()),
			Title:      strings.TrimSpace(s.AttrOr("title", "")),
			BaseDomain: crawler.BaseDomain(u.Hostname()),
		}
		if siteBase != "" && sameSite(u.Hostname(), siteBase) {
			links.Internal = append(links.Internal, link)
			return
		}
		links.External = append(links.External, link)
	})
	return links
}
