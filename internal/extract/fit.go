package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

var errNoArticle = errors.New("readability found no article content")

// fitMarkdown renders only the main article content, as selected by
// readability, to Markdown.
func (e *Extractor) fitMarkdown(body []byte, base *url.URL) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", errNoArticle
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", fmt.Errorf("parse article html: %w", err)
	}
	root := cleanDocument(doc, e.excluded)
	text, err := e.markdown.render(root, base, renderOptions{minWords: e.cfg.WordCountThreshold})
	if err != nil {
		return "", err
	}
	if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(text, "# ") {
		text = "# " + title + "\n\n" + text
	}
	return strings.TrimSpace(text), nil
}
