package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	md "github.com/nao1215/markdown"
	"golang.org/x/net/html"
)

type renderOptions struct {
	minWords int
}

type reference struct {
	url  string
	text string
}

// markdownRenderer converts prepared DOM subtrees to Markdown. It is safe
// for concurrent use.
type markdownRenderer struct {
	conv *converter.Converter
}

func newMarkdownRenderer() *markdownRenderer {
	return &markdownRenderer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
				strikethrough.NewStrikethroughPlugin(),
			),
		),
	}
}

// render converts a copy of root. Links and images are resolved against
// pageURL first; anything unresolvable is reduced to its text.
func (r *markdownRenderer) render(root *goquery.Selection, pageURL *url.URL, opts renderOptions) (string, error) {
	return r.convert(prepare(root, pageURL, opts))
}

func (r *markdownRenderer) convert(root *goquery.Selection) (string, error) {
	var b strings.Builder
	for _, n := range root.Nodes {
		out, err := r.conv.ConvertNode(n)
		if err != nil {
			return "", fmt.Errorf("convert markdown: %w", err)
		}
		b.Write(out)
	}
	return strings.TrimSpace(b.String()), nil
}

// prepare clones root and rewrites the clone for conversion.
func prepare(root *goquery.Selection, pageURL *url.URL, opts renderOptions) *goquery.Selection {
	clone := root.Clone()
	clone.Find("a").Each(func(_ int, a *goquery.Selection) {
		if href, ok := resolveURL(pageURL, a.AttrOr("href", "")); ok {
			a.SetAttr("href", href)
			return
		}
		a.ReplaceWithSelection(a.Contents())
	})
	clone.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := imageSource(img, pageURL)
		if !ok {
			img.Remove()
			return
		}
		img.SetAttr("src", src)
	})
	if opts.minWords > 0 {
		clone.Find("p").Each(func(_ int, p *goquery.Selection) {
			if len(strings.Fields(p.Text())) < opts.minWords {
				p.Remove()
			}
		})
	}
	return clone
}

type citationResult struct {
	markdown   string
	references string
}

// renderCitations renders Markdown with links replaced by numbered markers
// and a separate numbered reference list.
func (r *markdownRenderer) renderCitations(root *goquery.Selection, pageURL *url.URL, minWords int) (citationResult, error) {
	prepared := prepare(root, pageURL, renderOptions{minWords: minWords})

	var refs []reference
	index := map[string]int{}
	prepared.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := collapseSpace(a.Text())
		if text == "" {
			return
		}
		href := a.AttrOr("href", "")
		idx, ok := index[href]
		if !ok {
			refs = append(refs, reference{url: href, text: text})
			idx = len(refs)
			index[href] = idx
		}
		for _, n := range a.Nodes {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: fmt.Sprintf("⟨%d⟩", idx)})
		}
		a.ReplaceWithSelection(a.Contents())
	})

	text, err := r.convert(prepared)
	if err != nil {
		return citationResult{}, err
	}
	if len(refs) == 0 {
		return citationResult{markdown: text}, nil
	}

	entries := make([]string, 0, len(refs))
	for _, ref := range refs {
		entry := ref.url
		if ref.text != ref.url {
			entry += ": " + ref.text
		}
		entries = append(entries, entry)
	}
	list := md.NewMarkdown(io.Discard).H2("References").PlainText("").OrderedList(entries...)
	if err := list.Error(); err != nil {
		return citationResult{}, fmt.Errorf("build references: %w", err)
	}
	return citationResult{markdown: text, references: list.String()}, nil
}
