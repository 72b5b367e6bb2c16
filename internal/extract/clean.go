package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Attributes kept in cleaned HTML.
var keptAttributes = map[string]struct{}{
	"href":    {},
	"src":     {},
	"alt":     {},
	"title":   {},
	"colspan": {},
	"rowspan": {},
}

// cleanDocument removes excluded elements and comments in place and returns
// the document body.
func cleanDocument(doc *goquery.Document, excluded string) *goquery.Selection {
	if excluded != "" {
		doc.Find(excluded).Remove()
	}
	for _, n := range doc.Nodes {
		removeComments(n)
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return doc.Selection
	}
	return body
}

func removeComments(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.CommentNode {
			n.RemoveChild(child)
		} else {
			removeComments(child)
		}
		child = next
	}
}

// cleanedHTML renders the inner HTML of body with presentation attributes
// stripped. body itself is not modified.
func cleanedHTML(body *goquery.Selection) (string, error) {
	clone := body.Clone()
	for _, n := range clone.Nodes {
		stripAttributes(n)
	}
	out, err := clone.Html()
	if err != nil {
		return "", err //nolint:wrapcheck // wrapped by the caller
	}
	return strings.TrimSpace(out), nil
}

func stripAttributes(n *html.Node) {
	if n.Type == html.ElementNode && len(n.Attr) > 0 {
		kept := make([]html.Attribute, 0, len(n.Attr))
		for _, attr := range n.Attr {
			if _, ok := keptAttributes[strings.ToLower(attr.Key)]; ok {
				kept = append(kept, attr)
			}
		}
		n.Attr = kept
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		stripAttributes(child)
	}
}
