// Package cards condenses crawled Markdown into knowledge cards: short,
// ordered insights with a spoken-style narration for each.
package cards

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

var (
	errEmptyMarkdown = errors.New("markdown content is required")
	errNoCards       = errors.New("model returned no cards")
)

// Card is one knowledge nugget taken from an article's main body.
type Card struct {
	ID               int    `json:"id" jsonschema:"required,description=Position of the card in reading order starting at 1."`
	Title            string `json:"title" jsonschema:"required,description=Short title of the insight."`
	Content          string `json:"content" jsonschema:"required,description=The insight in one or two plain sentences."`
	CodeSnippet      string `json:"code_snippet,omitempty" jsonschema:"description=Code from the article that illustrates the insight."`
	ImageURL         string `json:"image_url,omitempty" jsonschema:"description=Absolute URL of an article image that belongs to the insight."`
	AudioDescription string `json:"audio_description" jsonschema:"required,description=Friendly narration that expands on the insight without repeating it verbatim."`
}

// cardSet is the tool input the model fills in.
type cardSet struct {
	Cards []Card `json:"cards" jsonschema:"required,description=Knowledge cards in the order the ideas appear."`
}

// Generator turns Markdown into cards.
type Generator interface {
	Generate(ctx context.Context, markdown string) ([]Card, error)
}

// inputSchema is the JSON schema of cardSet, self-contained so it can be
// sent as a tool definition.
func inputSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	return reflector.Reflect(&cardSet{})
}

// prepareInput trims markdown and cuts it to at most maxChars runes.
func prepareInput(markdown string, maxChars int) (string, bool, error) {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", false, crawler.NewError(crawler.KindInvalidInput, "cards", errEmptyMarkdown)
	}
	if maxChars <= 0 || utf8.RuneCountInString(markdown) <= maxChars {
		return markdown, false, nil
	}
	runes := []rune(markdown)
	return string(runes[:maxChars]), true, nil
}

// normalize drops empty cards, renumbers the rest and clears image URLs
// that are not absolute http(s) links.
func normalize(in []Card) []Card {
	out := make([]Card, 0, len(in))
	for _, card := range in {
		card.Title = strings.TrimSpace(card.Title)
		card.Content = strings.TrimSpace(card.Content)
		if card.Title == "" && card.Content == "" {
			continue
		}
		if card.ImageURL != "" {
			if _, err := crawler.ValidateURL(card.ImageURL); err != nil {
				card.ImageURL = ""
			}
		}
		card.ID = len(out) + 1
		out = append(out, card)
	}
	return out
}
