package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/metrics"
)

const toolName = "record_knowledge_cards"

const systemPrompt = `You extract only meaningful knowledge nuggets from Markdown articles and write a conversational narration for each.
Ignore site navigation, social buttons, author bios, ads and unrelated content. Use the main body only.
Keep the order of ideas. Include an image URL only when the image is part of the article content.
The narration should sound like a friendly host explaining the point aloud without calling itself a podcast.
Always answer by calling the ` + toolName + ` tool.`

// Config controls the Anthropic-backed generator.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint.
	BaseURL string
	Timeout time.Duration
	// MaxInputChars truncates longer Markdown before it is sent.
	MaxInputChars int
	MaxRetries    int
}

// Anthropic generates cards with a forced tool call so the reply is
// structured JSON matching Card.
type Anthropic struct {
	client *anthropic.Client
	cfg    Config
	tool   anthropic.ToolParam
	logger *zap.Logger
}

var _ Generator = (*Anthropic)(nil)

// NewAnthropic builds a generator. It does not contact the API.
func NewAnthropic(cfg Config, logger *zap.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("cards: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("cards: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		tool: anthropic.ToolParam{
			Name:        anthropic.F(toolName),
			Description: anthropic.F("Record the knowledge cards extracted from the article."),
			InputSchema: anthropic.F[interface{}](inputSchema()),
		},
		logger: logger.Named("cards"),
	}, nil
}

// Generate asks the model for cards describing markdown.
func (a *Anthropic) Generate(ctx context.Context, markdown string) ([]Card, error) {
	start := time.Now()
	cards, err := a.generate(ctx, markdown)
	outcome := "success"
	if err != nil {
		outcome = string(crawler.KindOf(err))
	}
	metrics.ObserveCards(outcome, len(cards), time.Since(start))
	return cards, err
}

func (a *Anthropic) generate(ctx context.Context, markdown string) ([]Card, error) {
	input, truncated, err := prepareInput(markdown, a.cfg.MaxInputChars)
	if err != nil {
		return nil, err
	}
	if truncated {
		a.logger.Info("markdown truncated", zap.Int("max_chars", a.cfg.MaxInputChars))
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(a.cfg.Model)),
		MaxTokens: anthropic.Int(a.cfg.MaxTokens),
		System: anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(systemPrompt),
		}),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(input)),
		}),
		Tools: anthropic.F([]anthropic.ToolUnionUnionParam{a.tool}),
		ToolChoice: anthropic.F[anthropic.ToolChoiceUnionParam](anthropic.ToolChoiceToolParam{
			Type: anthropic.F(anthropic.ToolChoiceToolTypeTool),
			Name: anthropic.F(toolName),
		}),
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	a.logger.Debug("cards generated",
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	for _, block := range msg.Content {
		use, ok := block.AsUnion().(anthropic.ToolUseBlock)
		if !ok || use.Name != toolName {
			continue
		}
		return decodeCards(use.Input)
	}
	return nil, crawler.NewError(crawler.KindExtraction, "cards", errNoCards)
}

func decodeCards(raw json.RawMessage) ([]Card, error) {
	var set cardSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, crawler.NewError(crawler.KindExtraction, "decode cards", err)
	}
	cards := normalize(set.Cards)
	if len(cards) == 0 {
		return nil, crawler.NewError(crawler.KindExtraction, "cards", errNoCards)
	}
	return cards, nil
}

// classifyAPIError maps API failures onto crawl failure kinds. Rate limits
// and server errors are upstream failures; anything else is ours.
func classifyAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= http.StatusInternalServerError:
			return crawler.NewError(crawler.KindNetwork, "cards api", err)
		default:
			return crawler.NewError(crawler.KindInternal, "cards api", fmt.Errorf("status %d: %w", apiErr.StatusCode, err))
		}
	}
	return crawler.Wrap(crawler.KindNetwork, "cards api", err)
}
