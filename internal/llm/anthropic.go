package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var claudeModels = map[string]string{
	"haiku":  "claude-haiku-4-5-20251001",
	"sonnet": "claude-sonnet-4-5-20250929",
}

// maxSearchUses caps web_search tool invocations per request.
const maxSearchUses = 8

// Anthropic completes via the Messages API, offering the hosted web_search
// tool when a request asks for it.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds a client. An empty apiKey falls back to ANTHROPIC_API_KEY.
func NewAnthropic(apiKey, model, baseURL string) *Anthropic {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	// The SDK retries by default; retry policy belongs to the caller.
	opts = append(opts, option.WithMaxRetries(0))

	modelID := claudeModels[model]
	if modelID == "" {
		modelID = model
	}
	if modelID == "" {
		modelID = claudeModels["sonnet"]
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: modelID}
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if req.WebSearch {
		params.Tools = []anthropic.ToolUnionParam{{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
				MaxUses:        anthropic.Int(maxSearchUses),
				AllowedDomains: req.AllowedDomains,
			},
		}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", newServiceError("anthropic", status, err)
	}
	return extractText(message), nil
}

// extractText joins the text blocks of a response. Tool-use and search
// result blocks are skipped.
func extractText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}
