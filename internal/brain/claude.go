package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/abelbrown/linkpost/internal/logging"
)

// ClaudeProvider implements the Provider interface with the official
// anthropic-sdk-go SDK.
type ClaudeProvider struct {
	client *anthropic.Client
	apiKey string
	model  string
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(opts SDKOptions) *ClaudeProvider {
	if opts.Model == "" {
		opts.Model = string(anthropic.ModelClaudeHaiku4_5)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.Endpoint))
	}
	if opts.MaxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(opts.MaxRetries))
	}
	client := anthropic.NewClient(reqOpts...)
	return &ClaudeProvider{
		client: &client,
		apiKey: opts.APIKey,
		model:  opts.Model,
	}
}

func (c *ClaudeProvider) Name() string {
	return "claude"
}

func (c *ClaudeProvider) Available() bool {
	return c.apiKey != ""
}

func (c *ClaudeProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if !c.Available() {
		return Response{}, fmt.Errorf("claude: %w", ErrNotConfigured)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	logging.Debug("Claude API request starting", "model", c.model, "max_tokens", maxTokens)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return Response{}, fmt.Errorf("claude: %w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("anthropic API error: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	content := strings.Join(parts, "")
	if content == "" {
		return Response{}, fmt.Errorf("claude: %w", ErrEmptyResponse)
	}

	if resp.StopReason == anthropic.StopReasonMaxTokens {
		logging.Warn("Claude response truncated due to max tokens", "model", resp.Model, "max_tokens", maxTokens)
	}
	logging.Info("Claude API response", "model", resp.Model, "content_length", len(content))

	return Response{
		Content:     content,
		Model:       string(resp.Model),
		Provider:    c.Name(),
		RawResponse: resp.RawJSON(),
		Truncated:   resp.StopReason == anthropic.StopReasonMaxTokens,
	}, nil
}
