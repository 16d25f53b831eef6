package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/abelbrown/linkpost/internal/logging"
)

// SDKOptions configures the SDK-backed providers.
type SDKOptions struct {
	APIKey   string
	Model    string
	Endpoint string // base URL override
	// MaxRetries is passed to the SDK; negative keeps the SDK default.
	MaxRetries int
}

// OpenAIProvider implements the Provider interface with the official
// openai-go SDK.
type OpenAIProvider struct {
	client *openai.Client
	apiKey string
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(opts SDKOptions) *OpenAIProvider {
	if opts.Model == "" {
		opts.Model = string(openai.ChatModelGPT4oMini)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.Endpoint))
	}
	if opts.MaxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(opts.MaxRetries))
	}
	client := openai.NewClient(reqOpts...)
	return &OpenAIProvider{
		client: &client,
		apiKey: opts.APIKey,
		model:  opts.Model,
	}
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}

func (o *OpenAIProvider) Available() bool {
	return o.apiKey != ""
}

func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if !o.Available() {
		return Response{}, fmt.Errorf("openai: %w", ErrNotConfigured)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	logging.Debug("OpenAI API request starting", "model", o.model, "max_tokens", maxTokens)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return Response{}, fmt.Errorf("openai: %w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("openai API error: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Response{}, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		logging.Warn("OpenAI response truncated due to max tokens", "model", resp.Model, "max_tokens", maxTokens)
	}
	logging.Info("OpenAI API response", "model", resp.Model, "content_length", len(choice.Message.Content))

	return Response{
		Content:     choice.Message.Content,
		Model:       resp.Model,
		Provider:    o.Name(),
		RawResponse: resp.RawJSON(),
		Truncated:   choice.FinishReason == "length",
	}, nil
}
