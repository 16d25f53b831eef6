package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/abelbrown/linkpost/internal/httpclient"
	"github.com/abelbrown/linkpost/internal/logging"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

// fallbackGeminiModels is used when model discovery fails.
var fallbackGeminiModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
	"gemini-2.5-pro",
}

// GeminiOptions configures NewGeminiProvider.
type GeminiOptions struct {
	APIKey string
	// Model is tried first when set; discovered models follow.
	Model    string
	Endpoint string
	// RateLimitWait is slept after a 429 before the next model is tried.
	RateLimitWait time.Duration
	Client        *httpclient.Client
}

// GeminiProvider implements the Provider interface for Google's Gemini
// models over the REST API.
type GeminiProvider struct {
	apiKey        string
	model         string
	endpoint      string
	rateLimitWait time.Duration
	client        *httpclient.Client

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(opts GeminiOptions) *GeminiProvider {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultGeminiEndpoint
	}
	if opts.Client == nil {
		opts.Client = httpclient.New(httpclient.Options{Timeout: 120 * time.Second, UserAgent: "linkpost"})
	}
	return &GeminiProvider{
		apiKey:        opts.APIKey,
		model:         opts.Model,
		endpoint:      strings.TrimRight(opts.Endpoint, "/"),
		rateLimitWait: opts.RateLimitWait,
		client:        opts.Client,
		sleep:         sleepContext,
	}
}

func (g *GeminiProvider) Name() string {
	return "gemini"
}

func (g *GeminiProvider) Available() bool {
	return g.apiKey != ""
}

// ListModels asks the API which models this key may call with
// generateContent, flash models first and pro models last.
func (g *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	if !g.Available() {
		return nil, ErrNotConfigured
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/v1beta/models?pageSize=1000", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Models []struct {
			Name                       string   `json:"name"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse models: %w", err)
	}

	var models []string
	for _, m := range result.Models {
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				models = append(models, strings.TrimPrefix(m.Name, "models/"))
				break
			}
		}
	}
	sortModels(models)
	return models, nil
}

// sortModels puts flash models first, then everything that is not pro.
func sortModels(models []string) {
	rank := func(m string) int {
		r := 0
		if !strings.Contains(m, "flash") {
			r += 2
		}
		if strings.Contains(m, "pro") {
			r++
		}
		return r
	}
	sort.SliceStable(models, func(i, j int) bool {
		return rank(models[i]) < rank(models[j])
	})
}

// candidates returns the models to try, configured model first.
func (g *GeminiProvider) candidates(ctx context.Context) []string {
	discovered, err := g.ListModels(ctx)
	if err != nil || len(discovered) == 0 {
		logging.Warn("Gemini model discovery failed, using fallback list", "error", err)
		discovered = fallbackGeminiModels
	}

	var out []string
	seen := map[string]bool{}
	if g.model != "" {
		out = append(out, g.model)
		seen[g.model] = true
	}
	for _, m := range discovered {
		if !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	return out
}

// Generate walks the candidate models until one answers. A 429 waits
// RateLimitWait and moves on to the next model rather than retrying the
// same one.
func (g *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if !g.Available() {
		logging.Warn("Gemini provider not configured")
		return Response{}, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}

	var lastErr error
	for _, model := range g.candidates(ctx) {
		resp, err := g.generateWith(ctx, model, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		lastErr = err
		logging.Warn("Gemini model failed", "model", model, "error", err)

		if errors.Is(err, ErrRateLimited) && g.rateLimitWait > 0 {
			logging.Info("Gemini quota exceeded, waiting before next model", "wait", g.rateLimitWait)
			if err := g.sleep(ctx, g.rateLimitWait); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{}, fmt.Errorf("gemini: %w: last error: %v", ErrNoModels, lastErr)
}

func (g *GeminiProvider) generateWith(ctx context.Context, model string, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	logging.Debug("Gemini API request starting", "model", model, "max_tokens", maxTokens)

	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role":  "user",
				"parts": []map[string]string{{"text": req.UserPrompt}},
			},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": maxTokens,
		},
	}
	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]string{{"text": req.SystemPrompt}},
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, fmt.Errorf("%w (status 429)", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		ModelVersion string `json:"modelVersion"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, fmt.Errorf("failed to parse response: %w", err)
	}

	content := ""
	finishReason := ""
	if len(result.Candidates) > 0 {
		var parts []string
		for _, p := range result.Candidates[0].Content.Parts {
			parts = append(parts, p.Text)
		}
		content = strings.Join(parts, "")
		finishReason = result.Candidates[0].FinishReason
	}
	if strings.TrimSpace(content) == "" {
		return Response{}, fmt.Errorf("%w (finish reason %q)", ErrEmptyResponse, finishReason)
	}

	modelName := model
	if result.ModelVersion != "" {
		modelName = result.ModelVersion
	}

	if finishReason == "MAX_TOKENS" {
		logging.Warn("Gemini response truncated due to max tokens",
			"model", modelName,
			"max_tokens", maxTokens,
			"content_length", len(content))
	}

	logging.Info("Gemini API response",
		"model", modelName,
		"content_length", len(content),
		"finish_reason", finishReason)

	return Response{
		Content:     content,
		Model:       modelName,
		Provider:    g.Name(),
		RawResponse: string(respBody),
		Truncated:   finishReason == "MAX_TOKENS",
	}, nil
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
