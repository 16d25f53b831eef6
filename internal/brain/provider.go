// Package brain talks to the generation oracles that judge articles and
// draft posts.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abelbrown/linkpost/internal/logging"
)

var (
	// ErrNotConfigured is returned by a provider without credentials.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrRateLimited marks an HTTP 429 from an oracle.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmptyResponse means the oracle answered with no text, usually a
	// safety filter.
	ErrEmptyResponse = errors.New("empty response")
	// ErrNoModels means every provider or model was tried and none answered.
	ErrNoModels = errors.New("no model produced a response")
)

// Provider is the interface for AI providers
type Provider interface {
	// Name returns the provider name (e.g., "gemini", "openai")
	Name() string

	// Available returns true if the provider is configured and ready
	Available() bool

	// Generate sends a prompt and returns the response
	Generate(ctx context.Context, req Request) (Response, error)
}

// ModelLister is implemented by providers that can report which models the
// configured key may use.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Request is a prompt request to an AI provider
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// Response is the AI provider's response
type Response struct {
	Content     string
	Model       string
	Provider    string
	RawResponse string // The raw API response body for logging/debugging

	// Truncated is set when the provider stopped at the token limit.
	Truncated bool
}

// Manager holds the configured providers and falls back between them.
type Manager struct {
	providers []Provider
	preferred string // Preferred provider name
}

// NewManager creates a new provider manager
func NewManager() *Manager {
	return &Manager{}
}

// AddProvider adds a provider to the manager
func (m *Manager) AddProvider(p Provider) {
	m.providers = append(m.providers, p)
}

// SetPreferred sets the preferred provider by name
func (m *Manager) SetPreferred(name string) {
	m.preferred = name
}

// ordered returns available providers, preferred first.
func (m *Manager) ordered() []Provider {
	var first, rest []Provider
	for _, p := range m.providers {
		if !p.Available() {
			continue
		}
		if p.Name() == m.preferred {
			first = append(first, p)
		} else {
			rest = append(rest, p)
		}
	}
	return append(first, rest...)
}

// GetByName returns a provider by name
func (m *Manager) GetByName(name string) Provider {
	for _, p := range m.providers {
		if p.Name() == name && p.Available() {
			return p
		}
	}
	return nil
}

// ListAvailable returns names of all available providers, preferred first
func (m *Manager) ListAvailable() []string {
	var names []string
	for _, p := range m.ordered() {
		names = append(names, p.Name())
	}
	return names
}

// Generate asks the preferred provider, then each other available
// provider in turn, and returns the first non-empty answer.
func (m *Manager) Generate(ctx context.Context, req Request) (Response, error) {
	providers := m.ordered()
	if len(providers) == 0 {
		return Response{}, fmt.Errorf("%w: no provider has credentials", ErrNoModels)
	}

	var errs []string
	for _, p := range providers {
		resp, err := p.Generate(ctx, req)
		if err == nil && strings.TrimSpace(resp.Content) == "" {
			err = ErrEmptyResponse
		}
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			logging.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
			continue
		}
		if resp.Provider == "" {
			resp.Provider = p.Name()
		}
		return resp, nil
	}
	return Response{}, fmt.Errorf("%w (%s)", ErrNoModels, strings.Join(errs, "; "))
}
