// Package openai implements a streaming client for the OpenAI Chat
// Completions API, the upstream model service behind the conversation
// orchestrator. Only the surface the orchestrator depends on is implemented:
// streaming text deltas, streaming partial tool-call fragments by call index,
// and follow-up calls carrying a synthetic assistant+tool-result turn.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when the request does not name one.
	DefaultModel = "gpt-4o-mini"
)

// Provider implements the OpenAI Chat Completions API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint (for proxies and tests).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithModel sets the model used for completions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.httpClient = hc }
}

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// StreamChat opens a streaming completion request and returns the event
// stream of its incremental output.
func (p *Provider) StreamChat(ctx context.Context, req *ChatRequest) (EventStream, error) {
	wire := *req
	if wire.Model == "" {
		wire.Model = p.model
	}
	wire.Stream = true

	body, err := p.doStreamRequest(ctx, &wire)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	return newEventStream(body), nil
}
