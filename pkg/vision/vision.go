// Package vision is the model capability used for routing and scoring: one
// prompt, at most one image, one text answer.
package vision

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client sends a single prompt (optionally with an image) to a model.
type Client interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// Request is a single model call.
type Request struct {
	// Image is nil for text-only calls.
	Image       *Image
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int64
}

// Response is the model's text answer.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is the token count of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// Factory builds a client bound to deviceID. An empty deviceID means no
// device preference.
type Factory func(ctx context.Context, deviceID string) (Client, error)

// Providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
)

// DeviceHeader carries the device id on OpenAI-compatible requests.
const DeviceHeader = "X-Device-ID"

// Config selects and configures a backend.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	// BaseURL overrides the provider endpoint (self-hosted servers).
	BaseURL string
	Timeout time.Duration
	// DeviceEndpoints maps a device id to its own base URL.
	DeviceEndpoints map[string]string
}

func (c Config) baseURLFor(deviceID string) string {
	if u, ok := c.DeviceEndpoints[deviceID]; ok && u != "" {
		return u
	}
	return c.BaseURL
}

// NewFactory returns a Factory for cfg.Provider.
func NewFactory(cfg Config) (Factory, error) {
	if cfg.Model == "" {
		return nil, eris.Errorf("vision: no model configured for provider %q", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic, "":
		return func(_ context.Context, deviceID string) (Client, error) {
			return NewAnthropicClient(cfg, deviceID), nil
		}, nil
	case ProviderOpenAI:
		return func(_ context.Context, deviceID string) (Client, error) {
			return NewOpenAIClient(cfg, deviceID), nil
		}, nil
	case ProviderGemini:
		return func(ctx context.Context, _ string) (Client, error) {
			return NewGeminiClient(ctx, cfg)
		}, nil
	default:
		return nil, eris.Errorf("vision: unknown provider %q", cfg.Provider)
	}
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 {
	return &v
}
