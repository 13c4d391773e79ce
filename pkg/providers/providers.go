// Package providers builds connectors from provider configuration.
package providers

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/config"
	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/metrics"
	"github.com/artkit-ai/artkit/pkg/providers/anthropic"
	"github.com/artkit-ai/artkit/pkg/providers/gemini"
	"github.com/artkit-ai/artkit/pkg/providers/openai"
	"github.com/artkit-ai/artkit/pkg/retry"
)

// Provider types.
const (
	TypeOpenAI    = "openai"
	TypeGroq      = "groq"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
)

// ErrUnknownType is returned for a provider type with no connector.
var ErrUnknownType = errors.New("unknown provider type")

// Options carries settings shared by every connector.
type Options struct {
	Retry      config.RetryConfig
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	HTTPClient *http.Client
}

// RetryPolicy converts the configured retry settings.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialDelay:    cfg.InitialDelay,
		ExponentialBase: cfg.ExponentialBase,
		Jitter:          cfg.Jitter,
	}
}

func baseConfig(p config.ProviderConfig, model string, opts Options) connector.Config {
	base := connector.Config{
		ModelID:           model,
		APIKeyEnv:         p.APIKeyEnv,
		Params:            p.Params,
		Retry:             RetryPolicy(opts.Retry),
		RequestsPerSecond: opts.Retry.RequestsPerSecond,
		Logger:            opts.Logger,
		Metrics:           opts.Metrics,
	}
	if base.Logger != nil {
		base.Logger = base.Logger.With(zap.String("provider", p.Name))
	}
	return base
}

func openaiConfig(p config.ProviderConfig, model string, opts Options) openai.Config {
	cfg := openai.Config{
		Config:     baseConfig(p, model, opts),
		Provider:   p.Name,
		BaseURL:    p.URL,
		HTTPClient: opts.HTTPClient,
	}
	if p.Type == TypeGroq {
		cfg = openai.GroqConfig(cfg)
	}
	return cfg
}

func geminiConfig(p config.ProviderConfig, model string, opts Options) gemini.Config {
	return gemini.Config{
		Config:     baseConfig(p, model, opts),
		BaseURL:    p.URL,
		HTTPClient: opts.HTTPClient,
	}
}

// New returns a chat connector for model on provider p.
func New(p config.ProviderConfig, model string, opts Options) (llm.ChatModel, error) {
	switch p.Type {
	case "", TypeOpenAI, TypeGroq:
		c, err := openai.NewChat(openaiConfig(p, model, opts))
		if err != nil {
			return nil, err
		}
		return c, nil
	case TypeAnthropic:
		c, err := anthropic.NewChat(anthropic.Config{
			Config:     baseConfig(p, model, opts),
			BaseURL:    p.URL,
			HTTPClient: opts.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case TypeGemini:
		c, err := gemini.NewChat(geminiConfig(p, model, opts))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("provider %s: %w %q", p.Name, ErrUnknownType, p.Type)
}

// NewCompletion returns a completion connector for model on provider p.
// Only OpenAI-compatible providers serve completions.
func NewCompletion(p config.ProviderConfig, model string, opts Options) (llm.CompletionModel, error) {
	switch p.Type {
	case "", TypeOpenAI, TypeGroq:
		c, err := openai.NewCompletion(openaiConfig(p, model, opts))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("provider %s: completions: %w %q", p.Name, ErrUnknownType, p.Type)
}

// NewDiffusion returns an image generation connector. Only OpenAI serves
// the Images API.
func NewDiffusion(p config.ProviderConfig, model string, opts Options) (llm.DiffusionModel, error) {
	switch p.Type {
	case "", TypeOpenAI:
		d, err := openai.NewDiffusion(openaiConfig(p, model, opts))
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("provider %s: image generation: %w %q", p.Name, ErrUnknownType, p.Type)
}

// NewVision returns an image description connector.
func NewVision(p config.ProviderConfig, model string, opts Options) (llm.VisionModel, error) {
	switch p.Type {
	case "", TypeOpenAI, TypeGroq:
		v, err := openai.NewVision(openaiConfig(p, model, opts))
		if err != nil {
			return nil, err
		}
		return v, nil
	case TypeGemini:
		v, err := gemini.NewVision(geminiConfig(p, model, opts))
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("provider %s: image description: %w %q", p.Name, ErrUnknownType, p.Type)
}

// Shutdown closes every shared provider client.
func Shutdown() error {
	return errors.Join(openai.CloseClients(), anthropic.CloseClients(), gemini.CloseClients())
}
