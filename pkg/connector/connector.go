// Package connector holds what every provider connector shares: identity,
// credentials, default parameters, retry policy, and client-side throttling.
package connector

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/artkit-ai/artkit/pkg/metrics"
	"github.com/artkit-ai/artkit/pkg/models"
	"github.com/artkit-ai/artkit/pkg/retry"
)

// ErrMissingAPIKey is returned when the configured environment variable is
// unset or empty.
var ErrMissingAPIKey = errors.New("missing API key")

// Config describes one connector instance.
type Config struct {
	ModelID   string
	APIKeyEnv string
	// Params are sent with every request. Nil values are dropped.
	Params models.Params
	Retry  retry.Policy
	// RequestsPerSecond throttles calls made through Do. Zero disables it.
	RequestsPerSecond float64
	Logger            *zap.Logger
	// Metrics, if set, records every provider call and retry.
	Metrics *metrics.Collector
}

// Base implements the parts of a model connector that do not depend on the
// provider.
type Base struct {
	modelID   string
	apiKeyEnv string
	params    models.Params
	policy    retry.Policy
	limiter   *rate.Limiter
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// New validates cfg and returns a Base.
func New(cfg Config) (*Base, error) {
	if cfg.ModelID == "" {
		return nil, errors.New("connector: model id is required")
	}
	if cfg.APIKeyEnv == "" {
		return nil, fmt.Errorf("connector %s: api key env is required", cfg.ModelID)
	}
	b := &Base{
		modelID:   cfg.ModelID,
		apiKeyEnv: cfg.APIKeyEnv,
		params:    make(models.Params, len(cfg.Params)),
		policy:    cfg.Retry,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	for k, v := range cfg.Params {
		if v != nil {
			b.params[k] = v
		}
	}
	if b.metrics != nil {
		onRetry := b.policy.OnRetry
		b.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			b.metrics.Retry(b.modelID)
			if onRetry != nil {
				onRetry(attempt, err, delay)
			}
		}
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.With(zap.String("model_id", cfg.ModelID))
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return b, nil
}

func (b *Base) ModelID() string { return b.modelID }

func (b *Base) APIKeyEnv() string { return b.apiKeyEnv }

// ModelParams returns a copy of the default parameters.
func (b *Base) ModelParams() models.Params { return maps.Clone(b.params) }

func (b *Base) Logger() *zap.Logger { return b.logger }

// Key identifies the shared client for this connector.
func (b *Base) Key() Key {
	return Key{ModelID: b.modelID, APIKeyEnv: b.apiKeyEnv}
}

// APIKey reads the key from the configured environment variable.
func (b *Base) APIKey() (string, error) {
	key := os.Getenv(b.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: environment variable %s must be set to use model %s",
			ErrMissingAPIKey, b.apiKeyEnv, b.modelID)
	}
	return key, nil
}

// MergeParams layers call parameters over the defaults. Nil call values
// unset a default.
func (b *Base) MergeParams(call models.Params) models.Params {
	out := maps.Clone(b.params)
	if out == nil {
		out = models.Params{}
	}
	for k, v := range call {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Do runs fn under the connector's throttle and retry policy. Every
// attempt, including retries, waits for the rate limiter.
func Do[T any](ctx context.Context, b *Base, fn func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, b.policy, b.logger, func(ctx context.Context) (T, error) {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, fmt.Errorf("wait for rate limiter: %w", err)
			}
		}
		start := time.Now()
		res, err := fn(ctx)
		b.metrics.ObserveRequest(b.modelID, time.Since(start), err)
		return res, err
	})
}
