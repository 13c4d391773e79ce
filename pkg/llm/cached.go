package llm

import (
	"context"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/cache/sqlite"
	"github.com/artkit-ai/artkit/pkg/fingerprint"
	"github.com/artkit-ai/artkit/pkg/metrics"
	"github.com/artkit-ai/artkit/pkg/models"
)

// Cache is the response store consulted by the cached models.
type Cache interface {
	Get(ctx context.Context, modelID, prompt string, params models.Params) ([]string, bool, error)
	Put(ctx context.Context, modelID, prompt string, params models.Params, responses ...string) error
	Clear(ctx context.Context, f sqlite.ClearFilter) (int64, error)
}

type cacheOptions struct {
	metrics *metrics.Collector
	logger  *zap.Logger
}

// CacheOption configures CachedChat and CachedCompletion.
type CacheOption func(*cacheOptions)

// WithMetrics records hits and misses on c.
func WithMetrics(c *metrics.Collector) CacheOption {
	return func(o *cacheOptions) { o.metrics = c }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(o *cacheOptions) { o.logger = l }
}

func newCacheOptions(opts []CacheOption) cacheOptions {
	o := cacheOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// mergeParams layers call over defaults; a nil call value unsets a default.
func mergeParams(defaults, call models.Params) models.Params {
	out := maps.Clone(defaults)
	if out == nil {
		out = models.Params{}
	}
	for k, v := range call {
		out[k] = v
	}
	return out
}

type cachedModel struct {
	cache Cache
	cacheOptions
}

func (c *cachedModel) lookup(ctx context.Context, modelID, prompt string, params models.Params) (models.Params, []string, bool, error) {
	key, err := fingerprint.NormalizeParams(params)
	if err != nil {
		return nil, nil, false, err
	}
	responses, ok, err := c.cache.Get(ctx, modelID, prompt, key)
	if err != nil {
		return nil, nil, false, err
	}
	if ok {
		c.metrics.CacheHit(modelID)
	} else {
		c.metrics.CacheMiss(modelID)
	}
	return key, responses, ok, nil
}

func (c *cachedModel) clear(ctx context.Context, modelID string, createdBefore, accessedBefore time.Time) (int64, error) {
	return c.cache.Clear(ctx, sqlite.ClearFilter{
		ModelID:        modelID,
		CreatedBefore:  createdBefore,
		AccessedBefore: accessedBefore,
	})
}

// CachedChat answers repeated requests from a Cache and forwards misses to
// the wrapped model.
type CachedChat struct {
	model ChatModel
	cachedModel
}

// NewCachedChat wraps model with cache.
func NewCachedChat(model ChatModel, cache Cache, opts ...CacheOption) *CachedChat {
	return &CachedChat{
		model:       model,
		cachedModel: cachedModel{cache: cache, cacheOptions: newCacheOptions(opts)},
	}
}

func (c *CachedChat) ModelID() string            { return c.model.ModelID() }
func (c *CachedChat) ModelParams() models.Params { return c.model.ModelParams() }
func (c *CachedChat) SystemPrompt() string       { return c.model.SystemPrompt() }

func (c *CachedChat) WithSystemPrompt(prompt string) ChatModel {
	return &CachedChat{model: c.model.WithSystemPrompt(prompt), cachedModel: c.cachedModel}
}

// Close closes the wrapped model. The cache stays open.
func (c *CachedChat) Close() error { return Close(c.model) }

// Respond returns cached responses when the same message, system prompt,
// history, and parameters were seen before.
func (c *CachedChat) Respond(ctx context.Context, message string, history *History, params models.Params) ([]string, error) {
	modelID := c.model.ModelID()
	merged := mergeParams(c.model.ModelParams(), params)
	merged[fingerprint.ParamType] = fingerprint.TypeChat
	if sp := c.model.SystemPrompt(); sp != "" {
		merged[fingerprint.ParamSystemPrompt] = sp
	}
	for i, msg := range history.Messages(0) {
		merged[fmt.Sprintf("%s%d", fingerprint.ParamHistory, i)] = fmt.Sprintf("[%s]\n%s", msg.Role, msg.Content)
	}

	key, responses, ok, err := c.lookup(ctx, modelID, message, merged)
	if err != nil {
		return nil, err
	}
	if ok {
		return responses, nil
	}

	responses, err = c.model.Respond(ctx, message, history, params)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(ctx, modelID, message, key, responses...); err != nil {
		return nil, err
	}
	c.logger.Debug("cached chat response", zap.String("model_id", modelID), zap.Int("responses", len(responses)))
	return responses, nil
}

// ClearCache removes this model's entries created or last accessed before
// the given times and returns how many were deleted. Zero times are
// ignored; both zero clears every entry for the model.
func (c *CachedChat) ClearCache(ctx context.Context, createdBefore, accessedBefore time.Time) (int64, error) {
	return c.clear(ctx, c.model.ModelID(), createdBefore, accessedBefore)
}

// CachedCompletion is the CompletionModel counterpart of CachedChat.
type CachedCompletion struct {
	model CompletionModel
	cachedModel
}

// NewCachedCompletion wraps model with cache.
func NewCachedCompletion(model CompletionModel, cache Cache, opts ...CacheOption) *CachedCompletion {
	return &CachedCompletion{
		model:       model,
		cachedModel: cachedModel{cache: cache, cacheOptions: newCacheOptions(opts)},
	}
}

func (c *CachedCompletion) ModelID() string            { return c.model.ModelID() }
func (c *CachedCompletion) ModelParams() models.Params { return c.model.ModelParams() }
func (c *CachedCompletion) Close() error               { return Close(c.model) }

func (c *CachedCompletion) Complete(ctx context.Context, prompt string, params models.Params) (string, error) {
	modelID := c.model.ModelID()
	merged := mergeParams(c.model.ModelParams(), params)
	merged[fingerprint.ParamType] = fingerprint.TypeCompletion

	key, responses, ok, err := c.lookup(ctx, modelID, prompt, merged)
	if err != nil {
		return "", err
	}
	if ok && len(responses) > 0 {
		return responses[0], nil
	}

	completion, err := c.model.Complete(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	if err := c.cache.Put(ctx, modelID, prompt, key, completion); err != nil {
		return "", err
	}
	return completion, nil
}

// ClearCache behaves like CachedChat.ClearCache.
func (c *CachedCompletion) ClearCache(ctx context.Context, createdBefore, accessedBefore time.Time) (int64, error) {
	return c.clear(ctx, c.model.ModelID(), createdBefore, accessedBefore)
}
