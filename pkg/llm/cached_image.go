package llm

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/fingerprint"
	"github.com/artkit-ai/artkit/pkg/models"
)

// CachedDiffusion stores generated images as base64 responses so repeated
// prompts are answered without a new generation.
type CachedDiffusion struct {
	model DiffusionModel
	cachedModel
}

// NewCachedDiffusion wraps model with cache.
func NewCachedDiffusion(model DiffusionModel, cache Cache, opts ...CacheOption) *CachedDiffusion {
	return &CachedDiffusion{
		model:       model,
		cachedModel: cachedModel{cache: cache, cacheOptions: newCacheOptions(opts)},
	}
}

func (c *CachedDiffusion) ModelID() string            { return c.model.ModelID() }
func (c *CachedDiffusion) ModelParams() models.Params { return c.model.ModelParams() }
func (c *CachedDiffusion) Close() error               { return Close(c.model) }

func (c *CachedDiffusion) TextToImage(ctx context.Context, text string, params models.Params) ([]Image, error) {
	modelID := c.model.ModelID()
	merged := mergeParams(c.model.ModelParams(), params)
	merged[fingerprint.ParamType] = fingerprint.TypeDiffusion

	key, responses, ok, err := c.lookup(ctx, modelID, text, merged)
	if err != nil {
		return nil, err
	}
	if ok {
		images := make([]Image, 0, len(responses))
		for i, r := range responses {
			data, err := base64.StdEncoding.DecodeString(r)
			if err != nil {
				return nil, fmt.Errorf("cached image %d for %s: %w", i, modelID, err)
			}
			images = append(images, Image{Data: data})
		}
		return images, nil
	}

	images, err := c.model.TextToImage(ctx, text, params)
	if err != nil {
		return nil, err
	}
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = img.Base64()
	}
	if err := c.cache.Put(ctx, modelID, text, key, encoded...); err != nil {
		return nil, err
	}
	c.logger.Debug("cached images", zap.String("model_id", modelID), zap.Int("images", len(images)))
	return images, nil
}

// ClearCache behaves like CachedChat.ClearCache.
func (c *CachedDiffusion) ClearCache(ctx context.Context, createdBefore, accessedBefore time.Time) (int64, error) {
	return c.clear(ctx, c.model.ModelID(), createdBefore, accessedBefore)
}

// CachedVision caches image descriptions. The cache prompt pairs the text
// prompt with a SHA-256 digest of the image, so the image bytes never
// enter the store.
type CachedVision struct {
	model VisionModel
	cachedModel
}

// NewCachedVision wraps model with cache.
func NewCachedVision(model VisionModel, cache Cache, opts ...CacheOption) *CachedVision {
	return &CachedVision{
		model:       model,
		cachedModel: cachedModel{cache: cache, cacheOptions: newCacheOptions(opts)},
	}
}

func (c *CachedVision) ModelID() string            { return c.model.ModelID() }
func (c *CachedVision) ModelParams() models.Params { return c.model.ModelParams() }
func (c *CachedVision) Close() error               { return Close(c.model) }

func (c *CachedVision) ImageToText(ctx context.Context, image Image, prompt string, params models.Params) ([]string, error) {
	modelID := c.model.ModelID()
	merged := mergeParams(c.model.ModelParams(), params)
	merged[fingerprint.ParamType] = fingerprint.TypeVision

	cachePrompt, err := visionCachePrompt(prompt, image)
	if err != nil {
		return nil, err
	}
	key, responses, ok, err := c.lookup(ctx, modelID, cachePrompt, merged)
	if err != nil {
		return nil, err
	}
	if ok {
		return responses, nil
	}

	responses, err = c.model.ImageToText(ctx, image, prompt, params)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(ctx, modelID, cachePrompt, key, responses...); err != nil {
		return nil, err
	}
	return responses, nil
}

// ClearCache behaves like CachedChat.ClearCache.
func (c *CachedVision) ClearCache(ctx context.Context, createdBefore, accessedBefore time.Time) (int64, error) {
	return c.clear(ctx, c.model.ModelID(), createdBefore, accessedBefore)
}

func visionCachePrompt(prompt string, image Image) (string, error) {
	sum := sha256.Sum256(image.Data)
	n, err := fingerprint.Normalize(fingerprint.Tuple{prompt, hex.EncodeToString(sum[:])})
	if err != nil {
		return "", err
	}
	return n.(string), nil
}
