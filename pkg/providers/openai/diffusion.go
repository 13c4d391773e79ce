package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go/v2"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

var diffusionParams = []string{"n", "size", "quality", "style", "user"}

// ErrNoImages is returned when an image response carries no image data.
var ErrNoImages = errors.New("response has no images")

// Diffusion is a DiffusionModel backed by the images API. Supported
// parameters vary by model; DALL-E 3 for example only produces sizes of
// 1024x1024 and up.
type Diffusion struct {
	*session
}

// NewDiffusion returns an image generation connector.
func NewDiffusion(cfg Config) (*Diffusion, error) {
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Diffusion{session: s}, nil
}

// TextToImage requests base64 encoded images and returns them decoded.
func (d *Diffusion) TextToImage(ctx context.Context, text string, params models.Params) ([]llm.Image, error) {
	req, err := imageRequest(d.ModelID(), text, d.MergeParams(params))
	if err != nil {
		return nil, fmt.Errorf("%s images %s: %w", d.provider, d.ModelID(), err)
	}
	return connector.Do(ctx, d.Base, func(ctx context.Context) ([]llm.Image, error) {
		resp, err := d.client.Images.Generate(ctx, req)
		if err != nil {
			return nil, d.translateError(err)
		}
		var out []llm.Image
		for i, img := range resp.Data {
			if img.B64JSON == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(img.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("decode image %d: %w", i, err)
			}
			out = append(out, llm.Image{Data: data})
		}
		if len(out) == 0 {
			return nil, ErrNoImages
		}
		return out, nil
	})
}

func imageRequest(model, prompt string, params models.Params) (sdk.ImageGenerateParams, error) {
	req := sdk.ImageGenerateParams{
		Model:          sdk.ImageModel(model),
		Prompt:         prompt,
		ResponseFormat: sdk.ImageGenerateParamsResponseFormatB64JSON,
	}
	if err := connector.Unsupported(params, diffusionParams...); err != nil {
		return req, err
	}
	if err := setInt(params, "n", &req.N); err != nil {
		return req, err
	}

	strs := []struct {
		name string
		set  func(string)
	}{
		{"size", func(v string) { req.Size = sdk.ImageGenerateParamsSize(v) }},
		{"quality", func(v string) { req.Quality = sdk.ImageGenerateParamsQuality(v) }},
		{"style", func(v string) { req.Style = sdk.ImageGenerateParamsStyle(v) }},
		{"user", func(v string) { req.User = sdk.String(v) }},
	}
	for _, p := range strs {
		v, ok, err := connector.String(params, p.name)
		if err != nil {
			return req, err
		}
		if ok {
			p.set(v)
		}
	}
	return req, nil
}
