package openai

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go/v2"

	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

// DefaultVisionPrompt is asked when ImageToText gets no prompt.
const DefaultVisionPrompt = "What's in this image?"

// Vision is a VisionModel that sends the image inline to the chat
// completions API.
type Vision struct {
	*session
}

// NewVision returns an image description connector.
func NewVision(cfg Config) (*Vision, error) {
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Vision{session: s}, nil
}

// ImageToText returns the content of every choice.
func (v *Vision) ImageToText(ctx context.Context, image llm.Image, prompt string, params models.Params) ([]string, error) {
	if prompt == "" {
		prompt = DefaultVisionPrompt
	}
	req, err := chatRequest(v.ModelID(), nil, v.MergeParams(params))
	if err != nil {
		return nil, fmt.Errorf("%s vision %s: %w", v.provider, v.ModelID(), err)
	}
	req.Messages = append(req.Messages, sdk.UserMessage([]sdk.ChatCompletionContentPartUnionParam{
		sdk.TextContentPart(prompt),
		sdk.ImageContentPart(sdk.ChatCompletionContentPartImageImageURLParam{URL: image.DataURL()}),
	}))
	return v.createChat(ctx, req)
}
