package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go/v2"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/models"
)

var completionParams = []string{
	"temperature", "top_p", "presence_penalty", "frequency_penalty",
	"max_tokens", "seed", "stop",
}

// Completion is a CompletionModel backed by the legacy completions API.
type Completion struct {
	*session
}

// NewCompletion returns a completion connector.
func NewCompletion(cfg Config) (*Completion, error) {
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Completion{session: s}, nil
}

// Complete returns the text of the first choice.
func (c *Completion) Complete(ctx context.Context, prompt string, params models.Params) (string, error) {
	req, err := completionRequest(c.ModelID(), prompt, c.MergeParams(params))
	if err != nil {
		return "", fmt.Errorf("%s completion %s: %w", c.provider, c.ModelID(), err)
	}
	return connector.Do(ctx, c.Base, func(ctx context.Context) (string, error) {
		resp, err := c.client.Completions.New(ctx, req)
		if err != nil {
			return "", c.translateError(err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrNoChoices
		}
		return resp.Choices[0].Text, nil
	})
}

func completionRequest(model, prompt string, params models.Params) (sdk.CompletionNewParams, error) {
	req := sdk.CompletionNewParams{
		Model:  sdk.CompletionNewParamsModel(model),
		Prompt: sdk.CompletionNewParamsPromptUnion{OfString: sdk.String(prompt)},
	}
	if err := connector.Unsupported(params, completionParams...); err != nil {
		return req, err
	}
	err := errors.Join(
		setFloat(params, "temperature", &req.Temperature),
		setFloat(params, "top_p", &req.TopP),
		setFloat(params, "presence_penalty", &req.PresencePenalty),
		setFloat(params, "frequency_penalty", &req.FrequencyPenalty),
		setInt(params, "max_tokens", &req.MaxTokens),
		setInt(params, "seed", &req.Seed),
	)
	if err != nil {
		return req, err
	}
	stop, ok, err := connector.Strings(params, "stop")
	if err != nil {
		return req, err
	}
	if ok {
		req.Stop = sdk.CompletionNewParamsStopUnion{OfStringArray: stop}
	}
	return req, nil
}
