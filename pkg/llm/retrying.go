package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/models"
	"github.com/artkit-ai/artkit/pkg/retry"
)

// RetryingChat retries calls to the wrapped model that fail with a rate
// limit error.
type RetryingChat struct {
	model  ChatModel
	policy retry.Policy
	logger *zap.Logger
}

// NewRetryingChat wraps model with policy.
func NewRetryingChat(model ChatModel, policy retry.Policy, logger *zap.Logger) *RetryingChat {
	return &RetryingChat{model: model, policy: policy, logger: logger}
}

func (c *RetryingChat) ModelID() string            { return c.model.ModelID() }
func (c *RetryingChat) ModelParams() models.Params { return c.model.ModelParams() }
func (c *RetryingChat) SystemPrompt() string       { return c.model.SystemPrompt() }
func (c *RetryingChat) Close() error               { return Close(c.model) }

func (c *RetryingChat) WithSystemPrompt(prompt string) ChatModel {
	return &RetryingChat{model: c.model.WithSystemPrompt(prompt), policy: c.policy, logger: c.logger}
}

func (c *RetryingChat) Respond(ctx context.Context, message string, history *History, params models.Params) ([]string, error) {
	return retry.Do(ctx, c.policy, c.logger, func(ctx context.Context) ([]string, error) {
		return c.model.Respond(ctx, message, history, params)
	})
}

// RetryingCompletion is the CompletionModel counterpart of RetryingChat.
type RetryingCompletion struct {
	model  CompletionModel
	policy retry.Policy
	logger *zap.Logger
}

// NewRetryingCompletion wraps model with policy.
func NewRetryingCompletion(model CompletionModel, policy retry.Policy, logger *zap.Logger) *RetryingCompletion {
	return &RetryingCompletion{model: model, policy: policy, logger: logger}
}

func (c *RetryingCompletion) ModelID() string            { return c.model.ModelID() }
func (c *RetryingCompletion) ModelParams() models.Params { return c.model.ModelParams() }
func (c *RetryingCompletion) Close() error               { return Close(c.model) }

func (c *RetryingCompletion) Complete(ctx context.Context, prompt string, params models.Params) (string, error) {
	return retry.Do(ctx, c.policy, c.logger, func(ctx context.Context) (string, error) {
		return c.model.Complete(ctx, prompt, params)
	})
}
