package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

// fallbackChat tries each model in order until one answers.
type fallbackChat struct {
	models []llm.ChatModel
	logger *zap.Logger
}

func newFallbackChat(logger *zap.Logger, chain ...llm.ChatModel) (*fallbackChat, error) {
	if len(chain) == 0 {
		return nil, errors.New("no usable route")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fallbackChat{models: chain, logger: logger}, nil
}

func (f *fallbackChat) ModelID() string            { return f.models[0].ModelID() }
func (f *fallbackChat) ModelParams() models.Params { return f.models[0].ModelParams() }
func (f *fallbackChat) SystemPrompt() string       { return f.models[0].SystemPrompt() }

func (f *fallbackChat) WithSystemPrompt(prompt string) llm.ChatModel {
	chain := make([]llm.ChatModel, len(f.models))
	for i, m := range f.models {
		chain[i] = m.WithSystemPrompt(prompt)
	}
	return &fallbackChat{models: chain, logger: f.logger}
}

func (f *fallbackChat) Close() error {
	var errs []error
	for _, m := range f.models {
		errs = append(errs, llm.Close(m))
	}
	return errors.Join(errs...)
}

func (f *fallbackChat) Respond(ctx context.Context, message string, history *llm.History, params models.Params) ([]string, error) {
	var lastErr error
	for i, m := range f.models {
		out, err := m.Respond(ctx, message, history, params)
		if err == nil {
			return out, nil
		}
		if !shouldFallback(ctx, err) {
			return nil, err
		}
		lastErr = err
		if i < len(f.models)-1 {
			f.logger.Warn("model failed, trying next route",
				zap.String("model_id", m.ModelID()),
				zap.String("next", f.models[i+1].ModelID()),
				zap.Error(err),
			)
		}
	}
	return nil, fmt.Errorf("all routes failed: %w", lastErr)
}

// shouldFallback reports whether the next route is worth trying after err.
func shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
