package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

var chatParams = []string{
	"temperature", "top_p", "presence_penalty", "frequency_penalty",
	"max_tokens", "max_completion_tokens", "n", "seed", "stop",
}

// Chat is a ChatModel backed by the chat completions API.
type Chat struct {
	*session
	systemPrompt string
}

// NewChat returns a chat connector. The API key must be set in the
// configured environment variable.
func NewChat(cfg Config) (*Chat, error) {
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Chat{session: s}, nil
}

func (c *Chat) SystemPrompt() string { return c.systemPrompt }

// WithSystemPrompt returns a copy of c that shares its client.
func (c *Chat) WithSystemPrompt(prompt string) llm.ChatModel {
	return &Chat{session: c.clone(), systemPrompt: prompt}
}

// Respond sends the conversation and returns the content of every choice.
func (c *Chat) Respond(ctx context.Context, message string, history *llm.History, params models.Params) ([]string, error) {
	req, err := chatRequest(c.ModelID(), llm.Messages(c.systemPrompt, history, message), c.MergeParams(params))
	if err != nil {
		return nil, fmt.Errorf("%s chat %s: %w", c.provider, c.ModelID(), err)
	}
	return c.createChat(ctx, req)
}

// createChat sends req and returns the content of every choice.
func (s *session) createChat(ctx context.Context, req sdk.ChatCompletionNewParams) ([]string, error) {
	return connector.Do(ctx, s.Base, func(ctx context.Context) ([]string, error) {
		resp, err := s.client.Chat.Completions.New(ctx, req)
		if err != nil {
			return nil, s.translateError(err)
		}
		if len(resp.Choices) == 0 {
			return nil, ErrNoChoices
		}
		out := make([]string, 0, len(resp.Choices))
		for _, choice := range resp.Choices {
			out = append(out, choice.Message.Content)
		}
		return out, nil
	})
}

func chatRequest(model string, msgs []models.ChatMessage, params models.Params) (sdk.ChatCompletionNewParams, error) {
	req := sdk.ChatCompletionNewParams{Model: shared.ChatModel(model)}
	if err := connector.Unsupported(params, chatParams...); err != nil {
		return req, err
	}
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			req.Messages = append(req.Messages, sdk.SystemMessage(m.Content))
		case models.RoleUser:
			req.Messages = append(req.Messages, sdk.UserMessage(m.Content))
		case models.RoleAssistant:
			req.Messages = append(req.Messages, sdk.AssistantMessage(m.Content))
		default:
			return req, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	err := errors.Join(
		setFloat(params, "temperature", &req.Temperature),
		setFloat(params, "top_p", &req.TopP),
		setFloat(params, "presence_penalty", &req.PresencePenalty),
		setFloat(params, "frequency_penalty", &req.FrequencyPenalty),
		setInt(params, "max_tokens", &req.MaxTokens),
		setInt(params, "max_completion_tokens", &req.MaxCompletionTokens),
		setInt(params, "n", &req.N),
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
		req.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: stop}
	}
	return req, nil
}
