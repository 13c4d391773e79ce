package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/artkit-ai/artkit/pkg/models"
)

// ErrHistoryManaged is returned when a history is passed to a model that
// keeps its own.
var ErrHistoryManaged = errors.New("cannot provide a history to a historized chat model")

// HistorizedChat keeps the conversation so far and sends it with every
// message.
type HistorizedChat struct {
	model   ChatModel
	mu      *sync.Mutex
	history *History
}

// NewHistorizedChat wraps model. maxHistory bounds the kept messages; zero
// means unbounded.
func NewHistorizedChat(model ChatModel, maxHistory int) (*HistorizedChat, error) {
	h := NewHistory()
	if maxHistory != 0 {
		var err error
		if h, err = NewBoundedHistory(maxHistory); err != nil {
			return nil, err
		}
	}
	return &HistorizedChat{model: model, mu: &sync.Mutex{}, history: h}, nil
}

func (c *HistorizedChat) ModelID() string            { return c.model.ModelID() }
func (c *HistorizedChat) ModelParams() models.Params { return c.model.ModelParams() }
func (c *HistorizedChat) SystemPrompt() string       { return c.model.SystemPrompt() }
func (c *HistorizedChat) Close() error               { return Close(c.model) }

// History returns the managed history.
func (c *HistorizedChat) History() *History { return c.history }

// WithSystemPrompt returns a model sharing this conversation's history.
func (c *HistorizedChat) WithSystemPrompt(prompt string) ChatModel {
	return &HistorizedChat{model: c.model.WithSystemPrompt(prompt), mu: c.mu, history: c.history}
}

// Respond sends message with the managed history, then records the message
// and the first response.
func (c *HistorizedChat) Respond(ctx context.Context, message string, history *History, params models.Params) ([]string, error) {
	if history != nil {
		return nil, ErrHistoryManaged
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	responses, err := c.model.Respond(ctx, message, c.history, params)
	if err != nil {
		return nil, err
	}
	c.history.Add(models.ChatMessage{Role: models.RoleUser, Content: message})
	if len(responses) > 0 {
		c.history.Add(models.ChatMessage{Role: models.RoleAssistant, Content: responses[0]})
	}
	return responses, nil
}
