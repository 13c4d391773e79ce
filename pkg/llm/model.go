// Package llm defines the chat and completion model capabilities and the
// wrappers that add caching, retries, and history on top of any of them.
package llm

import (
	"context"
	"errors"
	"io"

	"github.com/artkit-ai/artkit/pkg/models"
)

// ErrNoResponse is returned when a model, or a cache entry, holds no
// responses where at least one is needed.
var ErrNoResponse = errors.New("model returned no response")

// ChatModel produces responses to a user message, optionally in the
// context of a system prompt and earlier messages.
type ChatModel interface {
	ModelID() string
	// ModelParams returns the default parameters sent with every request.
	ModelParams() models.Params
	SystemPrompt() string
	// WithSystemPrompt returns a copy of the model using prompt.
	WithSystemPrompt(prompt string) ChatModel
	// Respond returns one or more alternative responses to message.
	// history may be nil. params override the model's defaults for this
	// call only.
	Respond(ctx context.Context, message string, history *History, params models.Params) ([]string, error)
}

// CompletionModel continues a prompt.
type CompletionModel interface {
	ModelID() string
	ModelParams() models.Params
	Complete(ctx context.Context, prompt string, params models.Params) (string, error)
}

// Messages assembles the request messages for a chat call: the system
// prompt if set, then the history, then the user message.
func Messages(systemPrompt string, history *History, message string) []models.ChatMessage {
	var msgs []models.ChatMessage
	if systemPrompt != "" {
		msgs = append(msgs, models.ChatMessage{Role: models.RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, history.Messages(0)...)
	return append(msgs, models.ChatMessage{Role: models.RoleUser, Content: message})
}

// Close releases the client reference held by m, if it holds one. The
// wrappers in this package forward Close to the model they wrap, so a copy
// made with WithSystemPrompt can be released on its own.
func Close(m any) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
