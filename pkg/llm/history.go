package llm

import (
	"fmt"
	"sync"

	"github.com/artkit-ai/artkit/pkg/models"
)

// History is an ordered list of chat messages. A bounded history drops its
// oldest message when full. A nil *History is empty.
type History struct {
	mu       sync.RWMutex
	messages []models.ChatMessage
	maxLen   int
}

// NewHistory returns an unbounded history holding msgs.
func NewHistory(msgs ...models.ChatMessage) *History {
	return &History{messages: append([]models.ChatMessage(nil), msgs...)}
}

// NewBoundedHistory returns a history that keeps at most maxLen messages.
func NewBoundedHistory(maxLen int, msgs ...models.ChatMessage) (*History, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("history max length must be positive, got %d", maxLen)
	}
	h := &History{maxLen: maxLen}
	for _, m := range msgs {
		h.Add(m)
	}
	return h, nil
}

// Add appends msg, evicting the oldest message if the history is full.
func (h *History) Add(msg models.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	if h.maxLen > 0 && len(h.messages) > h.maxLen {
		h.messages = append(h.messages[:0:0], h.messages[len(h.messages)-h.maxLen:]...)
	}
}

// Messages returns a copy of the last n messages, or all of them when n is
// not positive or exceeds the length.
func (h *History) Messages(n int) []models.ChatMessage {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	start := 0
	if n > 0 && n < len(h.messages) {
		start = len(h.messages) - n
	}
	return append([]models.ChatMessage(nil), h.messages[start:]...)
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// MaxLen returns the bound, or 0 if the history is unbounded.
func (h *History) MaxLen() int {
	if h == nil {
		return 0
	}
	return h.maxLen
}
