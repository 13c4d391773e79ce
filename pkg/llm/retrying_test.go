package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artkit-ai/artkit/pkg/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, ExponentialBase: 1}

func TestRetryingChat(t *testing.T) {
	model := newFakeChat("m", func(c chatCall) ([]string, error) {
		return nil, &retry.RateLimitError{Provider: "fake"}
	})
	chat := NewRetryingChat(model, fastRetry, nil)

	_, err := chat.Respond(context.Background(), "q", nil, nil)
	assert.ErrorIs(t, err, retry.ErrRateLimited)
	assert.Equal(t, 3, model.rec.count())
}

func TestRetryingChatRecovers(t *testing.T) {
	calls := 0
	model := newFakeChat("m", func(c chatCall) ([]string, error) {
		calls++
		if calls < 2 {
			return nil, &retry.RateLimitError{}
		}
		return []string{"ok"}, nil
	})
	chat := NewRetryingChat(model, fastRetry, nil).WithSystemPrompt("sys")

	got, err := chat.Respond(context.Background(), "q", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, got)
	assert.Equal(t, "sys", model.rec.last().system)
}

func TestRetryingCompletion(t *testing.T) {
	boom := errors.New("bad request")
	model := &fakeCompletion{id: "m", rec: &recorder{}, reply: func(string) (string, error) { return "", boom }}
	completion := NewRetryingCompletion(model, fastRetry, nil)

	_, err := completion.Complete(context.Background(), "p", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, model.rec.count())
	assert.Equal(t, "m", completion.ModelID())
}
