package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/models"
	"github.com/artkit-ai/artkit/pkg/retry"
)

func TestCompletionComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "cmpl-1",
			"object":  "text_completion",
			"created": 1700000000,
			"model":   "gpt-3.5-turbo-instruct",
			"choices": []map[string]any{
				{"index": 0, "text": " world", "finish_reason": "stop", "logprobs": nil},
			},
		})
	}))
	defer srv.Close()

	t.Setenv(testKeyEnv, "sk-test")
	c, err := NewCompletion(Config{
		Config: connector.Config{
			ModelID:   "gpt-3.5-turbo-instruct",
			APIKeyEnv: testKeyEnv,
			Params:    models.Params{"max_tokens": 5},
			Retry:     retry.Policy{MaxAttempts: 1},
		},
		BaseURL: srv.URL,
		Clients: connector.NewRegistry[sdk.Client](),
	})
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Complete(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, " world", out)
	assert.Equal(t, "hello", got["prompt"])
	assert.Equal(t, float64(5), got["max_tokens"])
}

func TestCompletionRejectsChatOnlyParam(t *testing.T) {
	t.Setenv(testKeyEnv, "sk-test")
	c, err := NewCompletion(Config{
		Config:  connector.Config{ModelID: "m", APIKeyEnv: testKeyEnv, Retry: retry.Policy{MaxAttempts: 1}},
		Clients: connector.NewRegistry[sdk.Client](),
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Complete(context.Background(), "p", models.Params{"n": 2})
	assert.Error(t, err)
}
