package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
	"github.com/artkit-ai/artkit/pkg/retry"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testConfig(t *testing.T, url, model string, policy retry.Policy, params models.Params) Config {
	t.Helper()
	t.Setenv(testKeyEnv, "sk-test")
	return Config{
		Config: connector.Config{
			ModelID:   model,
			APIKeyEnv: testKeyEnv,
			Params:    params,
			Retry:     policy,
		},
		BaseURL: url,
		Clients: connector.NewRegistry[sdk.Client](),
	}
}

func TestDiffusionTextToImage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"created": 1700000000,
			"data": []map[string]any{
				{"b64_json": base64.StdEncoding.EncodeToString(pngHeader)},
				{"url": "https://example.com/skipped.png"},
			},
		})
	}))
	defer srv.Close()

	d, err := NewDiffusion(testConfig(t, srv.URL, "dall-e-3", retry.Policy{MaxAttempts: 1}, models.Params{"size": "1024x1024"}))
	require.NoError(t, err)
	defer d.Close()

	images, err := d.TextToImage(context.Background(), "a lighthouse at dusk", models.Params{"n": 1, "quality": "hd"})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, pngHeader, images[0].Data)
	assert.Equal(t, "image/png", images[0].MIMEType())

	assert.Equal(t, "dall-e-3", got["model"])
	assert.Equal(t, "a lighthouse at dusk", got["prompt"])
	assert.Equal(t, "b64_json", got["response_format"])
	assert.Equal(t, "1024x1024", got["size"])
	assert.Equal(t, "hd", got["quality"])
	assert.Equal(t, 1.0, got["n"])
}

func TestDiffusionNoImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"created": 1700000000, "data": []any{}})
	}))
	defer srv.Close()

	d, err := NewDiffusion(testConfig(t, srv.URL, "dall-e-2", retry.Policy{MaxAttempts: 1}, nil))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.TextToImage(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestDiffusionRateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]any{"message": "slow down"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"created": 1700000000,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString([]byte("img"))}},
		})
	}))
	defer srv.Close()

	d, err := NewDiffusion(testConfig(t, srv.URL, "dall-e-2", retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, ExponentialBase: 1}, nil))
	require.NoError(t, err)
	defer d.Close()

	images, err := d.TextToImage(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), images[0].Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDiffusionRejectsUnknownParam(t *testing.T) {
	d, err := NewDiffusion(testConfig(t, "http://127.0.0.1:0", "dall-e-2", retry.Policy{MaxAttempts: 1}, nil))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.TextToImage(context.Background(), "x", models.Params{"temperature": 0.1})
	var pe *connector.ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "temperature", pe.Name)
}

func TestVisionImageToText(t *testing.T) {
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, chatResponse("a small png"))
	}))
	defer srv.Close()

	v, err := NewVision(testConfig(t, srv.URL, "gpt-4o", retry.Policy{MaxAttempts: 1}, models.Params{"max_tokens": 100}))
	require.NoError(t, err)
	defer v.Close()

	out, err := v.ImageToText(context.Background(), llm.Image{Data: pngHeader}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a small png"}, out)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0]["role"])
	parts, ok := got.Messages[0]["content"].([]any)
	require.True(t, ok, "content should be a list of parts")
	require.Len(t, parts, 2)

	text := parts[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.Equal(t, DefaultVisionPrompt, text["text"])

	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	url := image["image_url"].(map[string]any)["url"]
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngHeader), url)
}
