package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artkit-ai/artkit/pkg/cache/sqlite"
	"github.com/artkit-ai/artkit/pkg/fingerprint"
	"github.com/artkit-ai/artkit/pkg/metrics"
	"github.com/artkit-ai/artkit/pkg/models"
)

func newTestCache(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(sqlite.InMemory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func metricsText(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, c.WriteText(&b))
	return b.String()
}

func TestCachedChatHitAndMiss(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	collector := metrics.NewCollector("test")
	model := newFakeChat("gpt-test", nil)
	model.params = models.Params{"temperature": 0.5}
	cached := NewCachedChat(model, store, WithMetrics(collector))

	first, err := cached.Respond(ctx, "hello", nil, nil)
	require.NoError(t, err)
	second, err := cached.Respond(ctx, "hello", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"echo: hello"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, model.rec.count())

	// explicitly passing the default value hits the same entry
	_, err = cached.Respond(ctx, "hello", nil, models.Params{"temperature": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, model.rec.count())

	// a different value does not
	_, err = cached.Respond(ctx, "hello", nil, models.Params{"temperature": 0.9})
	require.NoError(t, err)
	assert.Equal(t, 2, model.rec.count())
	assert.Equal(t, models.Params{"temperature": 0.9}, model.rec.last().params)

	text := metricsText(t, collector)
	assert.Contains(t, text, `test_cache_hits_total{model_id="gpt-test"} 2`)
	assert.Contains(t, text, `test_cache_misses_total{model_id="gpt-test"} 2`)
}

func TestCachedChatMultipleResponses(t *testing.T) {
	ctx := context.Background()
	model := newFakeChat("m", func(c chatCall) ([]string, error) {
		return []string{"a", "b", "c"}, nil
	})
	cached := NewCachedChat(model, newTestCache(t))

	for i := 0; i < 2; i++ {
		got, err := cached.Respond(ctx, "q", nil, models.Params{"n": 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, got)
	}
	assert.Equal(t, 1, model.rec.count())
}

func TestCachedChatSystemPromptIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	model := newFakeChat("m", nil)
	cached := NewCachedChat(model, newTestCache(t))
	pirate := cached.WithSystemPrompt("talk like a pirate")

	_, err := cached.Respond(ctx, "hello", nil, nil)
	require.NoError(t, err)
	_, err = pirate.Respond(ctx, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, model.rec.count())
	assert.Equal(t, "talk like a pirate", model.rec.last().system)
	assert.Equal(t, "talk like a pirate", pirate.SystemPrompt())

	_, err = cached.WithSystemPrompt("talk like a pirate").Respond(ctx, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, model.rec.count())
}

func TestCachedChatHistoryIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	model := newFakeChat("m", nil)
	cached := NewCachedChat(model, newTestCache(t))

	h1 := NewHistory(msg(models.RoleUser, "hi"), msg(models.RoleAssistant, "hello"))
	h2 := NewHistory(msg(models.RoleUser, "hi"), msg(models.RoleAssistant, "go away"))
	h3 := NewHistory(msg(models.RoleAssistant, "hi"), msg(models.RoleAssistant, "hello"))

	for _, h := range []*History{nil, h1, h2, h3, h1} {
		_, err := cached.Respond(ctx, "how are you?", h, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, model.rec.count())
	assert.Len(t, model.rec.last().history, 2)
}

func TestCachedChatAndCompletionDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	chat := NewCachedChat(newFakeChat("shared-id", nil), store)
	completion := NewCachedCompletion(&fakeCompletion{id: "shared-id", rec: &recorder{}}, store)

	got, err := chat.Respond(ctx, "same prompt", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo: same prompt"}, got)

	text, err := completion.Complete(ctx, "same prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "completion of same prompt", text)

	counts, err := store.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"shared-id": 2}, counts)
}

func TestCachedChatNormalizesContainerParams(t *testing.T) {
	ctx := context.Background()
	model := newFakeChat("m", nil)
	cached := NewCachedChat(model, newTestCache(t))

	_, err := cached.Respond(ctx, "q", nil, models.Params{
		"stop":       fingerprint.NewSet("END", "\n"),
		"logit_bias": map[string]int{"50256": -100, "198": 5},
	})
	require.NoError(t, err)
	_, err = cached.Respond(ctx, "q", nil, models.Params{
		"logit_bias": map[string]int{"198": 5, "50256": -100},
		"stop":       fingerprint.NewSet("\n", "END"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, model.rec.count())
}

func TestCachedChatRejectsInvalidParams(t *testing.T) {
	model := newFakeChat("m", nil)
	store := newTestCache(t)
	cached := NewCachedChat(model, store)

	_, err := cached.Respond(context.Background(), "q", nil, models.Params{"callback": func() {}})
	var perr *fingerprint.ParamTypeError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "callback", perr.Name)
	assert.Zero(t, model.rec.count())

	counts, err := store.CountEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestCachedChatDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	fail := true
	model := newFakeChat("m", func(c chatCall) ([]string, error) {
		if fail {
			return nil, errors.New("upstream down")
		}
		return []string{"ok"}, nil
	})
	cached := NewCachedChat(model, newTestCache(t))

	_, err := cached.Respond(ctx, "q", nil, nil)
	require.Error(t, err)

	fail = false
	got, err := cached.Respond(ctx, "q", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, got)
	assert.Equal(t, 2, model.rec.count())
}

func TestCachedChatClearCache(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	a := NewCachedChat(newFakeChat("model-a", nil), store)
	b := NewCachedChat(newFakeChat("model-b", nil), store)

	for _, m := range []*CachedChat{a, b} {
		_, err := m.Respond(ctx, "q", nil, nil)
		require.NoError(t, err)
	}

	// bounds in the past leave everything
	n, err := a.ClearCache(ctx, time.Now().Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	counts, err := store.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"model-a": 1, "model-b": 1}, counts)

	n, err = a.ClearCache(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	counts, err = store.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"model-b": 1}, counts)
}

func TestCachedCompletion(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	model := &fakeCompletion{id: "davinci", params: models.Params{"max_tokens": 16}, rec: &recorder{}}
	cached := NewCachedCompletion(model, store)

	for i := 0; i < 3; i++ {
		got, err := cached.Complete(ctx, "once upon a time", nil)
		require.NoError(t, err)
		assert.Equal(t, "completion of once upon a time", got)
	}
	assert.Equal(t, 1, model.rec.count())
	assert.Equal(t, "davinci", cached.ModelID())
	assert.Equal(t, models.Params{"max_tokens": 16}, cached.ModelParams())

	_, err := cached.ClearCache(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	_, err = cached.Complete(ctx, "once upon a time", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, model.rec.count())
}
