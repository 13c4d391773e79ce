package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artkit-ai/artkit/pkg/fingerprint"
	"github.com/artkit-ai/artkit/pkg/models"
)

func TestCachedDiffusionRoundTripsImageBytes(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	model := &fakeDiffusion{id: "dall-e-3", params: models.Params{"size": "1024x1024"}, rec: &recorder{}}
	cached := NewCachedDiffusion(model, store)

	first, err := cached.TextToImage(ctx, "a red fox", nil)
	require.NoError(t, err)
	second, err := cached.TextToImage(ctx, "a red fox", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 2)
	assert.Equal(t, []byte{0xff, 0x00, 0xfe}, second[1].Data)
	assert.Equal(t, "image/png", second[0].MIMEType())
	assert.Equal(t, 1, model.rec.count())

	_, err = cached.TextToImage(ctx, "a red fox", models.Params{"size": "512x512"})
	require.NoError(t, err)
	assert.Equal(t, 2, model.rec.count())
}

func TestCachedDiffusionTypeIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)

	_, err := NewCachedDiffusion(&fakeDiffusion{id: "m", rec: &recorder{}}, store).TextToImage(ctx, "p", nil)
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, "m", "p", models.Params{fingerprint.ParamType: fingerprint.TypeDiffusion})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got, 2)

	_, ok, err = store.Get(ctx, "m", "p", models.Params{fingerprint.ParamType: fingerprint.TypeChat})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedDiffusionCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	require.NoError(t, store.Put(ctx, "m", "p", models.Params{fingerprint.ParamType: fingerprint.TypeDiffusion}, "not base64!"))

	_, err := NewCachedDiffusion(&fakeDiffusion{id: "m", rec: &recorder{}}, store).TextToImage(ctx, "p", nil)
	assert.Error(t, err)
}

func TestCachedVisionKeysOnImageDigest(t *testing.T) {
	ctx := context.Background()
	store := newTestCache(t)
	model := &fakeVision{id: "gpt-4o", rec: &recorder{}}
	cached := NewCachedVision(model, store)

	cat := Image{Data: []byte("cat pixels")}
	dog := Image{Data: []byte("dog pixels")}

	for _, img := range []Image{cat, cat, dog} {
		_, err := cached.ImageToText(ctx, img, "", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, model.rec.count())

	got, err := cached.ImageToText(ctx, cat, "count the legs", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{`10 bytes, asked "count the legs"`}, got)
	assert.Equal(t, 3, model.rec.count())

	prompt, err := visionCachePrompt("count the legs", cat)
	require.NoError(t, err)
	assert.Regexp(t, `^\("count the legs", "[0-9a-f]{64}"\)$`, prompt)
	assert.NotContains(t, prompt, "cat pixels")

	n, err := cached.ClearCache(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
