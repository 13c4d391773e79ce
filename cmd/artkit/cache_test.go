package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artkit-ai/artkit/pkg/models"
)

func TestParseBound(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"24h", time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)},
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02T03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseBound(tt.in, now)
		require.NoError(t, err, tt.in)
		if !got.Equal(tt.want) {
			t.Errorf("parseBound(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}

	_, err := parseBound("yesterday", now)
	assert.Error(t, err)
}

func TestFormatCacheStats(t *testing.T) {
	assert.Equal(t, "Cache is empty.\n", formatCacheStats(nil))

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out := formatCacheStats([]models.CacheStats{
		{ModelID: "gpt-4o", Entries: 3, EarliestCreated: ts, LatestCreated: ts, EarliestAccessed: ts, LatestAccessed: ts},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "MODEL"))
	assert.Contains(t, lines[1], "gpt-4o")
	assert.Contains(t, lines[1], "2024-01-02T03:04:05Z")
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"temperature=0.7", "n=3", "stream=false", "stop=END", "top_p="})
	require.NoError(t, err)
	assert.Equal(t, models.Params{
		"temperature": 0.7,
		"n":           3,
		"stream":      false,
		"stop":        "END",
		"top_p":       nil,
	}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"=1"})
	assert.Error(t, err)
}
