package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/artkit-ai/artkit/pkg/cache/sqlite"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

type tool struct {
	Tool
	handle func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

var cacheTools = []tool{
	{
		Tool: Tool{
			Name:        "artkit_cache_stats",
			Description: "Show the number of cached responses per model with their earliest and latest creation and access times.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		handle: handleCacheStats,
	},
	{
		Tool: Tool{
			Name: "artkit_cache_clear",
			Description: "Delete cached responses matching every given filter. Times are ISO-8601 UTC timestamps. " +
				"Pass all=true to clear without filters.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"model_id":        stringProp("Only clear entries for this model (optional)"),
					"created_before":  stringProp("Only clear entries created before this time (optional)"),
					"created_after":   stringProp("Only clear entries created after this time (optional)"),
					"accessed_before": stringProp("Only clear entries last accessed before this time (optional)"),
					"accessed_after":  stringProp("Only clear entries last accessed after this time (optional)"),
					"all":             map[string]any{"type": "boolean", "description": "Allow clearing every entry"},
				},
			},
		},
		handle: handleCacheClear,
	},
}

var chatTool = tool{
	Tool: Tool{
		Name:        "artkit_chat",
		Description: "Send a message to the configured model. Repeated messages are answered from the cache.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"message"},
			"properties": map[string]any{
				"message": stringProp("The user message"),
				"system":  stringProp("System prompt (optional)"),
			},
		},
	},
	handle: handleChat,
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatStats(stats))
}

type clearArgs struct {
	ModelID        string `json:"model_id"`
	CreatedBefore  string `json:"created_before"`
	CreatedAfter   string `json:"created_after"`
	AccessedBefore string `json:"accessed_before"`
	AccessedAfter  string `json:"accessed_after"`
	All            bool   `json:"all"`
}

func (a clearArgs) filter() (sqlite.ClearFilter, error) {
	f := sqlite.ClearFilter{ModelID: a.ModelID}
	bounds := []struct {
		name  string
		value string
		dst   *time.Time
	}{
		{"created_before", a.CreatedBefore, &f.CreatedBefore},
		{"created_after", a.CreatedAfter, &f.CreatedAfter},
		{"accessed_before", a.AccessedBefore, &f.AccessedBefore},
		{"accessed_after", a.AccessedAfter, &f.AccessedAfter},
	}
	for _, b := range bounds {
		if b.value == "" {
			continue
		}
		t, err := sqlite.ParseTimestamp(b.value)
		if err != nil {
			return f, fmt.Errorf("invalid %s: %w", b.name, err)
		}
		*b.dst = t
	}
	return f, nil
}

func handleCacheClear(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	var args clearArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	f, err := args.filter()
	if err != nil {
		return errorResult(err.Error())
	}
	if f == (sqlite.ClearFilter{}) && !args.All {
		return errorResult("Refusing to clear the whole cache without all=true.")
	}

	deleted, err := s.cache.Clear(ctx, f)
	if err != nil {
		return errorResult("Error clearing cache: " + err.Error())
	}
	return textResult(fmt.Sprintf("Deleted %d cache entries.", deleted))
}

type chatArgs struct {
	Message string `json:"message"`
	System  string `json:"system"`
}

func handleChat(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args chatArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if args.Message == "" {
		return errorResult("message is required")
	}
	model := s.chat
	if args.System != "" {
		model = model.WithSystemPrompt(args.System)
		defer func() { _ = llm.Close(model) }()
	}
	responses, err := model.Respond(ctx, args.Message, nil, nil)
	if err != nil {
		return errorResult("Error from model: " + err.Error())
	}
	return textResult(strings.Join(responses, "\n\n"))
}

func formatStats(stats []models.CacheStats) string {
	if len(stats) == 0 {
		return "Cache is empty."
	}
	const layout = "2006-01-02 15:04:05"
	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %8s %-20s %-20s %-20s\n", "Model", "Entries", "First Created", "Last Created", "Last Accessed")
	b.WriteString(strings.Repeat("-", 102) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-30s %8d %-20s %-20s %-20s\n",
			s.ModelID, s.Entries,
			s.EarliestCreated.UTC().Format(layout),
			s.LatestCreated.UTC().Format(layout),
			s.LatestAccessed.UTC().Format(layout))
	}
	return b.String()
}
