package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/cache/sqlite"
	"github.com/artkit-ai/artkit/pkg/config"
	"github.com/artkit-ai/artkit/pkg/models"
)

const timeColumn = "2006-01-02T15:04:05Z"

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the response cache",
	}
	cmd.AddCommand(newCacheStatsCmd(configPath), newCacheClearCmd(configPath))
	return cmd
}

func newCacheStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts and creation/access times per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatCacheStats(stats))
			return nil
		},
	}
}

func newCacheClearCmd(configPath *string) *cobra.Command {
	var (
		model          string
		createdBefore  string
		createdAfter   string
		accessedBefore string
		accessedAfter  string
		all            bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cache entries",
		Long: "Delete cache entries matching every given filter. Times are ISO-8601 " +
			"timestamps or durations relative to now (e.g. 72h).",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			f := sqlite.ClearFilter{ModelID: model}
			bounds := []struct {
				flag  string
				value string
				dst   *time.Time
			}{
				{"created-before", createdBefore, &f.CreatedBefore},
				{"created-after", createdAfter, &f.CreatedAfter},
				{"accessed-before", accessedBefore, &f.AccessedBefore},
				{"accessed-after", accessedAfter, &f.AccessedAfter},
			}
			for _, b := range bounds {
				t, err := parseBound(b.value, now)
				if err != nil {
					return fmt.Errorf("invalid --%s: %w", b.flag, err)
				}
				*b.dst = t
			}
			if f == (sqlite.ClearFilter{}) && !all {
				return errors.New("refusing to clear the whole cache without --all")
			}

			store, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			deleted, err := store.Clear(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cache entries.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "only clear entries for this model id")
	cmd.Flags().StringVar(&createdBefore, "created-before", "", "only clear entries created before this time")
	cmd.Flags().StringVar(&createdAfter, "created-after", "", "only clear entries created after this time")
	cmd.Flags().StringVar(&accessedBefore, "accessed-before", "", "only clear entries last accessed before this time")
	cmd.Flags().StringVar(&accessedAfter, "accessed-after", "", "only clear entries last accessed after this time")
	cmd.Flags().BoolVar(&all, "all", false, "allow clearing without any filter")
	return cmd
}

func openStore(configPath string) (*sqlite.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.Cache.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return store, nil
}

// openResponseCache opens the configured store and, when a retention rule
// is set, starts a janitor after one immediate sweep. The returned closers
// must run in order.
func openResponseCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sqlite.Store, []func() error, error) {
	store, err := sqlite.New(cfg.Cache.DBPath, sqlite.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	closers := []func() error{store.Close}

	ret := cfg.Cache.Retention
	if ret.MaxAge > 0 || ret.MaxIdle > 0 {
		janitor := sqlite.NewJanitor(store, sqlite.Retention{
			MaxAge:   ret.MaxAge,
			MaxIdle:  ret.MaxIdle,
			Interval: ret.Interval,
		}, logger)
		if _, err := janitor.Sweep(ctx); err != nil {
			logger.Warn("initial cache sweep failed", zap.Error(err))
		}
		closers = append([]func() error{janitor.Close}, closers...)
	}
	return store, closers, nil
}

// parseBound accepts an ISO-8601 timestamp or a duration back from now.
// An empty string is the zero time.
func parseBound(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d).UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return sqlite.ParseTimestamp(s)
}

func formatCacheStats(stats []models.CacheStats) string {
	if len(stats) == 0 {
		return "Cache is empty.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tENTRIES\tFIRST CREATED\tLAST CREATED\tFIRST ACCESSED\tLAST ACCESSED")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			s.ModelID, s.Entries,
			s.EarliestCreated.UTC().Format(timeColumn), s.LatestCreated.UTC().Format(timeColumn),
			s.EarliestAccessed.UTC().Format(timeColumn), s.LatestAccessed.UTC().Format(timeColumn))
	}
	_ = w.Flush()
	return b.String()
}
