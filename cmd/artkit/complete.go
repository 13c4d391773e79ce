package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/config"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/logging"
	"github.com/artkit-ai/artkit/pkg/metrics"
	"github.com/artkit-ai/artkit/pkg/models"
	"github.com/artkit-ai/artkit/pkg/providers"
	"github.com/artkit-ai/artkit/pkg/router"
)

func newCompleteCmd(configPath *string) *cobra.Command {
	var (
		model       string
		params      []string
		noCache     bool
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "complete <prompt>",
		Short: "Continue a prompt with a completion model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			collector := metrics.NewCollector("artkit")
			text, err := runComplete(cmd.Context(), cfg, model, args[0], p, !noCache, collector)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if showMetrics {
				return collector.WriteText(cmd.ErrOrStderr())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model alias, provider/model, or model id")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "model parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print cache and retry metrics to stderr when done")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

// runComplete sends prompt to the first route whose provider serves
// completions.
func runComplete(ctx context.Context, cfg *config.Config, model, prompt string, params models.Params, useCache bool, collector *metrics.Collector) (string, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return "", err
	}
	defer func() { _ = logger.Sync() }()

	routes, err := router.New(cfg).Resolve(model)
	if err != nil {
		return "", err
	}

	var m llm.CompletionModel
	for _, route := range routes {
		c, err := providers.NewCompletion(route.Provider, route.Model, providers.Options{
			Retry:   cfg.Retry,
			Logger:  logger,
			Metrics: collector,
		})
		if err != nil {
			logger.Warn("skipping route", zap.Stringer("route", route), zap.Error(err))
			continue
		}
		m = c
		break
	}
	if m == nil {
		return "", fmt.Errorf("model %q: no route serves completions", model)
	}
	if c, ok := m.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	if useCache && cfg.Cache.Enabled {
		store, closers, err := openResponseCache(ctx, cfg, logger)
		if err != nil {
			return "", err
		}
		defer func() {
			for _, c := range closers {
				_ = c()
			}
		}()
		m = llm.NewCachedCompletion(m, store, llm.WithMetrics(collector), llm.WithCacheLogger(logger))
	}
	return m.Complete(ctx, prompt, params)
}
