package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/config"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/logging"
	"github.com/artkit-ai/artkit/pkg/metrics"
	"github.com/artkit-ai/artkit/pkg/providers"
	"github.com/artkit-ai/artkit/pkg/router"
)

type imageOptions struct {
	model       string
	params      []string
	noCache     bool
	showMetrics bool
}

func (o *imageOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.model, "model", "m", "", "model alias, provider/model, or model id")
	cmd.Flags().StringArrayVarP(&o.params, "param", "p", nil, "model parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&o.noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&o.showMetrics, "metrics", false, "print cache and retry metrics to stderr when done")
	_ = cmd.MarkFlagRequired("model")
}

func newImageCmd(configPath *string) *cobra.Command {
	var (
		opts   imageOptions
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "image <prompt>",
		Short: "Generate images from a prompt and write them to files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			collector := metrics.NewCollector("artkit")
			images, err := withImageModel(cmd.Context(), cfg, opts, collector, providers.NewDiffusion,
				func(m llm.DiffusionModel, store llm.Cache, cacheOpts []llm.CacheOption) llm.DiffusionModel {
					return llm.NewCachedDiffusion(m, store, cacheOpts...)
				},
				func(m llm.DiffusionModel) ([]llm.Image, error) {
					return m.TextToImage(cmd.Context(), args[0], params)
				})
			if err != nil {
				return err
			}
			paths, err := writeImages(outDir, args[0], images)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if opts.showMetrics {
				return collector.WriteText(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", ".", "directory the images are written to")
	return cmd
}

func newDescribeCmd(configPath *string) *cobra.Command {
	var (
		opts   imageOptions
		prompt string
	)

	cmd := &cobra.Command{
		Use:   "describe <image-file>",
		Short: "Ask a vision model about an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			collector := metrics.NewCollector("artkit")
			responses, err := withImageModel(cmd.Context(), cfg, opts, collector, providers.NewVision,
				func(m llm.VisionModel, store llm.Cache, cacheOpts []llm.CacheOption) llm.VisionModel {
					return llm.NewCachedVision(m, store, cacheOpts...)
				},
				func(m llm.VisionModel) ([]string, error) {
					return m.ImageToText(cmd.Context(), llm.Image{Data: data}, prompt, params)
				})
			if err != nil {
				return err
			}
			if len(responses) == 0 {
				return fmt.Errorf("model %q: %w", opts.model, llm.ErrNoResponse)
			}
			fmt.Fprintln(cmd.OutOrStdout(), responses[0])
			if opts.showMetrics {
				return collector.WriteText(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&prompt, "prompt", "", "question about the image (defaults to the model's own)")
	return cmd
}

// withImageModel connects to the first route whose provider can build the
// model, wraps it with the response cache when enabled and runs call.
func withImageModel[M any, R any](
	ctx context.Context,
	cfg *config.Config,
	opts imageOptions,
	collector *metrics.Collector,
	build func(config.ProviderConfig, string, providers.Options) (M, error),
	cached func(M, llm.Cache, []llm.CacheOption) M,
	call func(M) (R, error),
) (R, error) {
	var zero R
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return zero, err
	}
	defer func() { _ = logger.Sync() }()

	routes, err := router.New(cfg).Resolve(opts.model)
	if err != nil {
		return zero, err
	}

	var (
		m     M
		found bool
	)
	for _, route := range routes {
		c, err := build(route.Provider, route.Model, providers.Options{
			Retry:   cfg.Retry,
			Logger:  logger,
			Metrics: collector,
		})
		if err != nil {
			logger.Warn("skipping route", zap.Stringer("route", route), zap.Error(err))
			continue
		}
		m, found = c, true
		break
	}
	if !found {
		return zero, fmt.Errorf("model %q: no route serves this kind of model", opts.model)
	}
	defer func() { _ = llm.Close(m) }()

	if !opts.noCache && cfg.Cache.Enabled {
		store, closers, err := openResponseCache(ctx, cfg, logger)
		if err != nil {
			return zero, err
		}
		defer func() {
			for _, c := range closers {
				_ = c()
			}
		}()
		m = cached(m, store, []llm.CacheOption{llm.WithMetrics(collector), llm.WithCacheLogger(logger)})
	}
	return call(m)
}

// writeImages saves images under dir, named by a digest of the prompt and
// their position, and returns the paths.
func writeImages(dir, prompt string, images []llm.Image) ([]string, error) {
	if len(images) == 0 {
		return nil, llm.ErrNoResponse
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	sum := sha256.Sum256([]byte(prompt))
	stem := hex.EncodeToString(sum[:4])

	paths := make([]string, 0, len(images))
	for i, img := range images {
		ext := "bin"
		if mt := img.MIMEType(); strings.HasPrefix(mt, "image/") {
			ext = strings.TrimPrefix(mt, "image/")
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.%s", stem, i, ext))
		if err := os.WriteFile(path, img.Data, 0o644); err != nil {
			return nil, fmt.Errorf("write image: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
