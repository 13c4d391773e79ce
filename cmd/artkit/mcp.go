package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artkit-ai/artkit/pkg/config"
	"github.com/artkit-ai/artkit/pkg/logging"
	"github.com/artkit-ai/artkit/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve cache administration and chat as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, closeFn, err := newMCPServer(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer closeFn()
			return srv.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model served by the chat tool (omit to serve cache tools only)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "model parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "bypass the response cache")
	return cmd
}

func newMCPServer(ctx context.Context, cfg *config.Config, opts chatOptions) (*mcp.Server, func(), error) {
	if opts.model != "" {
		s, err := newChatSession(ctx, cfg, opts)
		if err != nil {
			return nil, nil, err
		}
		var cache mcp.CacheAdmin
		if s.store != nil {
			cache = s.store
		}
		return mcp.New(cache, version, mcp.WithChat(s.chat), mcp.WithLogger(s.logger)), s.close, nil
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Cache.Enabled || opts.noCache {
		return mcp.New(nil, version, mcp.WithLogger(logger)), func() { _ = logger.Sync() }, nil
	}
	store, closers, err := openResponseCache(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		for _, c := range closers {
			_ = c()
		}
		_ = logger.Sync()
	}
	return mcp.New(store, version, mcp.WithLogger(logger)), closeFn, nil
}
