package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/artkit-ai/artkit/pkg/cache/sqlite"
	"github.com/artkit-ai/artkit/pkg/config"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/logging"
	"github.com/artkit-ai/artkit/pkg/metrics"
	"github.com/artkit-ai/artkit/pkg/models"
	"github.com/artkit-ai/artkit/pkg/providers"
	"github.com/artkit-ai/artkit/pkg/router"
)

type chatOptions struct {
	model       string
	system      string
	params      []string
	noCache     bool
	showMetrics bool
	asJSON      bool
	interactive bool
	maxHistory  int
}

func newChatCmd(configPath *string) *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to a model, answering from the cache when possible",
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.interactive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			s, err := newChatSession(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer s.close()

			if opts.interactive {
				err = s.repl(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			} else {
				err = s.send(cmd.Context(), cmd.OutOrStdout(), args[0])
			}
			if err != nil {
				return err
			}
			if opts.showMetrics {
				return s.collector.WriteText(cmd.ErrOrStderr())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model alias, provider/model, or model id")
	cmd.Flags().StringVarP(&opts.system, "system", "s", "", "system prompt")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "model parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "print cache and retry metrics to stderr when done")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "parse the response as JSON, asking the model to repair it if needed")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "read messages from stdin, keeping the conversation history")
	cmd.Flags().IntVar(&opts.maxHistory, "max-history", 0, "messages of history kept in interactive mode (0 keeps all)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

type chatSession struct {
	chat      llm.ChatModel
	store     *sqlite.Store
	params    models.Params
	asJSON    bool
	logger    *zap.Logger
	collector *metrics.Collector
	closers   []func() error
}

func newChatSession(ctx context.Context, cfg *config.Config, opts chatOptions) (*chatSession, error) {
	params, err := parseParams(opts.params)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	s := &chatSession{
		params:    params,
		asJSON:    opts.asJSON,
		logger:    logger,
		collector: metrics.NewCollector("artkit"),
	}
	s.closers = append(s.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	routes, err := router.New(cfg).Resolve(opts.model)
	if err != nil {
		s.close()
		return nil, err
	}

	var store *sqlite.Store
	if cfg.Cache.Enabled && !opts.noCache {
		var closers []func() error
		store, closers, err = openResponseCache(ctx, cfg, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(closers, s.closers...)
		s.store = store
	}

	var chain []llm.ChatModel
	for _, route := range routes {
		m, err := providers.New(route.Provider, route.Model, providers.Options{
			Retry:   cfg.Retry,
			Logger:  logger,
			Metrics: s.collector,
		})
		if err != nil {
			logger.Warn("skipping route", zap.Stringer("route", route), zap.Error(err))
			continue
		}
		if opts.system != "" {
			withPrompt := m.WithSystemPrompt(opts.system)
			_ = llm.Close(m)
			m = withPrompt
		}
		if store != nil {
			m = llm.NewCachedChat(m, store, llm.WithMetrics(s.collector), llm.WithCacheLogger(logger))
		}
		chain = append(chain, m)
	}
	fallback, err := newFallbackChat(logger, chain...)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("model %q: %w", opts.model, err)
	}
	s.chat = fallback
	s.closers = append([]func() error{fallback.Close}, s.closers...)

	if opts.interactive {
		h, err := llm.NewHistorizedChat(fallback, opts.maxHistory)
		if err != nil {
			s.close()
			return nil, err
		}
		s.chat = h
	}
	return s, nil
}

func (s *chatSession) close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func (s *chatSession) send(ctx context.Context, w io.Writer, message string) error {
	responses, err := s.chat.Respond(ctx, message, nil, s.params)
	if err != nil {
		return err
	}
	if len(responses) == 0 {
		return fmt.Errorf("model %s: %w", s.chat.ModelID(), llm.ErrNoResponse)
	}
	if s.asJSON {
		v, err := llm.ParseJSONAutofix(ctx, responses[0], s.chat, nil, s.logger)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		fmt.Fprintln(w, string(out))
		return nil
	}
	printResponses(w, responses)
	return nil
}

func (s *chatSession) repl(ctx context.Context, in io.Reader, out, prompt io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(prompt, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(prompt)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		responses, err := s.chat.Respond(ctx, line, nil, s.params)
		if err != nil {
			return err
		}
		if len(responses) == 0 {
			fmt.Fprintf(prompt, "(%v)\n", llm.ErrNoResponse)
			continue
		}
		fmt.Fprintln(out, responses[0])
	}
}

func printResponses(w io.Writer, responses []string) {
	if len(responses) == 1 {
		fmt.Fprintln(w, responses[0])
		return
	}
	for i, r := range responses {
		fmt.Fprintf(w, "--- response %d ---\n%s\n", i+1, r)
	}
}

// parseParams turns key=value pairs into parameters. Values are decoded as
// YAML scalars, so 0.7 is a float, 3 an integer and true a boolean.
func parseParams(pairs []string) (models.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(models.Params, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", pair, err)
		}
		params[key] = v
	}
	return params, nil
}
