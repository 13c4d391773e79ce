package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artkit-ai/artkit/pkg/config"
	"github.com/artkit-ai/artkit/pkg/providers"
)

var version = "dev"

func main() {
	err := newRootCmd().Execute()
	_ = providers.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "artkit",
		Short:         "Cached, retrying model connectors for red-teaming generative AI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newCacheCmd(&configPath),
		newChatCmd(&configPath),
		newCompleteCmd(&configPath),
		newDescribeCmd(&configPath),
		newImageCmd(&configPath),
		newMCPCmd(&configPath),
	)
	return root
}

// loadConfig reads path, or returns the defaults when no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
