// grip is an autonomous AI agent platform: an iterative LLM↔tool engine
// with durable sessions, long-term memory, MCP tool servers, chat-channel
// delivery, scheduled jobs, and an HTTP gateway.
//
// Basic usage:
//
//	grip run "summarize today's standup notes"
//	grip serve --config ~/.grip/config.json
//	grip workflow run release-notes
//	grip mcp login todoist
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/observability"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           "grip",
		Short:         "Autonomous AI agent platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config.json")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newSessionCmd(),
		newWorkflowCmd(),
		newMCPCmd(),
		newTrustCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, merges the .mcp.json sidecar, and
// installs the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)
	config.MergeMCPDiscovery(cfg, configPath, logger)
	return cfg, logger, nil
}
