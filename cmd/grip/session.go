package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/grip/internal/agent"
	"github.com/haasonsaas/grip/internal/config"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage conversation sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List session keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			for _, key := range stack.Sessions.List() {
				fmt.Println(key)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset [key]",
		Short: "Delete a session's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			if err := stack.Engine.ResetSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Session reset:", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "compact [key]",
		Short: "Consolidate a session's old messages into long-term memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			if err := stack.Engine.ConsolidateSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Session compacted:", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show memory, cache, and token usage statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			memStats := stack.Memory.MemoryStats()
			cacheStats := stack.Cache.Stats()
			kbStats := stack.Knowledge.Stats()
			fmt.Printf("Memory entries:    %d (%d bytes)\n", memStats.TotalEntries, memStats.SizeBytes)
			fmt.Printf("Cache entries:     %d active of %d\n", cacheStats.ActiveEntries, cacheStats.TotalEntries)
			fmt.Printf("Knowledge entries: %d\n", kbStats.TotalEntries)
			fmt.Printf("Tokens today:      %d (%d requests)\n", stack.Tracker.TotalToday(), stack.Tracker.RequestsToday())
			return nil
		},
	})

	return cmd
}

func buildStack() (*agent.Stack, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildStackWith(cfg, logger)
}

func buildStackWith(cfg *config.Config, logger *slog.Logger) (*agent.Stack, error) {
	return agent.NewStack(agent.StackOptions{Config: cfg, Logger: logger})
}
