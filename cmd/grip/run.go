package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/grip/internal/agent"
	"github.com/haasonsaas/grip/internal/engines"
	"github.com/haasonsaas/grip/internal/observability"
	"github.com/haasonsaas/grip/internal/security"
)

func newRunCmd() *cobra.Command {
	var sessionKey string
	var model string

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run the agent on a single message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			stack, err := agent.NewStack(agent.StackOptions{
				Config:  cfg,
				Metrics: observability.NewMetrics(nil),
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			installTrustPrompt(stack.Trust)

			message := strings.Join(args, " ")
			result, err := stack.Engine.Run(cmd.Context(), message, engines.RunOptions{
				SessionKey: sessionKey,
				Model:      model,
			})
			if err != nil {
				return err
			}

			fmt.Println(result.Response)
			if len(result.ToolCallsMade) > 0 {
				fmt.Fprintf(os.Stderr, "\n[%d iterations, %d tool calls, %d tokens]\n",
					result.Iterations, len(result.ToolCallsMade), result.TotalTokens())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session", "cli:default", "session key")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	return cmd
}

// installTrustPrompt wires an interactive y/N prompt when stdin is a
// terminal; headless invocations keep the deny-by-default behavior.
func installTrustPrompt(trust *security.TrustManager) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	trust.SetPrompt(func(_ context.Context, dir string) bool {
		fmt.Fprintf(os.Stderr, "\nAllow access to %s and everything under it? [y/N] ", filepath.Clean(dir))
		var answer string
		_, _ = fmt.Fscanln(os.Stdin, &answer)
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	})
}
