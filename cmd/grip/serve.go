package main

import (
	"context"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/grip/internal/agent"
	"github.com/haasonsaas/grip/internal/channels"
	"github.com/haasonsaas/grip/internal/config"
	croncfg "github.com/haasonsaas/grip/internal/cron"
	"github.com/haasonsaas/grip/internal/gateway"
	"github.com/haasonsaas/grip/internal/heartbeat"
	"github.com/haasonsaas/grip/internal/mcp"
	"github.com/haasonsaas/grip/internal/observability"
	"github.com/haasonsaas/grip/internal/security"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, channels, MCP servers, cron, and heartbeat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			router := channels.NewRouter(logger)
			if cfg.Channels.Telegram.Enabled {
				sender, err := channels.NewTelegramSender(cfg.Channels.Telegram.Token.Value())
				if err != nil {
					return err
				}
				router.Register(sender)
			}
			if cfg.Channels.Discord.Enabled {
				sender, err := channels.NewDiscordSender(cfg.Channels.Discord.Token.Value())
				if err != nil {
					return err
				}
				router.Register(sender)
			}
			if cfg.Channels.Slack.Enabled {
				router.Register(channels.NewSlackSender(cfg.Channels.Slack.Token.Value()))
			}

			metrics := observability.NewMetrics(nil)
			stack, err := agent.NewStack(agent.StackOptions{
				Config:  cfg,
				Sender:  router,
				Metrics: metrics,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			home := filepath.Dir(configPath)
			mcpTokens := security.NewTokenStore(filepath.Join(home, "mcp_tokens.json"), logger)
			mcpMgr := mcp.NewManager(cfg, stack.Registry, mcpTokens, logger)
			mcpMgr.Start(ctx)
			defer mcpMgr.Stop()

			go watchMCPDiscovery(ctx, cfg, mcpMgr, logger)

			scheduler := croncfg.NewScheduler(cfg.Cron, stack.Engine, logger)
			if cfg.Cron.Enabled {
				scheduler.Start()
				defer scheduler.Stop()
			}

			go heartbeat.NewRunner(cfg.Heartbeat, stack.Engine, logger).Run(ctx)

			if !cfg.Gateway.Enabled {
				logger.Info("gateway disabled; serving channels and schedules only")
				<-ctx.Done()
				return nil
			}

			server := gateway.NewServer(cfg, stack.Engine, mcpMgr, mcpTokens,
				func(updated *config.Config) error { return config.Save(updated, configPath) },
				logger)
			return server.Start(ctx)
		},
	}
}

// watchMCPDiscovery reloads the .mcp.json sidecar when it changes,
// connecting any newly discovered servers.
func watchMCPDiscovery(ctx context.Context, cfg *config.Config, mgr *mcp.Manager, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("mcp discovery watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		logger.Warn("cannot watch config directory", "dir", dir, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-watcher.Events:
			if filepath.Base(event.Name) != ".mcp.json" || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			logger.Info("mcp discovery file changed, reloading")
			before := map[string]bool{}
			for name := range cfg.Tools.MCPServers {
				before[name] = true
			}
			config.MergeMCPDiscovery(cfg, configPath, nil)
			for name, srv := range cfg.Tools.MCPServers {
				if !before[name] && srv.Enabled {
					if err := mgr.Connect(ctx, name); err != nil {
						logger.Warn("connect discovered server failed", "server", name, "error", err)
					}
				}
			}
		case <-watcher.Errors:
		}
	}
}
