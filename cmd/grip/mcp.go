package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/mcp"
	"github.com/haasonsaas/grip/internal/security"
	"github.com/haasonsaas/grip/internal/tools"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server connections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers with status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			tokens := security.NewTokenStore(filepath.Join(filepath.Dir(configPath), "mcp_tokens.json"), logger)
			mgr := mcp.NewManager(cfg, tools.NewRegistry(logger), tokens, logger)
			for _, status := range mgr.Statuses() {
				fmt.Printf("%-20s %-14s %-6s oauth=%v\n",
					status.Name, status.Status, status.Transport, status.HasOAuth)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "login [server]",
		Short: "Run the OAuth login flow for an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			name := args[0]
			srv, ok := cfg.Tools.MCPServers[name]
			if !ok {
				return fmt.Errorf("unknown MCP server %q", name)
			}

			oauthCfg := srv.OAuth
			if oauthCfg == nil || oauthCfg.ClientID == "" {
				// No static client: walk discovery + dynamic registration.
				clients := security.NewClientStore(filepath.Join(filepath.Dir(configPath), "mcp_clients.json"))
				registered, err := security.DiscoverAndRegister(cmd.Context(), srv.URL, name, clients, logger)
				if err != nil {
					return fmt.Errorf("OAuth discovery for %q: %w", name, err)
				}
				oauthCfg = oauthConfigFromRegistration(registered, srv)
			}

			flow := security.NewOAuthFlow(oauthCfg, name, logger)
			token, err := flow.Execute(cmd.Context())
			if err != nil {
				return err
			}

			tokens := security.NewTokenStore(filepath.Join(filepath.Dir(configPath), "mcp_tokens.json"), logger)
			if err := tokens.Save(name, *token); err != nil {
				return err
			}
			fmt.Println("Login successful for", name)
			return nil
		},
	})

	return cmd
}

func oauthConfigFromRegistration(registered *security.RegisteredClient, srv config.MCPServerConfig) *config.OAuthConfig {
	cfg := &config.OAuthConfig{
		ClientID: registered.ClientID,
		AuthURL:  registered.AuthorizationEndpoint,
		TokenURL: registered.TokenEndpoint,
	}
	if registered.ClientSecret != "" {
		cfg.ClientSecret = config.Secret(registered.ClientSecret)
	}
	if srv.OAuth != nil {
		cfg.Scopes = srv.OAuth.Scopes
		cfg.RedirectPort = srv.OAuth.RedirectPort
	}
	return cfg
}
