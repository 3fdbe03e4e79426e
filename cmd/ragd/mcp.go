package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	ragdmcp "github.com/fyrsmithlabs/ragd/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the knowledge base as MCP tools over stdio",
		Long: `Run ragd in-process as a Model Context Protocol server on stdin/stdout.
Assistants get ingest_text, delete_document, retrieve, chat,
list_conversations and tenant_stats tools. Logs go to stderr.

Example client configuration:
  {"command": "ragd", "args": ["mcp", "--config", "/etc/ragd/config.yaml"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, cfg)
		},
	}
}

// runMCP serves MCP on stdio until the client disconnects or ctx ends.
func runMCP(ctx context.Context, cfg *config.Config) error {
	cfg.Logging.Stderr = true
	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn(context.Background(), "releasing resources failed", zap.Error(err))
		}
	}()

	srv, err := ragdmcp.NewServer(a.core, &ragdmcp.Config{
		Version: version,
		Logger:  a.logger.Underlying().Named("mcp"),
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
