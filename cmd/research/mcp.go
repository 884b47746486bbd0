package main

import (
	"context"
	"os"

	"github.com/mohammad-safakhou/research-assistant/internal/mcp"
	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func mcpCMD(root *rootOptions) *cobra.Command {
	var toolsOnly bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the research tools to an MCP client over stdio",
		Long:  "Serve web search, retrieval, scraping, research.ask and the knowledge base as MCP tools. Requests are read from stdin and replies written to stdout; logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), "research-mcp", runtime.AppOptions{}, func(ctx context.Context, app *runtime.App) error {
				deps := mcp.Deps{Tools: app.Tools, RunSinks: app.RunSinks, FastMode: app.Config.Pipeline.FastMode}
				if app.Relay != nil && !toolsOnly {
					deps.Pipeline = app.Relay
				}
				if app.Knowledge != nil && !toolsOnly {
					deps.Knowledge = app.Knowledge
				}
				srv, err := mcp.New(deps, mcp.Options{Version: version, CallTimeout: app.Config.Server.RequestTimeout}, app.Logger)
				if err != nil {
					return err
				}
				app.Logger.Info("mcp server ready", zap.Int("tools", len(srv.Tools())))
				return srv.Serve(ctx, os.Stdin, os.Stdout)
			})
		},
	}
	cmd.Flags().BoolVar(&toolsOnly, "tools-only", false, "expose only the evidence tools")
	return cmd
}
