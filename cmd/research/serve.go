package main

import (
	"context"

	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/mohammad-safakhou/research-assistant/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(root *rootOptions) *cobra.Command {
	var (
		addr    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runtime.AppOptions{Migrate: migrate}
			return root.withApp(cmd.Context(), "research-api", opts, func(ctx context.Context, app *runtime.App) error {
				srv, err := server.New(server.DepsFromApp(app))
				if err != nil {
					return err
				}
				return runtime.Serve(ctx, "research-api", app.Logger, func(ctx context.Context) error {
					return srv.Run(ctx, addr)
				})
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending store migrations on startup")
	return cmd
}
