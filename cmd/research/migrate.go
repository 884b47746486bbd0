package main

import (
	"fmt"
	"strconv"

	"github.com/mohammad-safakhou/research-assistant/internal/store"
	"github.com/spf13/cobra"
)

func migrateCMD(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:       "migrate up|down [steps]",
		Short:     "Apply or roll back run store migrations",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := args[0]
			if direction != "up" && direction != "down" {
				return fmt.Errorf("direction must be up or down, got %q", direction)
			}
			steps := 0
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 {
					return fmt.Errorf("steps must be a non-negative integer, got %q", args[1])
				}
				steps = n
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			pg := cfg.Storage.Postgres
			if !pg.Enabled() {
				return fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
			}
			if err := store.Migrate(dir, pg.DSN(), direction, steps); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("migrations " + direction + " applied"))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations source such as file://migrations (default embedded)")
	return cmd
}
