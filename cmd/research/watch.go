package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mohammad-safakhou/research-assistant/internal/queue/streams"
	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func watchCMD(root *rootOptions) *cobra.Command {
	var (
		from    string
		runID   string
		group   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail pipeline events from the Redis event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if !cfg.Storage.Redis.Enabled() {
				return errors.New("watch needs storage.redis to be configured")
			}
			ctx := cmd.Context()
			rdb, err := runtime.OpenRedis(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()
			reg, err := streams.NewResearchRegistry()
			if err != nil {
				return err
			}
			var opts []streams.ConsumerOption
			if group != "" {
				opts = append(opts, streams.WithGroup(group, "watch-"+fmt.Sprint(os.Getpid())))
			}
			consumer := streams.NewConsumer(rdb, reg, cfg.Events.Stream, opts...)
			if group != "" {
				if err := consumer.EnsureGroup(ctx); err != nil {
					return err
				}
			}
			enc := json.NewEncoder(os.Stdout)
			logger.Info("watching", zap.String("stream", cfg.Events.Stream), zap.String("from", from))

			return runtime.Serve(ctx, "watch", logger, func(ctx context.Context) error {
				return consumer.Tail(ctx, from, func(m streams.Message) error {
					if runID != "" && m.Event.RunID != runID {
						return nil
					}
					if jsonOut {
						return enc.Encode(m.Event)
					}
					if line := describe(m.Event); line != "" {
						fmt.Println(mutedStyle.Render(shortID(m.Event.RunID)) + " " + line)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "$", "stream id to start after ($ for new events, 0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "only events of this run")
	cmd.Flags().StringVar(&group, "group", "", "read through this consumer group")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print raw events as JSON lines")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
