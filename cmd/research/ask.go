package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/spf13/cobra"
)

func askCMD(root *rootOptions) *cobra.Command {
	var (
		contextText string
		fast        bool
		stream      bool
		jsonOut     bool
		maxSources  int
		recent      bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Research a question and print a cited answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question is empty")
			}
			return root.withApp(cmd.Context(), "research-cli", runtime.AppOptions{}, func(ctx context.Context, app *runtime.App) error {
				req := core.Request{
					Question:      question,
					Context:       contextText,
					FastMode:      app.Config.Pipeline.FastMode,
					MaxSources:    maxSources,
					RequireRecent: recent,
				}
				if cmd.Flags().Changed("fast") {
					req.FastMode = fast
				}
				sinks := app.RunSinks(req)
				if stream && !jsonOut {
					sinks = append(sinks, newProgressSink(os.Stderr))
				}
				res, err := app.Relay.Run(ctx, req, sinks...)
				if err != nil {
					return err
				}
				if jsonOut {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}
				printAnswer(os.Stdout, res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contextText, "context", "", "extra context for the question")
	cmd.Flags().BoolVar(&fast, "fast", false, "skip the critic (default from pipeline.fast_mode)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print progress events while the pipeline runs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	cmd.Flags().IntVar(&maxSources, "max-sources", 0, "cap the results taken from each tool")
	cmd.Flags().BoolVar(&recent, "recent", false, "prefer recent sources")
	return cmd
}
