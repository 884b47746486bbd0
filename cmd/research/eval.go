package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/research-assistant/internal/eval"
	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/spf13/cobra"
)

func evalCMD(root *rootOptions) *cobra.Command {
	var (
		concurrency int
		fast        bool
		limit       int
		jsonOut     bool
		out         string
		threshold   float64
	)
	cmd := &cobra.Command{
		Use:   "eval DATASET.yaml",
		Short: "Score the pipeline against a question dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := eval.LoadDataset(args[0])
			if err != nil {
				return err
			}
			if limit > 0 && limit < len(ds.Questions) {
				ds.Questions = ds.Questions[:limit]
			}
			if ds.Name == "" {
				ds.Name = filepath.Base(args[0])
			}
			return root.withApp(cmd.Context(), "research-eval", runtime.AppOptions{}, func(ctx context.Context, app *runtime.App) error {
				runner := eval.NewRunner(app.Relay, eval.Options{Concurrency: concurrency, FastMode: fast}, app.Logger)
				fmt.Fprintln(os.Stderr, mutedStyle.Render(fmt.Sprintf("evaluating %d questions from %s", len(ds.Questions), ds.Name)))
				rep, err := runner.Run(ctx, ds)
				if err != nil {
					return err
				}
				if out != "" {
					if err := saveReport(out, rep); err != nil {
						return err
					}
				}
				if jsonOut {
					if err := rep.WriteJSON(os.Stdout); err != nil {
						return err
					}
				} else if err := rep.WriteTable(os.Stdout); err != nil {
					return err
				}

				err = rep.Check(threshold)
				switch {
				case errors.Is(err, eval.ErrBelowThreshold):
					fmt.Fprintln(os.Stderr, errorStyle.Render("FAIL ")+err.Error())
				case err == nil:
					fmt.Fprintln(os.Stderr, okStyle.Render(fmt.Sprintf("PASS overall %.3f", rep.Summary.Overall)))
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "questions evaluated at once")
	cmd.Flags().BoolVar(&fast, "fast", false, "run every question in fast mode")
	cmd.Flags().IntVar(&limit, "limit", 0, "evaluate only the first N questions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&out, "out", "", "also write the JSON report to this file")
	cmd.Flags().Float64Var(&threshold, "threshold", eval.DefaultThreshold, "minimum overall score")
	return cmd
}

func saveReport(path string, rep *eval.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rep.WriteJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
