package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/mohammad-safakhou/research-assistant/internal/store"
	"github.com/spf13/cobra"
)

func historyCMD(root *rootOptions) *cobra.Command {
	var (
		limit   int
		status  string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List stored runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), "research-cli", runtime.AppOptions{}, func(ctx context.Context, app *runtime.App) error {
				if app.Store == nil {
					return errors.New("history needs storage.postgres to be configured")
				}
				if len(args) == 1 {
					return showRun(ctx, app.Store, args[0], jsonOut)
				}
				runs, err := app.Store.ListRuns(ctx, limit, status)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(os.Stdout, runs)
				}
				return printRuns(os.Stdout, runs)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (complete, refused, failed)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func showRun(ctx context.Context, st *store.Store, id string, jsonOut bool) error {
	rec, err := st.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no run %s", id)
	}
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(os.Stdout, rec)
	}
	fmt.Printf("%s %s\n", titleStyle.Render(rec.ID), mutedStyle.Render(rec.FinishedAt.Format("2006-01-02 15:04:05")))
	fmt.Printf("question  %s\nstatus    %s\n", rec.Question, rec.Status)
	if rec.ErrorKind != nil {
		msg := ""
		if rec.ErrorMessage != nil {
			msg = *rec.ErrorMessage
		}
		fmt.Println(errorStyle.Render(*rec.ErrorKind) + " " + msg)
	}
	if rec.Plan != "" {
		fmt.Printf("plan      %s\n", rec.Plan)
	}
	if rec.Answer != "" {
		fmt.Print(renderMarkdown(rec.Answer, 100))
		fmt.Println("confidence " + renderConfidence(rec.Confidence))
	}
	return nil
}

func printRuns(w io.Writer, runs []store.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFINISHED\tSTATUS\tCONF\tSECONDS\tQUESTION")
	for _, r := range runs {
		status := r.Status
		if r.ErrorKind != nil {
			status += " (" + *r.ErrorKind + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.1f\t%s\n",
			r.ID, r.FinishedAt.Format("2006-01-02 15:04"), status, r.Confidence, r.Duration().Seconds(), truncate(r.Question, 60))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
