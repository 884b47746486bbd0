package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/spf13/cobra"
)

var knowledgeOnly = runtime.AppOptions{KnowledgeOnly: true}

func ingestCMD(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest PATH...",
		Short: "Add .md, .txt and .html files to the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), "research-cli", knowledgeOnly, func(ctx context.Context, app *runtime.App) error {
				start := time.Now()
				var total knowledge.IngestReport
				for _, path := range args {
					rep, err := app.Knowledge.IngestPath(ctx, path)
					if err != nil {
						return fmt.Errorf("ingest %s: %w", path, err)
					}
					printReport(os.Stdout, path, rep)
					total = sumReports(total, rep)
				}
				if len(args) > 1 {
					printReport(os.Stdout, "total", total)
				}
				fmt.Println(mutedStyle.Render(fmt.Sprintf("done in %s", time.Since(start).Round(time.Millisecond))))
				return nil
			})
		},
	}
}

func sampleCMD(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write and ingest the bundled sample documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), "research-cli", knowledgeOnly, func(ctx context.Context, app *runtime.App) error {
				if dir == "" {
					dir = app.Config.Knowledge.SampleDir
				}
				rep, err := app.Knowledge.IngestSample(ctx, dir)
				if err != nil {
					return err
				}
				printReport(os.Stdout, dir, rep)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "where to write the samples (default knowledge.sample_dir)")
	return cmd
}

func statsCMD(root *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), "research-cli", knowledgeOnly, func(ctx context.Context, app *runtime.App) error {
				st, err := app.Knowledge.Stats(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				}
				printStats(os.Stdout, st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func resetCMD(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every document from the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			return root.withApp(cmd.Context(), "research-cli", knowledgeOnly, func(ctx context.Context, app *runtime.App) error {
				if err := app.Knowledge.Reset(ctx); err != nil {
					return err
				}
				fmt.Println(okStyle.Render("knowledge base cleared"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	return cmd
}

func sumReports(a, b knowledge.IngestReport) knowledge.IngestReport {
	return knowledge.IngestReport{
		Documents:  a.Documents + b.Documents,
		Created:    a.Created + b.Created,
		Ingested:   a.Ingested + b.Ingested,
		Duplicates: a.Duplicates + b.Duplicates,
		Embedded:   a.Embedded + b.Embedded,
		Skipped:    append(append([]string(nil), a.Skipped...), b.Skipped...),
	}
}

func printReport(w io.Writer, label string, r knowledge.IngestReport) {
	fmt.Fprintf(w, "%s  %d documents, %d chunks, %d new, %d duplicate",
		titleStyle.Render(label), r.Documents, r.Created, r.Ingested, r.Duplicates)
	if r.Embedded > 0 {
		fmt.Fprintf(w, ", %d embedded", r.Embedded)
	}
	fmt.Fprintln(w)
	for _, s := range r.Skipped {
		fmt.Fprintln(w, mutedStyle.Render("  skipped "+s))
	}
}

func printStats(w io.Writer, st knowledge.Stats) {
	fmt.Fprintln(w, titleStyle.Render("knowledge base"))
	fmt.Fprintf(w, "  backend    %s\n  documents  %d\n  chunks     %d\n  vectors    %d\n", st.Backend, st.Documents, st.Chunks, st.Vectors)
	if len(st.Sources) > 0 {
		fmt.Fprintf(w, "  sources    %s\n", strings.Join(st.Sources, "\n             "))
	}
}
