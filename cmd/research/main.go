package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

type rootOptions struct {
	cfgPath string
	debug   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "research",
		Short:         "Multi-agent research assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "verbose development logging")

	root.AddCommand(
		askCMD(opts),
		ingestCMD(opts),
		sampleCMD(opts),
		statsCMD(opts),
		resetCMD(opts),
		serveCMD(opts),
		migrateCMD(opts),
		historyCMD(opts),
		watchCMD(opts),
		evalCMD(opts),
		mcpCMD(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(o.cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if o.debug {
		cfg.General.Debug = true
	}
	logger, err := runtime.NewLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withApp builds the components a command needs, runs fn and tears
// everything down again.
func (o *rootOptions) withApp(ctx context.Context, service string, opts runtime.AppOptions, fn func(context.Context, *runtime.App) error) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts.Service, opts.Version = service, version
	app, err := runtime.Build(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	return fn(ctx, app)
}
