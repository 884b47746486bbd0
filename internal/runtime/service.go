package runtime

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Serve runs fn until it returns or an interrupt arrives. The context handed
// to fn is cancelled on SIGINT or SIGTERM; context.Canceled from fn is treated
// as a clean shutdown.
func Serve(ctx context.Context, service string, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if service == "" {
		service = "service"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("service", service))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("service starting")
	err := fn(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("service stopped")
		return nil
	default:
		logger.Error("service failed", zap.Error(err))
		return err
	}
}
