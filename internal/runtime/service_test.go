package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServeTreatsCancellationAsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Serve(ctx, "test", nil, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
}

func TestServeReturnsFailure(t *testing.T) {
	boom := errors.New("boom")
	err := Serve(context.Background(), "", nil, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}
