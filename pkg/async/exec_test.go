package async_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbus/chanbus/pkg/async"
)

func TestExec(t *testing.T) {
	t.Parallel()

	t.Run("returns function error", func(t *testing.T) {
		t.Parallel()

		wantErr := errors.New("boom")
		f := async.Exec(context.Background(), 1, func(ctx context.Context, n int) error {
			return wantErr
		})
		assert.ErrorIs(t, f.Await(), wantErr)
	})

	t.Run("nil error on success", func(t *testing.T) {
		t.Parallel()

		f := async.Exec(context.Background(), "x", func(ctx context.Context, s string) error {
			return nil
		})
		require.NoError(t, f.Await())
		assert.True(t, f.IsComplete())
	})

	t.Run("captures panic as error", func(t *testing.T) {
		t.Parallel()

		f := async.Exec(context.Background(), 0, func(ctx context.Context, n int) error {
			panic("handler exploded")
		})

		err := f.Await()
		require.Error(t, err)
		assert.ErrorIs(t, err, async.ErrPanicked)
		assert.Contains(t, err.Error(), "handler exploded")
	})

	t.Run("pre-canceled context short-circuits", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		f := async.Exec(ctx, 0, func(ctx context.Context, n int) error {
			called = true
			return nil
		})

		assert.ErrorIs(t, f.Await(), context.Canceled)
		assert.False(t, called)
	})
}

func TestAwaitWithTimeout(t *testing.T) {
	t.Parallel()

	t.Run("completes before timeout", func(t *testing.T) {
		t.Parallel()

		f := async.Exec(context.Background(), 0, func(ctx context.Context, n int) error {
			return nil
		})
		require.NoError(t, f.AwaitWithTimeout(time.Second))
	})

	t.Run("times out on slow function", func(t *testing.T) {
		t.Parallel()

		block := make(chan struct{})
		defer close(block)

		f := async.Exec(context.Background(), 0, func(ctx context.Context, n int) error {
			<-block
			return nil
		})
		assert.ErrorIs(t, f.AwaitWithTimeout(20*time.Millisecond), async.ErrTimeout)
	})
}

func TestExecAll(t *testing.T) {
	t.Parallel()

	t.Run("all succeed", func(t *testing.T) {
		t.Parallel()

		ok := func(ctx context.Context, n int) error { return nil }
		require.NoError(t, async.ExecAll(
			async.Exec(context.Background(), 1, ok),
			async.Exec(context.Background(), 2, ok),
		))
	})

	t.Run("returns first failure", func(t *testing.T) {
		t.Parallel()

		wantErr := errors.New("nope")
		err := async.ExecAll(
			async.Exec(context.Background(), 0, func(ctx context.Context, n int) error { return nil }),
			async.Exec(context.Background(), 0, func(ctx context.Context, n int) error { return wantErr }),
		)
		assert.ErrorIs(t, err, wantErr)
	})
}
