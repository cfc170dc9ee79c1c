package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbus/chanbus/core/payload"
)

func TestEstimateSize(t *testing.T) {
	t.Parallel()

	t.Run("scalars", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, 1, payload.EstimateSize(payload.Nil()))
		assert.Equal(t, 1, payload.EstimateSize(payload.Bool(true)))
		assert.Equal(t, 8, payload.EstimateSize(payload.Int(42)))
		assert.Equal(t, 8, payload.EstimateSize(payload.Float(3.14)))
		assert.Equal(t, 8, payload.EstimateSize(payload.Ref(struct{}{})))
	})

	t.Run("string costs its byte length", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, 0, payload.EstimateSize(payload.String("")))
		assert.Equal(t, 5, payload.EstimateSize(payload.String("hello")))
	})

	t.Run("list sums its elements", func(t *testing.T) {
		t.Parallel()

		v := payload.ListOf(payload.Int(1), payload.String("abc"), payload.Bool(false))
		assert.Equal(t, 8+3+1, payload.EstimateSize(v))
	})

	t.Run("map sums keys and values", func(t *testing.T) {
		t.Parallel()

		v := payload.MapOf(
			payload.Pair(payload.String("key"), payload.Int(7)),
			payload.Pair(payload.String("ok"), payload.Bool(true)),
		)
		assert.Equal(t, (3+8)+(2+1), payload.EstimateSize(v))
	})

	t.Run("nested composites", func(t *testing.T) {
		t.Parallel()

		inner := payload.ListOf(payload.String("ab"), payload.Int(1))
		v := payload.MapOf(payload.Pair(payload.String("x"), inner))
		assert.Equal(t, 1+(2+8), payload.EstimateSize(v))
	})
}

func TestEstimateAll(t *testing.T) {
	t.Parallel()

	values := []payload.Value{payload.Int(1), payload.String("abcd"), payload.Bool(true)}
	assert.Equal(t, 8+4+1, payload.EstimateAll(values))
	assert.Equal(t, 0, payload.EstimateAll(nil))
}

func TestCheckSizeLimit(t *testing.T) {
	t.Parallel()

	t.Run("within limit", func(t *testing.T) {
		t.Parallel()

		ok, size := payload.CheckSizeLimit([]payload.Value{payload.String("abc")}, 10)
		require.True(t, ok)
		assert.Equal(t, 3, size)
	})

	t.Run("exactly at limit", func(t *testing.T) {
		t.Parallel()

		ok, size := payload.CheckSizeLimit([]payload.Value{payload.String("abc")}, 3)
		require.True(t, ok)
		assert.Equal(t, 3, size)
	})

	t.Run("over limit", func(t *testing.T) {
		t.Parallel()

		ok, size := payload.CheckSizeLimit([]payload.Value{payload.Int(0)}, 7)
		require.False(t, ok)
		assert.Equal(t, 8, size)
	})
}
