package payload_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbus/chanbus/core/payload"
)

func TestValueWireCodec(t *testing.T) {
	t.Parallel()

	t.Run("nested value survives the codec", func(t *testing.T) {
		t.Parallel()

		original := payload.MapOf(
			payload.Pair(payload.String("name"), payload.String("spawn")),
			payload.Pair(payload.String("coords"), payload.ListOf(
				payload.Float(1.5), payload.Float(-2.25), payload.Int(9),
			)),
			payload.Pair(payload.String("visible"), payload.Bool(true)),
			payload.Pair(payload.String("meta"), payload.Nil()),
		)

		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded payload.Value
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
	})

	t.Run("map entry order is preserved", func(t *testing.T) {
		t.Parallel()

		original := payload.MapOf(
			payload.Pair(payload.String("z"), payload.Int(1)),
			payload.Pair(payload.String("a"), payload.Int(2)),
			payload.Pair(payload.String("m"), payload.Int(3)),
		)

		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded payload.Value
		require.NoError(t, json.Unmarshal(data, &decoded))

		require.Len(t, decoded.Entries, 3)
		assert.Equal(t, "z", decoded.Entries[0].Key.Str)
		assert.Equal(t, "a", decoded.Entries[1].Key.Str)
		assert.Equal(t, "m", decoded.Entries[2].Key.Str)
	})

	t.Run("reference is dropped to a marker", func(t *testing.T) {
		t.Parallel()

		data, err := json.Marshal(payload.Ref(func() {}))
		require.NoError(t, err)

		var decoded payload.Value
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, payload.KindRef, decoded.Kind)
		assert.Nil(t, decoded.Ref)
	})

	t.Run("int stays an int", func(t *testing.T) {
		t.Parallel()

		data, err := json.Marshal(payload.Int(42))
		require.NoError(t, err)

		var decoded payload.Value
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, payload.KindInt, decoded.Kind)
		assert.Equal(t, int64(42), decoded.Int)
	})

	t.Run("unknown tag is rejected", func(t *testing.T) {
		t.Parallel()

		var decoded payload.Value
		err := json.Unmarshal([]byte(`{"k":"blob"}`), &decoded)
		require.Error(t, err)
	})
}
