package normalize

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical_EmptyStringIsNull(t *testing.T) {
	eq, err := Equal("", nil)
	require.NoError(t, err)
	assert.True(t, eq, "clearing a field and setting it to \"\" must be the same edit")

	eq, err = Equal(" ", nil)
	require.NoError(t, err)
	assert.False(t, eq, "whitespace is a real value")
}

func TestCanonical_BigIntegersBecomeStrings(t *testing.T) {
	big := int64(1)<<53 + 1

	s, err := StableStringify(big)
	require.NoError(t, err)
	assert.Equal(t, `"9007199254740993"`, s)

	// The same id arriving as a json.Number and as an int64 must agree.
	eq, err := Equal(json.Number("9007199254740993"), big)
	require.NoError(t, err)
	assert.True(t, eq)

	small, err := StableStringify(int64(42))
	require.NoError(t, err)
	assert.Equal(t, "42", small)
}

func TestCanonical_NonFiniteNumbers(t *testing.T) {
	s, err := StableStringify(math.NaN())
	require.NoError(t, err)
	assert.Equal(t, `"NaN"`, s)

	s, err = StableStringify(math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, `"+Inf"`, s)
}

func TestCanonical_TimeIsRFC3339(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	s, err := StableStringify(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-01T12:30:00Z"`, s)

	// Same instant in another zone normalizes identically.
	eq, err := Equal(ts, ts.In(time.FixedZone("X", 3600)))
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestStableStringify_SortedKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	sa, err := StableStringify(a)
	require.NoError(t, err)
	sb, err := StableStringify(b)
	require.NoError(t, err)

	assert.Equal(t, sa, sb)
	assert.Equal(t, `{"a":2,"b":1}`, sa)
}

func TestEqual_NumericRepresentations(t *testing.T) {
	// int, int64, float64, and json.Number spellings of the same value.
	for _, v := range []any{7, int64(7), float64(7), json.Number("7")} {
		eq, err := Equal(v, float64(7))
		require.NoError(t, err)
		assert.True(t, eq, "%T should equal 7", v)
	}

	eq, err := Equal(7, 7.5)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestEqualJSON_EmptyIsNull(t *testing.T) {
	eq, err := EqualJSON(nil, json.RawMessage("null"))
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = EqualJSON(json.RawMessage(`""`), nil)
	require.NoError(t, err)
	assert.True(t, eq, "empty string JSON normalizes to null")
}

func TestJSON_NullCollapsesToNil(t *testing.T) {
	raw, err := JSON(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = JSON(map[string]any{"x": ""})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":null}`, string(raw))
}

func TestCanonical_NestedStructures(t *testing.T) {
	a := map[string]any{
		"roles": []any{
			map[string]any{"role_type": "AGENT", "description": ""},
		},
	}
	b := map[string]any{
		"roles": []any{
			map[string]any{"description": nil, "role_type": "AGENT"},
		},
	}

	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)
}
