package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	b, err := Marshal(map[string]int{"zebra": 1, "apple": 2, "mango": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mango":3,"zebra":1}`, string(b))
}

func TestMarshalSortsNestedKeys(t *testing.T) {
	in := map[string]any{
		"b": map[string]any{"d": 1, "c": 2},
		"a": []any{map[string]any{"y": 1, "x": 2}},
	}
	b, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[{"x":2,"y":1}],"b":{"c":2,"d":1}}`, string(b))
}

func TestMarshalStableAcrossCalls(t *testing.T) {
	type payload struct {
		Mesh    string         `json:"mesh"`
		Version int            `json:"version"`
		Agents  map[string]int `json:"agents"`
	}
	p := payload{Mesh: "prod", Version: 7, Agents: map[string]int{"b": 2, "a": 1, "c": 3}}

	first, err := Marshal(p)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Marshal(p)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestMarshalPreservesNumberLiterals(t *testing.T) {
	b, err := Marshal(map[string]any{"ts": int64(1724500000123), "f": 1.5})
	require.NoError(t, err)
	assert.Equal(t, `{"f":1.5,"ts":1724500000123}`, string(b))
}

func TestMarshalRejectsUnencodable(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)
}

func TestMarshalEscapesStrings(t *testing.T) {
	b, err := Marshal(map[string]string{"k": "line\n\"quoted\""})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"line\n\"quoted\""}`, string(b))
}
