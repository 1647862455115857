package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{`12.5`, 12.5},
		{`"12.5"`, 12.5},
		{`" 7 "`, 7},
		{`""`, 0},
		{`null`, 0},
		{`1e3`, 1000},
	}
	for _, tt := range tests {
		var n Number
		require.NoError(t, json.Unmarshal([]byte(tt.in), &n), tt.in)
		assert.Equal(t, tt.want, n.Float64(), tt.in)
	}

	var n Number
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &n))
	assert.Error(t, json.Unmarshal([]byte(`true`), &n))
}

func TestStringListUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"array", `["Yes","No"]`, []string{"Yes", "No"}},
		{"encoded string", `"[\"Yes\", \"No\"]"`, []string{"Yes", "No"}},
		{"encoded prices", `"[\"0.995\", \"0.005\"]"`, []string{"0.995", "0.005"}},
		{"bare numbers", `[1, 0]`, []string{"1", "0"}},
		{"null", `null`, nil},
		{"empty string", `""`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l StringList
			require.NoError(t, json.Unmarshal([]byte(tt.in), &l))
			assert.Equal(t, tt.want, []string(l))
		})
	}

	var l StringList
	assert.Error(t, json.Unmarshal([]byte(`"not json"`), &l))
}
