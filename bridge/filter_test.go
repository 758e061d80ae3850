package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilter(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		topic    string
		want     bool
	}{
		{"no patterns match all", nil, "orders", true},
		{"exact", []string{"orders"}, "orders", true},
		{"exact miss", []string{"orders"}, "payments", false},
		{"prefix wildcard", []string{"order*"}, "orders-eu", true},
		{"any of", []string{"payments", "orders"}, "orders", true},
		{"character class", []string{"shard-[0-3]"}, "shard-2", true},
		{"character class miss", []string{"shard-[0-3]"}, "shard-7", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewGlobFilter(tt.patterns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.topic))
		})
	}
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[unclosed"})
	assert.Error(t, err)
}
