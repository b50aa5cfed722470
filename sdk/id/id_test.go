package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		prefix  string
		wantLen int
	}{
		{
			name:    "valid",
			prefix:  "at",
			wantLen: 32 + len("at_"),
		},
		{
			name:    "no-prefix",
			prefix:  "",
			wantLen: 32,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.prefix)
			require.NoError(err)
			if tt.prefix != "" {
				assert.True(strings.HasPrefix(got, tt.prefix+"_"), "wanted %q to start with %q", got, tt.prefix)
			}
			assert.Len(got, tt.wantLen)
			assert.NotContains(strings.TrimPrefix(got, tt.prefix+"_"), "-")
		})
	}
	t.Run("unique", func(t *testing.T) {
		require := require.New(t)
		first, err := New("n")
		require.NoError(err)
		second, err := New("n")
		require.NoError(err)
		require.NotEqual(first, second)
	})
}
