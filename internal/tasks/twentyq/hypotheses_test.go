package twentyq

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHypotheses(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"one per line", "cat\ndog\ncar\n", []string{"cat", "dog", "car"}, false},
		{"trims and skips", "  cat \n\n# animals\ndog\r\n", []string{"cat", "dog"}, false},
		{"dedupes", "cat\ndog\ncat\n", []string{"cat", "dog"}, false},
		{"empty", "\n# nothing\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadHypotheses(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadHypotheses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "common.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat\ndog\n"), 0o600))

	got, err := LoadHypotheses(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, got)

	_, err = LoadHypotheses(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
