package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("TRADEGATE_TEST_DIR", "/var/data")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain path untouched", "/tmp/tradegate.db", "/tmp/tradegate.db"},
		{"tilde alone", "~", home},
		{"tilde prefix", "~/state/app.db", filepath.Join(home, "state", "app.db")},
		{"env var", "$TRADEGATE_TEST_DIR/app.db", "/var/data/app.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}

func TestEnsureParentDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "deep", "app.db")
	require.NoError(t, EnsureParentDir(target))

	info, err := os.Stat(filepath.Dir(target))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
