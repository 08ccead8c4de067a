package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfigPath(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty path", "", true},
		{"json file", filepath.Join(tmpDir, "config.json"), false},
		{"yaml file", filepath.Join(tmpDir, "config.yaml"), false},
		{"yml file", filepath.Join(tmpDir, "config.yml"), false},
		{"wrong extension", filepath.Join(tmpDir, "config.toml"), true},
		{"no extension", filepath.Join(tmpDir, "config"), true},
		{"relative traversal", "../../etc/passwd.json", true},
		{"path too long", filepath.Join(tmpDir, strings.Repeat("a", maxPathLen)+".json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadConfigFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := readConfigFile(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})

	t.Run("directory rejected", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.Mkdir(dir, 0o755))
		_, err := readConfigFile(dir)
		assert.Error(t, err)
	})

	t.Run("regular file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version":"1.0.0"}`), 0o644))
		data, err := readConfigFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "1.0.0")
	})
}

func TestWriteConfigFile(t *testing.T) {
	t.Run("owner-only permissions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.json")
		require.NoError(t, writeConfigFile(path, []byte(`{}`)))

		st, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	})

	t.Run("oversized payload rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.json")
		err := writeConfigFile(path, make([]byte, maxConfigBytes+1))
		assert.ErrorContains(t, err, "limit")
	})

	t.Run("bad extension rejected", func(t *testing.T) {
		err := writeConfigFile(filepath.Join(t.TempDir(), "out.conf"), []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestCheckJSONDepth(t *testing.T) {
	t.Run("flat document", func(t *testing.T) {
		assert.NoError(t, checkJSONDepth([]byte(`{"a": 1, "b": [1, 2, 3]}`)))
	})

	t.Run("brackets inside strings ignored", func(t *testing.T) {
		assert.NoError(t, checkJSONDepth([]byte(`{"a": "{{{{"}`)))
	})

	t.Run("escaped quote stays inside the string", func(t *testing.T) {
		assert.NoError(t, checkJSONDepth([]byte(`{"a": "say \"{\" loud"}`)))
	})

	t.Run("nesting too deep", func(t *testing.T) {
		deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
		assert.Error(t, checkJSONDepth([]byte(deep)))
	})

	t.Run("unclosed brackets", func(t *testing.T) {
		assert.Error(t, checkJSONDepth([]byte(`{"a": {`)))
	})

	t.Run("closer without opener", func(t *testing.T) {
		assert.Error(t, checkJSONDepth([]byte(`}`)))
	})
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("EDIPROC_BUCKET", "edi-files"))
	assert.NoError(t, checkEnvValue("EDIPROC_BUCKET", ""), "empty is treated as unset")
	assert.Error(t, checkEnvValue("EDIPROC_BUCKET", "bad\x00value"))
	assert.Error(t, checkEnvValue("EDIPROC_BUCKET", strings.Repeat("x", maxEnvValueLen+1)))
}
