package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultDirs_NonEmpty(t *testing.T) {
	assert.Contains(t, DefaultConfigDir(), appName)
	assert.Contains(t, DefaultDataDir(), appName)
	assert.True(t, strings.HasSuffix(DefaultConfigPath(), "config.toml"))
}

func TestBaseDir_Resolve(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "")

	tests := []struct {
		name string
		base baseDir
		goos string
		home string
		want string
	}{
		{"linux xdg", configBase, "linux", "/home/u", filepath.Join("/xdg/config", appName)},
		{"linux xdg without home", configBase, "linux", "", filepath.Join("/xdg/config", appName)},
		{"linux fallback", dataBase, "linux", "/home/u", filepath.Join("/home/u", ".local", "share", appName)},
		{"darwin ignores xdg", configBase, "darwin", "/Users/u", filepath.Join("/Users/u", "Library", "Application Support", appName)},
		{"other", configBase, "freebsd", "/home/u", filepath.Join("/home/u", ".config", appName)},
		{"no home", dataBase, "linux", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.base.resolve(tt.goos, tt.home))
		})
	}
}

func TestDefaultStoragePath_PerBackend(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultStoragePath("file"), credentialFileName))
	assert.True(t, strings.HasSuffix(DefaultStoragePath("sqlite"), credentialDBName))
	assert.Empty(t, DefaultStoragePath("redis"))
	assert.Empty(t, DefaultStoragePath("memory"))
	assert.True(t, strings.HasSuffix(DefaultKeyPath(), keyFileName))
	assert.True(t, strings.HasSuffix(PIDFilePath(), pidFileName))
}

func TestInDir_UnknownDir(t *testing.T) {
	assert.Empty(t, inDir("", "x"))
	assert.Equal(t, filepath.Join("/a", "x"), inDir("/a", "x"))
}
