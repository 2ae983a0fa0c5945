package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "authpipe"

// File names inside the config and data directories.
const (
	configFileName     = "config.toml"
	credentialFileName = "credentials.json"
	credentialDBName   = "credentials.db"
	keyFileName        = "store.key"
	pidFileName        = "serve.pid"
)

// baseDir describes where one kind of directory lives: the XDG variable that
// overrides it on Linux and the path under $HOME used otherwise. macOS keeps
// both kinds under Application Support.
type baseDir struct {
	xdgEnv   string
	fallback []string
}

var (
	configBase = baseDir{xdgEnv: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataBase   = baseDir{xdgEnv: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// resolve returns the application directory for goos, or "" when there is
// no home directory.
func (b baseDir) resolve(goos, home string) string {
	if goos == "linux" {
		if xdg := os.Getenv(b.xdgEnv); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	if home == "" {
		return ""
	}

	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	return filepath.Join(append(append([]string{home}, b.fallback...), appName)...)
}

func (b baseDir) dir() string {
	home, _ := os.UserHomeDir()

	return b.resolve(runtime.GOOS, home)
}

// DefaultConfigDir is where config.toml is looked up: $XDG_CONFIG_HOME or
// ~/.config on Linux.
func DefaultConfigDir() string { return configBase.dir() }

// DefaultDataDir holds the credential store, the store key, and the serve
// PID file: $XDG_DATA_HOME or ~/.local/share on Linux.
func DefaultDataDir() string { return dataBase.dir() }

// inDir joins name onto dir, keeping "" when dir is unknown.
func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// DefaultConfigPath is used when neither AUTHPIPE_CONFIG nor --config is set.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultStoragePath returns the default credential location for a backend:
// a JSON file for "file", a database for "sqlite", empty otherwise.
func DefaultStoragePath(backend string) string {
	switch backend {
	case "file":
		return inDir(DefaultDataDir(), credentialFileName)
	case "sqlite":
		return inDir(DefaultDataDir(), credentialDBName)
	default:
		return ""
	}
}

func DefaultKeyPath() string {
	return inDir(DefaultDataDir(), keyFileName)
}

// PIDFilePath is the serve process's lock and PID record.
func PIDFilePath() string {
	return inDir(DefaultDataDir(), pidFileName)
}
