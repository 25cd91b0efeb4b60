// Package xdg implements the parts of the [XDG Base Directory
// Specification] understeerd needs to locate its configuration file
// and single-instance lock without hard-coding paths.
//
// [XDG Base Directory Specification]: https://specifications.freedesktop.org/basedir-spec/latest
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

// userOnly is the permission mode applied to every directory and file
// this package creates: owner read/write/execute only.
const userOnly os.FileMode = 0o700

// homeDir returns $HOME, or "/" if it isn't set — the fallback root
// the XDG spec's defaults are computed relative to.
func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}

	return "/"
}

// resolveDir returns the env var's value when it is set to an absolute
// path, otherwise fallback. This is the "is it set and sane" test the
// XDG spec requires before trusting an override.
func resolveDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" && filepath.IsAbs(dir) {
		return dir
	}

	return fallback
}

func configHome() string {
	return resolveDir("XDG_CONFIG_HOME", filepath.Join(homeDir(), ".config"))
}

func runtimeHome() string {
	return resolveDir("XDG_RUNTIME_DIR", "/tmp")
}

// openUnder opens relPath under base for read/write, creating it and
// any missing parent directories.
func openUnder(base, relPath string) (*os.File, error) {
	path := filepath.Clean(filepath.Join(base, relPath))

	if err := os.MkdirAll(filepath.Dir(path), userOnly); err != nil {
		return nil, fmt.Errorf("xdg.openUnder: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, userOnly)
	if err != nil {
		return nil, fmt.Errorf("xdg.openUnder: %w", err)
	}

	return file, nil
}

// ConfigFile opens, creating if necessary, a file under the XDG config
// home (e.g. "understeer/mapping.tsv"). Missing parent directories are
// created. The caller must Close the returned file.
func ConfigFile(relPath string) (*os.File, error) {
	return openUnder(configHome(), relPath)
}

// RuntimeFile opens, creating if necessary, a file under the XDG
// runtime directory. Falls back to /tmp when $XDG_RUNTIME_DIR is unset.
func RuntimeFile(relPath string) (*os.File, error) {
	return openUnder(runtimeHome(), relPath)
}

// ConfigPath resolves a relative path against the XDG config home
// without opening or creating it, for callers (like the default config
// file path and the single-instance lock) that need to know where a
// file would live before deciding whether to read it.
func ConfigPath(relPath string) string {
	return filepath.Join(configHome(), relPath)
}
