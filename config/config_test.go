package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/hidemune/understeer-go/coalesce"
	"github.com/hidemune/understeer-go/config"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wheel_name: Logitech\nhat_mode: last\n"), 0o600))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := config.Parse(fs, []string{"-wheel-name=Fanatec"}, path)
	require.NoError(t, err)

	require.Equal(t, "Fanatec", cfg.WheelName)
	require.Equal(t, coalesce.HatLast, cfg.HatMode)
}

func TestParseDefaultsApplyWithoutFile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := config.Parse(fs, nil, "")
	require.NoError(t, err)

	require.Equal(t, 50, cfg.InitialGainPercent)
	require.Equal(t, config.FFModeEasy, cfg.FFPassthrough)
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	file, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.File{}, file)
}
