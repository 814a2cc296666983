package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"run", "count"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loadpub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("producer:\n  topic: from-file\n"), 0o644))

	cfg, err := loadConfig(&options{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Producer.Topic)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(&options{configPath: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}

func TestRunCmd_InvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loadpub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch:\n  batch_size: 0\n"), 0o644))

	root := newRootCmd()
	root.SetArgs([]string{"run", "--config", path, "--env-file", filepath.Join(t.TempDir(), "none.env")})

	assert.Error(t, root.Execute())
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger, err := newLogger("chatty")
	require.NoError(t, err)

	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestStartProfiling(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")

	stop, err := startProfiling(dir, zap.NewNop())
	require.NoError(t, err)
	stop()

	assert.FileExists(t, filepath.Join(dir, "cpu.pprof"))
	assert.FileExists(t, filepath.Join(dir, "mem.pprof"))
}
