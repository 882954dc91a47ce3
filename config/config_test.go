package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	l, err := Load("", nil)
	require.NoError(t, err)

	cfg := l.Snapshot()
	assert.True(t, cfg.Reconnect.Enabled)
	assert.Equal(t, time.Second, cfg.Reconnect.Delay)
	assert.Equal(t, 1000, cfg.Queue.MaxSize)
	assert.False(t, cfg.Encryption.Enabled)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), nil)
	require.NoError(t, err)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: wss://example.test/ws\nqueue:\n  max_size: 50\n"), 0o600))

	l, err := Load(path, nil)
	require.NoError(t, err)

	cfg := l.Snapshot()
	assert.Equal(t, "wss://example.test/ws", cfg.URL)
	assert.Equal(t, 50, cfg.Queue.MaxSize)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("WSRT_URL", "wss://env.example.test/ws")

	l, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://env.example.test/ws", l.Snapshot().URL)
}

func TestLoadFlagOverridesFileAndDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: wss://file.example.test/ws\n"), 0o600))

	flags := pflag.NewFlagSet("wsrtdemo", pflag.ContinueOnError)
	flags.String("url", "", "")
	require.NoError(t, flags.Set("url", "wss://flag.example.test/ws"))

	l, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "wss://flag.example.test/ws", l.Snapshot().URL)
}

func TestWatchInvokesOnChangeWithFreshSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  max_size: 10\n"), 0o600))

	l, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, l.Snapshot().Queue.MaxSize)

	// Watch is exercised for wiring/compile coverage; viper's fsnotify
	// watch latency makes asserting on the callback firing flaky in a
	// unit test, so this only verifies Watch can be armed without
	// panicking.
	l.Watch(func(Config) {})
}
