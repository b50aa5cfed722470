package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fedconnect/connector/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	dir := t.TempDir()

	require.NoError(loadEnv(""))
	require.NoError(loadEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(os.WriteFile(path, []byte(host.EnvClientID+"=dotenv-client\n"), 0o600))
	t.Setenv(host.EnvClientID, "")
	require.NoError(os.Unsetenv(host.EnvClientID))
	require.NoError(loadEnv(path))
	assert.Equal("dotenv-client", os.Getenv(host.EnvClientID))
}

func TestServeRequiresConfig(t *testing.T) {
	for _, env := range []string{host.EnvClientID, host.EnvClientSecret, host.EnvCallbackURL} {
		t.Setenv(env, "")
	}
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--env-file", "", "--config", ""})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id is required")
}

func TestCommands(t *testing.T) {
	t.Parallel()
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
	assert.NotNil(t, serve.Flags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}
