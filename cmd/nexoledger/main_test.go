package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.Execute()
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "migrate"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestMigrate_RejectsUnknownDirection(t *testing.T) {
	assert.Error(t, run(t, "migrate", "sideways"))
	assert.Error(t, run(t, "migrate"))
}

func TestServe_InvalidConfigFailsBeforeConnecting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grants:\n  admin: [owner]\n"), 0o600))

	err := run(t, "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.owner")
}
