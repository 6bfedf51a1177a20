package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "tick", "migrate"})
}

func TestTickWithMemoryBackends(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"tick"})
	require.NoError(t, root.Execute())
}

func TestMigrateRequiresPostgres(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	err := root.Execute()
	require.ErrorContains(t, err, "storage.backend")
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  batch_size: 0\n"), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"--config", path, "tick"})
	err := root.Execute()
	require.ErrorContains(t, err, "scheduler.batch_size")
}
