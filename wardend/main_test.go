package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(c *cmdGlobal) *cobra.Command {
	cmd := &cobra.Command{Use: "wardend"}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVarP(&c.flagName, "name", "n", "", "")
	cmd.Flags().IntVarP(&c.flagDebug, "debug", "d", 0, "")
	cmd.Flags().Lookup("debug").NoOptDefVal = "1"
	cmd.Flags().StringVarP(&c.flagConfig, "config", "C", defaultConfigPath, "")
	cmd.Flags().StringVar(&c.flagPidfiles, "pidfiles", "", "")
	return cmd
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	write := func(content string) string {
		path := filepath.Join(dir, "wardend.conf")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("file fills defaults", func(t *testing.T) {
		c := &cmdGlobal{}
		cmd := newTestCmd(c)
		c.flagConfig = write("name svc\ndebug 2\npidfiles /run/wardend\n")

		require.NoError(t, c.loadConfig(cmd))
		assert.Equal(t, "svc", c.flagName)
		assert.Equal(t, 2, c.flagDebug)
		assert.Equal(t, "/run/wardend", c.flagPidfiles)
	})

	t.Run("flags win over the file", func(t *testing.T) {
		c := &cmdGlobal{}
		cmd := newTestCmd(c)
		require.NoError(t, cmd.Flags().Set("name", "cli"))
		c.flagConfig = write("name filename\n")

		require.NoError(t, c.loadConfig(cmd))
		assert.Equal(t, "cli", c.flagName)
	})

	t.Run("missing file is fine", func(t *testing.T) {
		c := &cmdGlobal{}
		cmd := newTestCmd(c)
		c.flagConfig = filepath.Join(dir, "does-not-exist.conf")

		require.NoError(t, c.loadConfig(cmd))
		assert.Empty(t, c.flagName)
	})

	t.Run("unknown directive rejected", func(t *testing.T) {
		c := &cmdGlobal{}
		cmd := newTestCmd(c)
		c.flagConfig = write("bogus value\n")

		assert.Error(t, c.loadConfig(cmd))
	})

	t.Run("bad debug level rejected", func(t *testing.T) {
		c := &cmdGlobal{}
		cmd := newTestCmd(c)
		c.flagConfig = write("debug lots\n")

		assert.Error(t, c.loadConfig(cmd))
	})
}

func TestCommandVectorSeparation(t *testing.T) {
	c := &cmdGlobal{}
	cmd := newTestCmd(c)

	// Flags stop at the first positional argument: everything after it
	// belongs to the supervised command, even things that look like flags.
	require.NoError(t, cmd.Flags().Parse([]string{"--name", "svc", "sleep", "--help", "60"}))

	assert.Equal(t, "svc", c.flagName)
	assert.Equal(t, []string{"sleep", "--help", "60"}, cmd.Flags().Args())
}
