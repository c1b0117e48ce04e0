package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/autotest/internal/config"
)

func newFlagCmd(f *ConfigFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	f.AddFlags(cmd.Flags())
	return cmd
}

func TestConfigFlags_ApplyOnlyChanged(t *testing.T) {
	var f ConfigFlags
	cmd := newFlagCmd(&f)
	require.NoError(t, cmd.Flags().Parse([]string{"--isolation", "inprocess", "--run", "a", "--run", "b"}))

	cfg := config.Default()
	cfg.Strategy = "sections"
	f.Apply(cfg, cmd.Flags())

	assert.Equal(t, "sections", cfg.Strategy)
	assert.Equal(t, "inprocess", cfg.Isolation)
	assert.Equal(t, []string{"a", "b"}, cfg.Run)
	assert.Equal(t, config.DefaultLogLevel, cfg.Log.Level)
}

func TestConfigFlags_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy: dynamic\nlog:\n  level: info\n"), 0o600))
	t.Setenv("AUTOTEST_LOG_LEVEL", "error")

	var f ConfigFlags
	cmd := newFlagCmd(&f)
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "--strategy", "sections", "--log-pretty"}))

	cfg, err := f.Load(cmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, "sections", cfg.Strategy)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
}

func TestConfigFlags_LoadInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	var f ConfigFlags
	cmd := newFlagCmd(&f)
	require.NoError(t, cmd.Flags().Parse([]string{"--isolation", "thread"}))

	_, err := f.Load(cmd.Flags())
	var multi *config.MultiValidationError
	assert.ErrorAs(t, err, &multi)
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, ValidateFormat("json", Formats))
	assert.EqualError(t, ValidateFormat("xml", Formats), `unsupported format "xml", must be one of: table, json, csv`)
}
