package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/autotest/internal/cli/helpers"
	"github.com/coral-mesh/autotest/internal/config"
	"github.com/coral-mesh/autotest/internal/harness"
	"github.com/coral-mesh/autotest/internal/logging"
)

// testsCmd is the command line of a test binary.
type testsCmd struct {
	flags helpers.ConfigFlags
	code  int

	// stdout and stderr override the process streams when set.
	stdout io.Writer
	stderr io.Writer

	// run executes the tests and returns the exit code.
	run func(ctx context.Context, cmd *cobra.Command, cfg *config.Config) int
}

// command builds the command line of a test binary. Running it without a
// subcommand runs every discovered test.
func (t *testsCmd) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   filepath.Base(os.Args[0]),
		Short: "Run the TEST_ functions of this binary and report TAP",
		Long: `Discovers the TEST_ functions linked into this binary and runs each one in
isolation. Results are written to standard output as TAP version 13; anything
the tests print to standard output goes to standard error instead.

Name prefixes after TEST_ declare expectations:
  TEST_ABRT_  an abort (Go panic) is accepted
  TEST_SEGV_  a memory fault is accepted
  TEST_FAIL_  the test is expected to fail
  _TEST_      the test is skipped`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          t.runE,
	}

	t.flags.AddFlags(cmd.PersistentFlags())
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the discovered tests (the default)",
		Args:  cobra.NoArgs,
		RunE:  t.runE,
	})
	cmd.AddCommand(t.listCommand())

	return cmd
}

func (t *testsCmd) runE(cmd *cobra.Command, args []string) error {
	cfg, err := t.flags.Load(cmd.Flags())
	if err != nil {
		// Configuration problems end the TAP stream like any other
		// harness-fatal error.
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Bail out! invalid configuration: %s\n", oneLine(err.Error()))
		t.code = 1
		return nil
	}
	t.code = t.run(cmd.Context(), cmd, cfg)
	return nil
}

func (t *testsCmd) listCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered tests without running them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.Formats); err != nil {
				return err
			}

			cfg, err := t.flags.Load(cmd.Flags())
			if err != nil {
				return err
			}

			h := harness.New(harness.Options{Config: cfg}, newLogger(cmd, cfg))
			res, err := h.Discover()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return helpers.NewListing(res).Write(out, helpers.OutputFormat(format), helpers.StylesFor(out))
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.Formats)
	return cmd
}

func runTests(ctx context.Context, cmd *cobra.Command, cfg *config.Config) int {
	return harness.Main(ctx, cfg, newLogger(cmd, cfg))
}

func newLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ExecuteTests runs the command line of a test binary with args and returns
// the process exit code.
func ExecuteTests(ctx context.Context, args []string) int {
	t := &testsCmd{run: runTests}
	return t.execute(ctx, args)
}

func (t *testsCmd) execute(ctx context.Context, args []string) int {
	cmd := t.command()
	cmd.SetArgs(args)
	if t.stdout != nil {
		cmd.SetOut(t.stdout)
	}
	if t.stderr != nil {
		cmd.SetErr(t.stderr)
	}

	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return t.code
}
