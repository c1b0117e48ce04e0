package harness

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/autotest/internal/config"
)

// Main runs the tests of the current process with the TAP stream on the
// original standard output and returns the process exit code.
func Main(ctx context.Context, cfg *config.Config, logger zerolog.Logger) int {
	redirect, err := RedirectStdout()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to set up descriptors")
		_, _ = fmt.Fprintf(os.Stdout, "Bail out! %v\n", err)
		return 1
	}
	defer func() {
		if err := redirect.Restore(); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore stdout")
		}
	}()

	h := New(Options{Config: cfg, Output: redirect.TAP()}, logger)
	summary, err := h.Run(ctx)
	if err != nil {
		return 1
	}
	return summary.ExitCode()
}
