// Package errors provides utilities for error handling in autotest.
package errors

import (
	"io"

	"github.com/rs/zerolog"
)

// DeferClose properly closes an io.Closer with logging.
// Use this in defer statements to avoid suppressing close errors.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRun runs a cleanup function in a defer statement and logs its error.
// A nil function is a no-op.
func DeferRun(logger zerolog.Logger, cleanup func() error, msg string) {
	if cleanup == nil {
		return
	}
	if err := cleanup(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}
