package testutil

import (
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger creates a test logger at debug level that writes through
// t.Log, so output only shows for failing or verbose tests.
func NewTestLogger(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}
