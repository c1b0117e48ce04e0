// Package testutil provides testing utilities shared by the autotest packages.
package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTimeout bounds a single test that spawns processes.
const DefaultTimeout = 30 * time.Second

// NewTestContext returns a context cancelled after DefaultTimeout or when the
// test ends.
func NewTestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}
