package harness

import (
	"errors"
	"fmt"
)

// ErrInterrupted reports a run stopped by cancellation.
var ErrInterrupted = errors.New("interrupted")

// Bailout is a harness-fatal error. The run stops and the TAP stream ends with
// "Bail out!".
type Bailout struct {
	Err error
}

func (b *Bailout) Error() string {
	return b.Err.Error()
}

func (b *Bailout) Unwrap() error {
	return b.Err
}

func bailout(format string, args ...any) *Bailout {
	return &Bailout{Err: fmt.Errorf(format, args...)}
}
