package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/autotest/internal/discovery"
)

// Isolation selects where test cases run.
type Isolation string

const (
	// IsolationProcess runs every case in its own child process.
	IsolationProcess Isolation = "process"
	// IsolationInProcess calls every case in the harness process.
	IsolationInProcess Isolation = "inprocess"
)

// ParseIsolation validates an isolation mode name.
func ParseIsolation(name string) (Isolation, error) {
	switch Isolation(name) {
	case IsolationProcess, IsolationInProcess:
		return Isolation(name), nil
	}
	return "", fmt.Errorf("unknown isolation mode %q (valid: process, inprocess)", name)
}

// Runner runs one test case and reports its raw event. An error aborts the
// whole run.
type Runner interface {
	Run(ctx context.Context, c discovery.Case) (Event, error)
}

// InProcessRunner calls test cases in the current process under the trap.
//
// The trap only covers panics and memory faults. Go runtime fatal errors, such
// as faults in C code, terminate the harness. So does a test case calling
// os.Exit: the harness then ends with that status and without a TAP plan, so
// the stream is incomplete and the exit status is the test's, not 0 or 1.
// Use process isolation for cases that may exit.
type InProcessRunner struct {
	base   uint64
	logger zerolog.Logger
}

// NewInProcessRunner creates a runner for an executable loaded at base.
func NewInProcessRunner(base uint64, logger zerolog.Logger) *InProcessRunner {
	return &InProcessRunner{
		base:   base,
		logger: logger.With().Str("component", "inprocess-runner").Logger(),
	}
}

// Run implements Runner.
func (r *InProcessRunner) Run(ctx context.Context, c discovery.Case) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	fn, err := Callable(c.Entry, r.base)
	if err != nil {
		return Event{}, err
	}
	return Invoke(fn), nil
}

// Executor runs test cases in order and decides their results.
type Executor struct {
	runner Runner
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an executor on top of runner.
func New(runner Runner, logger zerolog.Logger) *Executor {
	return &Executor{
		runner: runner,
		logger: logger.With().Str("component", "executor").Logger(),
		now:    time.Now,
	}
}

// Execute runs c unless it is skipped and decides its result.
func (e *Executor) Execute(ctx context.Context, c discovery.Case) (Result, error) {
	if c.Skip {
		e.logger.Debug().Str("case", c.Name).Msg("Skipping test case")
		return Skipped(c), nil
	}

	start := e.now()
	ev, err := e.runner.Run(ctx, c)
	if err != nil {
		return Result{}, err
	}

	res := Decide(c, ev)
	res.Duration = e.now().Sub(start)

	e.logger.Info().
		Str("case", c.Name).
		Str("event", ev.Kind.String()).
		Str("outcome", res.Outcome.String()).
		Dur("duration", res.Duration).
		Msg("Test case finished")

	return res, nil
}

// Run executes cases strictly in order, handing each result to report before
// moving on. It stops at the first runner or report error, and before the next
// case once ctx is cancelled.
func (e *Executor) Run(ctx context.Context, cases []discovery.Case, report func(Result) error) error {
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := e.Execute(ctx, c)
		if err != nil {
			return err
		}
		if err := report(res); err != nil {
			return err
		}
	}
	return nil
}
