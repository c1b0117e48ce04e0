package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/autotest/internal/config"
	"github.com/coral-mesh/autotest/internal/discovery"
	"github.com/coral-mesh/autotest/internal/executor"
	"github.com/coral-mesh/autotest/internal/tap"
)

// Options configures a run.
type Options struct {
	Config *config.Config
	// Target is the executable to discover. The zero value is the running
	// process.
	Target discovery.Target
	// Output receives the TAP stream.
	Output io.Writer
	// Stderr receives child output. Defaults to os.Stderr.
	Stderr io.Writer
	// Runner overrides the runner selected by Config.Isolation.
	Runner executor.Runner
	// RunID identifies the run in logs and child environments. A random UUID
	// is used when empty.
	RunID string
}

// Summary counts the results of a run.
type Summary struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

func (s *Summary) add(r executor.Result) {
	s.Total++
	switch r.Outcome {
	case executor.OutcomePass:
		s.Passed++
	case executor.OutcomeFail:
		s.Failed++
	case executor.OutcomeSkipped:
		s.Skipped++
	}
}

// ExitCode is 0 when no case failed.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Harness discovers and runs test cases.
type Harness struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a harness.
func New(opts Options, logger zerolog.Logger) *Harness {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Target.Path == "" {
		opts.Target = discovery.Self(logger)
	}

	return &Harness{
		opts:   opts,
		logger: logger.With().Str("run_id", opts.RunID).Logger(),
	}
}

// RunID returns the run identifier.
func (h *Harness) RunID() string {
	return h.opts.RunID
}

// Discover enumerates the cases of the target and applies the run filters.
func (h *Harness) Discover() (*discovery.Result, error) {
	strategy, err := discovery.ParseStrategy(h.opts.Config.Strategy)
	if err != nil {
		return nil, err
	}

	res, err := discovery.NewDiscoverer(h.logger).Discover(h.opts.Target, strategy)
	if err != nil {
		return nil, err
	}

	for _, sym := range res.Unresolved {
		h.logger.Warn().Str("symbol", sym).Msg("Test symbol has no callable function, dropping it")
	}

	if len(h.opts.Config.Run) > 0 {
		res.Cases = res.Cases.Filter(h.opts.Config.Run)
		h.logger.Debug().
			Strs("patterns", h.opts.Config.Run).
			Int("cases", res.Cases.Len()).
			Msg("Applied run filters")
	}

	return res, nil
}

// Run discovers and executes every case, writing TAP to Options.Output. A
// harness-fatal error is reported as "Bail out!" and returned as *Bailout.
func (h *Harness) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	w := tap.NewWriter(h.opts.Output)

	if err := w.Header(); err != nil {
		return summary, fmt.Errorf("failed to write TAP header: %w", err)
	}

	if err := h.run(ctx, w, &summary); err != nil {
		var b *Bailout
		if !errors.As(err, &b) {
			b = &Bailout{Err: err}
		}
		h.logger.Error().Err(b.Err).Int("results", w.Count()).Msg("Bailing out")
		if werr := w.Bailout(b.Error()); werr != nil {
			h.logger.Error().Err(werr).Msg("Failed to write bailout")
		}
		return summary, b
	}

	if err := w.Plan(); err != nil {
		return summary, fmt.Errorf("failed to write TAP plan: %w", err)
	}

	h.logger.Info().
		Int("total", summary.Total).
		Int("passed", summary.Passed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Run complete")

	return summary, nil
}

func (h *Harness) run(ctx context.Context, w *tap.Writer, summary *Summary) error {
	res, err := h.Discover()
	if err != nil {
		return bailout("test discovery failed: %w", err)
	}

	runner, err := h.runner()
	if err != nil {
		return bailout("failed to prepare runner: %w", err)
	}

	exec := executor.New(runner, h.logger)
	err = exec.Run(ctx, res.Cases.Cases(), func(r executor.Result) error {
		summary.add(r)
		return w.Result(r)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Bailout{Err: fmt.Errorf("%w: %w", ErrInterrupted, ctxErr)}
		}
		return err
	}
	return nil
}

func (h *Harness) runner() (executor.Runner, error) {
	if h.opts.Runner != nil {
		return h.opts.Runner, nil
	}

	isolation, err := executor.ParseIsolation(h.opts.Config.Isolation)
	if err != nil {
		return nil, err
	}

	switch isolation {
	case executor.IsolationInProcess:
		base, err := executor.SelfBase(h.logger)
		if err != nil {
			return nil, err
		}
		return executor.NewInProcessRunner(base, h.logger), nil
	default:
		return executor.NewProcessRunner(executor.ProcessConfig{
			RunID:  h.opts.RunID,
			Stderr: h.opts.Stderr,
		}, h.logger), nil
	}
}
