package harness

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/autotest/internal/config"
	"github.com/coral-mesh/autotest/internal/discovery"
	"github.com/coral-mesh/autotest/internal/executor"
	"github.com/coral-mesh/autotest/internal/sys/proc"
	"github.com/coral-mesh/autotest/internal/testutil"
)

// TestMain serves child processes the same way autotest.Main does.
func TestMain(m *testing.M) {
	if executor.IsChild(os.Getenv) {
		os.Exit(executor.ServeChild(os.Getenv, zerolog.New(os.Stderr)))
	}
	os.Exit(m.Run())
}

func TEST_harness_pass() {}

func _TEST_harness_skip() { panic("skipped cases are never invoked") }

func TEST_SEGV_harness_fault() {
	var p *int
	*p = 1
}

func TEST_FAIL_harness_broken() { panic("broken on purpose") }

// cases keeps the test functions linked into the test binary.
var cases = []func(){
	TEST_harness_pass,
	_TEST_harness_skip,
	TEST_SEGV_harness_fault,
	TEST_FAIL_harness_broken,
}

// fakeRunner returns canned events by case name.
type fakeRunner struct {
	events map[string]executor.Event
	errs   map[string]error
	ran    []string
}

func (r *fakeRunner) Run(_ context.Context, c discovery.Case) (executor.Event, error) {
	r.ran = append(r.ran, c.Name)
	if err := r.errs[c.Name]; err != nil {
		return executor.Event{}, err
	}
	return r.events[c.Name], nil
}

func testConfig(run ...string) *config.Config {
	cfg := config.Default()
	cfg.Strategy = string(discovery.StrategySections)
	cfg.Log.Pretty = false
	cfg.Run = run
	return cfg
}

func newTestHarness(cfg *config.Config, runner executor.Runner, out *bytes.Buffer) *Harness {
	return New(Options{
		Config: cfg,
		Target: discovery.File(proc.SelfExe),
		Output: out,
		Stderr: &bytes.Buffer{},
		Runner: runner,
		RunID:  "test-run",
	}, zerolog.Nop())
}

func goldenTAP(t *testing.T, name string, out []byte) {
	t.Helper()
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, name, out)
}

func TestHarness_Discover(t *testing.T) {
	require.Len(t, cases, 4)

	h := newTestHarness(testConfig("harness_"), &fakeRunner{}, &bytes.Buffer{})
	res, err := h.Discover()
	require.NoError(t, err)

	assert.Equal(t, discovery.StrategySections, res.Strategy)
	assert.ElementsMatch(t,
		[]string{"harness_pass", "harness_skip", "harness_fault", "harness_broken"},
		res.Cases.Names())
	assert.Equal(t, "test-run", h.RunID())
}

func TestHarness_RunAll(t *testing.T) {
	runner := &fakeRunner{events: map[string]executor.Event{
		"harness_pass":   {Kind: executor.EventReturned},
		"harness_fault":  {Kind: executor.EventSegfault},
		"harness_broken": {Kind: executor.EventAborted},
	}}

	var out bytes.Buffer
	summary, err := newTestHarness(testConfig("harness_"), runner, &out).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 4, Passed: 3, Skipped: 1}, summary)
	assert.Equal(t, 0, summary.ExitCode())
	assert.NotContains(t, runner.ran, "harness_skip")

	tap := out.String()
	assert.True(t, strings.HasPrefix(tap, "TAP version 13\n"))
	assert.Contains(t, tap, "ok 1 ")
	assert.Contains(t, tap, "# SKIP Symbol prefixed with underscore (_TEST_harness_skip)\n")
	assert.Contains(t, tap, "  message: Test case encountered a segfault\n  severity: comment\n")
	assert.Contains(t, tap, "  message: Test case aborted\n  severity: comment\n")
	assert.True(t, strings.HasSuffix(tap, "1..4\n"))
	assert.NotContains(t, tap, "not ok")
}

func TestHarness_SingleFault(t *testing.T) {
	runner := &fakeRunner{events: map[string]executor.Event{
		"harness_fault": {Kind: executor.EventSegfault},
	}}

	var out bytes.Buffer
	summary, err := newTestHarness(testConfig("harness_fault"), runner, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)

	goldenTAP(t, "single_fault", out.Bytes())
}

func TestHarness_FailureExitCode(t *testing.T) {
	runner := &fakeRunner{events: map[string]executor.Event{
		"harness_pass": {Kind: executor.EventExited, Status: 3},
	}}

	var out bytes.Buffer
	summary, err := newTestHarness(testConfig("harness_pass"), runner, &out).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 1, Failed: 1}, summary)
	assert.Equal(t, 1, summary.ExitCode())
	goldenTAP(t, "exit_status", out.Bytes())
}

func TestHarness_ZeroCases(t *testing.T) {
	var out bytes.Buffer
	summary, err := newTestHarness(testConfig("no_such_case"), &fakeRunner{}, &out).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{}, summary)
	assert.Equal(t, 0, summary.ExitCode())
	goldenTAP(t, "zero_cases", out.Bytes())
}

func TestHarness_UnknownSignalBailsOut(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"harness_pass": &executor.UnknownSignalError{Case: "harness_pass", Signal: syscall.SIGUSR1},
	}}

	var out bytes.Buffer
	_, err := newTestHarness(testConfig("harness_pass"), runner, &out).Run(context.Background())

	var b *Bailout
	require.ErrorAs(t, err, &b)
	var sig *executor.UnknownSignalError
	assert.ErrorAs(t, err, &sig)

	goldenTAP(t, "unknown_signal", out.Bytes())
}

func TestHarness_DiscoveryFailureBailsOut(t *testing.T) {
	var out bytes.Buffer
	h := New(Options{
		Config: testConfig(),
		Target: discovery.File("/nonexistent/autotest-binary"),
		Output: &out,
		Runner: &fakeRunner{},
	}, zerolog.Nop())

	_, err := h.Run(context.Background())

	var b *Bailout
	require.ErrorAs(t, err, &b)
	assert.True(t, strings.HasPrefix(out.String(), "TAP version 13\nBail out! test discovery failed: "))
	assert.NotEmpty(t, h.RunID())
}

func TestHarness_InvalidStrategyBailsOut(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = "brute"

	var out bytes.Buffer
	_, err := newTestHarness(cfg, &fakeRunner{}, &out).Run(context.Background())

	var b *Bailout
	require.ErrorAs(t, err, &b)
	assert.Contains(t, out.String(), "Bail out! test discovery failed: unknown discovery strategy \"brute\"")
}

func TestHarness_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := newTestHarness(testConfig("harness_pass"), &fakeRunner{}, &out).Run(ctx)

	require.ErrorIs(t, err, ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, out.String(), "Bail out! interrupted: context canceled\n")
}

func TestHarness_OutputError(t *testing.T) {
	runner := &fakeRunner{events: map[string]executor.Event{"harness_pass": {Kind: executor.EventReturned}}}

	h := newTestHarness(testConfig("harness_pass"), runner, &bytes.Buffer{})
	h.opts.Output = failingWriter{}

	_, err := h.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed pipe")
	assert.Empty(t, runner.ran)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestHarness_Isolation(t *testing.T) {
	for _, isolation := range []executor.Isolation{executor.IsolationProcess, executor.IsolationInProcess} {
		t.Run(string(isolation), func(t *testing.T) {
			cfg := testConfig("harness_")
			cfg.Isolation = string(isolation)

			var out, stderr bytes.Buffer
			h := New(Options{
				Config: cfg,
				Target: discovery.File(proc.SelfExe),
				Output: &out,
				Stderr: &stderr,
				RunID:  "isolation-run",
			}, testutil.NewTestLogger(t))

			summary, err := h.Run(testutil.NewTestContext(t))
			require.NoError(t, err, out.String())

			assert.Equal(t, Summary{Total: 4, Passed: 3, Skipped: 1}, summary, out.String())
		})
	}
}

func TestSummary_ExitCode(t *testing.T) {
	var s Summary
	s.add(executor.Result{Outcome: executor.OutcomePass})
	s.add(executor.Result{Outcome: executor.OutcomeSkipped})
	assert.Equal(t, 0, s.ExitCode())

	s.add(executor.Result{Outcome: executor.OutcomeFail})
	assert.Equal(t, Summary{Total: 3, Passed: 1, Failed: 1, Skipped: 1}, s)
	assert.Equal(t, 1, s.ExitCode())
}
