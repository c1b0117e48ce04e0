package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"reflect"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/autotest/internal/discovery"
	"github.com/coral-mesh/autotest/internal/testutil"
)

// TestMain turns the test binary into a child when the harness environment is
// set, the same way autotest.Main does.
func TestMain(m *testing.M) {
	if IsChild(os.Getenv) {
		os.Exit(ServeChild(os.Getenv, zerolog.New(os.Stderr)))
	}
	if os.Getenv(inProcessExitEnv) != "" {
		runExitingCaseInProcess()
	}
	os.Exit(m.Run())
}

// inProcessExitEnv makes the test binary call childExits under the
// in-process runner instead of running tests.
const inProcessExitEnv = "AUTOTEST_TEST_INPROCESS_EXIT"

func runExitingCaseInProcess() {
	base, err := SelfBase(zerolog.Nop())
	if err != nil {
		os.Exit(ExitSetup)
	}
	pc := reflect.ValueOf(childExits).Pointer()
	entry := discovery.Entry{Symbol: runtime.FuncForPC(pc).Name(), Addr: uint64(pc) - base}

	_, _ = NewInProcessRunner(base, zerolog.Nop()).Run(context.Background(), discovery.Case{Name: "exits", Entry: entry})
	os.Exit(0)
}

func childReturns() {}

func childPanics() { panic("assertion failed") }

func childNilDeref() {
	var p *int
	*p = 1
}

func childWildAddress() {
	addr := uintptr(0xdead0000)
	_ = *(*int)(unsafe.Pointer(addr))
}

func childExits() { os.Exit(3) }

func childExitsLikeAbort() { os.Exit(ExitAborted) }

func childExitsLikeSegfault() { os.Exit(ExitSegfault) }

func childExitsLikeSetup() { os.Exit(ExitSetup) }

func childExitsZero() { os.Exit(0) }

func childPrints() {
	fmt.Println("printed to stdout")
	fmt.Fprintln(os.Stderr, "printed to stderr")
}

func childRaisesAbort() { _ = unix.Kill(unix.Getpid(), unix.SIGABRT) }

func childKilled() { _ = unix.Kill(unix.Getpid(), unix.SIGKILL) }

func childHangs() { time.Sleep(time.Hour) }

// entryOf describes fn as discovery would record it.
func entryOf(t *testing.T, fn func()) discovery.Entry {
	t.Helper()

	base, err := SelfBase(zerolog.Nop())
	require.NoError(t, err)

	pc := reflect.ValueOf(fn).Pointer()
	return discovery.Entry{
		Symbol: runtime.FuncForPC(pc).Name(),
		Addr:   uint64(pc) - base,
	}
}

func newTestRunner(t *testing.T, stderr *bytes.Buffer) *ProcessRunner {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return NewProcessRunner(ProcessConfig{Path: exe, RunID: "test-run", Stderr: stderr}, testutil.NewTestLogger(t))
}

func TestCallable(t *testing.T) {
	entry := entryOf(t, childReturns)
	base, err := SelfBase(zerolog.Nop())
	require.NoError(t, err)

	fn, err := Callable(entry, base)
	require.NoError(t, err)
	assert.Equal(t, EventReturned, Invoke(fn).Kind)

	fn, err = Callable(entryOf(t, childPanics), base)
	require.NoError(t, err)
	assert.Equal(t, EventAborted, Invoke(fn).Kind)

	_, err = Callable(discovery.Entry{Symbol: "wrong.name", Addr: entry.Addr}, base)
	assert.Error(t, err)

	_, err = Callable(discovery.Entry{Symbol: entry.Symbol, Addr: entry.Addr + 1}, base)
	assert.Error(t, err)

	_, err = Callable(discovery.Entry{Symbol: entry.Symbol, Addr: 0x10}, 0)
	assert.Error(t, err)
}

func TestInProcessRunner(t *testing.T) {
	base, err := SelfBase(zerolog.Nop())
	require.NoError(t, err)
	r := NewInProcessRunner(base, zerolog.Nop())

	ev, err := r.Run(testutil.NewTestContext(t), discovery.Case{Name: "nil", Entry: entryOf(t, childNilDeref)})
	require.NoError(t, err)
	assert.Equal(t, EventSegfault, ev.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, discovery.Case{Name: "returns", Entry: entryOf(t, childReturns)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInProcessRunnerExitEndsProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	exe, err := os.Executable()
	require.NoError(t, err)

	cmd := exec.Command(exe, "-test.run=^$") // #nosec G204 - re-executes the test binary.
	cmd.Env = append(os.Environ(), inProcessExitEnv+"=1")
	err = cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode(), "the status of os.Exit in a case leaks out")
}

func TestProcessRunner(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	tests := []struct {
		name   string
		fn     func()
		kind   EventKind
		status int
	}{
		{name: "returns", fn: childReturns, kind: EventReturned},
		{name: "panics", fn: childPanics, kind: EventAborted},
		{name: "nil dereference", fn: childNilDeref, kind: EventSegfault},
		{name: "wild address", fn: childWildAddress, kind: EventSegfault},
		{name: "exits", fn: childExits, kind: EventExited, status: 3},
		{name: "exits with the abort status", fn: childExitsLikeAbort, kind: EventExited, status: ExitAborted},
		{name: "exits with the segfault status", fn: childExitsLikeSegfault, kind: EventExited, status: ExitSegfault},
		{name: "exits with the setup status", fn: childExitsLikeSetup, kind: EventExited, status: ExitSetup},
		{name: "exits zero", fn: childExitsZero, kind: EventReturned},
		{name: "raises SIGABRT", fn: childRaisesAbort, kind: EventAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			r := newTestRunner(t, &stderr)

			ev, err := r.Run(testutil.NewTestContext(t), discovery.Case{Name: tt.name, Entry: entryOf(t, tt.fn)})
			require.NoError(t, err, stderr.String())
			assert.Equal(t, tt.kind, ev.Kind, stderr.String())
			assert.Equal(t, tt.status, ev.Status)
		})
	}
}

func TestProcessRunnerForwardsOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	var stderr bytes.Buffer
	r := newTestRunner(t, &stderr)

	ev, err := r.Run(testutil.NewTestContext(t), discovery.Case{Name: "prints", Entry: entryOf(t, childPrints)})
	require.NoError(t, err)
	assert.Equal(t, EventReturned, ev.Kind)
	assert.Contains(t, stderr.String(), "printed to stdout")
	assert.Contains(t, stderr.String(), "printed to stderr")
}

func TestProcessRunnerUnknownSignal(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	var stderr bytes.Buffer
	r := newTestRunner(t, &stderr)

	_, err := r.Run(testutil.NewTestContext(t), discovery.Case{Name: "killed", Entry: entryOf(t, childKilled)})
	var sigErr *UnknownSignalError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, unix.SIGKILL, sigErr.Signal)
	assert.Equal(t, "killed", sigErr.Case)
	assert.Contains(t, err.Error(), "SIGKILL")
}

func TestProcessRunnerSetupFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	var stderr bytes.Buffer
	r := newTestRunner(t, &stderr)

	_, err := r.Run(testutil.NewTestContext(t), discovery.Case{
		Name:  "bogus",
		Entry: discovery.Entry{Symbol: "does.not.exist", Addr: 0x10},
	})
	assert.ErrorIs(t, err, ErrChildSetup)
}

func TestProcessRunnerCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	var stderr bytes.Buffer
	r := newTestRunner(t, &stderr)

	hangs := discovery.Case{Name: "hangs", Entry: entryOf(t, childHangs)}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, hangs)
		errc <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyExit(t *testing.T) {
	t.Run("clean exit", func(t *testing.T) {
		ev, err := classifyExit("x", nil, EventReturned, "returned")
		require.NoError(t, err)
		assert.Equal(t, EventReturned, ev.Kind)

		ev, err = classifyExit("x", nil, EventReturned, "")
		require.NoError(t, err)
		assert.Equal(t, EventReturned, ev.Kind)
	})

	t.Run("wait failure", func(t *testing.T) {
		_, err := classifyExit("x", errors.New("wait failed"), EventReturned, "")
		require.Error(t, err)
	})

	exitWith := func(t *testing.T, code int) error {
		t.Helper()
		err := exec.Command("/bin/sh", "-c", fmt.Sprintf("exit %d", code)).Run()
		require.Error(t, err)
		return err
	}

	t.Run("status records", func(t *testing.T) {
		if _, err := os.Stat("/bin/sh"); err != nil {
			t.Skip("no /bin/sh")
		}

		ev, err := classifyExit("x", exitWith(t, ExitAborted), EventReturned, "aborted")
		require.NoError(t, err)
		assert.Equal(t, EventAborted, ev.Kind)

		ev, err = classifyExit("x", exitWith(t, ExitSegfault), EventReturned, "segfault")
		require.NoError(t, err)
		assert.Equal(t, EventSegfault, ev.Kind)

		_, err = classifyExit("x", exitWith(t, ExitSetup), EventReturned, statusSetup)
		assert.ErrorIs(t, err, ErrChildSetup)
	})

	t.Run("statuses without a record are plain exits", func(t *testing.T) {
		if _, err := os.Stat("/bin/sh"); err != nil {
			t.Skip("no /bin/sh")
		}

		for _, code := range []int{ExitAborted, ExitSegfault, ExitSetup, 3} {
			ev, err := classifyExit("x", exitWith(t, code), EventReturned, "")
			require.NoError(t, err)
			assert.Equal(t, Event{Kind: EventExited, Status: code}, ev)
		}

		ev, err := classifyExit("x", exitWith(t, 2), EventSegfault, "")
		require.NoError(t, err)
		assert.Equal(t, EventSegfault, ev.Kind)

		ev, err = classifyExit("x", exitWith(t, 2), EventReturned, "")
		require.NoError(t, err)
		assert.Equal(t, Event{Kind: EventExited, Status: 2}, ev)
	})
}

func TestServeChildReportsSetupFailure(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	defer func() { _ = w.Close() }()

	env := map[string]string{
		EnvCase:     "main.TEST_hello",
		EnvCaseAddr: "not-hex",
		EnvStatusFD: fmt.Sprint(w.Fd()),
	}
	getenv := func(k string) string { return env[k] }

	require.True(t, IsChild(getenv))
	assert.Equal(t, ExitSetup, ServeChild(getenv, zerolog.Nop()))

	require.NoError(t, w.Close())
	assert.Equal(t, statusSetup, readStatus(r))
}

func TestForwardOutput(t *testing.T) {
	in := "fatal error: unexpected signal during runtime execution\n" +
		"[signal SIGSEGV: segmentation violation code=0x1 addr=0x0 pc=0x0]\n" +
		"SIGSEGV: segmentation violation\n" +
		"PC=0x0 m=0 sigcode=1\n"

	var out bytes.Buffer
	assert.Equal(t, EventSegfault, forwardOutput(bytes.NewBufferString(in), &out))
	assert.Equal(t, in, out.String())

	out.Reset()
	assert.Equal(t, EventAborted, forwardOutput(bytes.NewBufferString("SIGABRT: abort\nPC=0x0\n"), &out))

	out.Reset()
	assert.Equal(t, EventReturned, forwardOutput(bytes.NewBufferString("plain output"), &out))
	assert.Equal(t, "plain output\n", out.String())
}

func TestChildEnvironment(t *testing.T) {
	req := ChildRequest{Entry: discovery.Entry{Symbol: "main.TEST_hello", Addr: 0x4a1b20}, RunID: "run-1", StatusFD: 3}
	env := make(map[string]string)
	for _, kv := range req.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}

	got, ok, err := ChildFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, req, got)

	_, ok, err = ChildFromEnv(func(string) string { return "" })
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ChildFromEnv(func(k string) string {
		if k == EnvCaseAddr {
			return "zz"
		}
		return "main.TEST_hello"
	})
	assert.True(t, ok)
	assert.Error(t, err)

	_, _, err = ChildFromEnv(func(k string) string {
		if k == EnvStatusFD {
			return "1"
		}
		return "main.TEST_hello"
	})
	assert.Error(t, err, "standard descriptors are not status pipes")

	filtered := childEnv([]string{"PATH=/bin", EnvCase + "=stale", EnvRunID + "=old", EnvStatusFD + "=3", "HOME=/root"})
	assert.Equal(t, []string{"PATH=/bin", "HOME=/root"}, filtered)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(Event{Kind: EventReturned}))
	assert.Equal(t, 134, ExitCode(Event{Kind: EventAborted}))
	assert.Equal(t, 139, ExitCode(Event{Kind: EventSegfault}))
	assert.Equal(t, 7, ExitCode(Event{Kind: EventExited, Status: 7}))
}

func TestUnknownSignalError(t *testing.T) {
	err := &UnknownSignalError{Case: "hello", Signal: syscall.SIGUSR1}
	assert.Contains(t, err.Error(), "hello")
	assert.Contains(t, err.Error(), "SIGUSR1")
}

func TestTransientSpawnError(t *testing.T) {
	assert.True(t, transientSpawnError(&os.PathError{Op: "fork/exec", Path: "/x", Err: unix.ETXTBSY}))
	assert.True(t, transientSpawnError(fmt.Errorf("start: %w", unix.EAGAIN)))
	assert.False(t, transientSpawnError(&os.PathError{Op: "fork/exec", Path: "/x", Err: unix.ENOENT}))
}
