package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/autotest/internal/discovery"
	"github.com/coral-mesh/autotest/internal/retry"
	"github.com/coral-mesh/autotest/internal/sys/proc"
)

// Crash headers printed by the Go runtime when a signal arrives in code it
// cannot recover, such as C code called through cgo.
const (
	segvHeader  = "SIGSEGV: segmentation violation"
	abortHeader = "SIGABRT: abort"
)

// maxLineSize bounds a single forwarded line of child output.
const maxLineSize = 1 << 20

// statusFD is the child descriptor of the status pipe, the first of
// exec.Cmd.ExtraFiles.
const statusFD = 3

// statusWait bounds the read of the status record after the child exited.
const statusWait = time.Second

// UnknownSignalError reports a child killed by a signal that is neither an
// abort nor a memory fault. There is no defined recovery for it.
type UnknownSignalError struct {
	Case   string
	Signal syscall.Signal
}

func (e *UnknownSignalError) Error() string {
	return fmt.Sprintf("test case %s was terminated by unexpected signal %d (%s)", e.Case, int(e.Signal), unix.SignalName(e.Signal))
}

// ErrChildSetup is returned when a child could not prepare the test case.
var ErrChildSetup = errors.New("child process failed to set up the test case")

// spawnRetry bounds retries of child start failures that the kernel reports
// as temporary.
var spawnRetry = retry.Config{
	MaxRetries:     5,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
}

// transientSpawnError reports start failures worth retrying: the executable
// is still open for writing by another process, or fork hit a resource limit.
func transientSpawnError(err error) bool {
	return errors.Is(err, unix.ETXTBSY) || errors.Is(err, unix.EAGAIN)
}

// ProcessConfig configures a ProcessRunner.
type ProcessConfig struct {
	// Path is the executable to re-execute. Defaults to /proc/self/exe.
	Path string
	// RunID is passed to every child.
	RunID string
	// Stderr receives the output of every child. Defaults to os.Stderr.
	Stderr io.Writer
	// Env is the base environment of children. Defaults to os.Environ().
	Env []string
}

// ProcessRunner runs each test case in a child process.
type ProcessRunner struct {
	config ProcessConfig
	logger zerolog.Logger
}

// NewProcessRunner creates a runner re-executing config.Path.
func NewProcessRunner(config ProcessConfig, logger zerolog.Logger) *ProcessRunner {
	if config.Path == "" {
		config.Path = proc.SelfExe
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if config.Env == nil {
		config.Env = os.Environ()
	}

	return &ProcessRunner{
		config: config,
		logger: logger.With().Str("component", "process-runner").Logger(),
	}
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, c discovery.Case) (Event, error) {
	req := ChildRequest{Entry: c.Entry, RunID: r.config.RunID, StatusFD: statusFD}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return Event{}, fmt.Errorf("failed to create status pipe: %w", err)
	}
	defer func() { _ = statusR.Close() }()

	var (
		cmd    *exec.Cmd
		stderr io.ReadCloser
	)
	err = retry.Do(ctx, spawnRetry, func() error {
		cmd = exec.CommandContext(ctx, r.config.Path) // #nosec G204 - re-executes the harness binary.
		cmd.Env = append(childEnv(r.config.Env), req.Environ()...)
		cmd.Stdout = r.config.Stderr
		cmd.ExtraFiles = []*os.File{statusW}

		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("failed to create stderr pipe: %w", err)
		}
		return cmd.Start()
	}, transientSpawnError)
	// Only the child may hold the write end, so the read sees EOF at its exit.
	_ = statusW.Close()
	if err != nil {
		return Event{}, fmt.Errorf("failed to start child for %s: %w", c.Name, err)
	}

	r.logger.Debug().
		Str("case", c.Name).
		Int("pid", cmd.Process.Pid).
		Str("entry", c.Entry.String()).
		Msg("Started child process")

	crash := forwardOutput(stderr, r.config.Stderr)
	err = cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Event{}, fmt.Errorf("interrupted while running %s: %w", c.Name, ctxErr)
	}

	record := readStatus(statusR)
	r.logger.Trace().Str("case", c.Name).Str("record", record).Msg("Child status record")

	return classifyExit(c.Name, err, crash, record)
}

// readStatus returns the status record a child wrote, or "" when it ended
// before writing one.
func readStatus(f *os.File) string {
	_ = f.SetReadDeadline(time.Now().Add(statusWait))
	data, _ := io.ReadAll(io.LimitReader(f, 64))
	return strings.TrimSpace(string(data))
}

// childEnv drops inherited child variables from env.
func childEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvCase+"=") ||
			strings.HasPrefix(kv, EnvCaseAddr+"=") ||
			strings.HasPrefix(kv, EnvRunID+"=") ||
			strings.HasPrefix(kv, EnvStatusFD+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// forwardOutput copies r to w line by line and returns the crash kind named by
// a Go runtime crash header, if one was seen.
func forwardOutput(r io.Reader, w io.Writer) EventKind {
	crash := EventReturned

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, segvHeader):
			crash = EventSegfault
		case strings.HasPrefix(line, abortHeader):
			crash = EventAborted
		}
		_, _ = fmt.Fprintln(w, line)
	}
	// A line beyond maxLineSize stops the scan; drain so the child never blocks.
	_, _ = io.Copy(w, r)

	return crash
}

// classifyExit turns the wait result and status record of a child into an
// event.
//
// Signals are taken from the wait status. Otherwise the record written by
// the child decides. Without a record the test case ended the process itself
// or the Go runtime crashed, and the exit status is reported as is, even when
// it collides with a status the child uses.
func classifyExit(name string, waitErr error, crash EventKind, record string) (Event, error) {
	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Event{}, fmt.Errorf("failed to wait for child running %s: %w", name, waitErr)
		}

		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			switch sig := status.Signal(); sig {
			case unix.SIGABRT:
				return Event{Kind: EventAborted, Detail: "killed by SIGABRT"}, nil
			case unix.SIGSEGV:
				return Event{Kind: EventSegfault, Detail: "killed by SIGSEGV"}, nil
			default:
				return Event{}, &UnknownSignalError{Case: name, Signal: sig}
			}
		}
		code = exitErr.ExitCode()
	}

	switch record {
	case statusSetup:
		return Event{}, fmt.Errorf("%s: %w", name, ErrChildSetup)
	case EventReturned.String():
		return Event{Kind: EventReturned}, nil
	case EventAborted.String():
		return Event{Kind: EventAborted}, nil
	case EventSegfault.String():
		return Event{Kind: EventSegfault}, nil
	}

	switch {
	case code == 0:
		return Event{Kind: EventReturned}, nil
	case code == goRuntimeCrash && crash != EventReturned:
		return Event{Kind: crash, Detail: "Go runtime crash"}, nil
	default:
		return Event{Kind: EventExited, Status: code}, nil
	}
}
