package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/autotest/internal/discovery"
)

// Environment of a child process.
const (
	EnvCase     = "AUTOTEST_CASE"
	EnvCaseAddr = "AUTOTEST_CASE_ADDR"
	EnvRunID    = "AUTOTEST_RUN_ID"
	EnvStatusFD = "AUTOTEST_STATUS_FD"
)

// Exit statuses of a child process. Aborted and segfault follow the shell
// convention of 128 plus the signal number. They are informational: the
// parent trusts the status record, since a test case may exit with any status
// on its own.
const (
	ExitReturned   = 0
	ExitSetup      = 125
	ExitAborted    = 128 + int(unix.SIGABRT)
	ExitSegfault   = 128 + int(unix.SIGSEGV)
	goRuntimeCrash = 2
)

// statusSetup is the status record of a child that could not prepare its
// test case. The other records are EventKind names.
const statusSetup = "setup"

// ChildRequest is the test case a child process runs.
type ChildRequest struct {
	Entry discovery.Entry
	RunID string
	// StatusFD is the inherited descriptor the child writes its status record
	// to before exiting. Zero means none.
	StatusFD int
}

// Environ returns the environment entries describing r.
func (r ChildRequest) Environ() []string {
	env := []string{
		EnvCase + "=" + r.Entry.Symbol,
		EnvCaseAddr + "=" + strconv.FormatUint(r.Entry.Addr, 16),
		EnvRunID + "=" + r.RunID,
	}
	if r.StatusFD > 0 {
		env = append(env, EnvStatusFD+"="+strconv.Itoa(r.StatusFD))
	}
	return env
}

// IsChild reports whether the environment asks this process to run a test
// case.
func IsChild(getenv func(string) string) bool {
	return getenv(EnvCase) != ""
}

// ChildFromEnv reads a child request from the environment. It reports false
// when the process is not a child.
func ChildFromEnv(getenv func(string) string) (ChildRequest, bool, error) {
	symbol := getenv(EnvCase)
	if symbol == "" {
		return ChildRequest{}, false, nil
	}

	req := ChildRequest{RunID: getenv(EnvRunID)}
	if raw := getenv(EnvStatusFD); raw != "" {
		fd, err := strconv.Atoi(raw)
		if err != nil || fd <= 2 {
			return ChildRequest{}, true, fmt.Errorf("invalid %s %q", EnvStatusFD, raw)
		}
		req.StatusFD = fd
	}

	raw := strings.TrimPrefix(getenv(EnvCaseAddr), "0x")
	addr, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return req, true, fmt.Errorf("invalid %s %q: %w", EnvCaseAddr, raw, err)
	}
	req.Entry = discovery.Entry{Symbol: symbol, Addr: addr}

	return req, true, nil
}

// ServeChild runs the test case the environment requests and returns the exit
// status to terminate with. Callers check IsChild first.
func ServeChild(getenv func(string) string, logger zerolog.Logger) int {
	req, _, err := ChildFromEnv(getenv)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid child environment")
		reportStatus(req.StatusFD, statusSetup, logger)
		return ExitSetup
	}
	return RunChild(req, logger)
}

// ExitCode maps an event of the in-process trap to the child's exit status.
func ExitCode(ev Event) int {
	switch ev.Kind {
	case EventAborted:
		return ExitAborted
	case EventSegfault:
		return ExitSegfault
	case EventExited:
		return ev.Status
	default:
		return ExitReturned
	}
}

// RunChild runs the requested test case in the current process and returns
// the exit status to terminate with.
//
// Standard output is rebound to standard error first, as the harness does, so
// that anything the case prints lands on the diagnostic stream.
func RunChild(req ChildRequest, logger zerolog.Logger) int {
	logger = logger.With().
		Str("component", "child").
		Str("run_id", req.RunID).
		Str("entry", req.Entry.String()).
		Logger()

	// Processes started by the test case must not hold the status pipe open.
	if req.StatusFD > 0 {
		unix.CloseOnExec(req.StatusFD)
	}

	if err := unix.Dup2(2, 1); err != nil {
		logger.Error().Err(err).Msg("Failed to redirect standard output")
		reportStatus(req.StatusFD, statusSetup, logger)
		return ExitSetup
	}

	base, err := SelfBase(logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get load base")
		reportStatus(req.StatusFD, statusSetup, logger)
		return ExitSetup
	}

	fn, err := Callable(req.Entry, base)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve test case")
		reportStatus(req.StatusFD, statusSetup, logger)
		return ExitSetup
	}

	ev := Invoke(fn)
	if ev.Kind != EventReturned {
		logger.Warn().
			Str("event", ev.Kind.String()).
			Str("detail", ev.Detail).
			Msg("Test case did not return")
	}

	reportStatus(req.StatusFD, ev.Kind.String(), logger)
	return ExitCode(ev)
}

// reportStatus writes the status record to fd. The descriptor stays open
// until the process exits.
func reportStatus(fd int, record string, logger zerolog.Logger) {
	if fd <= 0 {
		return
	}
	if _, err := unix.Write(fd, []byte(record+"\n")); err != nil {
		logger.Error().Err(err).Int("fd", fd).Msg("Failed to write status record")
	}
}
