// Package autotest turns a Go binary into a self-discovering test runner.
//
// Any function named TEST_<name> that is linked into the binary is a test
// case. Calling Main from the binary's main function discovers those functions
// in the symbol tables of the running executable, runs each one in a fresh
// child process and writes the results to standard output as TAP version 13.
//
// Prefixes between TEST_ and the name declare expectations:
//
//	TEST_ABRT_<name>  a panic (the Go analogue of abort) is accepted
//	TEST_SEGV_<name>  a memory fault is accepted
//	TEST_FAIL_<name>  the test is expected to fail
//	_TEST_<name>      the test is reported as skipped and never run
//
// Prefixes combine, for example TEST_SEGV_FAIL_<name>. The Go linker drops
// functions that nothing references, so test functions must be referenced,
// typically with Keep:
//
//	var _ = autotest.Keep(TEST_parse, TEST_SEGV_nil_config)
//
//	func main() { autotest.Main() }
package autotest

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/autotest/internal/cli"
	"github.com/coral-mesh/autotest/internal/config"
	"github.com/coral-mesh/autotest/internal/executor"
	"github.com/coral-mesh/autotest/internal/logging"
)

// Main runs the binary's tests and exits. Exit status 0 means every executed
// test passed.
func Main() {
	os.Exit(run(os.Args[1:], os.Getenv))
}

func run(args []string, getenv func(string) string) int {
	// A child process runs exactly one test case and never parses flags.
	if executor.IsChild(getenv) {
		return executor.ServeChild(getenv, childLogger(getenv))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	return cli.ExecuteTests(ctx, args)
}

// childLogger logs to standard error at the harness's configured level.
func childLogger(getenv func(string) string) zerolog.Logger {
	level := getenv("AUTOTEST_LOG_LEVEL")
	if level == "" {
		level = config.DefaultLogLevel
	}
	return logging.New(logging.Config{Level: level, Output: os.Stderr})
}

// kept holds the functions passed to Keep.
var kept []func()

// Keep references fns so that the linker keeps them in the binary. It returns
// true so it can initialize a package-level blank variable.
func Keep(fns ...func()) bool {
	for i, fn := range fns {
		if fn == nil {
			panic(fmt.Sprintf("autotest: Keep called with a nil function (argument %d)", i))
		}
		kept = append(kept, fn)
	}
	return true
}
