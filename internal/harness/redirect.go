package harness

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Redirect holds the original standard output while descriptor 1 points at
// standard error.
type Redirect struct {
	tap *os.File
}

// RedirectStdout duplicates descriptor 1 for the TAP stream and rebinds
// descriptor 1 to descriptor 2. Anything the process or its children print to
// standard output ends up on standard error.
func RedirectStdout() (*Redirect, error) {
	fd, err := unix.Dup(unix.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate stdout: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.Dup2(unix.Stderr, unix.Stdout); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to redirect stdout to stderr: %w", err)
	}

	return &Redirect{tap: os.NewFile(uintptr(fd), "tap")}, nil // #nosec G115 - fd is non-negative.
}

// TAP returns the original standard output.
func (r *Redirect) TAP() *os.File {
	return r.tap
}

// Restore points descriptor 1 back at the original standard output and
// releases the duplicate.
func (r *Redirect) Restore() error {
	if r.tap == nil {
		return nil
	}
	defer func() { r.tap = nil }()

	if err := unix.Dup2(int(r.tap.Fd()), unix.Stdout); err != nil { // #nosec G115 - descriptors fit in int.
		_ = r.tap.Close()
		return fmt.Errorf("failed to restore stdout: %w", err)
	}
	return r.tap.Close()
}
