// Package tap writes test results as TAP version 13.
package tap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/autotest/internal/executor"
)

const skipReason = "Symbol prefixed with underscore"

// diagnostic is the YAML block attached to a result with a message.
type diagnostic struct {
	Message  string `yaml:"message"`
	Severity string `yaml:"severity"`
}

// Writer emits a TAP stream. Every call flushes, so the stream is complete up
// to the last result even if the process dies afterwards.
type Writer struct {
	w *bufio.Writer
	n int
}

// NewWriter creates a writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Count returns the number of results written.
func (w *Writer) Count() int {
	return w.n
}

// Header writes the version line.
func (w *Writer) Header() error {
	_, _ = w.w.WriteString("TAP version 13\n")
	return w.w.Flush()
}

// Result writes the status line of r and its diagnostic block.
func (w *Writer) Result(r executor.Result) error {
	w.n++

	name := r.Case.Name
	switch r.Outcome {
	case executor.OutcomeSkipped:
		fmt.Fprintf(w.w, "ok %d %s # SKIP %s (_TEST_%s)\n", w.n, name, skipReason, name)
	case executor.OutcomeFail:
		fmt.Fprintf(w.w, "not ok %d %s\n", w.n, name)
	default:
		fmt.Fprintf(w.w, "ok %d %s\n", w.n, name)
	}

	if r.Message != "" {
		if err := w.diagnostic(r); err != nil {
			return err
		}
	}

	return w.w.Flush()
}

func (w *Writer) diagnostic(r executor.Result) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(diagnostic{Message: r.Message, Severity: r.Severity.String()}); err != nil {
		return fmt.Errorf("failed to encode diagnostic of %s: %w", r.Case.Name, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode diagnostic of %s: %w", r.Case.Name, err)
	}

	_, _ = w.w.WriteString("  ---\n")
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		_, _ = w.w.WriteString("  " + line + "\n")
	}
	_, _ = w.w.WriteString("  ...\n")
	return nil
}

// Plan writes the trailing count line. An empty run is planned as 0..0.
func (w *Writer) Plan() error {
	if w.n == 0 {
		_, _ = w.w.WriteString("0..0\n")
	} else {
		fmt.Fprintf(w.w, "1..%d\n", w.n)
	}
	return w.w.Flush()
}

// Bailout aborts the stream with msg.
func (w *Writer) Bailout(msg string) error {
	msg = strings.ReplaceAll(msg, "\n", " ")
	fmt.Fprintf(w.w, "Bail out! %s\n", msg)
	return w.w.Flush()
}
