package executor

import (
	"fmt"
	"time"

	"github.com/coral-mesh/autotest/internal/discovery"
)

// EventKind is what happened when a test case ran.
type EventKind int

const (
	// EventReturned means the function returned normally.
	EventReturned EventKind = iota
	// EventAborted means the function panicked or the process aborted.
	EventAborted
	// EventSegfault means the function hit a memory fault.
	EventSegfault
	// EventExited means the child process exited on its own with a status.
	EventExited
)

func (k EventKind) String() string {
	switch k {
	case EventReturned:
		return "returned"
	case EventAborted:
		return "aborted"
	case EventSegfault:
		return "segfault"
	case EventExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Event is the raw outcome of running a test case.
type Event struct {
	Kind EventKind
	// Status is the exit status of an EventExited.
	Status int
	// Detail is a diagnostic such as the recovered panic value. It is logged,
	// never reported.
	Detail string
}

// Message describes an event that counts as a failure by itself.
func (e Event) Message() string {
	switch e.Kind {
	case EventAborted:
		return "Test case aborted"
	case EventSegfault:
		return "Test case encountered a segfault"
	case EventExited:
		return fmt.Sprintf("Test case exited with status %d", e.Status)
	default:
		return ""
	}
}

// Outcome is the reported verdict of a test case.
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeFail
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Severity qualifies the diagnostic attached to a result.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityFail
	SeverityComment
)

func (s Severity) String() string {
	switch s {
	case SeverityFail:
		return "fail"
	case SeverityComment:
		return "comment"
	default:
		return ""
	}
}

// Result is the decided result of one test case.
type Result struct {
	Case     discovery.Case
	Outcome  Outcome
	Message  string
	Severity Severity
	Event    Event
	Duration time.Duration
}

// Passed reports whether the result counts as a pass. Skipped cases pass.
func (r Result) Passed() bool {
	return r.Outcome != OutcomeFail
}

const expectedFailureMessage = "Test case was expected to fail"

// Decide applies the expectations of c to the raw event ev.
//
// Aborts and faults fail unless the case expects them, and any exit status of
// a child fails. FAIL_ then inverts the verdict: an expected failure that
// happened passes with the event kept as a comment, and an expected failure
// that did not happen fails.
func Decide(c discovery.Case, ev Event) Result {
	res := Result{Case: c, Event: ev}

	var failed bool
	switch ev.Kind {
	case EventReturned:
		failed = false
	case EventAborted:
		failed = !c.ExpectAbort
	case EventSegfault:
		failed = !c.ExpectSegv
	default:
		failed = true
	}
	msg := ev.Message()

	switch {
	case c.ExpectFailure == failed:
		res.Outcome = OutcomePass
		if msg != "" {
			res.Message = msg
			res.Severity = SeverityComment
		}
	case c.ExpectFailure:
		res.Outcome = OutcomeFail
		res.Message = expectedFailureMessage
		res.Severity = SeverityFail
	default:
		res.Outcome = OutcomeFail
		res.Message = msg
		res.Severity = SeverityFail
	}

	return res
}

// Skipped returns the result of a case that is never invoked.
func Skipped(c discovery.Case) Result {
	return Result{Case: c, Outcome: OutcomeSkipped}
}
