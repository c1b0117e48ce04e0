package executor

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Invoke calls fn and converts a panic into an event.
//
// Memory faults are made recoverable with debug.SetPanicOnFault for the
// duration of the call; the previous setting of the calling goroutine is
// restored before Invoke returns. A recovered memory fault is a segfault and
// any other panic is an abort. Each call establishes its own recovery point, so
// a case that panicked is never resumed.
func Invoke(fn func()) (ev Event) {
	prev := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(prev)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ev = panicEvent(r)
		ev.Detail += "\n" + string(debug.Stack())
	}()

	fn()
	return Event{Kind: EventReturned}
}

// addressError is implemented by the runtime error of a faulting access.
type addressError interface {
	Addr() uintptr
}

func panicEvent(r any) Event {
	if err, ok := r.(runtime.Error); ok && isMemoryFault(err) {
		return Event{Kind: EventSegfault, Detail: err.Error()}
	}
	return Event{Kind: EventAborted, Detail: fmt.Sprint(r)}
}

func isMemoryFault(err runtime.Error) bool {
	if _, ok := err.(addressError); ok {
		return true
	}
	return strings.Contains(err.Error(), "invalid memory address")
}
