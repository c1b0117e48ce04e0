package discovery

import (
	"fmt"
	"strings"
)

// Entry references the Go function behind a test case. It becomes callable
// only in the process that invokes it, after relocation by that process's
// load base.
type Entry struct {
	// Symbol is the package-qualified Go function name.
	Symbol string
	// Addr is the link-time address of the function.
	Addr uint64
}

// String returns the symbol with its address.
func (e Entry) String() string {
	return fmt.Sprintf("%s@0x%x", e.Symbol, e.Addr)
}

// Case is one discovered test case.
type Case struct {
	// Name is the display name with every recognized prefix stripped.
	Name string
	// Symbol is the raw symbol name found in the image.
	Symbol string
	// Entry is the resolved function. It is zero until the case is resolved.
	Entry Entry

	Skip          bool
	ExpectAbort   bool
	ExpectSegv    bool
	ExpectFailure bool
}

// List is an insertion-ordered set of test cases keyed by the function they
// run. Distinct functions sharing a display name are all kept.
type List struct {
	cases []Case
	keys  map[string]struct{}
}

// Add appends c unless a case for the same function is already present, as
// with a cgo export wrapper and its Go function. It reports whether c was
// added.
func (l *List) Add(c Case) bool {
	if l.keys == nil {
		l.keys = make(map[string]struct{})
	}
	key := c.key()
	if _, ok := l.keys[key]; ok {
		return false
	}
	l.keys[key] = struct{}{}
	l.cases = append(l.cases, c)
	return true
}

// key identifies the function behind c. Unresolved cases fall back to the raw
// symbol, then to the display name.
func (c Case) key() string {
	switch {
	case c.Entry.Symbol != "":
		return c.Entry.Symbol
	case c.Symbol != "":
		return c.Symbol
	default:
		return c.Name
	}
}

// Len returns the number of cases.
func (l *List) Len() int {
	return len(l.cases)
}

// Cases returns a copy of the cases in discovery order.
func (l *List) Cases() []Case {
	return append([]Case(nil), l.cases...)
}

// Names returns the display names in discovery order.
func (l *List) Names() []string {
	names := make([]string, len(l.cases))
	for i, c := range l.cases {
		names[i] = c.Name
	}
	return names
}

// Filter returns the cases whose display name contains one of patterns.
// An empty pattern list keeps every case.
func (l *List) Filter(patterns []string) *List {
	out := &List{}
	for _, c := range l.cases {
		if matchesAny(c.Name, patterns) {
			out.Add(c)
		}
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
