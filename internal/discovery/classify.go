package discovery

import (
	"strings"
)

const (
	skipPrefix = "_"
	testPrefix = "TEST_"
	segvToken  = "SEGV_"
	abrtToken  = "ABRT_"
	failToken  = "FAIL_"
)

// Parse classifies a symbol name. It returns false for symbols that are not
// test cases and for malformed ones, such as a test with an empty name.
func Parse(symbol string) (Case, bool) {
	base, ok := BaseName(symbol)
	if !ok {
		return Case{}, false
	}

	c := Case{Symbol: symbol}

	rest := base
	if strings.HasPrefix(rest, skipPrefix+testPrefix) {
		c.Skip = true
		rest = rest[len(skipPrefix):]
	}
	if !strings.HasPrefix(rest, testPrefix) {
		return Case{}, false
	}
	rest = rest[len(testPrefix):]

	for {
		switch {
		case strings.HasPrefix(rest, segvToken):
			c.ExpectSegv = true
			rest = rest[len(segvToken):]
		case strings.HasPrefix(rest, abrtToken):
			c.ExpectAbort = true
			rest = rest[len(abrtToken):]
		case strings.HasPrefix(rest, failToken):
			c.ExpectFailure = true
			rest = rest[len(failToken):]
		default:
			if rest == "" {
				return Case{}, false
			}
			c.Name = rest
			return c, true
		}
	}
}

// Format builds the canonical unqualified symbol name for c.
func Format(c Case) string {
	var b strings.Builder
	if c.Skip {
		b.WriteString(skipPrefix)
	}
	b.WriteString(testPrefix)
	if c.ExpectSegv {
		b.WriteString(segvToken)
	}
	if c.ExpectAbort {
		b.WriteString(abrtToken)
	}
	if c.ExpectFailure {
		b.WriteString(failToken)
	}
	b.WriteString(c.Name)
	return b.String()
}

// BaseName reduces a Go symbol name to its unqualified function name.
//
// The import path ends at the last slash and the package name at the first
// dot after it. Methods, closures, generic instances and ABI wrappers keep
// punctuation in what remains and are rejected. A name without a dot is a
// C-style name and is returned as is.
func BaseName(symbol string) (string, bool) {
	if symbol == "" {
		return "", false
	}

	base := symbol
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}

	if base == "" || strings.ContainsAny(base, ".()*[]") {
		return "", false
	}
	return base, true
}
