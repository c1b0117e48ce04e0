package discovery

import (
	"github.com/rs/zerolog"

	"github.com/coral-mesh/autotest/internal/elfimage"
)

// Scan classifies syms in table order and returns the resolved test cases.
//
// Entries that are unnamed, undefined or not functions are ignored. Names that
// do not follow the convention are dropped silently. A test case whose function
// cannot be resolved is logged and dropped. The names of dropped cases are
// returned alongside the list.
func Scan(syms []elfimage.Symbol, resolver Resolver, logger zerolog.Logger) (*List, []string) {
	list := &List{}
	var unresolved []string

	for _, sym := range syms {
		if sym.Name == "" || !sym.IsFunc() || !sym.Defined() {
			continue
		}

		c, ok := Parse(sym.Name)
		if !ok {
			continue
		}

		entry, ok := resolver.Resolve(sym.Name)
		if !ok {
			logger.Warn().
				Str("symbol", sym.Name).
				Msg("Test case has no callable Go function, skipping it")
			unresolved = append(unresolved, sym.Name)
			continue
		}
		c.Entry = entry

		if !list.Add(c) {
			logger.Trace().
				Str("symbol", sym.Name).
				Str("entry", entry.Symbol).
				Msg("Alias of an already discovered test function, skipping it")
			continue
		}

		logger.Debug().
			Str("case", c.Name).
			Str("symbol", sym.Name).
			Str("entry", entry.String()).
			Bool("skip", c.Skip).
			Bool("expect_segv", c.ExpectSegv).
			Bool("expect_abort", c.ExpectAbort).
			Bool("expect_failure", c.ExpectFailure).
			Msg("Discovered test case")
	}

	return list, unresolved
}
