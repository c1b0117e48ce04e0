package discovery

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/autotest/internal/elfimage"
	autoerrors "github.com/coral-mesh/autotest/internal/errors"
	"github.com/coral-mesh/autotest/internal/sys/proc"
)

// Strategy selects how symbols are enumerated.
type Strategy string

const (
	// StrategyAuto reads .symtab, where every Go function lives, and merges
	// the dynamic symbol table into it when the image has one. Go functions
	// never appear in the dynamic table, so it cannot stand alone.
	StrategyAuto Strategy = "auto"
	// StrategyDynamic walks the dynamic symbol table of the loaded image.
	StrategyDynamic Strategy = "dynamic"
	// StrategySections reads .symtab from the executable file, or the Go
	// function table of a stripped one.
	StrategySections Strategy = "sections"
)

// Strategies lists the accepted strategy names.
var Strategies = []Strategy{StrategyAuto, StrategyDynamic, StrategySections}

// ParseStrategy validates a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown discovery strategy %q (valid: auto, dynamic, sections)", name)
}

// Target is an executable to discover tests in.
type Target struct {
	// Path is the executable file. The sections strategy reads it and every
	// strategy resolves entries against its .symtab.
	Path string
	// Open returns the loaded image walked by the dynamic strategy.
	Open func() (*elfimage.Image, error)
}

// Self targets the running process.
func Self(logger zerolog.Logger) Target {
	return Target{
		Path: proc.SelfExe,
		Open: func() (*elfimage.Image, error) { return elfimage.OpenProcess(logger) },
	}
}

// File targets an executable on disk, mapped at its link-time addresses.
func File(path string) Target {
	return Target{
		Path: path,
		Open: func() (*elfimage.Image, error) { return elfimage.OpenFile(path) },
	}
}

// Result is the outcome of a discovery.
type Result struct {
	// Strategy is the requested strategy.
	Strategy Strategy
	// Sources lists the symbol tables that were read, in scan order.
	Sources []Strategy
	Cases   *List
	// Unresolved lists test symbols without a callable Go function.
	Unresolved  []string
	Fingerprint string
}

// Discoverer enumerates test cases of a target.
type Discoverer struct {
	logger zerolog.Logger
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(logger zerolog.Logger) *Discoverer {
	return &Discoverer{logger: logger.With().Str("component", "discovery").Logger()}
}

// Discover enumerates the test cases of target with strategy.
//
// Failures to enumerate symbols are returned as errors; the elfimage sentinel
// errors identify a missing table.
func (d *Discoverer) Discover(target Target, strategy Strategy) (*Result, error) {
	symtab, symtabErr := d.readSymtab(target.Path)
	if symtabErr != nil {
		d.logger.Debug().Err(symtabErr).Str("path", target.Path).Msg("No usable .symtab")
	}

	var (
		syms    []elfimage.Symbol
		sources []Strategy
	)

	switch strategy {
	case StrategyDynamic:
		dyn, err := d.dynamicSymbols(target)
		if err != nil {
			return nil, err
		}
		syms, sources = dyn, []Strategy{StrategyDynamic}
	case StrategySections:
		if symtabErr != nil {
			return nil, symtabErr
		}
		syms, sources = symtab, []Strategy{StrategySections}
	case StrategyAuto, "":
		strategy = StrategyAuto
		if symtabErr != nil {
			return nil, fmt.Errorf("auto discovery needs the .symtab that lists Go functions: %w", symtabErr)
		}
		// Dynamic names come first so a cgo export keeps its C name; the
		// list merges it with the Go function found in .symtab.
		dyn, err := d.dynamicSymbols(target)
		switch {
		case err == nil:
			syms, sources = dyn, []Strategy{StrategyDynamic}
		case errors.Is(err, elfimage.ErrNotDynamic):
			d.logger.Debug().Msg("Image is statically linked, reading section headers only")
		default:
			d.logger.Debug().Err(err).Msg("Dynamic symbol table unusable, reading section headers only")
		}
		syms = append(syms, symtab...)
		sources = append(sources, StrategySections)
	default:
		return nil, fmt.Errorf("unknown discovery strategy %q", strategy)
	}

	cases, unresolved := Scan(syms, NewSymbolIndex(symtab), d.logger)

	res := &Result{
		Strategy:    strategy,
		Sources:     sources,
		Cases:       cases,
		Unresolved:  unresolved,
		Fingerprint: Fingerprint(cases),
	}

	d.logger.Info().
		Str("strategy", string(strategy)).
		Strs("sources", sourceNames(sources)).
		Int("symbols", len(syms)).
		Int("cases", cases.Len()).
		Int("unresolved", len(unresolved)).
		Str("fingerprint", res.Fingerprint).
		Msg("Discovery complete")

	return res, nil
}

func sourceNames(sources []Strategy) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return names
}

func (d *Discoverer) dynamicSymbols(target Target) ([]elfimage.Symbol, error) {
	img, err := target.Open()
	if err != nil {
		return nil, err
	}
	defer autoerrors.DeferClose(d.logger, img, "failed to close image")

	table, err := elfimage.Open(img)
	if err != nil {
		return nil, err
	}

	d.logger.Debug().
		Str("hash", table.HashKind.String()).
		Uint32("buckets", table.BucketCount()).
		Msg("Walking dynamic symbol table")

	return table.Symbols()
}

// readSymtab reads the Go functions of the executable at path from .symtab,
// or from .gopclntab when the binary is stripped.
func (d *Discoverer) readSymtab(path string) ([]elfimage.Symbol, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file %s: %w", path, err)
	}
	defer autoerrors.DeferClose(d.logger, f, "failed to close ELF file")

	syms, err := fileSymbols(f)
	if errors.Is(err, elf.ErrNoSymbols) {
		d.logger.Debug().Str("path", path).Msg("Binary is stripped, reading .gopclntab")
		syms, err = pclnSymbols(f)
	}
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("%s has neither .symtab nor .gopclntab: %w", path, elfimage.ErrMissingSymbolTable)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols of %s: %w", path, err)
	}
	return syms, nil
}
