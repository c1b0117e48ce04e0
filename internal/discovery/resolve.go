package discovery

import (
	"debug/elf"
	"debug/gosym"
	"strings"

	"github.com/coral-mesh/autotest/internal/elfimage"
)

// Resolver maps a discovered symbol to the Go function that implements it.
type Resolver interface {
	Resolve(symbol string) (Entry, bool)
}

// SymbolIndex resolves symbols against the Go functions of a symbol table.
//
// An exported C wrapper such as TEST_hello resolves to the Go function with the
// same base name (main.TEST_hello). A qualified Go name resolves to itself.
type SymbolIndex struct {
	exact  map[string]Entry
	byBase map[string][]Entry
}

// NewSymbolIndex indexes the defined Go functions among syms.
func NewSymbolIndex(syms []elfimage.Symbol) *SymbolIndex {
	idx := &SymbolIndex{
		exact:  make(map[string]Entry),
		byBase: make(map[string][]Entry),
	}

	for _, sym := range syms {
		if !sym.IsFunc() || !sym.Defined() || !strings.Contains(sym.Name, ".") {
			continue
		}
		if _, ok := idx.exact[sym.Name]; ok {
			continue
		}
		entry := Entry{Symbol: sym.Name, Addr: sym.Value}
		idx.exact[sym.Name] = entry

		if base, ok := BaseName(sym.Name); ok {
			idx.byBase[base] = append(idx.byBase[base], entry)
		}
	}

	return idx
}

// Resolve implements Resolver.
//
// An unqualified name shared by functions of several packages resolves to the
// one in package main, where cgo exports live. Without such a function the
// name is ambiguous and stays unresolved.
func (idx *SymbolIndex) Resolve(symbol string) (Entry, bool) {
	if e, ok := idx.exact[symbol]; ok {
		return e, true
	}
	if strings.Contains(symbol, ".") {
		return Entry{}, false
	}

	candidates := idx.byBase[symbol]
	if len(candidates) == 1 {
		return candidates[0], true
	}
	if e, ok := idx.exact["main."+symbol]; ok {
		return e, true
	}
	return Entry{}, false
}

// Len returns the number of indexed functions.
func (idx *SymbolIndex) Len() int {
	return len(idx.exact)
}

// fileSymbols reads the .symtab of an ELF file as elfimage symbols.
func fileSymbols(f *elf.File) ([]elfimage.Symbol, error) {
	raw, err := f.Symbols()
	if err != nil {
		return nil, err
	}

	// debug/elf drops the null entry, so indexes start at 1.
	syms := make([]elfimage.Symbol, len(raw))
	for i, s := range raw {
		syms[i] = elfimage.Symbol{
			Index:   uint32(i + 1), // #nosec G115 - symbol tables fit in uint32.
			Name:    s.Name,
			Value:   s.Value,
			Size:    s.Size,
			Type:    elf.ST_TYPE(s.Info),
			Bind:    elf.ST_BIND(s.Info),
			Section: s.Section,
		}
	}
	return syms, nil
}

// pclnSymbols lists the Go functions of a binary from .gopclntab. The linker
// keeps that table when stripping because the runtime reads it, so it serves
// binaries linked with -s, which is how go test links.
func pclnSymbols(f *elf.File) ([]elfimage.Symbol, error) {
	pcln, text := f.Section(".gopclntab"), f.Section(".text")
	if pcln == nil || text == nil {
		return nil, elf.ErrNoSymbols
	}

	data, err := pcln.Data()
	if err != nil {
		return nil, err
	}
	table, err := gosym.NewTable(nil, gosym.NewLineTable(data, text.Addr))
	if err != nil {
		return nil, err
	}

	var textIndex elf.SectionIndex
	for i, sec := range f.Sections {
		if sec == text {
			textIndex = elf.SectionIndex(i) // #nosec G115 - section counts fit in 16 bits.
			break
		}
	}

	syms := make([]elfimage.Symbol, len(table.Funcs))
	for i, fn := range table.Funcs {
		syms[i] = elfimage.Symbol{
			Index:   uint32(i + 1), // #nosec G115
			Name:    fn.Name,
			Value:   fn.Entry,
			Size:    fn.End - fn.Entry,
			Type:    elf.STT_FUNC,
			Bind:    elf.STB_GLOBAL,
			Section: textIndex,
		}
	}
	return syms, nil
}
