// Package elftest builds synthetic loaded ELF images for tests.
//
// The builder lays out one loadable segment holding a dynamic section, a
// symbol table, a string table and the requested hash tables, exactly as a
// linker would emit them for the dynamic symbol table.
package elftest

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/coral-mesh/autotest/internal/elfimage"
)

// Sym describes a symbol to place in the dynamic symbol table.
type Sym struct {
	Name      string
	Type      elf.SymType
	Bind      elf.SymBind
	Value     uint64
	Size      uint64
	Undefined bool
}

// Func returns a defined global function symbol.
func Func(name string, value uint64) Sym {
	return Sym{Name: name, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Value: value, Size: 16}
}

// Object returns a defined global data symbol.
func Object(name string, value uint64) Sym {
	return Sym{Name: name, Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Value: value, Size: 8}
}

// Spec configures a synthetic image.
type Spec struct {
	Class elf.Class
	Order binary.ByteOrder

	// LinkAddr is the link-time address of the segment, Base the load bias.
	LinkAddr uint64
	Base     uint64

	// Absolute writes dynamic pointers as runtime addresses, the way glibc
	// leaves them after relocating a PIE in place.
	Absolute bool

	SysV bool
	GNU  bool

	// Buckets is the bucket count of both hash tables. Zero means 4; use
	// EmptyBuckets for a table without buckets.
	Buckets      uint32
	EmptyBuckets bool

	// GNUSymOffset is the index of the first hashed symbol. Zero means 1.
	GNUSymOffset uint32

	Symbols []Sym

	// Omit drops dynamic tags, NoDynamic drops PT_DYNAMIC entirely.
	Omit      []elf.DynTag
	NoDynamic bool
}

// Built is the result of Build.
type Built struct {
	Image *elfimage.Image
	// Table lists the symbols in symbol table order, index 0 being the null
	// symbol.
	Table []Sym
	// Start is the runtime address of the segment.
	Start uint64
}

// Build lays out the image described by spec.
func Build(spec Spec) (*Built, error) {
	if spec.Class == elf.ELFCLASSNONE {
		spec.Class = elf.ELFCLASS64
	}
	if spec.Order == nil {
		spec.Order = binary.LittleEndian
	}
	nbucket := spec.Buckets
	if nbucket == 0 {
		nbucket = 4
	}
	if spec.EmptyBuckets {
		nbucket = 0
	}
	symoff := spec.GNUSymOffset
	if symoff == 0 {
		symoff = 1
	}

	table := orderSymbols(spec, nbucket, symoff)

	w := &writer{class: spec.Class, order: spec.Order}
	ptr := func(off int) uint64 {
		addr := spec.LinkAddr + uint64(off)
		if spec.Absolute {
			addr += spec.Base
		}
		return addr
	}

	// ELF header area, then the dynamic section placeholder patched at the end.
	const headerSize, maxDyn = 64, 8
	w.pad(headerSize)
	dynSize := maxDyn * 2 * w.wordSize()
	w.pad(dynSize)

	w.align(8)
	strtab, names := buildStrtab(table)

	symtabOff := len(w.buf)
	for i, s := range table {
		w.sym(names[i], s)
	}

	strtabOff := len(w.buf)
	w.buf = append(w.buf, strtab...)

	sysvOff, gnuOff := -1, -1
	if spec.SysV {
		w.align(4)
		sysvOff = len(w.buf)
		w.sysvHash(table, nbucket)
	}
	if spec.GNU {
		w.align(8)
		gnuOff = len(w.buf)
		w.gnuHash(table, nbucket, symoff)
	}

	omitted := make(map[elf.DynTag]bool)
	for _, tag := range spec.Omit {
		omitted[tag] = true
	}

	type entry struct {
		tag elf.DynTag
		val uint64
	}
	entries := []entry{
		{elf.DT_SYMTAB, ptr(symtabOff)},
		{elf.DT_STRTAB, ptr(strtabOff)},
		{elf.DT_STRSZ, uint64(len(strtab))},
		{elf.DT_SYMENT, w.symSize()},
	}
	if sysvOff >= 0 {
		entries = append(entries, entry{elf.DT_HASH, ptr(sysvOff)})
	}
	if gnuOff >= 0 {
		entries = append(entries, entry{elf.DT_GNU_HASH, ptr(gnuOff)})
	}

	dyn := &writer{class: spec.Class, order: spec.Order}
	for _, e := range entries {
		if omitted[e.tag] {
			continue
		}
		dyn.word(uint64(e.tag))
		dyn.word(e.val)
	}
	dyn.word(uint64(elf.DT_NULL))
	dyn.word(0)
	copy(w.buf[headerSize:], dyn.buf)

	size := uint64(len(w.buf))
	progs := []elf.ProgHeader{
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: spec.LinkAddr, Filesz: size, Memsz: size, Align: 0x1000},
	}
	if !spec.NoDynamic {
		progs = append(progs, elf.ProgHeader{Type: elf.PT_DYNAMIC, Flags: elf.PF_R | elf.PF_W, Vaddr: spec.LinkAddr + headerSize, Filesz: dynSize, Memsz: dynSize})
	}

	start := spec.LinkAddr + spec.Base
	img, err := elfimage.New(&memory{start: start, data: w.buf}, elfimage.Layout{
		Class: spec.Class,
		Order: spec.Order,
		Base:  spec.Base,
		Progs: progs,
	})
	if err != nil {
		return nil, err
	}

	return &Built{Image: img, Table: table, Start: start}, nil
}

// orderSymbols places the null symbol first, then the unhashed symbols in
// the given order, then the hashed symbols grouped by GNU bucket.
func orderSymbols(spec Spec, nbucket, symoff uint32) []Sym {
	table := append([]Sym{{}}, spec.Symbols...)
	if !spec.GNU || nbucket == 0 || int(symoff) >= len(table) {
		return table
	}

	hashed := table[symoff:]
	sort.SliceStable(hashed, func(i, j int) bool {
		return elfimage.GNUHashName(hashed[i].Name)%nbucket < elfimage.GNUHashName(hashed[j].Name)%nbucket
	})
	return table
}

func buildStrtab(table []Sym) ([]byte, []uint32) {
	strtab := []byte{0}
	names := make([]uint32, len(table))
	for i, s := range table {
		if s.Name == "" {
			continue
		}
		names[i] = uint32(len(strtab)) // #nosec G115 - test tables are small.
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	return strtab, names
}

type writer struct {
	class elf.Class
	order binary.ByteOrder
	buf   []byte
	tmp   [8]byte
}

func (w *writer) wordSize() uint64 {
	if w.class == elf.ELFCLASS32 {
		return 4
	}
	return 8
}

func (w *writer) symSize() uint64 {
	if w.class == elf.ELFCLASS32 {
		return 16
	}
	return 24
}

func (w *writer) pad(n uint64) {
	w.buf = append(w.buf, make([]byte, n)...)
}

func (w *writer) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) u16(v uint16) {
	w.order.PutUint16(w.tmp[:2], v)
	w.buf = append(w.buf, w.tmp[:2]...)
}

func (w *writer) u32(v uint32) {
	w.order.PutUint32(w.tmp[:4], v)
	w.buf = append(w.buf, w.tmp[:4]...)
}

func (w *writer) u64(v uint64) {
	w.order.PutUint64(w.tmp[:8], v)
	w.buf = append(w.buf, w.tmp[:8]...)
}

func (w *writer) word(v uint64) {
	if w.class == elf.ELFCLASS32 {
		w.u32(uint32(v)) // #nosec G115 - 32-bit images hold 32-bit words.
		return
	}
	w.u64(v)
}

func (w *writer) sym(name uint32, s Sym) {
	info := elf.ST_INFO(s.Bind, s.Type)
	shndx := uint16(12)
	if s.Undefined || (s.Name == "" && s.Type == elf.STT_NOTYPE) {
		shndx = uint16(elf.SHN_UNDEF)
	}

	if w.class == elf.ELFCLASS32 {
		w.u32(name)
		w.u32(uint32(s.Value)) // #nosec G115
		w.u32(uint32(s.Size))  // #nosec G115
		w.buf = append(w.buf, info, 0)
		w.u16(shndx)
		return
	}

	w.u32(name)
	w.buf = append(w.buf, info, 0)
	w.u16(shndx)
	w.u64(s.Value)
	w.u64(s.Size)
}

func (w *writer) sysvHash(table []Sym, nbucket uint32) {
	nchain := uint32(len(table)) // #nosec G115
	buckets := make([]uint32, nbucket)
	chain := make([]uint32, nchain)
	if nbucket > 0 {
		for i := 1; i < len(table); i++ {
			b := elfimage.SysVHashName(table[i].Name) % nbucket
			chain[i] = buckets[b]
			buckets[b] = uint32(i) // #nosec G115
		}
	}

	w.u32(nbucket)
	w.u32(nchain)
	for _, b := range buckets {
		w.u32(b)
	}
	for _, c := range chain {
		w.u32(c)
	}
}

func (w *writer) gnuHash(table []Sym, nbucket, symoff uint32) {
	const shift = 5
	bits := uint32(w.wordSize() * 8) // #nosec G115

	w.u32(nbucket)
	w.u32(symoff)
	if nbucket == 0 {
		w.u32(0)
		w.u32(0)
		return
	}
	w.u32(1)
	w.u32(shift)

	var bloom uint64
	buckets := make([]uint32, nbucket)
	var chain []uint32
	for i := int(symoff); i < len(table); i++ {
		h := elfimage.GNUHashName(table[i].Name)
		bloom |= uint64(1)<<(h%bits) | uint64(1)<<((h>>shift)%bits)

		b := h % nbucket
		if buckets[b] == 0 {
			buckets[b] = uint32(i) // #nosec G115
		}

		last := i == len(table)-1 || elfimage.GNUHashName(table[i+1].Name)%nbucket != b
		v := h &^ 1
		if last {
			v |= 1
		}
		chain = append(chain, v)
	}

	w.word(bloom)
	for _, b := range buckets {
		w.u32(b)
	}
	for _, c := range chain {
		w.u32(c)
	}
}

// memory serves reads of one segment by runtime address.
type memory struct {
	start uint64
	data  []byte
}

func (m *memory) ReadAt(p []byte, off int64) (int, error) {
	addr := uint64(off) // #nosec G115 - callers pass validated addresses.
	if addr < m.start || addr-m.start > uint64(len(m.data)) {
		return 0, fmt.Errorf("address 0x%x outside test segment", addr)
	}
	n := copy(p, m.data[addr-m.start:])
	if n < len(p) {
		return n, fmt.Errorf("short read at 0x%x", addr)
	}
	return n, nil
}
