package elfimage

import (
	"debug/elf"
	"fmt"
)

// Symbol entry sizes by class.
const (
	symSize32 = 16
	symSize64 = 24
)

// defaultStrSize bounds name reads when DT_STRSZ is absent.
const defaultStrSize = 1 << 20

// Symbol is one entry of the dynamic symbol table.
type Symbol struct {
	Index   uint32
	Name    string
	Value   uint64
	Size    uint64
	Type    elf.SymType
	Bind    elf.SymBind
	Section elf.SectionIndex
}

// IsFunc reports whether the symbol is a function.
func (s Symbol) IsFunc() bool {
	return s.Type == elf.STT_FUNC
}

// Defined reports whether the symbol is defined in this image.
func (s Symbol) Defined() bool {
	return s.Section != elf.SHN_UNDEF
}

// Table is the projection of an image's dynamic section used for symbol
// enumeration. All addresses are runtime addresses.
type Table struct {
	SymTab   uint64
	SymEnt   uint64
	StrTab   uint64
	StrSize  uint64
	Hash     uint64
	HashKind HashKind

	img  *Image
	sysv *SysVHash
	gnu  *GNUHash
}

// Open builds the symbol table view of img.
func Open(img *Image) (*Table, error) {
	dyn, err := ReadDynamic(img)
	if err != nil {
		return nil, err
	}

	symtab, ok := dyn.Lookup(elf.DT_SYMTAB)
	if !ok {
		return nil, ErrMissingSymbolTable
	}
	strtab, ok := dyn.Lookup(elf.DT_STRTAB)
	if !ok {
		return nil, ErrMissingStringTable
	}

	t := &Table{
		SymTab: img.Resolve(symtab),
		StrTab: img.Resolve(strtab),
		img:    img,
	}

	t.SymEnt, ok = dyn.Lookup(elf.DT_SYMENT)
	if !ok || t.SymEnt == 0 {
		t.SymEnt = symSize64
		if img.Class == elf.ELFCLASS32 {
			t.SymEnt = symSize32
		}
	}

	t.StrSize, ok = dyn.Lookup(elf.DT_STRSZ)
	if !ok || t.StrSize == 0 {
		t.StrSize = defaultStrSize
	}

	if gnu, ok := dyn.Lookup(elf.DT_GNU_HASH); ok {
		t.Hash = img.Resolve(gnu)
		t.HashKind = HashGNU
		if t.gnu, err = ReadGNUHash(img, t.Hash); err != nil {
			return nil, err
		}
	} else if sysv, ok := dyn.Lookup(elf.DT_HASH); ok {
		t.Hash = img.Resolve(sysv)
		t.HashKind = HashSysV
		if t.sysv, err = ReadSysVHash(img, t.Hash); err != nil {
			return nil, err
		}
	} else {
		return nil, ErrMissingHashTable
	}

	return t, nil
}

// GNU returns the GNU hash view, or nil when the table uses DT_HASH.
func (t *Table) GNU() *GNUHash {
	return t.gnu
}

// SysV returns the SysV hash view, or nil when the table uses DT_GNU_HASH.
func (t *Table) SysV() *SysVHash {
	return t.sysv
}

// BucketCount returns the number of hash buckets.
func (t *Table) BucketCount() uint32 {
	if t.gnu != nil {
		return t.gnu.NBucket
	}
	return t.sysv.NBucket
}

// Count returns the number of symbol table entries.
func (t *Table) Count() (uint32, error) {
	if t.gnu != nil {
		return t.gnu.Count()
	}
	return t.sysv.Count(), nil
}

// Name reads the string at offset off in the string table.
func (t *Table) Name(off uint32) (string, error) {
	if uint64(off) >= t.StrSize {
		return "", fmt.Errorf("name offset %d beyond string table of %d bytes: %w", off, t.StrSize, ErrOutOfRange)
	}
	return t.img.CString(t.StrTab+uint64(off), t.StrSize-uint64(off))
}

// Symbol reads entry i of the symbol table.
func (t *Table) Symbol(i uint32) (Symbol, error) {
	addr := t.SymTab + uint64(i)*t.SymEnt

	size := uint64(symSize64)
	if t.img.Class == elf.ELFCLASS32 {
		size = symSize32
	}
	buf := make([]byte, size)
	if err := t.img.ReadAt(buf, addr); err != nil {
		return Symbol{}, fmt.Errorf("failed to read symbol %d: %w", i, err)
	}

	order := t.img.Order
	sym := Symbol{Index: i}

	var nameOff uint32
	var info uint8
	if t.img.Class == elf.ELFCLASS32 {
		nameOff = order.Uint32(buf[0:])
		sym.Value = uint64(order.Uint32(buf[4:]))
		sym.Size = uint64(order.Uint32(buf[8:]))
		info = buf[12]
		sym.Section = elf.SectionIndex(order.Uint16(buf[14:]))
	} else {
		nameOff = order.Uint32(buf[0:])
		info = buf[4]
		sym.Section = elf.SectionIndex(order.Uint16(buf[6:]))
		sym.Value = order.Uint64(buf[8:])
		sym.Size = order.Uint64(buf[16:])
	}
	sym.Type = elf.ST_TYPE(info)
	sym.Bind = elf.ST_BIND(info)

	if nameOff != 0 {
		name, err := t.Name(nameOff)
		if err != nil {
			return Symbol{}, fmt.Errorf("failed to read name of symbol %d: %w", i, err)
		}
		sym.Name = name
	}

	return sym, nil
}

// Symbols returns every entry of the symbol table in table order.
func (t *Table) Symbols() ([]Symbol, error) {
	n, err := t.Count()
	if err != nil {
		return nil, err
	}

	syms := make([]Symbol, 0, n)
	for i := uint32(0); i < n; i++ {
		sym, err := t.Symbol(i)
		if err != nil {
			return nil, err
		}
		syms = append(syms, sym)
	}

	return syms, nil
}

// Lookup finds a symbol by name through the hash table.
func (t *Table) Lookup(name string) (Symbol, bool, error) {
	if t.gnu != nil {
		return t.lookupGNU(name)
	}
	return t.lookupSysV(name)
}

func (t *Table) lookupGNU(name string) (Symbol, bool, error) {
	h := t.gnu
	if h.NBucket == 0 {
		return Symbol{}, false, nil
	}

	hash := GNUHashName(name)
	if !h.MayContain(hash) {
		return Symbol{}, false, nil
	}

	idx := h.Buckets[hash%h.NBucket]
	if idx < h.SymOffset {
		return Symbol{}, false, nil
	}

	for {
		entry, err := h.Chain.ChainAt(idx - h.SymOffset)
		if err != nil {
			return Symbol{}, false, err
		}
		if entry|1 == hash|1 {
			sym, err := t.Symbol(idx)
			if err != nil {
				return Symbol{}, false, err
			}
			if sym.Name == name {
				return sym, true, nil
			}
		}
		if entry&1 != 0 {
			return Symbol{}, false, nil
		}
		idx++
	}
}

func (t *Table) lookupSysV(name string) (Symbol, bool, error) {
	h := t.sysv
	if h.NBucket == 0 {
		return Symbol{}, false, nil
	}

	idx := h.Buckets[SysVHashName(name)%h.NBucket]
	for steps := uint32(0); idx != 0 && steps < h.NChain; steps++ {
		sym, err := t.Symbol(idx)
		if err != nil {
			return Symbol{}, false, err
		}
		if sym.Name == name {
			return sym, true, nil
		}
		if idx >= uint32(len(h.Chain)) {
			return Symbol{}, false, fmt.Errorf("chain index %d: %w", idx, ErrOutOfRange)
		}
		idx = h.Chain[idx]
	}

	return Symbol{}, false, nil
}
