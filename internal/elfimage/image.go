package elfimage

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coral-mesh/autotest/internal/safe"
)

// Layout describes how an image is mapped.
type Layout struct {
	Class elf.Class
	Order binary.ByteOrder
	// Base is the load bias: runtime address minus link-time address.
	Base uint64
	// Progs are the program headers with link-time addresses.
	Progs []elf.ProgHeader
}

// Image is a loaded ELF image. All addresses handed to its methods are
// runtime addresses.
type Image struct {
	Class elf.Class
	Order binary.ByteOrder
	Base  uint64

	// Low and High bound the runtime address range covered by PT_LOAD segments.
	Low  uint64
	High uint64

	// Dynamic is the runtime address of the dynamic section and DynamicSize its
	// size in bytes. Both are zero when the image has no PT_DYNAMIC.
	Dynamic     uint64
	DynamicSize uint64

	// Interp reports whether the image requests a program interpreter.
	Interp bool

	mem    io.ReaderAt
	closer io.Closer
}

// New builds an image over mem, which must accept runtime addresses as offsets.
func New(mem io.ReaderAt, layout Layout) (*Image, error) {
	if layout.Class != elf.ELFCLASS32 && layout.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("unsupported ELF class %v", layout.Class)
	}
	if layout.Order == nil {
		return nil, fmt.Errorf("missing byte order")
	}

	img := &Image{
		Class: layout.Class,
		Order: layout.Order,
		Base:  layout.Base,
		mem:   mem,
	}

	first := true
	for _, p := range layout.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			start, overflow := safe.AddUint64(p.Vaddr, layout.Base)
			if overflow {
				return nil, fmt.Errorf("segment at 0x%x: %w", p.Vaddr, ErrOutOfRange)
			}
			end, overflow := safe.AddUint64(start, p.Memsz)
			if overflow {
				return nil, fmt.Errorf("segment at 0x%x: %w", p.Vaddr, ErrOutOfRange)
			}
			if first || start < img.Low {
				img.Low = start
			}
			if first || end > img.High {
				img.High = end
			}
			first = false
		case elf.PT_DYNAMIC:
			img.Dynamic = p.Vaddr + layout.Base
			img.DynamicSize = p.Memsz
		case elf.PT_INTERP:
			img.Interp = true
		}
	}

	if first {
		return nil, fmt.Errorf("image has no loadable segments")
	}

	return img, nil
}

// Close releases the resources backing the image.
func (img *Image) Close() error {
	if img.closer != nil {
		return img.closer.Close()
	}
	return nil
}

// WordSize returns the size in bytes of an address for the image's class.
func (img *Image) WordSize() uint64 {
	if img.Class == elf.ELFCLASS64 {
		return 8
	}
	return 4
}

// Contains reports whether addr lies inside the mapped range.
func (img *Image) Contains(addr uint64) bool {
	return addr >= img.Low && addr < img.High
}

// ContainsRange reports whether [addr, addr+size) lies inside the mapped range.
func (img *Image) ContainsRange(addr, size uint64) bool {
	if size == 0 {
		return img.Contains(addr)
	}
	end, overflow := safe.AddUint64(addr, size)
	return !overflow && img.Contains(addr) && end <= img.High
}

// Resolve turns a pointer read from the dynamic section into a runtime address.
//
// glibc relocates DT_SYMTAB, DT_STRTAB and the hash pointers in place, so in a
// live PIE process they are already absolute. musl and a file on disk leave
// them as link-time values. A raw value already inside the mapped range is
// taken as absolute; anything else is offset by the load base.
func (img *Image) Resolve(raw uint64) uint64 {
	if img.Base == 0 || img.Contains(raw) {
		return raw
	}
	if addr, overflow := safe.AddUint64(raw, img.Base); !overflow {
		return addr
	}
	return raw
}

// ReadAt fills p from the runtime address addr.
func (img *Image) ReadAt(p []byte, addr uint64) error {
	if !img.ContainsRange(addr, uint64(len(p))) {
		return fmt.Errorf("read %d bytes at 0x%x: %w", len(p), addr, ErrOutOfRange)
	}
	off, clamped := safe.Uint64ToInt64(addr)
	if clamped {
		return fmt.Errorf("read at 0x%x: %w", addr, ErrOutOfRange)
	}
	if _, err := img.mem.ReadAt(p, off); err != nil {
		return err
	}
	return nil
}

// Uint32 reads a 32-bit word at addr.
func (img *Image) Uint32(addr uint64) (uint32, error) {
	var buf [4]byte
	if err := img.ReadAt(buf[:], addr); err != nil {
		return 0, err
	}
	return img.Order.Uint32(buf[:]), nil
}

// Word reads an address-sized word at addr.
func (img *Image) Word(addr uint64) (uint64, error) {
	if img.Class == elf.ELFCLASS32 {
		v, err := img.Uint32(addr)
		return uint64(v), err
	}
	var buf [8]byte
	if err := img.ReadAt(buf[:], addr); err != nil {
		return 0, err
	}
	return img.Order.Uint64(buf[:]), nil
}

// Uint32s reads n consecutive 32-bit words starting at addr.
func (img *Image) Uint32s(addr uint64, n uint32) ([]uint32, error) {
	size := uint64(n) * 4
	if !img.ContainsRange(addr, size) {
		return nil, fmt.Errorf("table of %d words at 0x%x: %w", n, addr, ErrOutOfRange)
	}
	buf := make([]byte, size)
	if err := img.ReadAt(buf, addr); err != nil {
		return nil, err
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = img.Order.Uint32(buf[i*4:])
	}
	return words, nil
}

// CString reads a NUL-terminated string starting at addr, reading at most
// limit bytes.
func (img *Image) CString(addr, limit uint64) (string, error) {
	const chunk = 64

	var out []byte
	buf := make([]byte, chunk)
	for read := uint64(0); read < limit; {
		n := uint64(chunk)
		if limit-read < n {
			n = limit - read
		}
		if img.High-addr < n {
			n = img.High - addr
		}
		if n == 0 || !img.Contains(addr) {
			break
		}
		if err := img.ReadAt(buf[:n], addr); err != nil {
			return "", err
		}
		for i := uint64(0); i < n; i++ {
			if buf[i] == 0 {
				return string(append(out, buf[:i]...)), nil
			}
		}
		out = append(out, buf[:n]...)
		read += n
		addr += n
	}
	return "", fmt.Errorf("unterminated string at 0x%x: %w", addr, ErrOutOfRange)
}
