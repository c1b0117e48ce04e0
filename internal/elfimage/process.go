package elfimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/autotest/internal/safe"
	"github.com/coral-mesh/autotest/internal/sys/proc"
)

// Program header entry sizes by class.
const (
	progSize32 = 32
	progSize64 = 56
)

// OpenProcess returns the image of the running executable.
//
// Program headers are located through AT_PHDR. The load base comes from the
// PT_PHDR entry when present, otherwise from the executable's lowest mapping
// in /proc/self/maps. Memory is read through /proc/self/mem, so the image is a
// live view rather than a copy.
func OpenProcess(logger zerolog.Logger) (*Image, error) {
	auxv, err := proc.ReadAuxv()
	if err != nil {
		return nil, fmt.Errorf("failed to read auxiliary vector: %w", err)
	}

	phdr, ok := auxv.Lookup(proc.AtPhdr)
	if !ok || phdr == 0 {
		return nil, fmt.Errorf("auxiliary vector has no AT_PHDR")
	}
	phent, _ := auxv.Lookup(proc.AtPhent)
	phnum, _ := auxv.Lookup(proc.AtPhnum)

	var class elf.Class
	switch phent {
	case progSize64:
		class = elf.ELFCLASS64
	case progSize32:
		class = elf.ELFCLASS32
	default:
		return nil, fmt.Errorf("unexpected program header size %d", phent)
	}

	mem, err := proc.OpenSelfMemory()
	if err != nil {
		return nil, err
	}

	raw := make([]byte, phent*phnum)
	off, _ := safe.Uint64ToInt64(phdr)
	if _, err := mem.ReadAt(raw, off); err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("failed to read program headers: %w", err)
	}

	progs, err := decodeProgHeaders(raw, class, binary.NativeEndian)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}

	base, method := processBase(phdr, progs, logger)

	img, err := New(mem, Layout{
		Class: class,
		Order: binary.NativeEndian,
		Base:  base,
		Progs: progs,
	})
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	img.closer = mem

	logger.Debug().
		Str("class", class.String()).
		Str("base", fmt.Sprintf("0x%x", base)).
		Str("base_from", method).
		Str("range", fmt.Sprintf("0x%x-0x%x", img.Low, img.High)).
		Str("dynamic", fmt.Sprintf("0x%x", img.Dynamic)).
		Msg("Opened process image")

	return img, nil
}

// processBase computes the load bias of the running executable.
func processBase(phdr uint64, progs []elf.ProgHeader, logger zerolog.Logger) (uint64, string) {
	lowest := uint64(0)
	haveLoad := false
	for _, p := range progs {
		switch p.Type {
		case elf.PT_PHDR:
			return phdr - p.Vaddr, "pt_phdr"
		case elf.PT_LOAD:
			if !haveLoad || p.Vaddr < lowest {
				lowest = p.Vaddr
				haveLoad = true
			}
		}
	}

	load, err := proc.SelfLoadAddress()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to get runtime load address, assuming a non-PIE executable")
		return 0, "none"
	}

	page := uint64(unix.Getpagesize()) // #nosec G115 - page size is positive.
	return load - lowest&^(page-1), "maps"
}

// decodeProgHeaders decodes a packed program header table.
func decodeProgHeaders(raw []byte, class elf.Class, order binary.ByteOrder) ([]elf.ProgHeader, error) {
	size := progSize64
	if class == elf.ELFCLASS32 {
		size = progSize32
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("program header table size %d is not a multiple of %d", len(raw), size)
	}

	r := bytes.NewReader(raw)
	progs := make([]elf.ProgHeader, 0, len(raw)/size)
	for r.Len() > 0 {
		if class == elf.ELFCLASS32 {
			var p elf.Prog32
			if err := binary.Read(r, order, &p); err != nil {
				return nil, fmt.Errorf("failed to decode program header: %w", err)
			}
			progs = append(progs, elf.ProgHeader{
				Type:   elf.ProgType(p.Type),
				Flags:  elf.ProgFlag(p.Flags),
				Off:    uint64(p.Off),
				Vaddr:  uint64(p.Vaddr),
				Paddr:  uint64(p.Paddr),
				Filesz: uint64(p.Filesz),
				Memsz:  uint64(p.Memsz),
				Align:  uint64(p.Align),
			})
			continue
		}

		var p elf.Prog64
		if err := binary.Read(r, order, &p); err != nil {
			return nil, fmt.Errorf("failed to decode program header: %w", err)
		}
		progs = append(progs, elf.ProgHeader{
			Type:   elf.ProgType(p.Type),
			Flags:  elf.ProgFlag(p.Flags),
			Off:    p.Off,
			Vaddr:  p.Vaddr,
			Paddr:  p.Paddr,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Align:  p.Align,
		})
	}

	return progs, nil
}
