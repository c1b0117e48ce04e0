package elfimage

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/coral-mesh/autotest/internal/safe"
)

// OpenFile maps the PT_LOAD segments of the ELF file at path at their
// link-time addresses (load base 0), the way the loader would for a
// non-PIE executable.
func OpenFile(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file %s: %w", path, err)
	}

	headers := make([]elf.ProgHeader, 0, len(f.Progs))
	segs := make([]segment, 0, len(f.Progs))
	for _, p := range f.Progs {
		headers = append(headers, p.ProgHeader)
		if p.Type == elf.PT_LOAD {
			segs = append(segs, segment{vaddr: p.Vaddr, filesz: p.Filesz, memsz: p.Memsz, r: p})
		}
	}

	img, err := New(&segmentReader{segs: segs}, Layout{
		Class: f.Class,
		Order: f.ByteOrder,
		Progs: headers,
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.closer = f

	return img, nil
}

// segment is one PT_LOAD segment: filesz bytes backed by r, zero-filled up to memsz.
type segment struct {
	vaddr  uint64
	filesz uint64
	memsz  uint64
	r      io.ReaderAt
}

// segmentReader serves reads by virtual address across loaded segments.
type segmentReader struct {
	segs []segment
}

func (s *segmentReader) find(addr uint64) (segment, bool) {
	for _, seg := range s.segs {
		if addr >= seg.vaddr && addr-seg.vaddr < seg.memsz {
			return seg, true
		}
	}
	return segment{}, false
}

// ReadAt implements io.ReaderAt with virtual addresses as offsets.
func (s *segmentReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative address: %w", ErrOutOfRange)
	}

	addr := uint64(off)
	done := 0
	for done < len(p) {
		seg, ok := s.find(addr)
		if !ok {
			return done, fmt.Errorf("address 0x%x is not mapped: %w", addr, ErrOutOfRange)
		}

		rel := addr - seg.vaddr
		want := uint64(len(p) - done)

		if rel < seg.filesz {
			n := min(want, seg.filesz-rel)
			fileOff, _ := safe.Uint64ToInt64(rel)
			if _, err := seg.r.ReadAt(p[done:done+int(n)], fileOff); err != nil {
				return done, err
			}
			done += int(n)
			addr += n
			continue
		}

		// Bss: present in memory, absent from the file.
		n := min(want, seg.memsz-rel)
		clear(p[done : done+int(n)])
		done += int(n)
		addr += n
	}

	return done, nil
}
