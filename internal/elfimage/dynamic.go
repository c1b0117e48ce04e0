package elfimage

import (
	"debug/elf"
	"fmt"
)

// maxDynamicEntries bounds a dynamic section without a usable PT_DYNAMIC size.
const maxDynamicEntries = 4096

// Dynamic holds the first value seen for each tag of a dynamic section.
type Dynamic map[elf.DynTag]uint64

// Lookup returns the value of tag and whether it was present.
func (d Dynamic) Lookup(tag elf.DynTag) (uint64, bool) {
	v, ok := d[tag]
	return v, ok
}

// ReadDynamic reads the image's dynamic section up to DT_NULL.
func ReadDynamic(img *Image) (Dynamic, error) {
	if img.Dynamic == 0 {
		return nil, ErrNotDynamic
	}

	entSize := 2 * img.WordSize()
	limit := uint64(maxDynamicEntries)
	if img.DynamicSize > 0 {
		limit = min(limit, img.DynamicSize/entSize)
	}

	dyn := make(Dynamic)
	for i := uint64(0); i < limit; i++ {
		addr := img.Dynamic + i*entSize

		tag, err := img.Word(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to read dynamic entry %d: %w", i, err)
		}
		if img.Class == elf.ELFCLASS32 {
			tag = uint64(int64(int32(uint32(tag)))) // #nosec G115 - d_tag is signed.
		}
		if elf.DynTag(tag) == elf.DT_NULL {
			return dyn, nil
		}

		val, err := img.Word(addr + img.WordSize())
		if err != nil {
			return nil, fmt.Errorf("failed to read dynamic entry %d: %w", i, err)
		}

		if _, seen := dyn[elf.DynTag(tag)]; !seen {
			dyn[elf.DynTag(tag)] = val
		}
	}

	return dyn, nil
}
