package elfimage

import (
	"fmt"
)

// HashKind identifies the hash table format found in the dynamic section.
type HashKind int

const (
	// HashSysV is the original DT_HASH table.
	HashSysV HashKind = iota + 1
	// HashGNU is the DT_GNU_HASH table with its bloom filter.
	HashGNU
)

func (k HashKind) String() string {
	switch k {
	case HashSysV:
		return "sysv"
	case HashGNU:
		return "gnu"
	default:
		return "unknown"
	}
}

// SysVHash is a view of a DT_HASH table.
type SysVHash struct {
	NBucket uint32
	NChain  uint32
	Buckets []uint32
	Chain   []uint32
}

// Count returns the number of symbol table entries, which DT_HASH declares
// directly as the chain length.
func (h *SysVHash) Count() uint32 {
	return h.NChain
}

// ChainReader reads entries of a GNU hash chain array. The array length is not
// stored anywhere, so entries are read on demand.
type ChainReader interface {
	ChainAt(i uint32) (uint32, error)
}

// ChainSlice is a ChainReader over an in-memory chain array.
type ChainSlice []uint32

// ChainAt implements ChainReader.
func (c ChainSlice) ChainAt(i uint32) (uint32, error) {
	if int(i) >= len(c) {
		return 0, fmt.Errorf("chain index %d beyond %d entries: %w", i, len(c), ErrOutOfRange)
	}
	return c[i], nil
}

// GNUHash is a view of a DT_GNU_HASH table.
type GNUHash struct {
	NBucket    uint32
	SymOffset  uint32
	BloomSize  uint32
	BloomShift uint32
	// Bloom holds the filter words, widened to 64 bits. WordBits is the width of
	// a filter word in the image (32 or 64).
	Bloom    []uint64
	WordBits uint32
	Buckets  []uint32
	Chain    ChainReader
}

// Count reconstructs the number of symbol table entries.
//
// The highest bucket value is the start of the last chain. Symbols below
// SymOffset are not hashed, so if no bucket reaches past it the offset itself
// is the count. Otherwise the last chain is walked to the entry with its low
// bit set, which ends the chain and the table.
func (h *GNUHash) Count() (uint32, error) {
	if h.NBucket == 0 {
		return 0, nil
	}

	var maxBucket uint32
	for _, b := range h.Buckets {
		maxBucket = max(maxBucket, b)
	}

	if maxBucket < h.SymOffset {
		return h.SymOffset, nil
	}

	i := maxBucket - h.SymOffset
	for {
		entry, err := h.Chain.ChainAt(i)
		if err != nil {
			return 0, fmt.Errorf("walking gnu hash chain: %w", err)
		}
		i++
		if entry&1 != 0 {
			break
		}
	}

	return h.SymOffset + i, nil
}

// MayContain consults the bloom filter. A false result means the name is
// definitely absent.
func (h *GNUHash) MayContain(hash uint32) bool {
	if len(h.Bloom) == 0 || h.WordBits == 0 {
		return true
	}
	word := h.Bloom[(hash/h.WordBits)%uint32(len(h.Bloom))] // #nosec G115
	mask := uint64(1)<<(hash%h.WordBits) | uint64(1)<<((hash>>h.BloomShift)%h.WordBits)
	return word&mask == mask
}

// GNUHashName is the DT_GNU_HASH function (Bernstein's h*33+c).
func GNUHashName(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// SysVHashName is the DT_HASH function from the System V ABI.
func SysVHashName(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xf0000000
	}
	return h
}

// imageChain reads GNU hash chain entries from an image.
type imageChain struct {
	img  *Image
	addr uint64
}

func (c imageChain) ChainAt(i uint32) (uint32, error) {
	return c.img.Uint32(c.addr + uint64(i)*4)
}

// ReadSysVHash reads a DT_HASH table at addr.
func ReadSysVHash(img *Image, addr uint64) (*SysVHash, error) {
	header, err := img.Uint32s(addr, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to read hash header: %w", err)
	}

	h := &SysVHash{NBucket: header[0], NChain: header[1]}
	if h.NBucket == 0 {
		return h, nil
	}

	if h.Buckets, err = img.Uint32s(addr+8, h.NBucket); err != nil {
		return nil, fmt.Errorf("failed to read hash buckets: %w", err)
	}
	if h.Chain, err = img.Uint32s(addr+8+uint64(h.NBucket)*4, h.NChain); err != nil {
		return nil, fmt.Errorf("failed to read hash chain: %w", err)
	}

	return h, nil
}

// ReadGNUHash reads a DT_GNU_HASH table at addr. The chain array is not
// copied; it is read from the image as it is walked.
func ReadGNUHash(img *Image, addr uint64) (*GNUHash, error) {
	header, err := img.Uint32s(addr, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to read gnu hash header: %w", err)
	}

	h := &GNUHash{
		NBucket:    header[0],
		SymOffset:  header[1],
		BloomSize:  header[2],
		BloomShift: header[3],
		WordBits:   uint32(img.WordSize() * 8), // #nosec G115 - 32 or 64.
	}
	if h.NBucket == 0 {
		return h, nil
	}

	bloomAddr := addr + 16
	bloomBytes := uint64(h.BloomSize) * img.WordSize()
	if !img.ContainsRange(bloomAddr, bloomBytes) {
		return nil, fmt.Errorf("bloom filter of %d words: %w", h.BloomSize, ErrOutOfRange)
	}
	h.Bloom = make([]uint64, h.BloomSize)
	for i := range h.Bloom {
		if h.Bloom[i], err = img.Word(bloomAddr + uint64(i)*img.WordSize()); err != nil {
			return nil, fmt.Errorf("failed to read bloom filter: %w", err)
		}
	}

	bucketAddr := bloomAddr + bloomBytes
	if h.Buckets, err = img.Uint32s(bucketAddr, h.NBucket); err != nil {
		return nil, fmt.Errorf("failed to read gnu hash buckets: %w", err)
	}

	h.Chain = imageChain{img: img, addr: bucketAddr + uint64(h.NBucket)*4}
	return h, nil
}
