// Package proc provides access to the running process through the /proc
// filesystem and the ELF auxiliary vector.
package proc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SelfExe is the kernel's link to the executable of the calling process.
const SelfExe = "/proc/self/exe"

// Auxiliary vector keys consumed by the harness.
const (
	AtNull  = 0
	AtPhdr  = 3
	AtPhent = 4
	AtPhnum = 5
	AtBase  = 7
	AtEntry = 9
)

// ErrNoMapping is returned when an executable has no mapping in the address space.
var ErrNoMapping = errors.New("no mapping found")

// GetBinaryPath returns the path to the executable for the given PID.
func GetBinaryPath(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}

// Auxv is a decoded ELF auxiliary vector.
type Auxv map[uint64]uint64

// Lookup returns the value for key and whether it was present.
func (a Auxv) Lookup(key uint64) (uint64, bool) {
	v, ok := a[key]
	return v, ok
}

// ReadAuxv returns the auxiliary vector of the calling process.
// It asks the Go runtime first and falls back to /proc/self/auxv.
func ReadAuxv() (Auxv, error) {
	if pairs, err := unix.Auxv(); err == nil && len(pairs) > 0 {
		auxv := make(Auxv, len(pairs))
		for _, kv := range pairs {
			auxv[uint64(kv[0])] = uint64(kv[1])
		}
		return auxv, nil
	}

	data, err := os.ReadFile("/proc/self/auxv")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc/self/auxv: %w", err)
	}
	return ParseAuxv(data, int(unsafe.Sizeof(uintptr(0))), binary.NativeEndian)
}

// ParseAuxv decodes raw auxiliary vector bytes made of (key, value) word pairs.
// Parsing stops at AT_NULL.
func ParseAuxv(data []byte, wordSize int, order binary.ByteOrder) (Auxv, error) {
	if wordSize != 4 && wordSize != 8 {
		return nil, fmt.Errorf("unsupported auxv word size %d", wordSize)
	}

	word := func(b []byte) uint64 {
		if wordSize == 4 {
			return uint64(order.Uint32(b))
		}
		return order.Uint64(b)
	}

	auxv := make(Auxv)
	for off := 0; off+2*wordSize <= len(data); off += 2 * wordSize {
		key := word(data[off:])
		if key == AtNull {
			return auxv, nil
		}
		auxv[key] = word(data[off+wordSize:])
	}

	return nil, fmt.Errorf("auxv is not terminated by AT_NULL")
}

// Mapping is one line of /proc/PID/maps.
type Mapping struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Inode  uint64
	Path   string
}

// Executable reports whether the mapping has execute permission.
func (m Mapping) Executable() bool {
	return len(m.Perms) >= 3 && m.Perms[2] == 'x'
}

// ReadMaps reads and parses /proc/PID/maps.
func ReadMaps(pid int) ([]Mapping, error) {
	mapsPath := fmt.Sprintf("/proc/%d/maps", pid)
	data, err := os.ReadFile(mapsPath) // #nosec G304: pid is int so it's safe
	if err != nil {
		return nil, fmt.Errorf("failed to read maps: %w", err)
	}
	return ParseMaps(data)
}

// ParseMaps parses the contents of a maps file.
// Format: address           perms offset  dev   inode   pathname
// Example: 555555554000-555555556000 r-xp 00000000 08:01 123456 /path/to/binary
func ParseMaps(data []byte) ([]Mapping, error) {
	var mappings []Mapping

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}

		start, end, ok := strings.Cut(fields[0], "-")
		if !ok {
			continue
		}

		m := Mapping{Perms: fields[1]}
		var err error
		if m.Start, err = strconv.ParseUint(start, 16, 64); err != nil {
			continue
		}
		if m.End, err = strconv.ParseUint(end, 16, 64); err != nil {
			continue
		}
		if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
			continue
		}
		if m.Inode, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
			continue
		}
		if len(fields) > 5 {
			m.Path = strings.Join(fields[5:], " ")
		}

		mappings = append(mappings, m)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse maps: %w", err)
	}

	return mappings, nil
}

// LoadAddress returns the address at which the file at path was mapped, that is
// the start of its mapping with file offset zero. When no such mapping exists
// the first executable mapping adjusted by its file offset is used.
func LoadAddress(mappings []Mapping, path string) (uint64, error) {
	var fallback *Mapping
	for i := range mappings {
		m := mappings[i]
		if m.Path != path {
			continue
		}
		if m.Offset == 0 {
			return m.Start, nil
		}
		if fallback == nil && m.Executable() && m.Start >= m.Offset {
			fallback = &mappings[i]
		}
	}

	if fallback != nil {
		return fallback.Start - fallback.Offset, nil
	}

	return 0, fmt.Errorf("%w for %s", ErrNoMapping, path)
}

// SelfLoadAddress returns the load address of the calling process's executable.
func SelfLoadAddress() (uint64, error) {
	exe, err := os.Readlink(SelfExe)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", SelfExe, err)
	}

	mappings, err := ReadMaps(os.Getpid())
	if err != nil {
		return 0, err
	}

	return LoadAddress(mappings, exe)
}
