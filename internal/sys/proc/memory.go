package proc

import (
	"fmt"
	"os"
)

// Memory reads the address space of a live process. Offsets passed to ReadAt
// are virtual addresses.
//
// Unmapped addresses yield an error rather than a fault.
type Memory struct {
	f *os.File
}

// OpenMemory opens /proc/PID/mem for reading.
func OpenMemory(pid int) (*Memory, error) {
	path := fmt.Sprintf("/proc/%d/mem", pid)
	f, err := os.Open(path) // #nosec G304: pid is int so it's safe
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Memory{f: f}, nil
}

// OpenSelfMemory opens the memory of the calling process.
func OpenSelfMemory() (*Memory, error) {
	return OpenMemory(os.Getpid())
}

// ReadAt implements io.ReaderAt over virtual addresses.
func (m *Memory) ReadAt(p []byte, addr int64) (int, error) {
	n, err := m.f.ReadAt(p, addr)
	if err != nil {
		return n, fmt.Errorf("read %d bytes at 0x%x: %w", len(p), addr, err)
	}
	return n, nil
}

// Close releases the underlying descriptor.
func (m *Memory) Close() error {
	return m.f.Close()
}
