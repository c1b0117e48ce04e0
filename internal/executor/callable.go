package executor

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/autotest/internal/discovery"
	"github.com/coral-mesh/autotest/internal/elfimage"
)

// SelfBase returns the load bias of the running executable.
func SelfBase(logger zerolog.Logger) (uint64, error) {
	img, err := elfimage.OpenProcess(logger)
	if err != nil {
		return 0, err
	}
	base := img.Base
	if err := img.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close process image")
	}
	return base, nil
}

// Callable turns entry into a function of the running process.
//
// The runtime address is the link-time address plus base. It must be the entry
// of a Go function with exactly the recorded name, otherwise the call would
// jump into the middle of unrelated code.
func Callable(entry discovery.Entry, base uint64) (func(), error) {
	pc := uintptr(entry.Addr + base)

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return nil, fmt.Errorf("no Go function at 0x%x for %s", pc, entry.Symbol)
	}
	if fn.Entry() != pc {
		return nil, fmt.Errorf("0x%x is inside %s, not at the entry of %s", pc, fn.Name(), entry.Symbol)
	}
	if fn.Name() != entry.Symbol {
		return nil, fmt.Errorf("function at 0x%x is %s, expected %s", pc, fn.Name(), entry.Symbol)
	}

	return funcAt(pc), nil
}

// funcAt builds a func value calling the code at pc. A func value points to a
// closure record whose first word is the code pointer; a function without
// captured variables needs nothing else.
func funcAt(pc uintptr) func() {
	closure := new(uintptr)
	*closure = pc
	return *(*func())(unsafe.Pointer(&closure))
}
