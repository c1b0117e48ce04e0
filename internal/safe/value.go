package safe

import (
	"math"
	"math/bits"
)

// Uint64ToInt64 safely converts an uint64 value to int64, clamping to math.MaxInt64 if overflow
// would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// AddUint64 adds two addresses and reports whether the sum wrapped around.
func AddUint64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry != 0
}

// MulUint64 multiplies two values and reports whether the product overflowed.
// Used for table index to byte offset conversions.
func MulUint64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi != 0
}

// Uint64ToInt converts a table size read from an untrusted image to int,
// clamping to math.MaxInt.
func Uint64ToInt(val uint64) (int, bool) {
	if val > math.MaxInt {
		return math.MaxInt, true
	}
	return int(val), false
}
