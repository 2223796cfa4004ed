package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

// CheckPow2 returns ErrNotPowerOfTwo, wrapped with the provided name, if number is not a power of two.
// Zero is treated as an invalid value.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns ErrMisaligned, wrapped with the provided name, if value is not a multiple
// of alignment. alignment must be a power of two.
func CheckAligned(value int, alignment uint, name string) error {
	if AlignDown(value, alignment) != value {
		return cerrors.Wrapf(ErrMisaligned, "%s is %d, which is not a multiple of %d", name, value, alignment)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	DebugCheckPow2(alignment, "alignment")
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown(value int, alignment uint) int {
	DebugCheckPow2(alignment, "alignment")
	return value & int(^(alignment - 1))
}
