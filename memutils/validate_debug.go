//go:build ricepaper_debug

package memutils

import "unsafe"

const (
	// DebugMargin is the number of guard bytes reserved after each resource in its memory block
	DebugMargin int = 16
	// guardMagicValue is the 4-byte pattern repeated across the guard bytes
	guardMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue fills DebugMargin bytes at the provided pointer and offset with an
// easy-to-identify marker. It no-ops unless the ricepaper_debug build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		*(*uint32)(dest) = guardMagicValue
		dest = unsafe.Add(dest, unsafe.Sizeof(uint32(0)))
	}
}

// ValidateMagicValue reports whether the marker written by WriteMagicValue is intact.
// It always returns true unless the ricepaper_debug build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		if *(*uint32)(source) != guardMagicValue {
			return false
		}
		source = unsafe.Add(source, unsafe.Sizeof(uint32(0)))
	}

	return true
}

// DebugValidate calls Validate on the provided object and panics if it fails. It no-ops
// unless the ricepaper_debug build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if value is not a power of two. It no-ops unless the ricepaper_debug
// build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
