//go:build !ricepaper_debug

package memutils

import "unsafe"

const (
	// DebugMargin is the number of guard bytes reserved after each resource in its memory block
	DebugMargin int = 0
)

// WriteMagicValue fills DebugMargin bytes at the provided pointer and offset with an
// easy-to-identify marker. It no-ops unless the ricepaper_debug build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// ValidateMagicValue reports whether the marker written by WriteMagicValue is intact.
// It always returns true unless the ricepaper_debug build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// DebugValidate calls Validate on the provided object and panics if it fails. It no-ops
// unless the ricepaper_debug build tag is present.
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 panics if value is not a power of two. It no-ops unless the ricepaper_debug
// build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
