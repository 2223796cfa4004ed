package memutils

import "github.com/pkg/errors"

// ErrNotPowerOfTwo is returned from CheckPow2 when the value being tested is not a power of two
var ErrNotPowerOfTwo = errors.New("number must be a power of two")

// ErrMisaligned is returned from CheckAligned when an offset does not respect the required alignment
var ErrMisaligned = errors.New("value is not aligned")
