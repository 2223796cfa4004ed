// Package shader produces SPIR-V bytecode for the compute engine's pipeline, either by
// compiling WGSL source or by loading precompiled modules.
package shader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
)

// Magic is the first word of every SPIR-V module
const Magic uint32 = 0x07230203

// headerWords is the number of words in a SPIR-V module header
const headerWords = 5

var (
	ErrTruncated     = errors.New("SPIR-V bytecode length is not a multiple of 4")
	ErrNotSPIRV      = errors.New("bytecode does not begin with the SPIR-V magic number")
	ErrUnknownFormat = errors.New("shader file must have a .spv or .wgsl extension")
)

// DoubleWGSL is a compute shader that writes twice each word of the input buffer at binding 0
// into the output buffer at binding 1. Both buffers are runtime sized, so it fits any element
// count.
const DoubleWGSL = `
@group(0) @binding(0) var<storage, read> input: array<u32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;

@compute @workgroup_size(16)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = id.x;
    if (i < arrayLength(&input) && i < arrayLength(&output)) {
        output[i] = input[i] * 2u;
    }
}
`

// Words packs SPIR-V bytecode into the 32-bit words a shader module is created from. Modules
// written in big endian byte order are swapped to host order.
func Words(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, errors.Wrapf(ErrTruncated, "bytecode is %d bytes", len(code))
	}
	if len(code) < headerWords*4 {
		return nil, errors.Wrapf(ErrNotSPIRV, "bytecode is only %d bytes", len(code))
	}

	order := binary.ByteOrder(binary.LittleEndian)
	switch {
	case binary.LittleEndian.Uint32(code) == Magic:
	case binary.BigEndian.Uint32(code) == Magic:
		order = binary.BigEndian
	default:
		return nil, errors.Wrapf(ErrNotSPIRV, "first word is 0x%08X", binary.LittleEndian.Uint32(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = order.Uint32(code[i*4:])
	}

	return words, nil
}

// Compile compiles WGSL source into SPIR-V words
func Compile(source string) ([]uint32, error) {
	code, err := naga.Compile(source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile WGSL shader")
	}

	return Words(code)
}

// Load reads a shader from disk. Files ending in .spv are treated as SPIR-V bytecode and
// files ending in .wgsl are compiled.
func Load(path string) ([]uint32, error) {
	extension := strings.ToLower(filepath.Ext(path))
	if extension != ".spv" && extension != ".wgsl" {
		return nil, errors.Wrapf(ErrUnknownFormat, "cannot load %s", path)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shader %s", path)
	}

	if extension == ".wgsl" {
		words, err := Compile(string(contents))
		return words, errors.Wrapf(err, "%s", path)
	}

	words, err := Words(contents)
	return words, errors.Wrapf(err, "%s", path)
}
