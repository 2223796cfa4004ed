package compute

import (
	"unsafe"

	"github.com/AntoninHorkel/ricepaper/internal/vulkan"
	"github.com/AntoninHorkel/ricepaper/memutils"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// BufferResource is one of the engine's storage buffers together with the dedicated,
// host-visible and host-coherent memory block bound to it
type BufferResource struct {
	buffer       core1_0.Buffer
	memory       *vulkan.MappedMemory
	size         int
	requirements core1_0.MemoryRequirements
	heapIndex    int
	offset       int
	bound        bool
}

func (b *BufferResource) Buffer() core1_0.Buffer {
	return b.buffer
}

// Memory is the device memory bound to the buffer, or nil if none is bound
func (b *BufferResource) Memory() core1_0.DeviceMemory {
	if b.memory == nil {
		return nil
	}
	return b.memory.VulkanDeviceMemory()
}

// Size is the size of the buffer in bytes
func (b *BufferResource) Size() int {
	return b.size
}

// AllocationSize is the size of the memory block bound to the buffer, which is at least Size
func (b *BufferResource) AllocationSize() int {
	if b.memory == nil {
		return 0
	}
	return b.memory.Size()
}

// Offset is where the buffer starts inside its memory block
func (b *BufferResource) Offset() int {
	return b.offset
}

func (b *BufferResource) Requirements() core1_0.MemoryRequirements {
	return b.requirements
}

// Len is the number of 32-bit words that fit in the buffer
func (b *BufferResource) Len() int {
	return b.size / elementSize
}

// mapWords maps the buffer's memory and checks the guard bytes that follow the buffer. The
// caller must unmap the memory if no error is returned.
func (b *BufferResource) mapWords() ([]uint32, error) {
	if b.memory == nil {
		return nil, errors.New("buffer has no memory bound to it")
	}

	ptr, _, err := b.memory.Map()
	if err != nil {
		return nil, err
	}

	if !memutils.ValidateMagicValue(ptr, b.size) {
		_ = b.memory.Unmap()
		return nil, errors.Wrapf(ErrGuardCorrupted, "guard bytes at offset %d", b.size)
	}

	return unsafe.Slice((*uint32)(ptr), b.Len()), nil
}

func (b *BufferResource) writeGuard() error {
	ptr, _, err := b.memory.Map()
	if err != nil {
		return err
	}

	memutils.WriteMagicValue(ptr, b.size)
	return b.memory.Unmap()
}

func (b *BufferResource) write(words []uint32) error {
	if len(words) > b.Len() {
		return errors.Newf("attempted to write %d words to a buffer that holds %d", len(words), b.Len())
	}

	mapped, err := b.mapWords()
	if err != nil {
		return err
	}

	copy(mapped, words)
	return b.memory.Unmap()
}

func (b *BufferResource) read(words []uint32) (int, error) {
	mapped, err := b.mapWords()
	if err != nil {
		return 0, err
	}

	count := copy(words, mapped)
	return count, b.memory.Unmap()
}

func (e *Engine) createResources() error {
	if e.options.ElementCount < 0 {
		return stageError(StageResources, ErrorKindEnvironment,
			errors.Newf("ElementCount must be positive, but was %d", e.options.ElementCount))
	}

	deviceMemory, err := vulkan.NewDeviceMemoryProperties(
		e.options.Flags&CreateExternallySynchronized == 0,
		e.callbacks,
		&memoryCallbacks{
			Callbacks: e.options.MemoryCallbackOptions,
			Engine:    e,
		},
		e.device,
		e.properties,
		e.physicalDevice.MemoryProperties(),
		e.options.HeapSizeLimits,
	)
	if err != nil {
		return stageError(StageResources, ErrorKindEnvironment, err)
	}
	e.deviceMemory = deviceMemory

	size := e.options.ElementCount * elementSize

	e.input, err = e.createBuffer(ResourceInputBuffer, size)
	if err != nil {
		return err
	}

	e.output, err = e.createBuffer(ResourceOutputBuffer, size)
	if err != nil {
		return err
	}

	typeBits := e.input.requirements.MemoryTypeBits & e.output.requirements.MemoryTypeBits
	memoryTypeIndex, found := e.deviceMemory.FindMemoryTypeIndex(typeBits, vulkan.HostCoherentFlags)
	if !found {
		return stageError(StageResources, ErrorKindEnvironment, ErrNoHostCoherentMemory)
	}
	e.memoryTypeIndex = memoryTypeIndex

	err = e.bindMemory(ResourceInputMemory, e.input)
	if err != nil {
		return err
	}

	err = e.bindMemory(ResourceOutputMemory, e.output)
	if err != nil {
		return err
	}

	e.logger.Debug("allocated storage buffers",
		slog.Int("size", size),
		slog.Int("allocationSize", e.input.AllocationSize()),
		slog.Int("memoryType", memoryTypeIndex),
	)

	return nil
}

func (e *Engine) createBuffer(kind ResourceKind, size int) (*BufferResource, error) {
	buffer, res, err := e.device.CreateBuffer(e.callbacks, core1_0.BufferCreateInfo{
		Size:               size,
		Usage:              core1_0.BufferUsageStorageBuffer,
		SharingMode:        core1_0.SharingModeExclusive,
		QueueFamilyIndices: []int{e.selected.QueueFamilyIndex},
	})
	if err != nil {
		return nil, resultError(StageResources, res, err, "failed to create %s", kind)
	}

	resource := &BufferResource{
		buffer: buffer,
		size:   size,
	}
	err = e.retain(StageResources, kind, func() {
		resource.buffer.Destroy(e.callbacks)
		resource.buffer = nil
	})
	if err != nil {
		return nil, err
	}

	resource.requirements = *buffer.MemoryRequirements()
	err = memutils.CheckPow2(resource.requirements.Alignment, "buffer memory alignment")
	if err != nil {
		return nil, stageError(StageResources, ErrorKindEnvironment, err)
	}

	return resource, nil
}

func (e *Engine) bindMemory(kind ResourceKind, resource *BufferResource) error {
	allocationSize := resource.requirements.Size
	if allocationSize < resource.size+memutils.DebugMargin {
		allocationSize = resource.size + memutils.DebugMargin
	}
	allocationSize = memutils.AlignUp(allocationSize, uint(resource.requirements.Alignment))

	memory, res, err := e.deviceMemory.AllocateVulkanMemory(core1_0.MemoryAllocateInfo{
		AllocationSize:  allocationSize,
		MemoryTypeIndex: e.memoryTypeIndex,
	})
	if err != nil {
		return resultError(StageResources, res, err, "failed to allocate %s", kind)
	}

	resource.memory = memory
	resource.heapIndex = e.deviceMemory.MemoryTypeIndexToHeapIndex(e.memoryTypeIndex)
	err = e.retain(StageResources, kind, func() {
		if resource.bound {
			e.deviceMemory.RemoveAllocation(resource.heapIndex, resource.size)
			resource.bound = false
		}
		e.deviceMemory.FreeVulkanMemory(resource.memory)
		resource.memory = nil
	})
	if err != nil {
		return err
	}

	err = memutils.CheckAligned(resource.offset, uint(resource.requirements.Alignment), "bind offset")
	if err != nil {
		return stageError(StageResources, ErrorKindEnvironment, errors.Wrapf(err, "failed to bind %s", kind))
	}

	res, err = memory.BindVulkanBuffer(resource.offset, resource.buffer)
	if err != nil {
		return resultError(StageResources, res, err, "failed to bind %s", kind)
	}
	e.deviceMemory.AddAllocation(resource.heapIndex, resource.size)
	resource.bound = true

	if memutils.DebugMargin > 0 {
		err = resource.writeGuard()
		if err != nil {
			return stageError(StageResources, ErrorKindEnvironment, errors.Wrapf(err, "failed to write guard bytes for %s", kind))
		}
	}

	return nil
}
