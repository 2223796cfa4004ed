package vulkan

import (
	"unsafe"

	"github.com/AntoninHorkel/ricepaper/internal/utils"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// MappedMemory is a single device memory block that can be bound to resources and mapped
// into host memory. Map calls are reference counted: the block is mapped by the first
// call and unmapped when the last reference is released.
type MappedMemory struct {
	mapReferences int
	mapData       unsafe.Pointer

	mapMutex        utils.OptionalMutex
	memory          core1_0.DeviceMemory
	memoryTypeIndex int
	size            int
}

func newMappedMemory(memory core1_0.DeviceMemory, memoryTypeIndex int, size int, useMutex bool) *MappedMemory {
	return &MappedMemory{
		memory:          memory,
		memoryTypeIndex: memoryTypeIndex,
		size:            size,
		mapMutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
	}
}

func (m *MappedMemory) VulkanDeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *MappedMemory) MemoryTypeIndex() int {
	return m.memoryTypeIndex
}

// Size is the size of the device memory block, which may be larger than the resource bound to it
func (m *MappedMemory) Size() int {
	return m.size
}

func (m *MappedMemory) BindVulkanBuffer(offset int, buffer core1_0.Buffer) (common.VkResult, error) {
	if buffer == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind a nil buffer")
	}
	if offset < 0 || offset >= m.size {
		return core1_0.VKErrorUnknown, errors.Newf("offset %d is outside of the memory block, which is size %d", offset, m.size)
	}

	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	return buffer.BindBufferMemory(m.memory, offset)
}

// Map maps the entire block into host memory, or returns the existing mapping if the block
// is already mapped, and takes a mapping reference
func (m *MappedMemory) Map() (unsafe.Pointer, common.VkResult, error) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences > 0 {
		if m.mapData == nil {
			return nil, core1_0.VKErrorUnknown, errors.New("the block is showing existing memory mapping references, but no mapped memory")
		}

		m.mapReferences++
		return m.mapData, core1_0.VKSuccess, nil
	}

	mappedData, result, err := m.memory.Map(0, m.size, 0)
	if err != nil {
		return nil, result, err
	}

	m.mapData = mappedData
	m.mapReferences = 1
	return mappedData, result, nil
}

// Unmap releases a mapping reference and unmaps the block once no references remain
func (m *MappedMemory) Unmap() error {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences == 0 {
		return errors.New("device memory block is being unmapped, but it is not mapped")
	}

	m.mapReferences--
	if m.mapReferences == 0 {
		m.memory.Unmap()
		m.mapData = nil
	}

	return nil
}

func (m *MappedMemory) freeMemory(callbacks *driver.AllocationCallbacks) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences > 0 {
		m.memory.Unmap()
		m.mapReferences = 0
		m.mapData = nil
	}

	m.memory.Free(callbacks)
	m.memory = nil
}
