package vulkan

import (
	"fmt"
	"sync/atomic"

	"github.com/AntoninHorkel/ricepaper/memutils"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// HostCoherentFlags are the memory property flags a memory type must carry for the host to
// map it and read/write without explicit flushes or invalidations
const HostCoherentFlags = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

// DeviceMemoryProperties wraps a physical device's memory types and heaps and tracks every
// vkAllocateMemory made against a single logical device
type DeviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory
	blockCount [common.MaxMemoryHeaps]int32
	// Number of resources bound into those allocations
	allocationCount [common.MaxMemoryHeaps]int32
	// Size of real allocations that have been made from device memory
	blockBytes [common.MaxMemoryHeaps]int64
	// Size of the resources bound into those allocations
	allocationBytes [common.MaxMemoryHeaps]int64

	// Whether the MappedMemory objects created from this object should use a mutex to control access
	useMutex            bool
	allocationCallbacks *driver.AllocationCallbacks
	memoryCallbacks     MemoryCallbacks
	memoryCount         uint32
	heapLimits          []int

	device           core1_0.Device
	deviceProperties *core1_0.PhysicalDeviceProperties
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(
	useMutex bool,
	allocationCallbacks *driver.AllocationCallbacks,
	memoryCallbacks MemoryCallbacks,
	device core1_0.Device,
	deviceProperties *core1_0.PhysicalDeviceProperties,
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties,
	heapSizeLimits []int,
) (*DeviceMemoryProperties, error) {
	if deviceProperties == nil || deviceProperties.Limits == nil {
		return nil, errors.New("physical device properties were not provided or did not include limits")
	}
	if memoryProperties == nil {
		return nil, errors.New("physical device memory properties were not provided")
	}

	heapLimitCount := len(heapSizeLimits)
	if heapLimitCount > 0 && heapLimitCount != len(memoryProperties.MemoryHeaps) {
		return nil, errors.Newf("HeapSizeLimits has %d entries, but the physical device has %d memory heaps", heapLimitCount, len(memoryProperties.MemoryHeaps))
	}

	return &DeviceMemoryProperties{
		useMutex:            useMutex,
		allocationCallbacks: allocationCallbacks,
		memoryCallbacks:     memoryCallbacks,
		heapLimits:          heapSizeLimits,

		device:           device,
		deviceProperties: deviceProperties,
		memoryProperties: memoryProperties,
	}, nil
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostCoherent(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags

	return flags&HostCoherentFlags == HostCoherentFlags
}

// FindMemoryTypeIndex returns the lowest memory type index that is permitted by memoryTypeBits
// and whose property flags contain every flag in requiredFlags. The boolean is false if no
// memory type qualifies.
func (m *DeviceMemoryProperties) FindMemoryTypeIndex(memoryTypeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, bool) {
	for memoryTypeIndex, memoryType := range m.memoryProperties.MemoryTypes {
		if memoryTypeBits&(1<<memoryTypeIndex) == 0 {
			continue
		}

		if memoryType.PropertyFlags&requiredFlags == requiredFlags {
			return memoryTypeIndex, true
		}
	}

	return -1, false
}

func (m *DeviceMemoryProperties) heapLimit(heapIndex int) int {
	if len(m.heapLimits) == 0 {
		return -1
	}

	limit := m.heapLimits[heapIndex]
	if limit == 0 {
		return -1
	}
	return limit
}

func (m *DeviceMemoryProperties) addBlockAllocation(heapIndex int, allocationSize int) {
	atomic.AddInt64(&m.blockBytes[heapIndex], int64(allocationSize))
	atomic.AddInt32(&m.blockCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) addBlockAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) (common.VkResult, error) {
	for {
		currentVal := atomic.LoadInt64(&m.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(core1_0.VKErrorOutOfDeviceMemory.ToError(),
				"allocating %d bytes would exceed the %d byte limit of heap %d", allocationSize, maxAllocatable, heapIndex)
		}

		if atomic.CompareAndSwapInt64(&m.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.blockCount[heapIndex], 1)
	return core1_0.VKSuccess, nil
}

func (m *DeviceMemoryProperties) removeBlockAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.blockBytes[heapIndex], int64(-allocationSize))

	if newVal < 0 {
		panic(fmt.Sprintf("block bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.blockCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count for heapIndex %d went negative", heapIndex))
	}
}

// AllocateVulkanMemory allocates a single block of device memory. It fails with
// VKErrorTooManyObjects once the device's maxMemoryAllocationCount would be exceeded, and with
// VKErrorOutOfDeviceMemory if the allocation would exceed a configured heap size limit.
func (m *DeviceMemoryProperties) AllocateVulkanMemory(
	allocateInfo core1_0.MemoryAllocateInfo,
) (mem *MappedMemory, res common.VkResult, err error) {
	if allocateInfo.MemoryTypeIndex < 0 || allocateInfo.MemoryTypeIndex >= m.MemoryTypeCount() {
		return nil, core1_0.VKErrorUnknown, errors.Newf("memory type index %d is out of range, the device has %d memory types", allocateInfo.MemoryTypeIndex, m.MemoryTypeCount())
	}

	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			// Decrement
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	maxAllocations := m.deviceProperties.Limits.MaxMemoryAllocationCount
	if maxAllocations > 0 && int(newDeviceCount) > maxAllocations {
		return nil, core1_0.VKErrorTooManyObjects, errors.Wrapf(core1_0.VKErrorTooManyObjects.ToError(),
			"the device permits %d memory allocations", maxAllocations)
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(allocateInfo.MemoryTypeIndex)
	heapLimit := m.heapLimit(heapIndex)
	if heapLimit < 0 {
		m.addBlockAllocation(heapIndex, allocateInfo.AllocationSize)
	} else {
		maxSize := heapLimit
		heapSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
		if heapSize < heapLimit {
			maxSize = heapSize
		}
		res, err = m.addBlockAllocationWithBudget(heapIndex, allocateInfo.AllocationSize, maxSize)
		if err != nil {
			return nil, res, err
		}
	}
	defer func() {
		// If we failed out, roll back the block allocation
		if err != nil {
			m.removeBlockAllocation(heapIndex, allocateInfo.AllocationSize)
		}
	}()

	vulkanMem, res, err := m.device.AllocateMemory(m.allocationCallbacks, allocateInfo)
	if err != nil {
		return nil, res, err
	}

	mem = newMappedMemory(vulkanMem, allocateInfo.MemoryTypeIndex, allocateInfo.AllocationSize, m.useMutex)

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(
			allocateInfo.MemoryTypeIndex,
			vulkanMem,
			allocateInfo.AllocationSize,
		)
	}

	return mem, res, nil
}

// FreeVulkanMemory unmaps (if needed) and frees a block allocated with AllocateVulkanMemory
func (m *DeviceMemoryProperties) FreeVulkanMemory(memory *MappedMemory) {
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(
			memory.MemoryTypeIndex(),
			memory.VulkanDeviceMemory(),
			memory.Size(),
		)
	}

	memory.freeMemory(m.allocationCallbacks)

	heapIndex := m.MemoryTypeIndexToHeapIndex(memory.MemoryTypeIndex())
	m.removeBlockAllocation(heapIndex, memory.Size())
	// Decrement
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

// AddAllocation records a resource of the given size bound into memory from the given heap
func (m *DeviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	atomic.AddInt64(&m.allocationBytes[heapIndex], int64(size))
	atomic.AddInt32(&m.allocationCount[heapIndex], 1)
}

// RemoveAllocation reverses AddAllocation
func (m *DeviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	newSizeVal := atomic.AddInt64(&m.allocationBytes[heapIndex], int64(-size))
	if newSizeVal < 0 {
		panic(fmt.Sprintf("allocation bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.allocationCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("allocation count for heapIndex %d went negative", heapIndex))
	}
}

// HeapStatistics reports the blocks and allocations currently live in a single heap
func (m *DeviceMemoryProperties) HeapStatistics(heapIndex int) memutils.Statistics {
	return memutils.Statistics{
		BlockCount:      int(atomic.LoadInt32(&m.blockCount[heapIndex])),
		AllocationCount: int(atomic.LoadInt32(&m.allocationCount[heapIndex])),
		BlockBytes:      int(atomic.LoadInt64(&m.blockBytes[heapIndex])),
		AllocationBytes: int(atomic.LoadInt64(&m.allocationBytes[heapIndex])),
	}
}

// AllocationCount is the number of device memory blocks that are currently allocated
func (m *DeviceMemoryProperties) AllocationCount() uint32 {
	return atomic.LoadUint32(&m.memoryCount)
}
