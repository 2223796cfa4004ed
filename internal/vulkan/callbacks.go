package vulkan

import "github.com/vkngwrapper/core/v2/core1_0"

// MemoryCallbacks receives a notification for each device memory block allocated or freed
// through DeviceMemoryProperties
type MemoryCallbacks interface {
	Allocate(memoryType int, memory core1_0.DeviceMemory, size int)
	Free(memoryType int, memory core1_0.DeviceMemory, size int)
}
