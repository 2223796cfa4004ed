package compute

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func (e *Engine) createCommands() error {
	commandPool, res, err := e.device.CreateCommandPool(e.callbacks, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: e.selected.QueueFamilyIndex,
	})
	if err != nil {
		return resultError(StageCommands, res, err, "failed to create command pool")
	}
	e.commandPool = commandPool
	err = e.retain(StageCommands, ResourceCommandPool, func() {
		e.commandPool.Destroy(e.callbacks)
		e.commandPool = nil
	})
	if err != nil {
		return err
	}

	commandBuffers, res, err := e.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return resultError(StageCommands, res, err, "failed to allocate command buffer")
	}
	if len(commandBuffers) != 1 {
		e.device.FreeCommandBuffers(commandBuffers)
		return stageError(StageCommands, ErrorKindEnvironment,
			errors.Newf("expected 1 command buffer to be allocated, but received %d", len(commandBuffers)))
	}

	e.commandBuffer = commandBuffers[0]
	return e.retain(StageCommands, ResourceCommandBuffer, func() {
		e.device.FreeCommandBuffers([]core1_0.CommandBuffer{e.commandBuffer})
		e.commandBuffer = nil
	})
}
