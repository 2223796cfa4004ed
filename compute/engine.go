// Package compute bootstraps a headless Vulkan compute context and tears it down again.
package compute

import (
	"io"
	"os"

	"github.com/AntoninHorkel/ricepaper/internal/utils"
	"github.com/AntoninHorkel/ricepaper/internal/vulkan"
	"github.com/AntoninHorkel/ricepaper/memutils"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"golang.org/x/exp/slog"
)

// Engine is a headless compute context: an instance, a logical device with a single compute
// queue, an input and an output storage buffer, a compute pipeline and a command buffer to
// record into. Every object is owned by the Engine and released by Destroy.
type Engine struct {
	logger    *slog.Logger
	options   CreateOptions
	callbacks *driver.AllocationCallbacks
	owned     *ownedResources
	hostMutex utils.OptionalMutex

	debugSink      *DebugSink
	instance       core1_0.Instance
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	selected       SelectedDevice

	device core1_0.Device
	queue  core1_0.Queue

	deviceMemory    *vulkan.DeviceMemoryProperties
	memoryTypeIndex int
	input           *BufferResource
	output          *BufferResource

	pipeline PipelineResources

	commandPool   core1_0.CommandPool
	commandBuffer core1_0.CommandBuffer
}

// New bootstraps an Engine
//
// logger - Receives the engine's progress and debug messenger traffic. Nil discards it.
//
// loader - The Vulkan loader used to create the instance, usually from core.CreateSystemLoader
//
// options - Optional parameters: it is valid to leave all the fields blank
//
// If any stage fails, everything created by earlier stages is destroyed and an *Error is
// returned.
func New(logger *slog.Logger, loader Loader, options CreateOptions) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}
	options = options.withDefaults()

	engine := &Engine{
		logger:          logger,
		options:         options,
		callbacks:       options.VulkanCallbacks,
		owned:           newOwnedResources(),
		memoryTypeIndex: -1,
		hostMutex: utils.OptionalMutex{
			UseMutex: options.Flags&CreateExternallySynchronized == 0,
		},
	}

	if options.Flags&CreateDebug != 0 {
		writer := options.DebugWriter
		if writer == nil {
			writer = os.Stderr
		}
		engine.debugSink = NewDebugSink(logger, writer)
	}

	stages := []struct {
		stage Stage
		run   func() error
	}{
		{stage: StageInstance, run: func() error { return engine.createInstance(loader) }},
		{stage: StageDeviceSelection, run: engine.selectDevice},
		{stage: StageDevice, run: engine.createDevice},
		{stage: StageResources, run: engine.createResources},
		{stage: StagePipeline, run: engine.createPipeline},
		{stage: StageCommands, run: engine.createCommands},
	}

	for _, stage := range stages {
		logger.Debug("running bootstrap stage", slog.String("stage", string(stage.stage)))

		err := stage.run()
		if err != nil {
			logger.Error("bootstrap stage failed",
				slog.String("stage", string(stage.stage)),
				slog.Any("error", err),
				slog.Int("releasing", engine.owned.Len()),
			)
			engine.Destroy()
			return nil, err
		}
	}

	logger.Debug("engine ready", slog.Any("resources", engine.owned.Kinds()))
	return engine, nil
}

func (e *Engine) selectDevice() error {
	selection, err := selectPhysicalDevice(e.logger, e.instance, e.options.DeviceFilter)
	if err != nil {
		return err
	}

	e.physicalDevice = selection.physicalDevice
	e.properties = selection.properties
	e.selected = selection.selected
	return nil
}

// retain pushes a freshly created object onto the owned resource stack. If the object
// cannot be retained, it is released immediately.
func (e *Engine) retain(stage Stage, kind ResourceKind, release func()) error {
	err := e.owned.Push(kind, release)
	if err != nil {
		release()
		return stageError(stage, ErrorKindEnvironment, err)
	}

	return nil
}

// Destroy releases every object the Engine owns in the reverse of the order it was created.
// It is safe to call Destroy more than once.
func (e *Engine) Destroy() {
	if e == nil || e.owned == nil {
		return
	}

	e.hostMutex.Lock()
	defer e.hostMutex.Unlock()

	memutils.DebugValidate(e.owned)
	released := e.owned.ReleaseAll(e.logger)
	if len(released) > 0 {
		e.logger.Debug("engine destroyed", slog.Any("released", released))
	}

	e.input = nil
	e.output = nil
	e.deviceMemory = nil
	e.memoryTypeIndex = -1
	e.physicalDevice = nil
	e.properties = nil
	e.selected = SelectedDevice{QueueFamilyIndex: -1}
}

// Instance is the engine's Vulkan instance
func (e *Engine) Instance() core1_0.Instance {
	return e.instance
}

// DebugMessenger is nil unless the engine was created with CreateDebug
func (e *Engine) DebugMessenger() ext_debug_utils.DebugUtilsMessenger {
	return e.debugMessenger
}

func (e *Engine) PhysicalDevice() core1_0.PhysicalDevice {
	return e.physicalDevice
}

func (e *Engine) SelectedDevice() SelectedDevice {
	return e.selected
}

// QueueFamilyIndex is the compute queue family of the selected device, or -1 once the engine
// is destroyed
func (e *Engine) QueueFamilyIndex() int {
	return e.selected.QueueFamilyIndex
}

func (e *Engine) Device() core1_0.Device {
	return e.device
}

// Queue is queue 0 of the compute queue family
func (e *Engine) Queue() core1_0.Queue {
	return e.queue
}

// Input is the storage buffer bound at InputBinding
func (e *Engine) Input() *BufferResource {
	return e.input
}

// Output is the storage buffer bound at OutputBinding
func (e *Engine) Output() *BufferResource {
	return e.output
}

func (e *Engine) Pipeline() PipelineResources {
	return e.pipeline
}

func (e *Engine) CommandPool() core1_0.CommandPool {
	return e.commandPool
}

func (e *Engine) CommandBuffer() core1_0.CommandBuffer {
	return e.commandBuffer
}

// MemoryTypeIndex is the host-visible and host-coherent memory type both buffers were
// allocated from, or -1 once the engine is destroyed
func (e *Engine) MemoryTypeIndex() int {
	return e.memoryTypeIndex
}

// HeapStatistics reports the device memory the engine holds in a single memory heap
func (e *Engine) HeapStatistics(heapIndex int) memutils.Statistics {
	if e.deviceMemory == nil || heapIndex < 0 || heapIndex >= e.deviceMemory.MemoryHeapCount() {
		return memutils.Statistics{}
	}

	return e.deviceMemory.HeapStatistics(heapIndex)
}

// WriteInput copies words into the start of the input buffer
func (e *Engine) WriteInput(words []uint32) error {
	e.hostMutex.Lock()
	defer e.hostMutex.Unlock()

	if e.input == nil {
		return errors.New("attempted to write to the input buffer of a destroyed engine")
	}

	return e.input.write(words)
}

// ReadOutput copies the start of the output buffer into words and returns the number of
// words copied
func (e *Engine) ReadOutput(words []uint32) (int, error) {
	e.hostMutex.Lock()
	defer e.hostMutex.Unlock()

	if e.output == nil {
		return 0, errors.New("attempted to read from the output buffer of a destroyed engine")
	}

	return e.output.read(words)
}
