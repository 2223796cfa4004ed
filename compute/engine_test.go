package compute

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/golang/mock/gomock"
	"golang.org/x/exp/slog"
)

var placeholderCode = []uint32{0x07230203, 0x00010000, 0, 1, 0}

type fakeLoader struct {
	apiVersion common.APIVersion
	extensions map[string]*core1_0.ExtensionProperties
	layers     map[string]*core1_0.LayerProperties

	instance  core1_0.Instance
	createRes common.VkResult
	createErr error

	createInfo core1_0.InstanceCreateInfo
}

func (l *fakeLoader) APIVersion() common.APIVersion {
	return l.apiVersion
}

func (l *fakeLoader) AvailableExtensions() (map[string]*core1_0.ExtensionProperties, common.VkResult, error) {
	return l.extensions, core1_0.VKSuccess, nil
}

func (l *fakeLoader) AvailableLayers() (map[string]*core1_0.LayerProperties, common.VkResult, error) {
	return l.layers, core1_0.VKSuccess, nil
}

func (l *fakeLoader) CreateInstance(allocationCallbacks *driver.AllocationCallbacks, options core1_0.InstanceCreateInfo) (core1_0.Instance, common.VkResult, error) {
	l.createInfo = options
	if l.createErr != nil {
		return nil, l.createRes, l.createErr
	}
	return l.instance, core1_0.VKSuccess, nil
}

type fakeMessenger struct {
	ext_debug_utils.DebugUtilsMessenger
	onDestroy func()
}

func (m *fakeMessenger) Destroy(callbacks *driver.AllocationCallbacks) {
	m.onDestroy()
}

type fakeDebugUtils struct {
	messenger  *fakeMessenger
	createInfo ext_debug_utils.DebugUtilsMessengerCreateInfo
}

func (d *fakeDebugUtils) CreateDebugUtilsMessenger(instance core1_0.Instance, allocationCallbacks *driver.AllocationCallbacks, o ext_debug_utils.DebugUtilsMessengerCreateInfo) (ext_debug_utils.DebugUtilsMessenger, common.VkResult, error) {
	d.createInfo = o
	return d.messenger, core1_0.VKSuccess, nil
}

// engineRig holds the mocks for a single engine on a discrete device whose second queue family
// is the first to support compute, and whose third memory type is the first that is host
// visible and host coherent
type engineRig struct {
	released []string

	loader         *fakeLoader
	debugUtils     *fakeDebugUtils
	instance       *mocks.MockInstance
	physicalDevice *mocks.MockPhysicalDevice
	device         *mocks.MockDevice
	queue          *mocks.MockQueue
	inputBuffer    *mocks.MockBuffer
	outputBuffer   *mocks.MockBuffer
	inputMemory    *mocks.MockDeviceMemory
	outputMemory   *mocks.MockDeviceMemory
	shaderModule   *mocks.MockShaderModule
	setLayout      *mocks.MockDescriptorSetLayout
	pipelineLayout *mocks.MockPipelineLayout
	pipelineCache  *mocks.MockPipelineCache
	pipeline       *mocks.MockPipeline
	commandPool    *mocks.MockCommandPool
	commandBuffer  *mocks.MockCommandBuffer
}

var rigMemoryProperties = core1_0.PhysicalDeviceMemoryProperties{
	MemoryTypes: []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible, HeapIndex: 1},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
	},
	MemoryHeaps: []core1_0.MemoryHeap{
		{Size: 8000000000, Flags: core1_0.MemoryHeapDeviceLocal},
		{Size: 1000000},
	},
}

func newEngineRig(ctrl *gomock.Controller) *engineRig {
	rig := &engineRig{
		instance:       mocks.NewMockInstance(ctrl),
		physicalDevice: mocks.NewMockPhysicalDevice(ctrl),
		device:         mocks.NewMockDevice(ctrl),
		queue:          mocks.NewMockQueue(ctrl),
		inputBuffer:    mocks.NewMockBuffer(ctrl),
		outputBuffer:   mocks.NewMockBuffer(ctrl),
		inputMemory:    mocks.EasyMockDeviceMemory(ctrl),
		outputMemory:   mocks.EasyMockDeviceMemory(ctrl),
		shaderModule:   mocks.NewMockShaderModule(ctrl),
		setLayout:      mocks.NewMockDescriptorSetLayout(ctrl),
		pipelineLayout: mocks.NewMockPipelineLayout(ctrl),
		pipelineCache:  mocks.NewMockPipelineCache(ctrl),
		pipeline:       mocks.NewMockPipeline(ctrl),
		commandPool:    mocks.NewMockCommandPool(ctrl),
		commandBuffer:  mocks.NewMockCommandBuffer(ctrl),
	}

	rig.loader = &fakeLoader{
		apiVersion: common.Vulkan1_2,
		extensions: map[string]*core1_0.ExtensionProperties{
			ext_debug_utils.ExtensionName: {ExtensionName: ext_debug_utils.ExtensionName},
		},
		layers: map[string]*core1_0.LayerProperties{
			ValidationLayerName: {LayerName: ValidationLayerName},
		},
		instance: rig.instance,
	}
	rig.debugUtils = &fakeDebugUtils{
		messenger: &fakeMessenger{onDestroy: func() { rig.release("DebugMessenger") }},
	}

	return rig
}

func (r *engineRig) release(name string) {
	r.released = append(r.released, name)
}

func (r *engineRig) options(flags CreateFlags) CreateOptions {
	return CreateOptions{
		Flags:       flags,
		ShaderCode:  placeholderCode,
		DebugWriter: io.Discard,
		DebugUtils: func(instance core1_0.Instance) DebugMessengerCreator {
			return r.debugUtils
		},
	}
}

func (r *engineRig) expectSelection() {
	r.instance.EXPECT().EnumeratePhysicalDevices().Return([]core1_0.PhysicalDevice{r.physicalDevice}, core1_0.VKSuccess, nil)
	r.physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
		DriverName: "Rig Discrete",
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits: &core1_0.PhysicalDeviceLimits{
			MaxMemoryAllocationCount:   4096,
			MaxComputeSharedMemorySize: 49152,
			NonCoherentAtomSize:        1,
		},
	}, nil)
	r.physicalDevice.EXPECT().QueueFamilyProperties().Return([]*core1_0.QueueFamilyProperties{
		{QueueFlags: core1_0.QueueGraphics, QueueCount: 1},
		{QueueFlags: core1_0.QueueCompute | core1_0.QueueTransfer, QueueCount: 2},
	})
}

func (r *engineRig) expectDevice() {
	features := DefaultRequiredFeatures
	r.physicalDevice.EXPECT().Features().Return(&features)
	r.physicalDevice.EXPECT().CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: 1,
				QueuePriorities:  []float32{1.0},
			},
		},
		EnabledFeatures: &features,
	}).Return(r.device, core1_0.VKSuccess, nil)
	r.device.EXPECT().GetQueue(1, 0).Return(r.queue)
}

// expectResources sets up two 64-byte buffers whose memory requirements are padded out to
// 256 bytes
func (r *engineRig) expectResources() {
	r.physicalDevice.EXPECT().MemoryProperties().Return(&rigMemoryProperties)

	bufferInfo := core1_0.BufferCreateInfo{
		Size:               64,
		Usage:              core1_0.BufferUsageStorageBuffer,
		SharingMode:        core1_0.SharingModeExclusive,
		QueueFamilyIndices: []int{1},
	}
	requirements := &core1_0.MemoryRequirements{
		Size:           64,
		Alignment:      256,
		MemoryTypeBits: 0x7,
	}

	r.device.EXPECT().CreateBuffer(nil, bufferInfo).Return(r.inputBuffer, core1_0.VKSuccess, nil)
	r.inputBuffer.EXPECT().MemoryRequirements().Return(requirements)
	r.device.EXPECT().CreateBuffer(nil, bufferInfo).Return(r.outputBuffer, core1_0.VKSuccess, nil)
	r.outputBuffer.EXPECT().MemoryRequirements().Return(requirements)

	allocateInfo := core1_0.MemoryAllocateInfo{
		AllocationSize:  256,
		MemoryTypeIndex: 2,
	}
	r.device.EXPECT().AllocateMemory(nil, allocateInfo).Return(r.inputMemory, core1_0.VKSuccess, nil)
	r.inputBuffer.EXPECT().BindBufferMemory(r.inputMemory, 0).Return(core1_0.VKSuccess, nil)
	r.device.EXPECT().AllocateMemory(nil, allocateInfo).Return(r.outputMemory, core1_0.VKSuccess, nil)
	r.outputBuffer.EXPECT().BindBufferMemory(r.outputMemory, 0).Return(core1_0.VKSuccess, nil)
}

func (r *engineRig) expectPipeline() {
	r.device.EXPECT().CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: placeholderCode,
	}).Return(r.shaderModule, core1_0.VKSuccess, nil)
	r.device.EXPECT().CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
		},
	}).Return(r.setLayout, core1_0.VKSuccess, nil)
	r.device.EXPECT().CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{r.setLayout},
	}).Return(r.pipelineLayout, core1_0.VKSuccess, nil)
	r.device.EXPECT().CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{}).Return(r.pipelineCache, core1_0.VKSuccess, nil)
	r.device.EXPECT().CreateComputePipelines(r.pipelineCache, nil, []core1_0.ComputePipelineCreateInfo{
		{
			Stage: core1_0.PipelineShaderStageCreateInfo{
				Stage:  core1_0.StageCompute,
				Module: r.shaderModule,
				Name:   "main",
			},
			Layout: r.pipelineLayout,
		},
	}).Return([]core1_0.Pipeline{r.pipeline}, core1_0.VKSuccess, nil)
}

func (r *engineRig) expectCommands() {
	r.device.EXPECT().CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: 1,
	}).Return(r.commandPool, core1_0.VKSuccess, nil)
	r.device.EXPECT().AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}).Return([]core1_0.CommandBuffer{r.commandBuffer}, core1_0.VKSuccess, nil)
}

func (r *engineRig) recordDestroy(name string) func(callbacks *driver.AllocationCallbacks) {
	return func(callbacks *driver.AllocationCallbacks) { r.release(name) }
}

func (r *engineRig) expectTeardown() {
	r.device.EXPECT().FreeCommandBuffers([]core1_0.CommandBuffer{r.commandBuffer}).Do(func(buffers []core1_0.CommandBuffer) {
		r.release("CommandBuffer")
	})
	r.commandPool.EXPECT().Destroy(nil).Do(r.recordDestroy("CommandPool"))
	r.pipeline.EXPECT().Destroy(nil).Do(r.recordDestroy("Pipeline"))
	r.pipelineCache.EXPECT().Destroy(nil).Do(r.recordDestroy("PipelineCache"))
	r.pipelineLayout.EXPECT().Destroy(nil).Do(r.recordDestroy("PipelineLayout"))
	r.setLayout.EXPECT().Destroy(nil).Do(r.recordDestroy("DescriptorSetLayout"))
	r.shaderModule.EXPECT().Destroy(nil).Do(r.recordDestroy("ShaderModule"))
	r.outputMemory.EXPECT().Free(nil).Do(r.recordDestroy("OutputMemory"))
	r.inputMemory.EXPECT().Free(nil).Do(r.recordDestroy("InputMemory"))
	r.outputBuffer.EXPECT().Destroy(nil).Do(r.recordDestroy("OutputBuffer"))
	r.inputBuffer.EXPECT().Destroy(nil).Do(r.recordDestroy("InputBuffer"))
	r.device.EXPECT().Destroy(nil).Do(r.recordDestroy("Device"))
	r.instance.EXPECT().Destroy(nil).Do(r.recordDestroy("Instance"))
}

func (r *engineRig) expectAll() {
	r.expectSelection()
	r.expectDevice()
	r.expectResources()
	r.expectPipeline()
	r.expectCommands()
	r.expectTeardown()
}

var fullTeardownOrder = []string{
	"CommandBuffer",
	"CommandPool",
	"Pipeline",
	"PipelineCache",
	"PipelineLayout",
	"DescriptorSetLayout",
	"ShaderModule",
	"OutputMemory",
	"InputMemory",
	"OutputBuffer",
	"InputBuffer",
	"Device",
	"Instance",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func TestEngine_CreateAndDestroy(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectAll()

	engine, err := New(testLogger(), rig.loader, rig.options(0))
	require.NoError(t, err)

	require.Equal(t, common.Vulkan1_2, rig.loader.createInfo.APIVersion)
	require.Equal(t, DefaultName, rig.loader.createInfo.ApplicationName)
	require.Equal(t, DefaultName, rig.loader.createInfo.EngineName)
	require.Empty(t, rig.loader.createInfo.EnabledLayerNames)
	require.Empty(t, rig.loader.createInfo.EnabledExtensionNames)

	require.Equal(t, rig.instance, engine.Instance())
	require.Nil(t, engine.DebugMessenger())
	require.Equal(t, rig.physicalDevice, engine.PhysicalDevice())
	require.Equal(t, "Rig Discrete", engine.SelectedDevice().Name)
	require.Equal(t, 1, engine.QueueFamilyIndex())
	require.Equal(t, rig.device, engine.Device())
	require.Equal(t, rig.queue, engine.Queue())
	require.Equal(t, 2, engine.MemoryTypeIndex())

	require.Equal(t, rig.inputBuffer, engine.Input().Buffer())
	require.Equal(t, rig.inputMemory, engine.Input().Memory())
	require.Equal(t, 64, engine.Input().Size())
	require.Equal(t, 256, engine.Input().AllocationSize())
	require.Equal(t, 16, engine.Input().Len())
	require.Equal(t, rig.outputBuffer, engine.Output().Buffer())
	require.Equal(t, rig.outputMemory, engine.Output().Memory())

	pipeline := engine.Pipeline()
	require.Equal(t, rig.shaderModule, pipeline.ShaderModule)
	require.Equal(t, rig.setLayout, pipeline.DescriptorSetLayout)
	require.Equal(t, rig.pipelineLayout, pipeline.PipelineLayout)
	require.Equal(t, rig.pipelineCache, pipeline.PipelineCache)
	require.Equal(t, rig.pipeline, pipeline.Pipeline)
	require.Equal(t, rig.commandPool, engine.CommandPool())
	require.Equal(t, rig.commandBuffer, engine.CommandBuffer())

	heapStats := engine.HeapStatistics(1)
	require.Equal(t, 2, heapStats.BlockCount)
	require.Equal(t, 512, heapStats.BlockBytes)
	require.Equal(t, 2, heapStats.AllocationCount)
	require.Equal(t, 128, heapStats.AllocationBytes)
	require.Equal(t, 0, engine.HeapStatistics(0).BlockCount)

	engine.Destroy()
	require.Equal(t, fullTeardownOrder, rig.released)

	require.Nil(t, engine.Instance())
	require.Nil(t, engine.DebugMessenger())
	require.Nil(t, engine.PhysicalDevice())
	require.Equal(t, SelectedDevice{QueueFamilyIndex: -1}, engine.SelectedDevice())
	require.Equal(t, -1, engine.QueueFamilyIndex())
	require.Nil(t, engine.Device())
	require.Nil(t, engine.Queue())
	require.Nil(t, engine.Input())
	require.Nil(t, engine.Output())
	require.Equal(t, PipelineResources{}, engine.Pipeline())
	require.Nil(t, engine.CommandPool())
	require.Nil(t, engine.CommandBuffer())
	require.Equal(t, -1, engine.MemoryTypeIndex())
	require.Equal(t, 0, engine.HeapStatistics(1).BlockCount)

	// A second destroy has nothing left to release
	engine.Destroy()
	require.Equal(t, fullTeardownOrder, rig.released)
}

func TestEngine_Debug(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectAll()

	var debugOut bytes.Buffer
	options := rig.options(CreateDebug)
	options.DebugWriter = &debugOut

	engine, err := New(testLogger(), rig.loader, options)
	require.NoError(t, err)

	require.Equal(t, []string{ValidationLayerName}, rig.loader.createInfo.EnabledLayerNames)
	require.Equal(t, []string{ext_debug_utils.ExtensionName}, rig.loader.createInfo.EnabledExtensionNames)

	chained, ok := rig.loader.createInfo.Next.(ext_debug_utils.DebugUtilsMessengerCreateInfo)
	require.True(t, ok)
	require.Equal(t, DebugSeverities, chained.MessageSeverity)
	require.Equal(t, DebugTypes, chained.MessageType)

	require.Equal(t, DebugSeverities, rig.debugUtils.createInfo.MessageSeverity)
	require.Equal(t, DebugTypes, rig.debugUtils.createInfo.MessageType)
	require.Equal(t, rig.debugUtils.messenger, engine.DebugMessenger())

	// Messages reach the configured writer and are never marked handled
	handled := rig.debugUtils.createInfo.UserCallback(ext_debug_utils.TypeValidation, ext_debug_utils.SeverityWarning, &ext_debug_utils.DebugUtilsMessengerCallbackData{
		MessageIDName: "UNASSIGNED-test",
		Message:       "hello",
	})
	require.False(t, handled)
	require.Contains(t, debugOut.String(), "\x1B[0;1;30;103m")
	require.Contains(t, debugOut.String(), "UNASSIGNED-test: \x1B[0mhello")

	engine.Destroy()

	expected := append([]string{}, fullTeardownOrder[:len(fullTeardownOrder)-1]...)
	expected = append(expected, "DebugMessenger", "Instance")
	require.Equal(t, expected, rig.released)
	require.Nil(t, engine.DebugMessenger())
}

func TestEngine_DebugLayerUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.loader.layers = map[string]*core1_0.LayerProperties{}

	_, err := New(testLogger(), rig.loader, rig.options(CreateDebug))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFeatureUnavailable))

	var engineErr *Error
	require.True(t, errors.As(err, &engineErr))
	require.Equal(t, StageInstance, engineErr.Stage)
	require.Empty(t, rig.released)
}

func TestEngine_InstanceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.loader.createRes = core1_0.VKErrorIncompatibleDriver
	rig.loader.createErr = core1_0.VKErrorIncompatibleDriver.ToError()

	_, err := New(testLogger(), rig.loader, rig.options(0))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrEnvironment))

	var engineErr *Error
	require.True(t, errors.As(err, &engineErr))
	require.Equal(t, StageInstance, engineErr.Stage)
	require.Equal(t, core1_0.VKErrorIncompatibleDriver, engineErr.Result)
}

func TestEngine_MissingFeatureUnwinds(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectSelection()
	rig.physicalDevice.EXPECT().Features().Return(&core1_0.PhysicalDeviceFeatures{LogicOp: true})
	rig.instance.EXPECT().Destroy(nil).Do(rig.recordDestroy("Instance"))

	_, err := New(testLogger(), rig.loader, rig.options(0))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFeatureUnavailable))
	require.Contains(t, err.Error(), "ShaderFloat64, ShaderInt64, ShaderInt16")
	require.Equal(t, []string{"Instance"}, rig.released)
}

func TestEngine_AllocationFailureUnwinds(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectSelection()
	rig.expectDevice()
	rig.physicalDevice.EXPECT().MemoryProperties().Return(&rigMemoryProperties)

	requirements := &core1_0.MemoryRequirements{Size: 64, Alignment: 64, MemoryTypeBits: 0x7}
	rig.device.EXPECT().CreateBuffer(nil, gomock.Any()).Return(rig.inputBuffer, core1_0.VKSuccess, nil)
	rig.inputBuffer.EXPECT().MemoryRequirements().Return(requirements)
	rig.device.EXPECT().CreateBuffer(nil, gomock.Any()).Return(rig.outputBuffer, core1_0.VKSuccess, nil)
	rig.outputBuffer.EXPECT().MemoryRequirements().Return(requirements)

	rig.device.EXPECT().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  64,
		MemoryTypeIndex: 2,
	}).Return(rig.inputMemory, core1_0.VKSuccess, nil)
	rig.inputBuffer.EXPECT().BindBufferMemory(rig.inputMemory, 0).Return(core1_0.VKSuccess, nil)
	rig.device.EXPECT().AllocateMemory(nil, gomock.Any()).Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	rig.inputMemory.EXPECT().Free(nil).Do(rig.recordDestroy("InputMemory"))
	rig.outputBuffer.EXPECT().Destroy(nil).Do(rig.recordDestroy("OutputBuffer"))
	rig.inputBuffer.EXPECT().Destroy(nil).Do(rig.recordDestroy("InputBuffer"))
	rig.device.EXPECT().Destroy(nil).Do(rig.recordDestroy("Device"))
	rig.instance.EXPECT().Destroy(nil).Do(rig.recordDestroy("Instance"))

	_, err := New(testLogger(), rig.loader, rig.options(0))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrResourceExhaustion))

	var engineErr *Error
	require.True(t, errors.As(err, &engineErr))
	require.Equal(t, StageResources, engineErr.Stage)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, engineErr.Result)

	require.Equal(t, []string{"InputMemory", "OutputBuffer", "InputBuffer", "Device", "Instance"}, rig.released)
}

func TestEngine_NoHostCoherentMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectSelection()
	rig.expectDevice()
	rig.physicalDevice.EXPECT().MemoryProperties().Return(&rigMemoryProperties)

	// Only the device local and non-coherent types are acceptable to the buffers
	requirements := &core1_0.MemoryRequirements{Size: 64, Alignment: 16, MemoryTypeBits: 0x3}
	rig.device.EXPECT().CreateBuffer(nil, gomock.Any()).Return(rig.inputBuffer, core1_0.VKSuccess, nil)
	rig.inputBuffer.EXPECT().MemoryRequirements().Return(requirements)
	rig.device.EXPECT().CreateBuffer(nil, gomock.Any()).Return(rig.outputBuffer, core1_0.VKSuccess, nil)
	rig.outputBuffer.EXPECT().MemoryRequirements().Return(requirements)

	rig.outputBuffer.EXPECT().Destroy(nil).Do(rig.recordDestroy("OutputBuffer"))
	rig.inputBuffer.EXPECT().Destroy(nil).Do(rig.recordDestroy("InputBuffer"))
	rig.device.EXPECT().Destroy(nil).Do(rig.recordDestroy("Device"))
	rig.instance.EXPECT().Destroy(nil).Do(rig.recordDestroy("Instance"))

	_, err := New(testLogger(), rig.loader, rig.options(0))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoHostCoherentMemory))
	require.True(t, errors.Is(err, ErrEnvironment))
	require.Equal(t, []string{"OutputBuffer", "InputBuffer", "Device", "Instance"}, rig.released)
}

func TestEngine_PipelineFailureUnwinds(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectSelection()
	rig.expectDevice()
	rig.expectResources()

	rig.device.EXPECT().CreateShaderModule(nil, gomock.Any()).Return(rig.shaderModule, core1_0.VKSuccess, nil)
	rig.device.EXPECT().CreateDescriptorSetLayout(nil, gomock.Any()).Return(rig.setLayout, core1_0.VKSuccess, nil)
	rig.device.EXPECT().CreatePipelineLayout(nil, gomock.Any()).Return(rig.pipelineLayout, core1_0.VKSuccess, nil)
	rig.device.EXPECT().CreatePipelineCache(nil, gomock.Any()).Return(rig.pipelineCache, core1_0.VKSuccess, nil)
	rig.device.EXPECT().CreateComputePipelines(rig.pipelineCache, nil, gomock.Any()).Return(nil, core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfHostMemory.ToError())

	rig.pipelineCache.EXPECT().Destroy(nil).Do(rig.recordDestroy("PipelineCache"))
	rig.pipelineLayout.EXPECT().Destroy(nil).Do(rig.recordDestroy("PipelineLayout"))
	rig.setLayout.EXPECT().Destroy(nil).Do(rig.recordDestroy("DescriptorSetLayout"))
	rig.shaderModule.EXPECT().Destroy(nil).Do(rig.recordDestroy("ShaderModule"))
	rig.outputMemory.EXPECT().Free(nil).Do(rig.recordDestroy("OutputMemory"))
	rig.inputMemory.EXPECT().Free(nil).Do(rig.recordDestroy("InputMemory"))
	rig.outputBuffer.EXPECT().Destroy(nil).Do(rig.recordDestroy("OutputBuffer"))
	rig.inputBuffer.EXPECT().Destroy(nil).Do(rig.recordDestroy("InputBuffer"))
	rig.device.EXPECT().Destroy(nil).Do(rig.recordDestroy("Device"))
	rig.instance.EXPECT().Destroy(nil).Do(rig.recordDestroy("Instance"))

	_, err := New(testLogger(), rig.loader, rig.options(0))
	require.Error(t, err)

	var engineErr *Error
	require.True(t, errors.As(err, &engineErr))
	require.Equal(t, StagePipeline, engineErr.Stage)
	require.Equal(t, fullTeardownOrder[3:], rig.released)
}

func TestEngine_WriteInputReadOutput(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectAll()

	engine, err := New(testLogger(), rig.loader, rig.options(0))
	require.NoError(t, err)
	defer engine.Destroy()

	inputData := make([]uint32, 64)
	outputData := make([]uint32, 64)
	for i := range outputData {
		outputData[i] = uint32(i * 2)
	}

	rig.inputMemory.EXPECT().Map(0, 256, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&inputData[0]), core1_0.VKSuccess, nil)
	rig.inputMemory.EXPECT().Unmap()
	rig.outputMemory.EXPECT().Map(0, 256, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&outputData[0]), core1_0.VKSuccess, nil)
	rig.outputMemory.EXPECT().Unmap()

	words := []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	require.NoError(t, engine.WriteInput(words))
	require.Equal(t, words, inputData[:16])
	require.Equal(t, uint32(0), inputData[16])

	read := make([]uint32, 32)
	count, err := engine.ReadOutput(read)
	require.NoError(t, err)
	require.Equal(t, 16, count)
	require.Equal(t, outputData[:16], read[:16])

	require.Error(t, engine.WriteInput(make([]uint32, 17)))
}

func TestEngine_DestroyedBufferAccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectAll()

	engine, err := New(testLogger(), rig.loader, rig.options(CreateExternallySynchronized))
	require.NoError(t, err)
	engine.Destroy()

	require.Error(t, engine.WriteInput([]uint32{1}))
	_, err = engine.ReadOutput(make([]uint32, 1))
	require.Error(t, err)
}

func TestEngine_MemoryCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectAll()

	var allocated, freed []int
	options := rig.options(0)
	options.MemoryCallbackOptions = &MemoryCallbackOptions{
		Allocate: func(engine *Engine, memoryType int, memory core1_0.DeviceMemory, size int, userData interface{}) {
			require.Equal(t, "user data", userData)
			allocated = append(allocated, memoryType, size)
		},
		Free: func(engine *Engine, memoryType int, memory core1_0.DeviceMemory, size int, userData interface{}) {
			freed = append(freed, memoryType, size)
		},
		UserData: "user data",
	}

	engine, err := New(testLogger(), rig.loader, options)
	require.NoError(t, err)
	require.Equal(t, []int{2, 256, 2, 256}, allocated)
	require.Empty(t, freed)

	engine.Destroy()
	require.Equal(t, []int{2, 256, 2, 256}, freed)
}

func TestEngine_BuildStatsString(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := newEngineRig(ctrl)
	rig.expectAll()

	engine, err := New(testLogger(), rig.loader, rig.options(CreateExternallySynchronized))
	require.NoError(t, err)

	var stats struct {
		Flags     string
		Destroyed bool
		Device    struct {
			Name             string
			QueueFamilyIndex int
			Score            struct {
				Class     int
				Secondary int
			}
		}
		MemoryTypeIndex int
		MemoryType      struct {
			HeapIndex     int
			PropertyFlags int
			HostCoherent  bool
		}
		MemoryBlocks int
		Buffers      map[string]struct {
			Size           int
			AllocationSize int
			Offset         int
			Alignment      int
		}
		Heaps []struct {
			Size        int
			BlockCount  int
			UnusedBytes int
		}
		Total struct {
			BlockCount      int
			BlockBytes      int
			AllocationCount int
			AllocationBytes int
			UnusedBytes     int
		}
		Resources []string
	}
	require.NoError(t, json.Unmarshal([]byte(engine.BuildStatsString()), &stats))

	require.Equal(t, "CreateExternallySynchronized", stats.Flags)
	require.False(t, stats.Destroyed)
	require.Equal(t, "Rig Discrete", stats.Device.Name)
	require.Equal(t, 1, stats.Device.QueueFamilyIndex)
	require.Equal(t, 10000, stats.Device.Score.Class)
	require.Equal(t, 49, stats.Device.Score.Secondary)
	require.Equal(t, 2, stats.MemoryTypeIndex)
	require.Equal(t, 1, stats.MemoryType.HeapIndex)
	require.Equal(t, int(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent), stats.MemoryType.PropertyFlags)
	require.True(t, stats.MemoryType.HostCoherent)
	require.Equal(t, 2, stats.MemoryBlocks)
	require.Equal(t, 64, stats.Buffers["Input"].Size)
	require.Equal(t, 0, stats.Buffers["Input"].Offset)
	require.Equal(t, 256, stats.Buffers["Output"].AllocationSize)
	require.Equal(t, 256, stats.Buffers["Output"].Alignment)
	require.Len(t, stats.Heaps, 2)
	require.Equal(t, 8000000000, stats.Heaps[0].Size)
	require.Equal(t, 0, stats.Heaps[0].BlockCount)
	require.Equal(t, 1000000, stats.Heaps[1].Size)
	require.Equal(t, 2, stats.Heaps[1].BlockCount)
	require.Equal(t, 384, stats.Heaps[1].UnusedBytes)
	require.Equal(t, 2, stats.Total.BlockCount)
	require.Equal(t, 512, stats.Total.BlockBytes)
	require.Equal(t, 2, stats.Total.AllocationCount)
	require.Equal(t, 128, stats.Total.AllocationBytes)
	require.Equal(t, 384, stats.Total.UnusedBytes)
	require.Equal(t, []string{
		"Instance", "Device", "InputBuffer", "OutputBuffer", "InputMemory", "OutputMemory",
		"ShaderModule", "DescriptorSetLayout", "PipelineLayout", "PipelineCache", "Pipeline",
		"CommandPool", "CommandBuffer",
	}, stats.Resources)

	engine.Destroy()
	require.Contains(t, engine.BuildStatsString(), `"Destroyed":true`)
}
