package compute

import (
	"io"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// CreateFlags indicate specific engine behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateDebug enables the Khronos validation layer and installs a debug messenger that
	// writes every validation message to CreateOptions.DebugWriter
	CreateDebug CreateFlags = 1 << iota
	// CreatePortability enables portability enumeration on the instance and the portability
	// subset extension on the device, when they are available. This is required to see
	// devices exposed through a portability driver such as MoltenVK.
	CreatePortability
	// CreateExternallySynchronized ensures that the engine's host-side buffer access will not be
	// synchronized internally. The consumer must guarantee the engine is used from only one
	// thread at a time or is synchronized by some other mechanism.
	CreateExternallySynchronized
)

func init() {
	CreateDebug.Register("CreateDebug")
	CreatePortability.Register("CreatePortability")
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

const (
	// DefaultElementCount is the number of 32-bit words in each storage buffer when
	// CreateOptions.ElementCount is left at 0
	DefaultElementCount int = 16
	// DefaultEntryPoint is the compute shader entry point used when CreateOptions.EntryPoint is empty
	DefaultEntryPoint = "main"
	// DefaultName is used as the application and engine name when none is provided
	DefaultName = "ricepaper"

	// ValidationLayerName is the instance layer enabled by CreateDebug
	ValidationLayerName = "VK_LAYER_KHRONOS_validation"

	elementSize = 4
)

// DefaultRequiredFeatures are the device features enabled on the logical device when
// CreateOptions.RequiredFeatures is nil
var DefaultRequiredFeatures = core1_0.PhysicalDeviceFeatures{
	LogicOp:       true,
	ShaderFloat64: true,
	ShaderInt64:   true,
	ShaderInt16:   true,
}

// CreateOptions contains optional settings when creating an Engine. It is valid to leave all
// the fields blank.
type CreateOptions struct {
	// Flags indicates specific engine behaviors to activate or deactivate
	Flags CreateFlags

	// ApplicationName and EngineName identify the application to the driver. Both default to
	// DefaultName.
	ApplicationName string
	EngineName      string
	// ApplicationVersion and EngineVersion default to 0.1.0
	ApplicationVersion common.Version
	EngineVersion      common.Version

	// ElementCount is the number of 32-bit words in each of the input and output buffers
	ElementCount int

	// ShaderCode is the SPIR-V bytecode of the compute shader. Leaving it empty builds a
	// placeholder shader module, which conformant drivers reject. See the shader package for
	// ways to produce bytecode.
	ShaderCode []uint32
	// EntryPoint is the name of the compute shader's entry point
	EntryPoint string

	// RequiredFeatures are the device features that must be supported by the selected physical
	// device and will be enabled on the logical device. Nil means DefaultRequiredFeatures.
	RequiredFeatures *core1_0.PhysicalDeviceFeatures

	// DeviceFilter can exclude physical devices from selection by returning false. It allows a
	// consumer to retry bootstrapping on a different accelerator after a failure.
	DeviceFilter func(properties *core1_0.PhysicalDeviceProperties) bool

	// DebugWriter receives formatted validation messages when CreateDebug is set. Nil means os.Stderr.
	DebugWriter io.Writer
	// DebugUtils builds the debug messenger creator for an instance. Nil means the
	// ext_debug_utils extension.
	DebugUtils DebugUtilsFactory

	// VulkanCallbacks is an optional set of callbacks that will be passed to every Vulkan
	// creation and destruction call made by the engine
	VulkanCallbacks *driver.AllocationCallbacks

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when device
	// memory is allocated or freed by the engine
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps in the selected
	// PhysicalDevice. Each entry must be either the maximum number of bytes that should be
	// allocated from the corresponding device memory heap, or -1 indicating no limit.
	HeapSizeLimits []int
}

func (o CreateOptions) withDefaults() CreateOptions {
	if o.ApplicationName == "" {
		o.ApplicationName = DefaultName
	}
	if o.EngineName == "" {
		o.EngineName = DefaultName
	}
	if o.ApplicationVersion == 0 {
		o.ApplicationVersion = common.CreateVersion(0, 1, 0)
	}
	if o.EngineVersion == 0 {
		o.EngineVersion = common.CreateVersion(0, 1, 0)
	}
	if o.ElementCount == 0 {
		o.ElementCount = DefaultElementCount
	}
	if o.EntryPoint == "" {
		o.EntryPoint = DefaultEntryPoint
	}
	if o.RequiredFeatures == nil {
		features := DefaultRequiredFeatures
		o.RequiredFeatures = &features
	}
	if o.DebugUtils == nil {
		o.DebugUtils = extensionDebugUtils
	}

	return o
}
