package compute

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Stage names one of the bootstrap stages of an Engine
type Stage string

const (
	StageInstance        Stage = "InstanceBootstrap"
	StageDebugMessenger  Stage = "DebugMessenger"
	StageDeviceSelection Stage = "DeviceSelector"
	StageDevice          Stage = "DeviceFactory"
	StageResources       Stage = "ResourceAllocator"
	StagePipeline        Stage = "PipelineBuilder"
	StageCommands        Stage = "CommandInfrastructure"
)

// ErrorKind classifies why a bootstrap stage failed
type ErrorKind int

const (
	// ErrorKindEnvironment indicates that the machine cannot host an Engine: no usable accelerator,
	// no usable queue family or memory type, or a loader/driver problem
	ErrorKindEnvironment ErrorKind = iota
	// ErrorKindResourceExhaustion indicates that the driver rejected a creation or allocation
	// call because it ran out of host memory, device memory, or object slots
	ErrorKindResourceExhaustion
	// ErrorKindFeatureUnavailable indicates that a required feature, extension, or layer is not
	// supported by the loader or the selected accelerator
	ErrorKindFeatureUnavailable
)

var errorKindMapping = map[ErrorKind]string{
	ErrorKindEnvironment:        "ErrorKindEnvironment",
	ErrorKindResourceExhaustion: "ErrorKindResourceExhaustion",
	ErrorKindFeatureUnavailable: "ErrorKindFeatureUnavailable",
}

func (k ErrorKind) String() string {
	return errorKindMapping[k]
}

var (
	// ErrEnvironment matches every *Error of kind ErrorKindEnvironment with errors.Is
	ErrEnvironment = errors.New("environment error")
	// ErrResourceExhaustion matches every *Error of kind ErrorKindResourceExhaustion with errors.Is
	ErrResourceExhaustion = errors.New("resource exhaustion")
	// ErrFeatureUnavailable matches every *Error of kind ErrorKindFeatureUnavailable with errors.Is
	ErrFeatureUnavailable = errors.New("feature unavailable")

	ErrNoPhysicalDevices    = errors.New("no physical devices are available")
	ErrNoComputeQueueFamily = errors.New("the selected physical device has no queue family that supports compute")
	ErrNoHostCoherentMemory = errors.New("no memory type is both host visible and host coherent")

	// ErrGuardCorrupted is returned from buffer access in ricepaper_debug builds when the guard
	// bytes after a buffer have been overwritten
	ErrGuardCorrupted = errors.New("memory past the end of the buffer was overwritten")
)

// Error is returned from New when a bootstrap stage fails. Everything created before the
// failing stage has already been destroyed by the time it is returned.
type Error struct {
	Stage Stage
	Kind  ErrorKind
	// Result is the driver result that caused the failure, or VKSuccess if the failure was
	// detected without a failing driver call
	Result common.VkResult
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrEnvironment:
		return e.Kind == ErrorKindEnvironment
	case ErrResourceExhaustion:
		return e.Kind == ErrorKindResourceExhaustion
	case ErrFeatureUnavailable:
		return e.Kind == ErrorKindFeatureUnavailable
	}

	return false
}

func stageError(stage Stage, kind ErrorKind, err error) error {
	return &Error{
		Stage:  stage,
		Kind:   kind,
		Result: core1_0.VKSuccess,
		Err:    err,
	}
}

func resultError(stage Stage, res common.VkResult, err error, format string, args ...interface{}) error {
	return &Error{
		Stage:  stage,
		Kind:   classifyResult(res),
		Result: res,
		Err:    errors.Wrapf(err, format, args...),
	}
}

func classifyResult(res common.VkResult) ErrorKind {
	switch res {
	case core1_0.VKErrorOutOfHostMemory,
		core1_0.VKErrorOutOfDeviceMemory,
		core1_0.VKErrorTooManyObjects,
		core1_0.VKErrorFragmentedPool:
		return ErrorKindResourceExhaustion
	case core1_0.VKErrorFeatureNotPresent,
		core1_0.VKErrorExtensionNotPresent,
		core1_0.VKErrorLayerNotPresent:
		return ErrorKindFeatureUnavailable
	}

	return ErrorKindEnvironment
}
