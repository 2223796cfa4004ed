package compute

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
	"golang.org/x/exp/slog"
)

func (e *Engine) debugMessengerCreateInfo() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: DebugSeverities,
		MessageType:     DebugTypes,
		UserCallback:    e.debugSink.Callback,
	}
}

func (e *Engine) createInstance(loader Loader) error {
	if loader == nil {
		return stageError(StageInstance, ErrorKindEnvironment, errors.New("no vulkan loader was provided"))
	}

	apiVersion := loader.APIVersion()
	if apiVersion == 0 {
		apiVersion = common.Vulkan1_0
	}

	debug := e.options.Flags&CreateDebug != 0
	portability := e.options.Flags&CreatePortability != 0

	var layerNames, extensionNames []string
	var flags core1_0.InstanceCreateFlags
	var next common.NextOptions

	var availableExtensions map[string]*core1_0.ExtensionProperties
	if debug || portability {
		var res common.VkResult
		var err error
		availableExtensions, res, err = loader.AvailableExtensions()
		if err != nil {
			return resultError(StageInstance, res, err, "failed to enumerate instance extensions")
		}
	}

	if debug {
		availableLayers, res, err := loader.AvailableLayers()
		if err != nil {
			return resultError(StageInstance, res, err, "failed to enumerate instance layers")
		}

		_, hasLayer := availableLayers[ValidationLayerName]
		if !hasLayer {
			return stageError(StageInstance, ErrorKindFeatureUnavailable,
				errors.Newf("debugging was requested, but the %s layer is not available", ValidationLayerName))
		}

		_, hasExtension := availableExtensions[ext_debug_utils.ExtensionName]
		if !hasExtension {
			return stageError(StageInstance, ErrorKindFeatureUnavailable,
				errors.Newf("debugging was requested, but the %s extension is not available", ext_debug_utils.ExtensionName))
		}

		layerNames = append(layerNames, ValidationLayerName)
		extensionNames = append(extensionNames, ext_debug_utils.ExtensionName)
		// Covers messages emitted while the instance itself is created and destroyed
		next.Next = e.debugMessengerCreateInfo()
	}

	if portability {
		_, ok := availableExtensions[khr_portability_enumeration.ExtensionName]
		if ok {
			extensionNames = append(extensionNames, khr_portability_enumeration.ExtensionName)
			flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
		} else {
			e.logger.Debug("portability enumeration is not available", slog.String("extension", khr_portability_enumeration.ExtensionName))
		}
	}

	instance, res, err := loader.CreateInstance(e.callbacks, core1_0.InstanceCreateInfo{
		ApplicationName:       e.options.ApplicationName,
		ApplicationVersion:    e.options.ApplicationVersion,
		EngineName:            e.options.EngineName,
		EngineVersion:         e.options.EngineVersion,
		APIVersion:            apiVersion,
		EnabledLayerNames:     layerNames,
		EnabledExtensionNames: extensionNames,
		Flags:                 flags,
		NextOptions:           next,
	})
	if err != nil {
		return resultError(StageInstance, res, err, "failed to create instance")
	}

	e.instance = instance
	err = e.retain(StageInstance, ResourceInstance, func() {
		e.instance.Destroy(e.callbacks)
		e.instance = nil
	})
	if err != nil {
		return err
	}

	e.logger.Debug("created instance",
		slog.Any("apiVersion", apiVersion),
		slog.Any("layers", layerNames),
		slog.Any("extensions", extensionNames),
	)

	if !debug {
		return nil
	}

	messenger, res, err := e.options.DebugUtils(instance).CreateDebugUtilsMessenger(instance, e.callbacks, e.debugMessengerCreateInfo())
	if err != nil {
		return resultError(StageDebugMessenger, res, err, "failed to create debug messenger")
	}

	e.debugMessenger = messenger
	return e.retain(StageDebugMessenger, ResourceDebugMessenger, func() {
		e.debugMessenger.Destroy(e.callbacks)
		e.debugMessenger = nil
	})
}
