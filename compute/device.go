package compute

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"golang.org/x/exp/slog"
)

// computeQueuePriority is the priority of the engine's only queue
const computeQueuePriority float32 = 1.0

// missingFeatures lists the names of the features set in required that are not set in supported
func missingFeatures(required, supported *core1_0.PhysicalDeviceFeatures) []string {
	if required == nil {
		return nil
	}

	requiredValue := reflect.ValueOf(*required)
	var supportedValue reflect.Value
	if supported != nil {
		supportedValue = reflect.ValueOf(*supported)
	}

	var missing []string
	for i := 0; i < requiredValue.NumField(); i++ {
		field := requiredValue.Type().Field(i)
		if field.Type.Kind() != reflect.Bool || !requiredValue.Field(i).Bool() {
			continue
		}

		if supported == nil || !supportedValue.Field(i).Bool() {
			missing = append(missing, field.Name)
		}
	}

	return missing
}

func (e *Engine) createDevice() error {
	required := e.options.RequiredFeatures
	if missing := missingFeatures(required, e.physicalDevice.Features()); len(missing) > 0 {
		return stageError(StageDevice, ErrorKindFeatureUnavailable,
			errors.Newf("%s does not support required features: %s", e.selected.Name, strings.Join(missing, ", ")))
	}

	var extensionNames []string
	if e.options.Flags&CreatePortability != 0 {
		deviceExtensions, res, err := e.physicalDevice.EnumerateDeviceExtensionProperties()
		if err != nil {
			return resultError(StageDevice, res, err, "failed to enumerate device extensions")
		}

		_, ok := deviceExtensions[khr_portability_subset.ExtensionName]
		if ok {
			extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
		}
	}

	device, res, err := e.physicalDevice.CreateDevice(e.callbacks, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: e.selected.QueueFamilyIndex,
				QueuePriorities:  []float32{computeQueuePriority},
			},
		},
		EnabledExtensionNames: extensionNames,
		EnabledFeatures:       required,
	})
	if err != nil {
		return resultError(StageDevice, res, err, "failed to create logical device on %s", e.selected.Name)
	}

	e.device = device
	err = e.retain(StageDevice, ResourceDevice, func() {
		e.queue = nil
		e.device.Destroy(e.callbacks)
		e.device = nil
	})
	if err != nil {
		return err
	}

	e.queue = device.GetQueue(e.selected.QueueFamilyIndex, 0)
	if e.queue == nil {
		return stageError(StageDevice, ErrorKindEnvironment,
			errors.Newf("queue family %d did not provide a queue", e.selected.QueueFamilyIndex))
	}

	e.logger.Debug("created logical device",
		slog.Int("queueFamily", e.selected.QueueFamilyIndex),
		slog.Any("extensions", extensionNames),
	)

	return nil
}
