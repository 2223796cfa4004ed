package compute

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
)

// Loader is the part of a Vulkan loader the engine needs to create an instance. It is
// satisfied by the *core.VulkanLoader returned from core.CreateSystemLoader.
type Loader interface {
	APIVersion() common.APIVersion
	AvailableExtensions() (map[string]*core1_0.ExtensionProperties, common.VkResult, error)
	AvailableLayers() (map[string]*core1_0.LayerProperties, common.VkResult, error)
	CreateInstance(allocationCallbacks *driver.AllocationCallbacks, options core1_0.InstanceCreateInfo) (core1_0.Instance, common.VkResult, error)
}

// DebugMessengerCreator creates debug messengers. It is satisfied by the ext_debug_utils extension.
type DebugMessengerCreator interface {
	CreateDebugUtilsMessenger(instance core1_0.Instance, allocationCallbacks *driver.AllocationCallbacks, o ext_debug_utils.DebugUtilsMessengerCreateInfo) (ext_debug_utils.DebugUtilsMessenger, common.VkResult, error)
}

// DebugUtilsFactory returns the DebugMessengerCreator to use for a freshly created instance
type DebugUtilsFactory func(instance core1_0.Instance) DebugMessengerCreator

func extensionDebugUtils(instance core1_0.Instance) DebugMessengerCreator {
	return ext_debug_utils.CreateExtensionFromInstance(instance)
}
