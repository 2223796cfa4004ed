package compute

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// ResourceKind names a native object owned by an Engine
type ResourceKind string

const (
	ResourceInstance            ResourceKind = "Instance"
	ResourceDebugMessenger      ResourceKind = "DebugMessenger"
	ResourceDevice              ResourceKind = "Device"
	ResourceInputBuffer         ResourceKind = "InputBuffer"
	ResourceOutputBuffer        ResourceKind = "OutputBuffer"
	ResourceInputMemory         ResourceKind = "InputMemory"
	ResourceOutputMemory        ResourceKind = "OutputMemory"
	ResourceShaderModule        ResourceKind = "ShaderModule"
	ResourceDescriptorSetLayout ResourceKind = "DescriptorSetLayout"
	ResourcePipelineLayout      ResourceKind = "PipelineLayout"
	ResourcePipelineCache       ResourceKind = "PipelineCache"
	ResourcePipeline            ResourceKind = "Pipeline"
	ResourceCommandPool         ResourceKind = "CommandPool"
	ResourceCommandBuffer       ResourceKind = "CommandBuffer"
)

type ownedResource struct {
	kind    ResourceKind
	release func()
}

// ownedResources is the stack of every native object an engine has created, in creation
// order. Each kind can only be owned once.
type ownedResources struct {
	stack      []ownedResource
	registered *swiss.Map[ResourceKind, int]
}

func newOwnedResources() *ownedResources {
	return &ownedResources{
		registered: swiss.NewMap[ResourceKind, int](16),
	}
}

func (o *ownedResources) Push(kind ResourceKind, release func()) error {
	if release == nil {
		return errors.Newf("attempted to take ownership of %s without a release function", kind)
	}

	if index, exists := o.registered.Get(kind); exists {
		return errors.Newf("%s is already owned at position %d", kind, index)
	}

	o.registered.Put(kind, len(o.stack))
	o.stack = append(o.stack, ownedResource{kind: kind, release: release})
	return nil
}

func (o *ownedResources) Len() int {
	return len(o.stack)
}

// Validate checks that the registry and the stack agree on every owned resource
func (o *ownedResources) Validate() error {
	if o.registered.Count() != len(o.stack) {
		return errors.Newf("%d resources are registered, but %d are on the stack", o.registered.Count(), len(o.stack))
	}

	for index, resource := range o.stack {
		registeredIndex, exists := o.registered.Get(resource.kind)
		if !exists {
			return errors.Newf("%s is on the stack at position %d, but is not registered", resource.kind, index)
		}
		if registeredIndex != index {
			return errors.Newf("%s is on the stack at position %d, but is registered at position %d", resource.kind, index, registeredIndex)
		}
	}

	return nil
}

// Kinds lists the owned resources in creation order
func (o *ownedResources) Kinds() []ResourceKind {
	kinds := make([]ResourceKind, 0, len(o.stack))
	for _, resource := range o.stack {
		kinds = append(kinds, resource.kind)
	}
	return kinds
}

// ReleaseAll releases every owned resource in reverse creation order and returns the kinds
// in the order they were released
func (o *ownedResources) ReleaseAll(logger *slog.Logger) []ResourceKind {
	released := make([]ResourceKind, 0, len(o.stack))

	for len(o.stack) > 0 {
		last := len(o.stack) - 1
		resource := o.stack[last]
		o.stack[last] = ownedResource{}
		o.stack = o.stack[:last]
		o.registered.Delete(resource.kind)

		resource.release()
		released = append(released, resource.kind)

		logger.Debug("released resource", slog.String("kind", string(resource.kind)))
	}

	return released
}
