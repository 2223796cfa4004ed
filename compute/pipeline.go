package compute

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

const (
	// InputBinding and OutputBinding are the descriptor set bindings of the input and output
	// storage buffers
	InputBinding  = 0
	OutputBinding = 1
)

// PipelineResources are the objects that make up the engine's compute pipeline
type PipelineResources struct {
	ShaderModule        core1_0.ShaderModule
	DescriptorSetLayout core1_0.DescriptorSetLayout
	PipelineLayout      core1_0.PipelineLayout
	PipelineCache       core1_0.PipelineCache
	Pipeline            core1_0.Pipeline
}

func (e *Engine) createPipeline() error {
	code := e.options.ShaderCode
	if len(code) == 0 {
		e.logger.Warn("no shader code was provided, building a placeholder shader module")
	}

	shaderModule, res, err := e.device.CreateShaderModule(e.callbacks, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return resultError(StagePipeline, res, err, "failed to create shader module")
	}
	e.pipeline.ShaderModule = shaderModule
	err = e.retain(StagePipeline, ResourceShaderModule, func() {
		e.pipeline.ShaderModule.Destroy(e.callbacks)
		e.pipeline.ShaderModule = nil
	})
	if err != nil {
		return err
	}

	descriptorSetLayout, res, err := e.device.CreateDescriptorSetLayout(e.callbacks, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         InputBinding,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         OutputBinding,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
		},
	})
	if err != nil {
		return resultError(StagePipeline, res, err, "failed to create descriptor set layout")
	}
	e.pipeline.DescriptorSetLayout = descriptorSetLayout
	err = e.retain(StagePipeline, ResourceDescriptorSetLayout, func() {
		e.pipeline.DescriptorSetLayout.Destroy(e.callbacks)
		e.pipeline.DescriptorSetLayout = nil
	})
	if err != nil {
		return err
	}

	pipelineLayout, res, err := e.device.CreatePipelineLayout(e.callbacks, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{descriptorSetLayout},
	})
	if err != nil {
		return resultError(StagePipeline, res, err, "failed to create pipeline layout")
	}
	e.pipeline.PipelineLayout = pipelineLayout
	err = e.retain(StagePipeline, ResourcePipelineLayout, func() {
		e.pipeline.PipelineLayout.Destroy(e.callbacks)
		e.pipeline.PipelineLayout = nil
	})
	if err != nil {
		return err
	}

	pipelineCache, res, err := e.device.CreatePipelineCache(e.callbacks, core1_0.PipelineCacheCreateInfo{})
	if err != nil {
		return resultError(StagePipeline, res, err, "failed to create pipeline cache")
	}
	e.pipeline.PipelineCache = pipelineCache
	err = e.retain(StagePipeline, ResourcePipelineCache, func() {
		e.pipeline.PipelineCache.Destroy(e.callbacks)
		e.pipeline.PipelineCache = nil
	})
	if err != nil {
		return err
	}

	pipelines, res, err := e.device.CreateComputePipelines(pipelineCache, e.callbacks, []core1_0.ComputePipelineCreateInfo{
		{
			Stage: core1_0.PipelineShaderStageCreateInfo{
				Stage:  core1_0.StageCompute,
				Module: shaderModule,
				Name:   e.options.EntryPoint,
			},
			Layout: pipelineLayout,
		},
	})
	if err != nil {
		return resultError(StagePipeline, res, err, "failed to create compute pipeline")
	}
	if len(pipelines) != 1 {
		for _, pipeline := range pipelines {
			pipeline.Destroy(e.callbacks)
		}
		return stageError(StagePipeline, ErrorKindEnvironment,
			errors.Newf("expected 1 compute pipeline to be created, but received %d", len(pipelines)))
	}

	e.pipeline.Pipeline = pipelines[0]
	err = e.retain(StagePipeline, ResourcePipeline, func() {
		e.pipeline.Pipeline.Destroy(e.callbacks)
		e.pipeline.Pipeline = nil
	})
	if err != nil {
		return err
	}

	e.logger.Debug("created compute pipeline",
		slog.Int("codeWords", len(code)),
		slog.String("entryPoint", e.options.EntryPoint),
	)

	return nil
}
