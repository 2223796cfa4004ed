package compute

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const (
	scoreDiscrete   = 10000
	scoreVirtual    = 1000
	scoreIntegrated = 100
)

// DeviceScore ranks a physical device for compute work. Scores are compared by Class first,
// so a discrete accelerator is always preferred over any other kind of device, and by
// Secondary only between devices of the same class.
type DeviceScore struct {
	// Class is derived from the device type: 10000 for discrete, 1000 for virtual, 100 for
	// integrated and 0 for everything else
	Class int
	// Secondary is maxMemoryAllocationCount/100000 + maxComputeSharedMemorySize/1000
	Secondary int
}

// Less reports whether s ranks strictly below other
func (s DeviceScore) Less(other DeviceScore) bool {
	if s.Class != other.Class {
		return s.Class < other.Class
	}
	return s.Secondary < other.Secondary
}

// Total is the sum of both components, used for reporting
func (s DeviceScore) Total() int {
	return s.Class + s.Secondary
}

// ScorePhysicalDevice computes the score of a physical device from its properties
func ScorePhysicalDevice(properties *core1_0.PhysicalDeviceProperties) DeviceScore {
	var score DeviceScore
	if properties == nil {
		return score
	}

	switch properties.DriverType {
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		score.Class = scoreDiscrete
	case core1_0.PhysicalDeviceTypeVirtualGPU:
		score.Class = scoreVirtual
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		score.Class = scoreIntegrated
	}

	if properties.Limits != nil {
		score.Secondary = properties.Limits.MaxMemoryAllocationCount/100000 +
			properties.Limits.MaxComputeSharedMemorySize/1000
	}

	return score
}

// SelectedDevice describes the physical device an Engine was built on
type SelectedDevice struct {
	Name             string
	Type             core1_0.PhysicalDeviceType
	Score            DeviceScore
	QueueFamilyIndex int
}

type deviceCandidate struct {
	device     core1_0.PhysicalDevice
	properties *core1_0.PhysicalDeviceProperties
	score      DeviceScore
}

// bestCandidate returns the index of the highest-scoring candidate, keeping the first one
// encountered on ties, or -1 if there are no candidates
func bestCandidate(candidates []deviceCandidate) int {
	best := -1
	for index := range candidates {
		if best < 0 || candidates[best].score.Less(candidates[index].score) {
			best = index
		}
	}

	return best
}

// computeQueueFamilyIndex returns the lowest queue family index that supports compute, or -1
func computeQueueFamilyIndex(families []*core1_0.QueueFamilyProperties) int {
	return slices.IndexFunc(families, func(family *core1_0.QueueFamilyProperties) bool {
		return family != nil && family.QueueFlags&core1_0.QueueCompute != 0
	})
}

type deviceSelection struct {
	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	selected       SelectedDevice
}

func selectPhysicalDevice(logger *slog.Logger, instance core1_0.Instance, filter func(*core1_0.PhysicalDeviceProperties) bool) (deviceSelection, error) {
	physicalDevices, res, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return deviceSelection{}, resultError(StageDeviceSelection, res, err, "failed to enumerate physical devices")
	}

	candidates := make([]deviceCandidate, 0, len(physicalDevices))
	for _, physicalDevice := range physicalDevices {
		properties, err := physicalDevice.Properties()
		if err != nil {
			return deviceSelection{}, stageError(StageDeviceSelection, ErrorKindEnvironment,
				errors.Wrap(err, "failed to retrieve physical device properties"))
		}

		if filter != nil && !filter(properties) {
			logger.Debug("physical device excluded by filter", slog.String("name", properties.DriverName))
			continue
		}

		candidate := deviceCandidate{
			device:     physicalDevice,
			properties: properties,
			score:      ScorePhysicalDevice(properties),
		}
		logger.Debug("scored physical device",
			slog.String("name", properties.DriverName),
			slog.Any("type", properties.DriverType),
			slog.Int("class", candidate.score.Class),
			slog.Int("secondary", candidate.score.Secondary),
		)
		candidates = append(candidates, candidate)
	}

	best := bestCandidate(candidates)
	if best < 0 {
		return deviceSelection{}, stageError(StageDeviceSelection, ErrorKindEnvironment, ErrNoPhysicalDevices)
	}
	candidate := candidates[best]

	familyIndex := computeQueueFamilyIndex(candidate.device.QueueFamilyProperties())
	if familyIndex < 0 {
		return deviceSelection{}, stageError(StageDeviceSelection, ErrorKindEnvironment, ErrNoComputeQueueFamily)
	}

	selection := deviceSelection{
		physicalDevice: candidate.device,
		properties:     candidate.properties,
		selected: SelectedDevice{
			Name:             candidate.properties.DriverName,
			Type:             candidate.properties.DriverType,
			Score:            candidate.score,
			QueueFamilyIndex: familyIndex,
		},
	}

	logger.Info("selected physical device",
		slog.String("name", selection.selected.Name),
		slog.Any("type", selection.selected.Type),
		slog.Int("score", selection.selected.Score.Total()),
		slog.Int("queueFamily", familyIndex),
	)

	return selection, nil
}
