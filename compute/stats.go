package compute

import (
	"fmt"

	"github.com/AntoninHorkel/ricepaper/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

func (d SelectedDevice) printParameters(json *jwriter.ObjectState) {
	json.Name("Name").String(d.Name)
	json.Name("Type").String(fmt.Sprint(d.Type))
	json.Name("QueueFamilyIndex").Int(d.QueueFamilyIndex)

	score := json.Name("Score").Object()
	score.Name("Class").Int(d.Score.Class)
	score.Name("Secondary").Int(d.Score.Secondary)
	score.End()
}

func (b *BufferResource) printParameters(json *jwriter.ObjectState) {
	json.Name("Size").Int(b.Size())
	json.Name("AllocationSize").Int(b.AllocationSize())
	json.Name("Offset").Int(b.Offset())
	json.Name("Alignment").Int(b.requirements.Alignment)
	json.Name("MemoryTypeBits").Int(int(b.requirements.MemoryTypeBits))
}

func printStatistics(json *jwriter.ObjectState, stats memutils.Statistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedBytes").Int(stats.UnusedBytes())
}

// BuildStatsString describes the engine's selected device, buffers and owned resources as
// a JSON document
func (e *Engine) BuildStatsString() string {
	e.hostMutex.Lock()
	defer e.hostMutex.Unlock()

	writer := jwriter.NewWriter()
	json := writer.Object()

	json.Name("Flags").String(e.options.Flags.String())
	json.Name("Destroyed").Bool(e.owned.Len() == 0)

	device := json.Name("Device").Object()
	e.selected.printParameters(&device)
	device.End()

	json.Name("MemoryTypeIndex").Int(e.memoryTypeIndex)
	if e.deviceMemory != nil && e.memoryTypeIndex >= 0 {
		memoryType := e.deviceMemory.MemoryTypeProperties(e.memoryTypeIndex)

		o := json.Name("MemoryType").Object()
		o.Name("HeapIndex").Int(memoryType.HeapIndex)
		o.Name("PropertyFlags").Int(int(memoryType.PropertyFlags))
		o.Name("HostCoherent").Bool(e.deviceMemory.IsMemoryTypeHostCoherent(e.memoryTypeIndex))
		o.End()
	}

	buffers := json.Name("Buffers").Object()
	for _, buffer := range []struct {
		name     string
		resource *BufferResource
	}{
		{name: "Input", resource: e.input},
		{name: "Output", resource: e.output},
	} {
		if buffer.resource == nil {
			continue
		}

		o := buffers.Name(buffer.name).Object()
		buffer.resource.printParameters(&o)
		o.End()
	}
	buffers.End()

	if e.deviceMemory != nil {
		json.Name("MemoryBlocks").Int(int(e.deviceMemory.AllocationCount()))

		var total memutils.Statistics
		heaps := json.Name("Heaps").Array()
		for heapIndex := 0; heapIndex < e.deviceMemory.MemoryHeapCount(); heapIndex++ {
			stats := e.deviceMemory.HeapStatistics(heapIndex)
			total.AddStatistics(&stats)

			o := heaps.Object()
			o.Name("Size").Int(e.deviceMemory.MemoryHeapProperties(heapIndex).Size)
			printStatistics(&o, stats)
			o.End()
		}
		heaps.End()

		o := json.Name("Total").Object()
		printStatistics(&o, total)
		o.End()
	}

	resources := json.Name("Resources").Array()
	for _, kind := range e.owned.Kinds() {
		resources.String(string(kind))
	}
	resources.End()

	json.End()

	return string(writer.Bytes())
}
