// ricepaper boots a headless compute engine on the best accelerator available, optionally
// round trips data through its storage buffers, and tears it down again.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/AntoninHorkel/ricepaper/compute"
	"github.com/AntoninHorkel/ricepaper/shader"
	"github.com/janpfeifer/must"
	"github.com/vkngwrapper/core/v2"
	"golang.org/x/exp/slog"
	"k8s.io/klog/v2"
)

var (
	flagDebug       = flag.Bool("debug", false, "Enable the Khronos validation layer and print its messages to stderr")
	flagPortability = flag.Bool("portability", false, "Enumerate portability drivers such as MoltenVK")
	flagElements    = flag.Int("elements", compute.DefaultElementCount, "Number of 32-bit words in each storage buffer")
	flagShader      = flag.String("shader", "", "Compute shader to build the pipeline from, a .spv or .wgsl file. Defaults to a shader that doubles its input")
	flagEntryPoint  = flag.String("entry", compute.DefaultEntryPoint, "Compute shader entry point")
	flagWrite       = flag.Bool("write", false, "Fill the input buffer with 0, 1, 2, ... and print both buffers")
	flagStats       = flag.Bool("stats", false, "Print the engine's statistics as JSON")
	flagVerbose     = flag.Bool("verbose", false, "Log every bootstrap and teardown step")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ricepaper creates a compute-only Vulkan context: a logical device with one compute
queue, an input and an output storage buffer, a compute pipeline and a command buffer.

Usage:
`)
		flag.PrintDefaults()
	}
	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	level := slog.LevelInfo
	if *flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))

	var code []uint32
	if *flagShader != "" {
		code = must.M1(shader.Load(*flagShader))
	} else {
		code = must.M1(shader.Compile(shader.DoubleWGSL))
	}

	var flags compute.CreateFlags
	if *flagDebug {
		flags |= compute.CreateDebug
	}
	if *flagPortability {
		flags |= compute.CreatePortability
	}

	loader := must.M1(core.CreateSystemLoader())
	engine, err := compute.New(logger, loader, compute.CreateOptions{
		Flags:        flags,
		ElementCount: *flagElements,
		ShaderCode:   code,
		EntryPoint:   *flagEntryPoint,
		DebugWriter:  os.Stderr,
	})
	if err != nil {
		klog.Fatalf("Failed to create compute engine: %+v", err)
	}
	defer engine.Destroy()

	selected := engine.SelectedDevice()
	fmt.Printf("Running on %s (queue family %d)\n", selected.Name, selected.QueueFamilyIndex)

	if *flagWrite {
		input := make([]uint32, engine.Input().Len())
		for i := range input {
			input[i] = uint32(i)
		}
		must.M(engine.WriteInput(input))

		output := make([]uint32, engine.Output().Len())
		must.M1(engine.ReadOutput(output))

		fmt.Printf("\tinput:  %v\n", input)
		fmt.Printf("\toutput: %v\n", output)
	}

	if *flagStats {
		fmt.Println(engine.BuildStatsString())
	}
}
