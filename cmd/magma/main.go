// Magma CLI - loads a bytecode image and runs it on a fresh machine.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/magma/config"
	"github.com/chazu/magma/vm"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run holds the whole CLI body so its deferred cleanup (segment unlink,
// disk close) executes before the process exit code is decided. main
// must not os.Exit around it.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("magma", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configDir := fs.String("config", ".", "Directory to search for magma.toml")
	debugMode := fs.Bool("debug", false, "Create a debug segment and honor debugger commands")
	segment := fs.String("segment", "", "Debug segment name (overrides config)")
	alloc := fs.String("alloc", "", "Allocator strategy: buddy or fixed (overrides config)")
	stackSize := fs.Uint64("stack", 0, "Stack size in bytes (overrides config)")
	heapSize := fs.Uint64("heap", 0, "Heap size in bytes (overrides config)")
	diskImage := fs.String("disk", "", "Disk image path (overrides config)")
	dumpOnExit := fs.String("dump-on-exit", "", "Write a core dump to this path when the program ends")
	launchDebugger := fs.Bool("launch-debugger", false, "Launch the configured debugger binary after start")
	verbose := fs.Bool("v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: magma [options] program.mx\n\n")
		fmt.Fprintf(stderr, "Runs a Magma bytecode image. The EXIT register becomes the process exit code.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  magma prog.mx                    # Run with magma.toml (or default) settings\n")
		fmt.Fprintf(stderr, "  magma -alloc fixed prog.mx       # Force the fixed-block allocator\n")
		fmt.Fprintf(stderr, "  magma -debug -segment s prog.mx  # Expose a debug segment named s\n")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	cfg.ApplyEnv()
	applyFlagOverrides(cfg, *segment, *alloc, *stackSize, *heapSize, *diskImage)

	code, err := vm.LoadByteCode(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *verbose {
		fmt.Printf("Loaded %d bytes of bytecode", len(code.Code))
		if code.Sections != nil {
			fmt.Printf(" (%d debug sections)", len(code.Sections.Sections))
		}
		fmt.Println()
	}

	opts := vm.Options{
		StackSize: cfg.Machine.StackSize,
		HeapSize:  cfg.Machine.HeapSize,
		Allocator: cfg.Machine.Allocator,
	}

	if path := cfg.DiskImagePath(); path != "" {
		disk, err := vm.OpenDiskStore(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer disk.Close()
		opts.Disk = disk
	}

	if *debugMode || cfg.Debug.Enabled {
		memLen := int(uint64(len(code.Code)) + cfg.Machine.StackSize + cfg.Machine.HeapSize)
		seg, err := vm.CreateDebugSegment(cfg.Debug.Segment, memLen)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer seg.Unlink()
		defer seg.Close()
		opts.Debug = seg

		if *launchDebugger && cfg.Paths.DebuggerBinary != "" {
			cmd := exec.Command(cfg.Paths.DebuggerBinary, "-segment", cfg.Debug.Segment)
			cmd.Stdout = stderr
			cmd.Stderr = stderr
			if err := cmd.Start(); err != nil {
				fmt.Fprintf(stderr, "Warning: cannot launch debugger %s: %v\n", cfg.Paths.DebuggerBinary, err)
			}
		}
	}

	machine, err := vm.NewMachine(code.Code, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	runErr := machine.Run()

	if *dumpOnExit != "" {
		dump := vm.NewCoreDump(machine.Registers.Snapshot(), machine.Memory.Snapshot(), 0)
		if err := vm.WriteCoreDumpFile(*dumpOnExit, dump); err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}

	if code := machine.Registers.LastError(); code != vm.NoError && *verbose {
		fmt.Fprintf(stderr, "Final ERROR register: %s\n", code)
	}
	return machine.ExitCode()
}

// applyFlagOverrides lets command-line flags win over magma.toml.
func applyFlagOverrides(cfg *config.Config, segment, alloc string, stack, heap uint64, disk string) {
	if segment != "" {
		cfg.Debug.Segment = segment
	}
	if alloc != "" {
		cfg.Machine.Allocator = alloc
	}
	if stack != 0 {
		cfg.Machine.StackSize = stack
	}
	if heap != 0 {
		cfg.Machine.HeapSize = heap
	}
	if disk != "" {
		cfg.Machine.DiskImage = disk
	}
}
