// Magma debugger CLI - attaches to a running VM through its shared
// debug segment.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/magma/debugger"
	"github.com/chazu/magma/vm"
)

func main() {
	segment := flag.String("segment", "debug", "Debug segment name to attach to")
	timeout := flag.Duration("timeout", debugger.DefaultAttachTimeout, "Attach timeout")
	registers := flag.Bool("registers", false, "Print the current register snapshot")
	watch := flag.Int("watch", 0, "Follow N snapshot updates, printing registers each time")
	pause := flag.Bool("pause", false, "Request the VM to pause")
	resume := flag.Bool("resume", false, "Clear a pending pause request")
	terminate := flag.Bool("terminate", false, "Request the VM to terminate, waiting for it to exit")
	dump := flag.String("dump", "", "Write a core dump of the attached VM to this path")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: magma-dbg [options]\n\n")
		fmt.Fprintf(os.Stderr, "Attaches to a running Magma VM's debug segment.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  magma-dbg -segment s -registers   # One register snapshot\n")
		fmt.Fprintf(os.Stderr, "  magma-dbg -segment s -watch 10    # Follow ten updates\n")
		fmt.Fprintf(os.Stderr, "  magma-dbg -segment s -dump c.core # Capture a core dump\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	client, err := debugger.Attach(*segment, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if *pause {
		client.RequestPause()
		fmt.Println("pause requested")
	}
	if *resume {
		client.Resume()
		fmt.Println("resumed")
	}

	if *registers {
		printRegisters(client.Registers())
	}

	if *watch > 0 {
		last := client.Counter()
		for i := 0; i < *watch; i++ {
			next, err := client.WaitForUpdate(last, *timeout)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			last = next
			fmt.Printf("--- update %d ---\n", next)
			printRegisters(client.Registers())
		}
	}

	if *dump != "" {
		if err := client.WriteCoreDump(*dump); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("core dump written to %s\n", *dump)
	}

	if *terminate {
		client.RequestTerminate()
		if err := client.WaitForExit(10 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("VM terminated")
	}
}

// printRegisters renders a register snapshot, one register per line.
func printRegisters(snapshot [vm.RegisterCount]uint64) {
	for i := 0; i < vm.RegisterCount; i++ {
		r := vm.Register(i)
		fmt.Printf("%-16s 0x%016X\n", r, snapshot[r])
	}
}
