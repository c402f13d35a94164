// module_dump saves the game module of a running process so sigcheck can
// verify signatures against it offline.
package main

import (
	"flag"
	"fmt"
	"os"

	"rngtrainer/config"
	"rngtrainer/peimage"
	"rngtrainer/process_blob"
	"rngtrainer/process_host"
)

func main() {
	defaults := config.Default()
	processFlag := flag.String("process", defaults.Process, "Executable name of the game process")
	moduleFlag := flag.String("module", defaults.Module, "Module to save")
	outputFlag := flag.String("output", "", "Output directory for the dump")
	flag.Parse()

	if *outputFlag == "" {
		fmt.Println("Error: --output is required")
		flag.Usage()
		os.Exit(1)
	}

	proc, err := process_host.Open(*processFlag, *moduleFlag)
	if err != nil {
		fmt.Printf("Error attaching to %s: %v\n", *processFlag, err)
		os.Exit(1)
	}
	defer proc.Close()

	mod := proc.Module()
	fmt.Printf("Attached to process %d, %s at %s\n", proc.GetPID(), mod.Name, mod.Base.ToString())

	if info, err := peimage.Inspect(proc, mod); err == nil {
		fmt.Printf("Build: %s\n", info.Stamp())
	}

	fmt.Printf("Saving dump to %s...\n", *outputFlag)
	if err := process_blob.SaveModule(*outputFlag, proc); err != nil {
		fmt.Printf("Error saving dump: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Dump saved successfully")
}
