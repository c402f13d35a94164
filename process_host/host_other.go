//go:build !windows && !linux

package process_host

import (
	"fmt"
	"runtime"

	"rngtrainer/process"
)

// Open fails: attaching needs the Win64 backend
func Open(processName, moduleName string) (process.Process, error) {
	return nil, fmt.Errorf("attach to %s on %s: %w", processName, runtime.GOOS, process.ErrUnsupported)
}

func Finder() (process.ProcessFinder, error) {
	return nil, fmt.Errorf("process listing on %s: %w", runtime.GOOS, process.ErrUnsupported)
}
