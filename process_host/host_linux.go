//go:build linux

package process_host

import (
	"rngtrainer/process"
	"rngtrainer/process_linux"
)

// Open attaches to a game running under Wine. The result reads and writes
// memory but cannot allocate or start threads.
func Open(processName, moduleName string) (process.Process, error) {
	p, err := process_linux.Open(processName, moduleName)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Finder lists running processes
func Finder() (process.ProcessFinder, error) {
	return process_linux.NewProcessFinder(), nil
}
