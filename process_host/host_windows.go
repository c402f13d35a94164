//go:build windows

package process_host

import (
	"rngtrainer/process"
	"rngtrainer/process_windows"
)

// Open attaches to the first process named processName
func Open(processName, moduleName string) (process.Process, error) {
	p, err := process_windows.Open(processName, moduleName)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Finder lists running processes
func Finder() (process.ProcessFinder, error) {
	return process_windows.NewProcessFinder(), nil
}
