// Package process_host opens the live backend for the current platform
package process_host

import "rngtrainer/process"

// Opener attaches to a process by executable name and records the bounds of a module in it
type Opener func(processName, moduleName string) (process.Process, error)
