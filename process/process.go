// Package process provides interfaces and types for manipulating a remote process
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	ErrInvalidPointer = errors.New("invalid pointer read")

	// ErrUnresolved is returned when a pointer path could not be walked to its end.
	ErrUnresolved = errors.New("address unresolved")

	ErrProcessNotFound = errors.New("process not found")
	ErrModuleNotFound  = errors.New("module not found")

	// ErrNoNearbyMemory is returned when no free region exists within rel32 reach of the requested address.
	ErrNoNearbyMemory = errors.New("no free memory within reach")

	ErrUnsupported = errors.New("operation not supported on this platform")
)
