package process

import (
	"rngtrainer/process/memory_map"
)

// Process is the interface that defines operations for interacting with a system process
type Process interface {
	// Close closes the process and releases resources.
	// Memory written into the process stays in place.
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// Module returns the bounds of the module the process was opened through
	Module() Module

	MemoryAccess
	MemoryAllocator
	ThreadRunner
}

// MemoryAccess defines raw reads, writes and region queries
type MemoryAccess interface {
	// ReadMemory reads memory from the process at the specified address
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// WriteMemory writes data to the process memory at the specified address,
	// temporarily lifting page protection if needed
	WriteMemory(addr ProcessMemoryAddress, data []byte) error

	// QueryRegion returns the region containing addr
	QueryRegion(addr ProcessMemoryAddress) (memory_map.MemoryMapItem, error)

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)
}

// MemoryAllocator defines remote allocations
type MemoryAllocator interface {
	// Allocate reserves and commits size bytes of executable, writable memory.
	// When near is non-zero the block is placed within rel32 reach of near.
	Allocate(size ProcessMemorySize, near ProcessMemoryAddress) (ProcessMemoryAddress, error)

	// Free releases a block returned by Allocate
	Free(addr ProcessMemoryAddress) error
}

// ThreadRunner runs code inside the process
type ThreadRunner interface {
	// RunThread starts a thread at entry with param as its only argument,
	// waits for it and returns its exit code
	RunThread(entry, param ProcessMemoryAddress) (uint32, error)
}
