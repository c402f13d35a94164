package process

import (
	"fmt"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

func (pma ProcessMemoryAddress) Add(offset int64) ProcessMemoryAddress {
	return ProcessMemoryAddress(int64(pma) + offset)
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// Rel32Reach is the largest distance a rel32 displacement can cover.
const Rel32Reach = 0x7FFF0000

// InRel32Reach reports whether a rel32 displacement written at from can target to.
func InRel32Reach(from, to ProcessMemoryAddress) bool {
	d := int64(to) - int64(from)
	return d > -Rel32Reach && d < Rel32Reach
}
