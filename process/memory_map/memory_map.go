package memory_map

import (
	"fmt"
	"sort"
)

// Region states as reported by the operating system
const (
	StateCommit  = "commit"
	StateReserve = "reserve"
	StateFree    = "free"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 // The starting address of the memory region
	Size    uint   // The size of the memory region in bytes
	Perms   string // Permissions (e.g., "r-xp" for read, execute, private)
	State   string `json:",omitempty"`
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	state := mmItem.State
	if state == "" {
		state = StateCommit
	}
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, State: %s", mmItem.Address, mmItem.Size, mmItem.Perms, state)
}

func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsCommitted() bool {
	return mmItem.State == "" || mmItem.State == StateCommit
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return mmItem.IsCommitted() && len(mmItem.Perms) > 0 && mmItem.Perms[0] == 'r'
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return mmItem.IsCommitted() && len(mmItem.Perms) > 1 && mmItem.Perms[1] == 'w'
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return mmItem.IsCommitted() && len(mmItem.Perms) > 2 && mmItem.Perms[2] == 'x'
}

// Sort orders a memory map by address, which the lookups below require
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// IsValidAddress checks if an address is within a readable region of a sorted memory map
func IsValidAddress(addr uint64, memoryMap []MemoryMapItem) bool {
	item := GetMemoryRegionForAddress(addr, memoryMap)
	return item != nil && item.IsReadable()
}

// GetMemoryRegionForAddress returns the region of a sorted memory map containing addr
func GetMemoryRegionForAddress(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}
