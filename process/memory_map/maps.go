package memory_map

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MapsEntry is one line of a /proc/<pid>/maps listing
type MapsEntry struct {
	MemoryMapItem
	Path string
}

// ParseMaps reads a /proc/<pid>/maps listing. Malformed lines are skipped.
func ParseMaps(r io.Reader) ([]MapsEntry, error) {
	var entries []MapsEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		// e.g. "00400000-0040b000"
		start, end, ok := strings.Cut(fields[0], "-")
		if !ok {
			continue
		}
		startAddr, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			continue
		}
		endAddr, err := strconv.ParseUint(end, 16, 64)
		if err != nil || endAddr <= startAddr {
			continue
		}

		entry := MapsEntry{
			MemoryMapItem: MemoryMapItem{
				Address: startAddr,
				Size:    uint(endAddr - startAddr),
				Perms:   fields[1],
				State:   StateCommit,
			},
		}
		// the path may contain spaces
		if len(fields) >= 6 {
			entry.Path = strings.Join(fields[5:], " ")
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read maps: %w", err)
	}
	return entries, nil
}

// Items strips the paths from a maps listing
func Items(entries []MapsEntry) []MemoryMapItem {
	items := make([]MemoryMapItem, len(entries))
	for i, e := range entries {
		items[i] = e.MemoryMapItem
	}
	return items
}

// Region returns the entry containing addr. Between entries it returns a
// free region spanning the gap, so callers can walk an address range.
func Region(addr uint64, entries []MapsEntry) (MemoryMapItem, bool) {
	gapStart := uint64(0)
	for _, e := range entries {
		if addr < e.Address {
			return MemoryMapItem{Address: gapStart, Size: uint(e.Address - gapStart), Perms: "---p", State: StateFree}, true
		}
		if addr < e.End() {
			return e.MemoryMapItem, true
		}
		gapStart = e.End()
	}
	return MemoryMapItem{}, false
}
