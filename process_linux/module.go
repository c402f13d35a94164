//go:build linux

package process_linux

import (
	"fmt"
	"strings"

	"rngtrainer/process"
	"rngtrainer/process/memory_map"
)

// baseName returns the last element of a Unix or Windows path
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// findModule spans every mapping backed by a file named name. Wine maps a PE
// image section by section from the file, so the span covers the whole image.
func findModule(entries []memory_map.MapsEntry, name string) (process.Module, error) {
	var m process.Module
	for _, e := range entries {
		if e.Path == "" || !strings.EqualFold(baseName(e.Path), name) {
			continue
		}
		start := process.ProcessMemoryAddress(e.Address)
		end := process.ProcessMemoryAddress(e.End())
		if m.Name == "" {
			m = process.Module{Name: baseName(e.Path), Base: start, End: end}
			continue
		}
		if start < m.Base {
			m.Base = start
		}
		if end > m.End {
			m.End = end
		}
	}
	if m.Name == "" {
		return m, fmt.Errorf("%q: %w", name, process.ErrModuleNotFound)
	}
	return m, nil
}
