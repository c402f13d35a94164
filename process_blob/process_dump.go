package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"rngtrainer/process"
	"rngtrainer/process/memory_map"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"
)

type dumpMetadata struct {
	PID        process.ProcessID            `json:"pid"`
	Name       string                       `json:"name"`
	ModuleBase process.ProcessMemoryAddress `json:"module_base"`
	ModuleEnd  process.ProcessMemoryAddress `json:"module_end"`
}

func blobName(dirname string, item memory_map.MemoryMapItem) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", item.Address, item.Size))
}

// SaveModule writes every readable region of proc's module to dirname.
// Unreadable regions are listed in the memory map without a blob.
func SaveModule(dirname string, proc process.Process) error {
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}

	mod := proc.Module()
	var saved []memory_map.MemoryMapItem

	for addr := mod.Base; addr < mod.End; {
		item, err := proc.QueryRegion(addr)
		if err != nil {
			return fmt.Errorf("failed to query region at %s: %w", addr.ToString(), err)
		}
		if item.Size == 0 || item.End() <= uint64(addr) {
			return fmt.Errorf("region query at %s made no progress", addr.ToString())
		}

		end := item.End()
		if end > uint64(mod.End) {
			end = uint64(mod.End)
		}
		item.Address = uint64(addr)
		item.Size = uint(end - uint64(addr))
		saved = append(saved, item)

		if item.IsReadable() {
			data, err := proc.ReadMemory(addr, process.ProcessMemorySize(item.Size))
			if err != nil {
				return fmt.Errorf("failed to read region %s: %w", addr.ToString(), err)
			}
			if err := os.WriteFile(blobName(dirname, item), data, 0644); err != nil {
				return fmt.Errorf("failed to write blob: %w", err)
			}
		}

		addr = process.ProcessMemoryAddress(end)
	}

	if err := writeJSON(filepath.Join(dirname, memoryMapFile), saved); err != nil {
		return err
	}

	return writeJSON(filepath.Join(dirname, metadataFile), dumpMetadata{
		PID:        proc.GetPID(),
		Name:       mod.Name,
		ModuleBase: mod.Base,
		ModuleEnd:  mod.End,
	})
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads a dump written by SaveModule back into a ProcessImage
func Load(dirname string) (*ProcessImage, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata dumpMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}

	var memoryMap []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &memoryMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory map: %w", err)
	}
	memory_map.Sort(memoryMap)

	img := NewProcessImage(metadata.PID, metadata.Name, metadata.ModuleBase)
	for _, item := range memoryMap {
		filename := blobName(dirname, item)
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			img.Reserve(process.ProcessMemoryAddress(item.Address), process.ProcessMemorySize(item.Size))
			continue
		}

		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read blob %s: %w", filename, err)
		}
		img.Map(process.ProcessMemoryAddress(item.Address), data, item.Perms)
	}

	img.mu.Lock()
	img.module.End = metadata.ModuleEnd
	img.mu.Unlock()

	return img, nil
}
