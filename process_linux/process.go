//go:build linux

// Package process_linux attaches to a game running under Wine or Proton.
// Reads, writes and module dumps work; remote allocation and threads do not,
// so the engine can verify call sites but not inject.
package process_linux

import (
	"fmt"
	"os"
	"sync"

	"rngtrainer/process"
	"rngtrainer/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// LinuxProcess implements the process.Process interface for Linux systems
type LinuxProcess struct {
	pid    process.ProcessID
	mem    *os.File
	module process.Module
	log    *logger.Logger
	mu     sync.Mutex
}

var _ process.Process = (*LinuxProcess)(nil)

// Open attaches to the first process named processName and records the bounds of moduleName
func Open(processName, moduleName string) (*LinuxProcess, error) {
	pid, err := FindProcess(processName)
	if err != nil {
		return nil, err
	}
	return NewWithPID(pid, moduleName)
}

// NewWithPID opens pid and records the bounds of moduleName from its maps
func NewWithPID(pid process.ProcessID, moduleName string) (*LinuxProcess, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotFound)
	}

	entries, err := readMaps(pid)
	if err != nil {
		return nil, err
	}
	module, err := findModule(entries, moduleName)
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, err)
	}

	// writes through /proc/<pid>/mem ignore page protection
	mem, err := os.OpenFile(procPath+"/mem", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open process memory: %w", err)
	}

	p := &LinuxProcess{
		pid:    pid,
		mem:    mem,
		module: module,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid))),
	}
	p.log.Infoln("Process opened,", module.Name, "at", module.Base.ToString(), "-", module.End.ToString())
	return p, nil
}

func readMaps(pid process.ProcessID) ([]memory_map.MapsEntry, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}
	defer f.Close()
	return memory_map.ParseMaps(f)
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mem != nil {
		if err := p.mem.Close(); err != nil {
			return fmt.Errorf("failed to close process memory: %w", err)
		}
		p.mem = nil
	}

	p.log.Infoln("Process closed")
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))
	return nil
}

// GetPID returns the process ID
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *LinuxProcess) Module() process.Module {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.module
}

func (p *LinuxProcess) openPID() (process.ProcessID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return 0, process.ErrProcessNotOpen
	}
	return p.pid, nil
}

func (p *LinuxProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	pid, err := p.openPID()
	if err != nil {
		return nil, err
	}
	entries, err := readMaps(pid)
	if err != nil {
		return nil, err
	}
	return memory_map.Items(entries), nil
}

// QueryRegion returns the mapping containing addr, or the unmapped gap around it
func (p *LinuxProcess) QueryRegion(addr process.ProcessMemoryAddress) (memory_map.MemoryMapItem, error) {
	pid, err := p.openPID()
	if err != nil {
		return memory_map.MemoryMapItem{}, err
	}
	entries, err := readMaps(pid)
	if err != nil {
		return memory_map.MemoryMapItem{}, err
	}
	item, ok := memory_map.Region(uint64(addr), entries)
	if !ok {
		return memory_map.MemoryMapItem{}, fmt.Errorf("query %s: %w", addr.ToString(), process.ErrAddressNotMapped)
	}
	return item, nil
}

// Allocate is not available without code running in the target
func (p *LinuxProcess) Allocate(size process.ProcessMemorySize, near process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	return 0, fmt.Errorf("allocate %d bytes in pid %d: %w", size, p.GetPID(), process.ErrUnsupported)
}

func (p *LinuxProcess) Free(addr process.ProcessMemoryAddress) error {
	return fmt.Errorf("free %s: %w", addr.ToString(), process.ErrUnsupported)
}

func (p *LinuxProcess) RunThread(entry, param process.ProcessMemoryAddress) (uint32, error) {
	return 0, fmt.Errorf("remote thread at %s: %w", entry.ToString(), process.ErrUnsupported)
}
