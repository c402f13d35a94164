//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"rngtrainer/process"

	"golang.org/x/sys/windows"
)

// WindowsProcessFinder implements process.ProcessFinder over a toolhelp snapshot
type WindowsProcessFinder struct{}

func NewProcessFinder() process.ProcessFinder {
	return &WindowsProcessFinder{}
}

func (f *WindowsProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	all, err := f.FindAllProcesses()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].PID == pid {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("pid %d: %w", pid, process.ErrProcessNotFound)
}

func (f *WindowsProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	all, err := f.FindAllProcesses()
	if err != nil {
		return nil, err
	}

	var results []process.ProcessInfo
	for _, info := range all {
		if strings.EqualFold(info.Name, name) {
			results = append(results, info)
		}
	}
	return results, nil
}

func (f *WindowsProcessFinder) FindAllProcesses() ([]process.ProcessInfo, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot failed: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return nil, fmt.Errorf("Process32First failed: %w", err)
	}

	var results []process.ProcessInfo
	for {
		results = append(results, process.ProcessInfo{
			PID:     process.ProcessID(entry.ProcessID),
			PPID:    process.ProcessID(entry.ParentProcessID),
			Name:    windows.UTF16ToString(entry.ExeFile[:]),
			Threads: int(entry.Threads),
		})
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				break
			}
			return nil, fmt.Errorf("Process32Next failed: %w", err)
		}
	}
	return results, nil
}

// FindProcess returns the first process whose executable is name
func FindProcess(name string) (process.ProcessID, error) {
	processes, err := NewProcessFinder().FindProcessByName(name)
	if err != nil {
		return 0, err
	}
	if len(processes) == 0 {
		return 0, fmt.Errorf("%q: %w", name, process.ErrProcessNotFound)
	}
	return processes[0].PID, nil
}

// findModule returns the bounds of a module loaded in pid
func findModule(pid process.ProcessID, name string) (process.Module, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(pid))
	if err != nil {
		return process.Module{}, fmt.Errorf("CreateToolhelp32Snapshot failed: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	if err := windows.Module32First(snapshot, &me); err != nil {
		return process.Module{}, fmt.Errorf("Module32First failed: %w", err)
	}

	for {
		if strings.EqualFold(windows.UTF16ToString(me.Module[:]), name) {
			base := process.ProcessMemoryAddress(me.ModBaseAddr)
			return process.Module{
				Name: windows.UTF16ToString(me.Module[:]),
				Base: base,
				End:  base + process.ProcessMemoryAddress(me.ModBaseSize),
			}, nil
		}
		if err := windows.Module32Next(snapshot, &me); err != nil {
			break
		}
	}
	return process.Module{}, fmt.Errorf("%q in pid %d: %w", name, pid, process.ErrModuleNotFound)
}
