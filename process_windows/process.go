//go:build windows

package process_windows

import (
	"fmt"
	"sync"
	"unsafe"

	"rngtrainer/process"
	"rngtrainer/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx        = modkernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx         = modkernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread    = modkernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread     = modkernel32.NewProc("GetExitCodeThread")
	procFlushInstructionCache = modkernel32.NewProc("FlushInstructionCache")
)

const (
	PROCESS_ALL_ACCESS = 0x1F0FFF

	allocationGranularity = 0x10000
	maxUserAddress        = 0x7FFFFFFF0000
)

// WindowsProcess implements the process.Process interface for Windows systems
type WindowsProcess struct {
	pid    process.ProcessID
	handle windows.Handle
	module process.Module
	log    *logger.Logger
	mu     sync.Mutex
}

var _ process.Process = (*WindowsProcess)(nil)

// Open attaches to the first process named processName and records the bounds of moduleName
func Open(processName, moduleName string) (*WindowsProcess, error) {
	pid, err := FindProcess(processName)
	if err != nil {
		return nil, err
	}
	return NewWithPID(pid, moduleName)
}

// NewWithPID opens pid with full access and records the bounds of moduleName
func NewWithPID(pid process.ProcessID, moduleName string) (*WindowsProcess, error) {
	if err := enableDebugPrivilege(); err != nil {
		logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")).Debugln("SeDebugPrivilege unavailable:", err)
	}

	module, err := findModule(pid, moduleName)
	if err != nil {
		return nil, err
	}

	handle, err := windows.OpenProcess(PROCESS_ALL_ACCESS, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("OpenProcess failed: %w", err)
	}

	p := &WindowsProcess{
		pid:    pid,
		handle: handle,
		module: module,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid))),
	}
	p.log.Infoln("Process opened,", module.Name, "at", module.Base.ToString(), "-", module.End.ToString())
	return p, nil
}

func enableDebugPrivilege() error {
	var token windows.Token
	err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token)
	if err != nil {
		return fmt.Errorf("OpenProcessToken: %w", err)
	}
	defer token.Close()

	name, err := windows.UTF16PtrFromString("SeDebugPrivilege")
	if err != nil {
		return err
	}

	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, name, &luid); err != nil {
		return fmt.Errorf("LookupPrivilegeValue: %w", err)
	}

	tp := windows.Tokenprivileges{PrivilegeCount: 1}
	tp.Privileges[0] = windows.LUIDAndAttributes{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED}
	if err := windows.AdjustTokenPrivileges(token, false, &tp, 0, nil, nil); err != nil {
		return fmt.Errorf("AdjustTokenPrivileges: %w", err)
	}
	return nil
}

// Close releases the handle. Code and data written into the process stay in place.
func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != 0 {
		if err := windows.CloseHandle(p.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
		p.handle = 0
	}

	p.log.Infoln("Process closed")
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))
	return nil
}

func (p *WindowsProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *WindowsProcess) Module() process.Module {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.module
}

func (p *WindowsProcess) openHandle() (windows.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return 0, process.ErrProcessNotOpen
	}
	return p.handle, nil
}

func query(handle windows.Handle, addr uintptr) (windows.MemoryBasicInformation, error) {
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQueryEx(handle, addr, &mbi, unsafe.Sizeof(mbi))
	return mbi, err
}

func itemFromMBI(mbi windows.MemoryBasicInformation) memory_map.MemoryMapItem {
	return memory_map.MemoryMapItem{
		Address: uint64(mbi.BaseAddress),
		Size:    uint(mbi.RegionSize),
		Perms:   memory_map.PermsFromProtect(mbi.Protect, mbi.Type),
		State:   memory_map.StateFromMem(mbi.State),
	}
}

func (p *WindowsProcess) QueryRegion(addr process.ProcessMemoryAddress) (memory_map.MemoryMapItem, error) {
	handle, err := p.openHandle()
	if err != nil {
		return memory_map.MemoryMapItem{}, err
	}

	mbi, err := query(handle, uintptr(addr))
	if err != nil {
		return memory_map.MemoryMapItem{}, fmt.Errorf("VirtualQueryEx at %s failed: %w", addr.ToString(), err)
	}
	return itemFromMBI(mbi), nil
}

// GetMemoryMap walks the whole user address space with VirtualQueryEx; free regions are omitted
func (p *WindowsProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	handle, err := p.openHandle()
	if err != nil {
		return nil, err
	}

	var result []memory_map.MemoryMapItem
	for addr := uintptr(0); addr < maxUserAddress; {
		mbi, err := query(handle, addr)
		if err != nil || mbi.RegionSize == 0 {
			break
		}
		if mbi.State != memory_map.MemFree {
			result = append(result, itemFromMBI(mbi))
		}
		addr = mbi.BaseAddress + mbi.RegionSize
	}
	return result, nil
}

func (p *WindowsProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	handle, err := p.openHandle()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	if err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead); err != nil {
		return nil, fmt.Errorf("ReadProcessMemory at %s failed: %v: %w", addr.ToString(), err, process.ErrAddressNotMapped)
	}
	if bytesRead != uintptr(size) {
		return nil, fmt.Errorf("read incomplete: expected %d, got %d", size, bytesRead)
	}
	return buf, nil
}

// WriteMemory lifts page protection for the duration of the write and flushes
// the instruction cache, since most writes land in code
func (p *WindowsProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	handle, err := p.openHandle()
	if err != nil {
		return err
	}

	var old uint32
	if err := windows.VirtualProtectEx(handle, uintptr(addr), uintptr(len(data)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtectEx at %s failed: %w", addr.ToString(), err)
	}

	var written uintptr
	werr := windows.WriteProcessMemory(handle, uintptr(addr), &data[0], uintptr(len(data)), &written)

	var ignored uint32
	if err := windows.VirtualProtectEx(handle, uintptr(addr), uintptr(len(data)), old, &ignored); err != nil {
		p.log.Warn("failed to restore protection at ", addr.ToString(), ": ", err)
	}

	if werr != nil {
		return fmt.Errorf("WriteProcessMemory at %s failed: %w", addr.ToString(), werr)
	}
	if written != uintptr(len(data)) {
		return fmt.Errorf("write incomplete: expected %d, got %d", len(data), written)
	}

	procFlushInstructionCache.Call(uintptr(handle), uintptr(addr), uintptr(len(data)))
	return nil
}

func (p *WindowsProcess) virtualAlloc(handle windows.Handle, addr uintptr, size uintptr) uintptr {
	r, _, _ := procVirtualAllocEx.Call(
		uintptr(handle),
		addr,
		size,
		uintptr(windows.MEM_COMMIT|windows.MEM_RESERVE),
		uintptr(windows.PAGE_EXECUTE_READWRITE),
	)
	return r
}

func alignUp(v, to uintptr) uintptr {
	return (v + to - 1) &^ (to - 1)
}

// Allocate commits size bytes of RWX memory. A non-zero near walks the free
// regions within rel32 reach of near and takes the first one large enough.
func (p *WindowsProcess) Allocate(size process.ProcessMemorySize, near process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	if size == 0 {
		return 0, fmt.Errorf("zero sized allocation")
	}

	handle, err := p.openHandle()
	if err != nil {
		return 0, err
	}

	if near == 0 {
		r := p.virtualAlloc(handle, 0, uintptr(size))
		if r == 0 {
			return 0, fmt.Errorf("VirtualAllocEx of %d bytes failed: %w", size, windows.GetLastError())
		}
		p.log.Debugln("allocated", size, "bytes at", process.ProcessMemoryAddress(r).ToString())
		return process.ProcessMemoryAddress(r), nil
	}

	lo := uintptr(allocationGranularity)
	if uintptr(near) > process.Rel32Reach+lo {
		lo = uintptr(near) - process.Rel32Reach
	}
	hi := uintptr(near) + process.Rel32Reach
	if hi > maxUserAddress {
		hi = maxUserAddress
	}

	for addr := lo; addr < hi; {
		mbi, err := query(handle, addr)
		if err != nil || mbi.RegionSize == 0 {
			break
		}

		if mbi.State == memory_map.MemFree {
			start := alignUp(mbi.BaseAddress, allocationGranularity)
			end := start + uintptr(size)
			if end <= mbi.BaseAddress+mbi.RegionSize &&
				process.InRel32Reach(near, process.ProcessMemoryAddress(start)) &&
				process.InRel32Reach(near, process.ProcessMemoryAddress(end)) {
				if r := p.virtualAlloc(handle, start, uintptr(size)); r != 0 {
					p.log.Debugln("allocated", size, "bytes at", process.ProcessMemoryAddress(r).ToString(), "near", near.ToString())
					return process.ProcessMemoryAddress(r), nil
				}
			}
		}
		addr = mbi.BaseAddress + mbi.RegionSize
	}

	return 0, fmt.Errorf("allocate %d bytes near %s: %w", size, near.ToString(), process.ErrNoNearbyMemory)
}

func (p *WindowsProcess) Free(addr process.ProcessMemoryAddress) error {
	handle, err := p.openHandle()
	if err != nil {
		return err
	}

	r, _, callErr := procVirtualFreeEx.Call(uintptr(handle), uintptr(addr), 0, uintptr(windows.MEM_RELEASE))
	if r == 0 {
		return fmt.Errorf("VirtualFreeEx at %s failed: %w", addr.ToString(), callErr)
	}
	return nil
}

// RunThread starts a remote thread at entry and blocks until it exits
func (p *WindowsProcess) RunThread(entry, param process.ProcessMemoryAddress) (uint32, error) {
	handle, err := p.openHandle()
	if err != nil {
		return 0, err
	}

	thread, _, callErr := procCreateRemoteThread.Call(uintptr(handle), 0, 0, uintptr(entry), uintptr(param), 0, 0)
	if thread == 0 {
		return 0, fmt.Errorf("CreateRemoteThread at %s failed: %w", entry.ToString(), callErr)
	}
	defer windows.CloseHandle(windows.Handle(thread))

	event, err := windows.WaitForSingleObject(windows.Handle(thread), windows.INFINITE)
	if err != nil || event != windows.WAIT_OBJECT_0 {
		return 0, fmt.Errorf("wait for remote thread failed: event=%d: %v", event, err)
	}

	var exitCode uint32
	if r, _, callErr := procGetExitCodeThread.Call(thread, uintptr(unsafe.Pointer(&exitCode))); r == 0 {
		return 0, fmt.Errorf("GetExitCodeThread failed: %w", callErr)
	}
	return exitCode, nil
}
