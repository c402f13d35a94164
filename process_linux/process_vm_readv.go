//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"rngtrainer/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv uses the process_vm_readv syscall to read memory from another process
func process_vm_readv(pid process.ProcessID, localBuf []byte, remoteAddr process.ProcessMemoryAddress) (int, error) {
	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(len(localBuf))

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov)),
		uintptr(1),
		uintptr(unsafe.Pointer(&remoteIov)),
		uintptr(1),
		uintptr(0),
	)
	if errno != 0 {
		return 0, fmt.Errorf("process_vm_readv failed: %s (errno: %d)", errno.Error(), errno)
	}
	return int(n), nil
}

// ReadMemory reads memory from the process at the specified address
func (p *LinuxProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	pid, err := p.openPID()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	data := make([]byte, size)
	n, err := process_vm_readv(pid, data, addr)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at %s: %v: %w", size, addr.ToString(), err, process.ErrAddressNotMapped)
	}
	if n != len(data) {
		return nil, fmt.Errorf("partial read at %s: %d of %d bytes: %w", addr.ToString(), n, size, process.ErrAddressNotMapped)
	}
	return data, nil
}
