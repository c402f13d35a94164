//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"rngtrainer/process"

	"golang.org/x/sys/unix"
)

// process_vm_writev uses the process_vm_writev syscall to write memory to another process
func process_vm_writev(pid process.ProcessID, localBuf []byte, remoteAddr process.ProcessMemoryAddress) (int, error) {
	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(len(localBuf))

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov)),
		uintptr(1),
		uintptr(unsafe.Pointer(&remoteIov)),
		uintptr(1),
		uintptr(0),
	)
	if errno != 0 {
		return 0, fmt.Errorf("process_vm_writev failed: %s (errno: %d)", errno.Error(), errno)
	}
	return int(n), nil
}

// WriteMemory writes data to the process memory at the specified address.
// Writable mappings take process_vm_writev; code and read only data go
// through /proc/<pid>/mem.
func (p *LinuxProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	item, err := p.QueryRegion(addr)
	if err != nil {
		return err
	}
	if !item.IsCommitted() || item.End() < uint64(addr)+uint64(len(data)) {
		return fmt.Errorf("write %d bytes at %s: %w", len(data), addr.ToString(), process.ErrAddressNotMapped)
	}

	p.mu.Lock()
	pid, mem := p.pid, p.mem
	p.mu.Unlock()
	if mem == nil {
		return process.ErrProcessNotOpen
	}

	buf := append([]byte(nil), data...)
	var written int
	if item.IsWritable() {
		written, err = process_vm_writev(pid, buf, addr)
	} else {
		written, err = mem.WriteAt(buf, int64(addr))
	}
	if err != nil {
		return fmt.Errorf("failed to write process memory at %s: %w", addr.ToString(), err)
	}
	if written != len(data) {
		return fmt.Errorf("only wrote %d of %d bytes at %s", written, len(data), addr.ToString())
	}
	return nil
}
