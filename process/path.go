package process

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unsafe"
)

// Read is a helper to read a single value of type T from memory
func Read[T any](proc MemoryAccess, addr ProcessMemoryAddress) (T, error) {
	var t T
	size := ProcessMemorySize(unsafe.Sizeof(t))
	if size == 0 {
		return t, nil
	}

	data, err := proc.ReadMemory(addr, size)
	if err != nil {
		return t, err
	}

	copyTo(&t, data)
	return t, nil
}

// Write is a helper to write a single value of type T to memory
func Write[T any](proc MemoryAccess, addr ProcessMemoryAddress, value T) error {
	size := int(unsafe.Sizeof(value))
	if size == 0 {
		return nil
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(&value)), size)
	data := make([]byte, size)
	copy(data, src)
	return proc.WriteMemory(addr, data)
}

// ReadPointer reads a pointer and rejects null values
func ReadPointer(proc MemoryAccess, addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	v, err := Read[uint64](proc, addr)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("null pointer at 0x%x: %w", addr, ErrInvalidPointer)
	}
	return ProcessMemoryAddress(v), nil
}

// ReadUTF16 reads up to maxChars UTF-16LE code units, stopping at the first NUL
func ReadUTF16(proc MemoryAccess, addr ProcessMemoryAddress, maxChars int) (string, error) {
	if maxChars <= 0 {
		return "", nil
	}

	data, err := proc.ReadMemory(addr, ProcessMemorySize(maxChars*2))
	if err != nil {
		return "", err
	}

	units := make([]uint16, 0, maxChars)
	for i := 0; i+1 < len(data); i += 2 {
		u := binary.LittleEndian.Uint16(data[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}

	return string(utf16.Decode(units)), nil
}

// copyTo copies bytes to *T
func copyTo[T any](dst *T, src []byte) {
	size := int(unsafe.Sizeof(*dst))
	if len(src) < size {
		return
	}

	dstBytes := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	copy(dstBytes, src)
}
