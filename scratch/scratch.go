// Package scratch implements the shared buffer injected code streams lists through.
//
// Layout:
//
//	0x00  cursor, bytes of data written so far (only ever grows)
//	0x08  three pointer sized override slots
//	0x20  data: UTF-16LE strings, each NUL terminated, an extra NUL closing each list
//
// Writers append a whole list and only then publish the new cursor, so a
// reader never observes a partial list.
package scratch

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"rngtrainer/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	CursorOffset = 0x00
	SlotOffset   = 0x08
	Slots        = 3
	DataOffset   = 0x20

	DefaultSize = 1 << 20
)

type Buffer struct {
	proc   process.MemoryAccess
	base   process.ProcessMemoryAddress
	size   process.ProcessMemorySize
	last   uint64
	warned bool
	log    *logger.Logger
}

// Init zeroes the header of a buffer at base and returns a reader for it
func Init(proc process.MemoryAccess, base process.ProcessMemoryAddress, size process.ProcessMemorySize) (*Buffer, error) {
	if size <= DataOffset {
		return nil, fmt.Errorf("scratch buffer of %d bytes has no room for data", size)
	}
	if err := proc.WriteMemory(base, make([]byte, DataOffset)); err != nil {
		return nil, fmt.Errorf("failed to initialise scratch header: %w", err)
	}
	return &Buffer{
		proc: proc,
		base: base,
		size: size,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPink, coloransi.Black, "scratch")),
	}, nil
}

func (b *Buffer) Base() process.ProcessMemoryAddress {
	return b.base
}

// Capacity is the number of data bytes the buffer can hold
func (b *Buffer) Capacity() uint64 {
	return uint64(b.size) - DataOffset
}

func (b *Buffer) SlotAddr(slot int) process.ProcessMemoryAddress {
	return b.base + SlotOffset + process.ProcessMemoryAddress(8*slot)
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= Slots {
		return fmt.Errorf("override slot %d out of range [0, %d)", slot, Slots)
	}
	return nil
}

func (b *Buffer) Slot(slot int) (uint64, error) {
	if err := checkSlot(slot); err != nil {
		return 0, err
	}
	return process.Read[uint64](b.proc, b.SlotAddr(slot))
}

func (b *Buffer) SetSlot(slot int, value uint64) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	return process.Write(b.proc, b.SlotAddr(slot), value)
}

func (b *Buffer) Cursor() (uint64, error) {
	return process.Read[uint64](b.proc, b.base+CursorOffset)
}

// Drain returns the lists written since the previous drain
func (b *Buffer) Drain() ([][]string, error) {
	cursor, err := b.Cursor()
	if err != nil {
		return nil, err
	}
	if cursor < b.last {
		return nil, fmt.Errorf("scratch cursor moved backwards: %d < %d", cursor, b.last)
	}
	if cursor > b.Capacity() {
		return nil, fmt.Errorf("scratch cursor %d beyond capacity %d", cursor, b.Capacity())
	}
	if cursor == b.last {
		return nil, nil
	}

	data, err := b.proc.ReadMemory(b.base+DataOffset+process.ProcessMemoryAddress(b.last), process.ProcessMemorySize(cursor-b.last))
	if err != nil {
		return nil, err
	}
	b.last = cursor

	if !b.warned && cursor > b.Capacity()/10*9 {
		b.warned = true
		b.log.Warn("scratch buffer above 90% capacity, new lists will be dropped once full")
	}

	return Decode(data), nil
}

// Decode parses framed lists; a trailing incomplete list is dropped
func Decode(data []byte) [][]string {
	var lists [][]string
	var list []string
	var units []uint16

	for i := 0; i+1 < len(data); i += 2 {
		u := binary.LittleEndian.Uint16(data[i:])
		if u != 0 {
			units = append(units, u)
			continue
		}
		if len(units) == 0 {
			if list == nil {
				list = []string{}
			}
			lists = append(lists, list)
			list = nil
			continue
		}
		list = append(list, string(utf16.Decode(units)))
		units = units[:0]
	}

	return lists
}

// Encode frames lists the way injected writers do. Empty strings are
// skipped since their NUL would read as a list terminator.
func Encode(lists [][]string) []byte {
	var out []byte
	for _, list := range lists {
		for _, s := range list {
			if s == "" {
				continue
			}
			for _, u := range utf16.Encode([]rune(s)) {
				out = binary.LittleEndian.AppendUint16(out, u)
			}
			out = append(out, 0, 0)
		}
		out = append(out, 0, 0)
	}
	return out
}

// Append writes lists after the current data and publishes the cursor, as injected writers do
func (b *Buffer) Append(lists [][]string) error {
	cursor, err := b.Cursor()
	if err != nil {
		return err
	}

	data := Encode(lists)
	if cursor+uint64(len(data)) > b.Capacity() {
		return fmt.Errorf("scratch buffer full: %d + %d > %d", cursor, len(data), b.Capacity())
	}
	if err := b.proc.WriteMemory(b.base+DataOffset+process.ProcessMemoryAddress(cursor), data); err != nil {
		return err
	}
	return process.Write(b.proc, b.base+CursorOffset, cursor+uint64(len(data)))
}
