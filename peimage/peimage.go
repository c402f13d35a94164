// Package peimage reads the PE headers of a module as it is mapped in a process
package peimage

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"rngtrainer/process"

	"github.com/Binject/debug/pe"
)

const scnMemExecute = 0x20000000

var ErrNotImage = errors.New("not a PE image")

type Section struct {
	Name       string
	Start      process.ProcessMemoryAddress
	End        process.ProcessMemoryAddress
	Executable bool
}

// Info identifies a module build
type Info struct {
	Machine     uint16
	Built       time.Time
	SizeOfImage uint32
	Sections    []Section
}

// moduleReader exposes a module's mapped bytes as an io.ReaderAt
type moduleReader struct {
	proc process.MemoryAccess
	mod  process.Module
}

func (r *moduleReader) ReadAt(p []byte, off int64) (int, error) {
	size := int64(r.mod.Size())
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	want := p
	if int64(len(want)) > size-off {
		want = want[:size-off]
	}
	data, err := r.proc.ReadMemory(r.mod.Base.Add(off), process.ProcessMemorySize(len(want)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Inspect parses the headers at the base of mod
func Inspect(proc process.MemoryAccess, mod process.Module) (*Info, error) {
	f, err := pe.NewFileFromMemory(&moduleReader{proc: proc, mod: mod})
	if err != nil {
		return nil, fmt.Errorf("failed to parse PE headers of %s: %w", mod.Name, err)
	}

	oh, ok := f.OptionalHeader.(*pe.OptionalHeader64)
	if !ok || f.FileHeader.Machine != pe.IMAGE_FILE_MACHINE_AMD64 {
		return nil, fmt.Errorf("%s is not a PE32+ x86-64 image: %w", mod.Name, ErrNotImage)
	}

	info := &Info{
		Machine:     f.FileHeader.Machine,
		Built:       time.Unix(int64(f.FileHeader.TimeDateStamp), 0).UTC(),
		SizeOfImage: oh.SizeOfImage,
	}

	for _, s := range f.Sections {
		start := mod.Base.Add(int64(s.VirtualAddress))
		info.Sections = append(info.Sections, Section{
			Name:       strings.TrimRight(s.Name, "\x00"),
			Start:      start,
			End:        start.Add(int64(s.VirtualSize)),
			Executable: s.Characteristics&scnMemExecute != 0,
		})
	}
	return info, nil
}

// SectionOf returns the section containing addr
func (i *Info) SectionOf(addr process.ProcessMemoryAddress) (Section, bool) {
	for _, s := range i.Sections {
		if addr >= s.Start && addr < s.End {
			return s, true
		}
	}
	return Section{}, false
}

// Stamp is a short build identifier for logs
func (i *Info) Stamp() string {
	return fmt.Sprintf("%s (%08X)", i.Built.Format(time.DateTime), uint32(i.Built.Unix()))
}
