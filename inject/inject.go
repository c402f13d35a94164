// Package inject redirects code in a remote process through allocated caves.
//
// A hijacked range [first, next) is replaced by
//
//	push r11; mov r11, cave; jmp r11; pop r11; nop...
//
// and the cave runs
//
//	pop r11; payload; nop; [original bytes; nop]; push r11; mov r11, first+15; jmp r11
//
// so execution resumes on the pop r11 left in the hijacked range and falls
// through to next with r11 and the stack as they were.
package inject

import (
	"errors"
	"fmt"
	"sort"

	"rngtrainer/asm"
	"rngtrainer/diag"
	"rngtrainer/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/arch/x86/x86asm"
)

const (
	// JumpSize is the length of the save/jump/restore sequence written over a hijacked range
	JumpSize = 17

	maxInstLen = 15

	// resumeOffset is where the restoring pop r11 sits inside the hijacked range
	resumeOffset = 15
)

var (
	ErrInsufficientSpace   = errors.New("hijacked range too small")
	ErrAlreadyIntercepted  = errors.New("name already intercepted")
	ErrUnknownInterception = errors.New("no interception with that name")
	ErrBoundary            = errors.New("hijacked range does not end on an instruction boundary")
	ErrNotRelocatable      = errors.New("hijacked instructions cannot be relocated")
)

// Interception is an active redirection
type Interception struct {
	Name     string
	Address  process.ProcessMemoryAddress
	Next     process.ProcessMemoryAddress
	Original []byte
	Cave     process.ProcessMemoryAddress
	Wrapped  bool

	CaveCode   *asm.Assembled
	DetourCode *asm.Assembled
}

type Injector struct {
	proc    process.Process
	records map[string]*Interception
	diag    *diag.Reporter
	log     *logger.Logger
}

func New(proc process.Process, reporter *diag.Reporter) *Injector {
	return &Injector{
		proc:    proc,
		records: make(map[string]*Interception),
		diag:    reporter,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.Black, "inject")),
	}
}

// checkRange decodes the hijacked bytes; the range must hold whole
// instructions and, when they are going to be re-executed from the cave,
// none of them may depend on their own address
func checkRange(code []byte, size int, origin process.ProcessMemoryAddress, relocate bool) error {
	off := 0
	for off < size {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return fmt.Errorf("%w: at %s: %v", ErrBoundary, origin.Add(int64(off)).ToString(), err)
		}
		// a truncated tail decodes as bare prefixes
		if inst.Op == 0 {
			return fmt.Errorf("%w: at %s: incomplete instruction % x", ErrBoundary, origin.Add(int64(off)).ToString(), code[off:off+inst.Len])
		}

		if relocate {
			for _, arg := range inst.Args {
				switch a := arg.(type) {
				case x86asm.Rel:
					return fmt.Errorf("%w: relative branch %s", ErrNotRelocatable, x86asm.IntelSyntax(inst, uint64(origin)+uint64(off), nil))
				case x86asm.Mem:
					if a.Base == x86asm.RIP {
						return fmt.Errorf("%w: rip relative operand %s", ErrNotRelocatable, x86asm.IntelSyntax(inst, uint64(origin)+uint64(off), nil))
					}
				}
			}
		}

		off += inst.Len
	}
	if off != size {
		return fmt.Errorf("%w: instruction at %s runs %d bytes past the range", ErrBoundary, origin.Add(int64(size)).ToString(), off-size)
	}
	return nil
}

// Intercept diverts [first, next) into payload. With wrap set the displaced
// instructions run after the payload, otherwise the payload replaces them.
// Nothing is written unless every check passes.
func (j *Injector) Intercept(name string, first, next process.ProcessMemoryAddress, payload *asm.Builder, wrap bool) (*Interception, error) {
	if _, exists := j.records[name]; exists {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyIntercepted)
	}
	if next < first || next-first < JumpSize {
		return nil, fmt.Errorf("%s: %d bytes at %s, need %d: %w", name, int64(next)-int64(first), first.ToString(), JumpSize, ErrInsufficientSpace)
	}
	size := int(next - first)

	// read past the range so the last instruction decodes in full
	code, err := j.proc.ReadMemory(first, process.ProcessMemorySize(size+maxInstLen))
	if err != nil {
		code, err = j.proc.ReadMemory(first, process.ProcessMemorySize(size))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read hijacked range: %w", name, err)
	}
	if err := checkRange(code, size, first, wrap); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	original := append([]byte(nil), code[:size]...)

	cave := asm.NewBuilder(name + ".cave")
	cave.Pop(asm.R11)
	if payload != nil {
		cave.Append(payload)
	}
	cave.Nop(1)
	if wrap {
		cave.Raw(original).Nop(1)
	}
	cave.Push(asm.R11)
	cave.JmpAbs(asm.R11, uint64(first)+resumeOffset)
	caveProgram := cave.Program(name + ".cave")

	caveSize, err := asm.Size(caveProgram)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	caveAddr, err := j.proc.Allocate(process.ProcessMemorySize(caveSize), 0)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to allocate cave: %w", name, err)
	}

	caveCode, err := asm.Assemble(caveProgram, uint64(caveAddr))
	if err != nil {
		j.release(caveAddr)
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	detour := asm.NewBuilder(name + ".detour")
	detour.Push(asm.R11)
	detour.JmpAbs(asm.R11, uint64(caveAddr))
	detour.Pop(asm.R11)
	detour.Nop(size - JumpSize)

	detourCode, err := asm.Assemble(detour.Program(name+".detour"), uint64(first))
	if err != nil {
		j.release(caveAddr)
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if err := j.proc.WriteMemory(caveAddr, caveCode.Code); err != nil {
		j.release(caveAddr)
		j.diag.Failf("%s: cave write at %s failed: %v", name, caveAddr.ToString(), err)
		return nil, fmt.Errorf("%s: failed to write cave: %w", name, err)
	}
	if err := j.proc.WriteMemory(first, detourCode.Code); err != nil {
		j.release(caveAddr)
		j.diag.Failf("%s: detour write at %s failed: %v", name, first.ToString(), err)
		return nil, fmt.Errorf("%s: failed to write detour: %w", name, err)
	}

	rec := &Interception{
		Name:       name,
		Address:    first,
		Next:       next,
		Original:   original,
		Cave:       caveAddr,
		Wrapped:    wrap,
		CaveCode:   caveCode,
		DetourCode: detourCode,
	}
	j.records[name] = rec

	j.log.Infoln("intercepted", name, "at", first.ToString(), "cave", caveAddr.ToString())
	return rec, nil
}

func (j *Injector) release(addr process.ProcessMemoryAddress) {
	if err := j.proc.Free(addr); err != nil {
		j.log.Warn("failed to free ", addr.ToString(), ": ", err)
	}
}

// Unintercept restores the original bytes and frees the cave.
// Unknown names change nothing.
func (j *Injector) Unintercept(name string) error {
	rec, ok := j.records[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownInterception)
	}

	if err := j.proc.WriteMemory(rec.Address, rec.Original); err != nil {
		j.diag.Failf("%s: restore at %s failed: %v", name, rec.Address.ToString(), err)
		return fmt.Errorf("%s: failed to restore original bytes: %w", name, err)
	}
	delete(j.records, name)
	j.release(rec.Cave)

	j.log.Infoln("restored", name, "at", rec.Address.ToString())
	return nil
}

// UninterceptAll restores every active interception, returning the first failure
func (j *Injector) UninterceptAll() error {
	var first error
	for _, rec := range j.Interceptions() {
		if err := j.Unintercept(rec.Name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (j *Injector) Get(name string) (*Interception, bool) {
	rec, ok := j.records[name]
	return rec, ok
}

// Interceptions lists the active interceptions ordered by name
func (j *Injector) Interceptions() []*Interception {
	out := make([]*Interception, 0, len(j.records))
	for _, rec := range j.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
