package asm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble decodes code loaded at origin into Intel syntax lines
func Disassemble(code []byte, origin uint64) ([]string, error) {
	var lines []string
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return lines, fmt.Errorf("failed to decode at 0x%x: %w - remaining data: % x", origin+uint64(off), err, code[off:])
		}
		lines = append(lines, fmt.Sprintf("%#x: %-30x %s",
			origin+uint64(off), code[off:off+inst.Len], x86asm.IntelSyntax(inst, origin+uint64(off), nil)))
		off += inst.Len
	}
	return lines, nil
}

// Listing renders the program with its labels and decoded instructions
func (a *Assembled) Listing() string {
	byAddr := make(map[uint64][]string)
	for name, addr := range a.Labels {
		byAddr[addr] = append(byAddr[addr], name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "; %s @ %#x (%d bytes)\n", a.Name, a.Origin, len(a.Code))

	for off := 0; off < len(a.Code); {
		pc := a.Origin + uint64(off)
		for _, name := range byAddr[pc] {
			fmt.Fprintf(&sb, "%s:\n", name)
		}

		inst, err := x86asm.Decode(a.Code[off:], 64)
		if err != nil {
			fmt.Fprintf(&sb, "  %#x: db % x\n", pc, a.Code[off:])
			break
		}
		fmt.Fprintf(&sb, "  %#x: %-24x %s\n", pc, a.Code[off:off+inst.Len], x86asm.IntelSyntax(inst, pc, nil))
		off += inst.Len
	}

	return sb.String()
}
