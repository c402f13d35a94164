package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUndefinedLabel = errors.New("undefined label")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrBranchRange    = errors.New("branch target out of range")
	ErrUnsupported    = errors.New("unsupported instruction form")
)

// Assembled is a program encoded at a fixed origin
type Assembled struct {
	Name    string
	Origin  uint64
	Code    []byte
	Labels  map[string]uint64
	Offsets []int
}

// Addr returns the absolute address of a label
func (a *Assembled) Addr(label string) (uint64, error) {
	addr, ok := a.Labels[label]
	if !ok {
		return 0, fmt.Errorf("%s: %q: %w", a.Name, label, ErrUndefinedLabel)
	}
	return addr, nil
}

func (a *Assembled) End() uint64 {
	return a.Origin + uint64(len(a.Code))
}

// Assemble encodes p as if loaded at origin
func Assemble(p *Program, origin uint64) (*Assembled, error) {
	labels := make(map[string]uint64)

	// Every instruction has a fixed size, so one sizing pass places all labels.
	pc := origin
	for _, inst := range p.Insts {
		if inst.Op == OpLabel {
			if _, dup := labels[inst.Label]; dup {
				return nil, fmt.Errorf("%s: %q: %w", p.Name, inst.Label, ErrDuplicateLabel)
			}
			labels[inst.Label] = pc
			continue
		}
		code, err := encode(inst, pc, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		pc += uint64(len(code))
	}

	out := &Assembled{Name: p.Name, Origin: origin, Labels: labels, Offsets: make([]int, len(p.Insts))}
	pc = origin
	for i, inst := range p.Insts {
		out.Offsets[i] = len(out.Code)
		code, err := encode(inst, pc, labels)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out.Code = append(out.Code, code...)
		pc += uint64(len(code))
	}

	return out, nil
}

// Size returns the encoded length of p; labels do not affect it
func Size(p *Program) (int, error) {
	n := 0
	for _, inst := range p.Insts {
		if inst.Op == OpLabel {
			continue
		}
		code, err := encode(inst, 0, nil)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", p.Name, err)
		}
		n += len(code)
	}
	return n, nil
}

type operand struct {
	isMem bool
	reg   Reg
	mem   Mem
}

func regOp(r Reg) operand { return operand{reg: r} }
func memOp(m Mem) operand { return operand{isMem: true, mem: m} }

// rmForm encodes prefix, REX, opcode and ModRM (with SIB and displacement) for one instruction
func rmForm(prefix []byte, w bool, opcode []byte, reg uint8, rm operand, forceRex bool) []byte {
	var rex byte
	if w {
		rex |= 0x08
	}
	if reg&8 != 0 {
		rex |= 0x04
	}

	var tail []byte
	if !rm.isMem {
		if rm.reg&8 != 0 {
			rex |= 0x01
		}
		tail = []byte{0xC0 | (reg&7)<<3 | byte(rm.reg&7)}
	} else {
		m := rm.mem
		if m.Base&8 != 0 {
			rex |= 0x01
		}
		if m.Scale != 0 && m.Index&8 != 0 {
			rex |= 0x02
		}

		base := byte(m.Base & 7)
		var mod byte
		switch {
		case m.Disp == 0 && base != 5:
			mod = 0
		case m.Disp >= -128 && m.Disp <= 127:
			mod = 1
		default:
			mod = 2
		}

		if m.Scale != 0 || base == 4 {
			index := byte(4)
			var ss byte
			if m.Scale != 0 {
				index = byte(m.Index & 7)
				switch m.Scale {
				case 2:
					ss = 1
				case 4:
					ss = 2
				case 8:
					ss = 3
				}
			}
			tail = []byte{mod<<6 | (reg&7)<<3 | 4, ss<<6 | index<<3 | base}
		} else {
			tail = []byte{mod<<6 | (reg&7)<<3 | base}
		}

		switch mod {
		case 1:
			tail = append(tail, byte(int8(m.Disp)))
		case 2:
			tail = binary.LittleEndian.AppendUint32(tail, uint32(m.Disp))
		}
	}

	out := append([]byte{}, prefix...)
	if rex != 0 || forceRex {
		out = append(out, 0x40|rex)
	}
	out = append(out, opcode...)
	return append(out, tail...)
}

// byteRegNeedsRex reports whether an 8 bit access to r needs a REX prefix to mean spl/bpl/sil/dil
func byteRegNeedsRex(r Reg) bool {
	return r >= RSP && r <= RDI
}

func shortReg(base byte, r Reg) []byte {
	if r&8 != 0 {
		return []byte{0x41, base + byte(r&7)}
	}
	return []byte{base + byte(r&7)}
}

func rel(inst Inst, pc uint64, size int, labels map[string]uint64) (int64, error) {
	if labels == nil {
		return 0, nil
	}
	target, ok := labels[inst.Label]
	if !ok {
		return 0, fmt.Errorf("%q: %w", inst.Label, ErrUndefinedLabel)
	}
	d := int64(target) - int64(pc+uint64(size))
	if inst.Short && (d < -128 || d > 127) {
		return 0, fmt.Errorf("short jump to %q (%d bytes): %w", inst.Label, d, ErrBranchRange)
	}
	if d < -(1<<31) || d >= 1<<31 {
		return 0, fmt.Errorf("jump to %q: %w", inst.Label, ErrBranchRange)
	}
	return d, nil
}

func fitsInt8(v int64) bool {
	return v >= -128 && v <= 127
}

func encode(inst Inst, pc uint64, labels map[string]uint64) ([]byte, error) {
	w64 := inst.W == W64

	switch inst.Op {
	case OpMovImm:
		switch inst.W {
		case W64:
			out := []byte{0x48 | byte(inst.Dst>>3), 0xB8 + byte(inst.Dst&7)}
			return binary.LittleEndian.AppendUint64(out, uint64(inst.Imm)), nil
		case W32:
			return binary.LittleEndian.AppendUint32(shortReg(0xB8, inst.Dst), uint32(inst.Imm)), nil
		case W8:
			out := shortReg(0xB0, inst.Dst)
			if byteRegNeedsRex(inst.Dst) {
				out = append([]byte{0x40}, out...)
			}
			return append(out, byte(inst.Imm)), nil
		}

	case OpMov:
		if inst.W == W64 || inst.W == W32 {
			return rmForm(nil, w64, []byte{0x89}, uint8(inst.Src), regOp(inst.Dst), false), nil
		}

	case OpLoad:
		switch inst.W {
		case W64, W32:
			return rmForm(nil, w64, []byte{0x8B}, uint8(inst.Dst), memOp(inst.Mem), false), nil
		case W16:
			return rmForm(nil, false, []byte{0x0F, 0xB7}, uint8(inst.Dst), memOp(inst.Mem), false), nil
		case W8:
			return rmForm(nil, false, []byte{0x0F, 0xB6}, uint8(inst.Dst), memOp(inst.Mem), false), nil
		}

	case OpStore:
		switch inst.W {
		case W64, W32:
			return rmForm(nil, w64, []byte{0x89}, uint8(inst.Src), memOp(inst.Mem), false), nil
		case W16:
			return rmForm([]byte{0x66}, false, []byte{0x89}, uint8(inst.Src), memOp(inst.Mem), false), nil
		case W8:
			return rmForm(nil, false, []byte{0x88}, uint8(inst.Src), memOp(inst.Mem), byteRegNeedsRex(inst.Src)), nil
		}

	case OpStoreImm:
		switch inst.W {
		case W64, W32:
			out := rmForm(nil, w64, []byte{0xC7}, 0, memOp(inst.Mem), false)
			return binary.LittleEndian.AppendUint32(out, uint32(inst.Imm)), nil
		case W16:
			out := rmForm([]byte{0x66}, false, []byte{0xC7}, 0, memOp(inst.Mem), false)
			return binary.LittleEndian.AppendUint16(out, uint16(inst.Imm)), nil
		case W8:
			out := rmForm(nil, false, []byte{0xC6}, 0, memOp(inst.Mem), false)
			return append(out, byte(inst.Imm)), nil
		}

	case OpLea:
		return rmForm(nil, true, []byte{0x8D}, uint8(inst.Dst), memOp(inst.Mem), false), nil

	case OpAlu:
		if inst.W == W64 || inst.W == W32 {
			return rmForm(nil, w64, []byte{byte(inst.Alu)<<3 | 1}, uint8(inst.Src), regOp(inst.Dst), false), nil
		}

	case OpAluImm:
		if inst.W == W64 || inst.W == W32 {
			if fitsInt8(inst.Imm) {
				out := rmForm(nil, w64, []byte{0x83}, uint8(inst.Alu), regOp(inst.Dst), false)
				return append(out, byte(inst.Imm)), nil
			}
			out := rmForm(nil, w64, []byte{0x81}, uint8(inst.Alu), regOp(inst.Dst), false)
			return binary.LittleEndian.AppendUint32(out, uint32(inst.Imm)), nil
		}

	case OpTest:
		if inst.W == W64 || inst.W == W32 {
			return rmForm(nil, w64, []byte{0x85}, uint8(inst.Src), regOp(inst.Dst), false), nil
		}

	case OpImul:
		return rmForm(nil, true, []byte{0x0F, 0xAF}, uint8(inst.Dst), regOp(inst.Src), false), nil

	case OpDiv:
		return rmForm(nil, true, []byte{0xF7}, 6, regOp(inst.Src), false), nil

	case OpShift:
		out := rmForm(nil, true, []byte{0xC1}, uint8(inst.Shift), regOp(inst.Dst), false)
		return append(out, byte(inst.Imm)), nil

	case OpPush:
		return shortReg(0x50, inst.Src), nil

	case OpPop:
		return shortReg(0x58, inst.Dst), nil

	case OpJmp:
		if inst.Short {
			d, err := rel(inst, pc, 2, labels)
			if err != nil {
				return nil, err
			}
			return []byte{0xEB, byte(int8(d))}, nil
		}
		d, err := rel(inst, pc, 5, labels)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32([]byte{0xE9}, uint32(int32(d))), nil

	case OpJcc:
		if inst.Short {
			d, err := rel(inst, pc, 2, labels)
			if err != nil {
				return nil, err
			}
			return []byte{0x70 + byte(inst.Cond), byte(int8(d))}, nil
		}
		d, err := rel(inst, pc, 6, labels)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32([]byte{0x0F, 0x80 + byte(inst.Cond)}, uint32(int32(d))), nil

	case OpJmpReg:
		return rmForm(nil, false, []byte{0xFF}, 4, regOp(inst.Src), false), nil

	case OpCall:
		d, err := rel(inst, pc, 5, labels)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32([]byte{0xE8}, uint32(int32(d))), nil

	case OpCallReg:
		return rmForm(nil, false, []byte{0xFF}, 2, regOp(inst.Src), false), nil

	case OpCallMem:
		return rmForm(nil, false, []byte{0xFF}, 2, memOp(inst.Mem), false), nil

	case OpRet:
		return []byte{0xC3}, nil

	case OpNop:
		return []byte{0x90}, nil

	case OpMovssLoad:
		return rmForm([]byte{0xF3}, false, []byte{0x0F, 0x10}, uint8(inst.XDst), memOp(inst.Mem), false), nil

	case OpMovssStore:
		return rmForm([]byte{0xF3}, false, []byte{0x0F, 0x11}, uint8(inst.XSrc), memOp(inst.Mem), false), nil

	case OpMovd:
		return rmForm([]byte{0x66}, false, []byte{0x0F, 0x6E}, uint8(inst.XDst), regOp(inst.Src), false), nil

	case OpCvtsi2ss:
		return rmForm([]byte{0xF3}, true, []byte{0x0F, 0x2A}, uint8(inst.XDst), regOp(inst.Src), false), nil

	case OpSse:
		return rmForm([]byte{0xF3}, false, []byte{0x0F, byte(inst.Sse)}, uint8(inst.XDst), regOp(Reg(inst.XSrc)), false), nil

	case OpXorps:
		return rmForm(nil, false, []byte{0x0F, 0x57}, uint8(inst.XDst), regOp(Reg(inst.XSrc)), false), nil

	case OpMovaps:
		return rmForm(nil, false, []byte{0x0F, 0x28}, uint8(inst.XDst), regOp(Reg(inst.XSrc)), false), nil

	case OpRaw:
		out := make([]byte, len(inst.Raw))
		copy(out, inst.Raw)
		return out, nil

	case OpLabel:
		return nil, nil
	}

	return nil, fmt.Errorf("op %d width %d: %w", inst.Op, inst.W, ErrUnsupported)
}
