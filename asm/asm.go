// Package asm is a small x86-64 code generator.
//
// Code is described as a list of tagged instructions (Inst), usually through
// the control flow helpers of Builder, and assembled at a fixed origin.
// Only the instruction forms needed for hooking and thunk generation are
// supported. Machine executes assembled code against process memory so that
// generated routines can be exercised without a live target.
package asm

import "fmt"

// Reg is a general purpose register, numbered as in the ModRM encoding
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg%d", uint8(r))
}

// XReg is an SSE register
type XReg uint8

const (
	XMM0 XReg = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
)

func (x XReg) String() string {
	return fmt.Sprintf("xmm%d", uint8(x))
}

// Width is an operand size in bytes
type Width uint8

const (
	W8  Width = 1
	W16 Width = 2
	W32 Width = 4
	W64 Width = 8
)

// Cond is a condition code as encoded in Jcc
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Not returns the inverse condition
func (c Cond) Not() Cond {
	return c ^ 1
}

// AluOp selects the arithmetic group member, by its /digit
type AluOp uint8

const (
	Add AluOp = 0
	Or  AluOp = 1
	And AluOp = 4
	Sub AluOp = 5
	Xor AluOp = 6
	Cmp AluOp = 7
)

// ShiftOp selects the shift group member, by its /digit
type ShiftOp uint8

const (
	Shl ShiftOp = 4
	Shr ShiftOp = 5
)

// SseOp is the scalar single precision arithmetic opcode
type SseOp uint8

const (
	AddSS SseOp = 0x58
	MulSS SseOp = 0x59
	SubSS SseOp = 0x5C
	DivSS SseOp = 0x5E
)

// Mem is a [base + index*scale + disp] operand. Scale 0 means no index.
type Mem struct {
	Base  Reg
	Index Reg
	Scale uint8
	Disp  int32
}

func Ptr(base Reg, disp int32) Mem {
	return Mem{Base: base, Disp: disp}
}

func Indexed(base, index Reg, scale uint8, disp int32) Mem {
	return Mem{Base: base, Index: index, Scale: scale, Disp: disp}
}

func (m Mem) String() string {
	s := "[" + m.Base.String()
	if m.Scale != 0 {
		s += fmt.Sprintf("+%s*%d", m.Index, m.Scale)
	}
	if m.Disp != 0 {
		s += fmt.Sprintf("%+#x", m.Disp)
	}
	return s + "]"
}

// Op tags an Inst
type Op uint8

const (
	OpLabel Op = iota
	OpMovImm
	OpMov
	OpLoad
	OpStore
	OpStoreImm
	OpLea
	OpAlu
	OpAluImm
	OpTest
	OpImul
	OpDiv
	OpShift
	OpPush
	OpPop
	OpJmp
	OpJcc
	OpJmpReg
	OpCall
	OpCallReg
	OpCallMem
	OpRet
	OpNop
	OpMovssLoad
	OpMovssStore
	OpMovd
	OpCvtsi2ss
	OpSse
	OpXorps
	OpMovaps
	OpRaw
)

// Inst is a single tagged instruction. Which fields are meaningful depends on Op.
type Inst struct {
	Op    Op
	W     Width
	Dst   Reg
	Src   Reg
	XDst  XReg
	XSrc  XReg
	Mem   Mem
	Imm   int64
	Alu   AluOp
	Shift ShiftOp
	Sse   SseOp
	Cond  Cond
	Short bool
	Label string
	Raw   []byte
}
