package asm

import "fmt"

// Builder accumulates instructions. Methods return the builder so that
// straight-line sequences can be chained.
type Builder struct {
	insts  []Inst
	labels int
	prefix string
}

func NewBuilder(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

func (b *Builder) Emit(insts ...Inst) *Builder {
	b.insts = append(b.insts, insts...)
	return b
}

// Append copies the instructions of another builder
func (b *Builder) Append(other *Builder) *Builder {
	return b.Emit(other.insts...)
}

func (b *Builder) Len() int {
	return len(b.insts)
}

// NewLabel returns a label name unique within this builder
func (b *Builder) NewLabel(hint string) string {
	b.labels++
	return fmt.Sprintf("%s.%s.%d", b.prefix, hint, b.labels)
}

func (b *Builder) Label(name string) *Builder {
	return b.Emit(Inst{Op: OpLabel, Label: name})
}

func (b *Builder) MovImm(w Width, dst Reg, imm int64) *Builder {
	return b.Emit(Inst{Op: OpMovImm, W: w, Dst: dst, Imm: imm})
}

// MovAddr loads a 64 bit address
func (b *Builder) MovAddr(dst Reg, addr uint64) *Builder {
	return b.MovImm(W64, dst, int64(addr))
}

func (b *Builder) Mov(w Width, dst, src Reg) *Builder {
	return b.Emit(Inst{Op: OpMov, W: w, Dst: dst, Src: src})
}

// Load reads memory into dst; 8 and 16 bit loads zero extend
func (b *Builder) Load(w Width, dst Reg, m Mem) *Builder {
	return b.Emit(Inst{Op: OpLoad, W: w, Dst: dst, Mem: m})
}

func (b *Builder) Store(w Width, m Mem, src Reg) *Builder {
	return b.Emit(Inst{Op: OpStore, W: w, Mem: m, Src: src})
}

// StoreImm writes a sign extended 32 bit immediate
func (b *Builder) StoreImm(w Width, m Mem, imm int32) *Builder {
	return b.Emit(Inst{Op: OpStoreImm, W: w, Mem: m, Imm: int64(imm)})
}

func (b *Builder) Lea(dst Reg, m Mem) *Builder {
	return b.Emit(Inst{Op: OpLea, W: W64, Dst: dst, Mem: m})
}

func (b *Builder) Alu(op AluOp, w Width, dst, src Reg) *Builder {
	return b.Emit(Inst{Op: OpAlu, Alu: op, W: w, Dst: dst, Src: src})
}

func (b *Builder) AluImm(op AluOp, w Width, dst Reg, imm int32) *Builder {
	return b.Emit(Inst{Op: OpAluImm, Alu: op, W: w, Dst: dst, Imm: int64(imm)})
}

// Zero clears a register
func (b *Builder) Zero(r Reg) *Builder {
	return b.Alu(Xor, W32, r, r)
}

func (b *Builder) Test(w Width, a, c Reg) *Builder {
	return b.Emit(Inst{Op: OpTest, W: w, Dst: a, Src: c})
}

func (b *Builder) Imul(dst, src Reg) *Builder {
	return b.Emit(Inst{Op: OpImul, W: W64, Dst: dst, Src: src})
}

// Div divides rdx:rax by src, leaving the quotient in rax and the remainder in rdx
func (b *Builder) Div(src Reg) *Builder {
	return b.Emit(Inst{Op: OpDiv, W: W64, Src: src})
}

func (b *Builder) ShiftImm(op ShiftOp, dst Reg, n uint8) *Builder {
	return b.Emit(Inst{Op: OpShift, Shift: op, W: W64, Dst: dst, Imm: int64(n)})
}

func (b *Builder) Push(regs ...Reg) *Builder {
	for _, r := range regs {
		b.Emit(Inst{Op: OpPush, Src: r})
	}
	return b
}

// Pop pops into each register in the order given
func (b *Builder) Pop(regs ...Reg) *Builder {
	for _, r := range regs {
		b.Emit(Inst{Op: OpPop, Dst: r})
	}
	return b
}

func (b *Builder) Jmp(label string) *Builder {
	return b.Emit(Inst{Op: OpJmp, Label: label})
}

func (b *Builder) JmpShort(label string) *Builder {
	return b.Emit(Inst{Op: OpJmp, Label: label, Short: true})
}

func (b *Builder) Jcc(c Cond, label string) *Builder {
	return b.Emit(Inst{Op: OpJcc, Cond: c, Label: label})
}

func (b *Builder) JccShort(c Cond, label string) *Builder {
	return b.Emit(Inst{Op: OpJcc, Cond: c, Label: label, Short: true})
}

func (b *Builder) JmpReg(r Reg) *Builder {
	return b.Emit(Inst{Op: OpJmpReg, Src: r})
}

// JmpAbs jumps to an absolute address through scratch
func (b *Builder) JmpAbs(scratch Reg, addr uint64) *Builder {
	return b.MovAddr(scratch, addr).JmpReg(scratch)
}

// Call emits a near call to a label in the same program
func (b *Builder) Call(label string) *Builder {
	return b.Emit(Inst{Op: OpCall, Label: label})
}

func (b *Builder) CallReg(r Reg) *Builder {
	return b.Emit(Inst{Op: OpCallReg, Src: r})
}

func (b *Builder) CallMem(m Mem) *Builder {
	return b.Emit(Inst{Op: OpCallMem, Mem: m})
}

// CallAbs calls an absolute address through scratch
func (b *Builder) CallAbs(scratch Reg, addr uint64) *Builder {
	return b.MovAddr(scratch, addr).CallReg(scratch)
}

func (b *Builder) Ret() *Builder {
	return b.Emit(Inst{Op: OpRet})
}

func (b *Builder) Nop(n int) *Builder {
	for i := 0; i < n; i++ {
		b.Emit(Inst{Op: OpNop})
	}
	return b
}

func (b *Builder) MovssLoad(x XReg, m Mem) *Builder {
	return b.Emit(Inst{Op: OpMovssLoad, XDst: x, Mem: m})
}

func (b *Builder) MovssStore(m Mem, x XReg) *Builder {
	return b.Emit(Inst{Op: OpMovssStore, XSrc: x, Mem: m})
}

// Movd moves the low 32 bits of src into x
func (b *Builder) Movd(x XReg, src Reg) *Builder {
	return b.Emit(Inst{Op: OpMovd, XDst: x, Src: src})
}

// Cvtsi2ss converts the signed 64 bit src into x
func (b *Builder) Cvtsi2ss(x XReg, src Reg) *Builder {
	return b.Emit(Inst{Op: OpCvtsi2ss, XDst: x, Src: src})
}

func (b *Builder) Sse(op SseOp, dst, src XReg) *Builder {
	return b.Emit(Inst{Op: OpSse, Sse: op, XDst: dst, XSrc: src})
}

func (b *Builder) Xorps(dst, src XReg) *Builder {
	return b.Emit(Inst{Op: OpXorps, XDst: dst, XSrc: src})
}

func (b *Builder) Movaps(dst, src XReg) *Builder {
	return b.Emit(Inst{Op: OpMovaps, XDst: dst, XSrc: src})
}

// MovFloat loads a float constant into x through the 32 bit half of scratch
func (b *Builder) MovFloat(x XReg, scratch Reg, bits uint32) *Builder {
	return b.MovImm(W32, scratch, int64(bits)).Movd(x, scratch)
}

func (b *Builder) Raw(code []byte) *Builder {
	raw := make([]byte, len(code))
	copy(raw, code)
	return b.Emit(Inst{Op: OpRaw, Raw: raw})
}

// If runs then when c holds for the flags set by the preceding instruction
func (b *Builder) If(c Cond, then func(*Builder)) *Builder {
	end := b.NewLabel("endif")
	b.Jcc(c.Not(), end)
	then(b)
	return b.Label(end)
}

func (b *Builder) IfElse(c Cond, then, otherwise func(*Builder)) *Builder {
	elseLabel := b.NewLabel("else")
	end := b.NewLabel("endif")
	b.Jcc(c.Not(), elseLabel)
	then(b)
	b.Jmp(end)
	b.Label(elseLabel)
	otherwise(b)
	return b.Label(end)
}

// DoWhile runs body, then repeats it while the flags it leaves satisfy c
func (b *Builder) DoWhile(body func(*Builder), c Cond) *Builder {
	top := b.NewLabel("loop")
	b.Label(top)
	body(b)
	return b.Jcc(c, top)
}

// Program freezes the instructions built so far
func (b *Builder) Program(name string) *Program {
	insts := make([]Inst, len(b.insts))
	copy(insts, b.insts)
	return &Program{Name: name, Insts: insts}
}

// Program is a named instruction list ready to be assembled
type Program struct {
	Name  string
	Insts []Inst
}
