package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"rngtrainer/process"

	"golang.org/x/arch/x86/x86asm"
)

var (
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrDivide        = errors.New("divide error")
	ErrMisaligned    = errors.New("stack misaligned at call")
	ErrNotExecutable = errors.New("instruction not supported by machine")
)

const (
	returnSentinel = 0xDEAD0000DEAD0000
	stackBase      = 0x00007FFE00000000
	stackSize      = 0x10000
)

// NativeFunc stands in for a function at a fixed address. It runs with the
// machine state at function entry; the machine performs the return.
type NativeFunc func(m *Machine) error

// Machine executes x86-64 code read from process memory. It understands the
// instruction subset this package emits plus common register forms, which is
// enough to run generated routines and small hand written targets in tests.
type Machine struct {
	Mem      process.MemoryAccess
	GPR      [16]uint64
	XMM      [16]uint64
	RIP      uint64
	MaxSteps int
	Steps    int

	zf, sf, cf, of bool

	natives map[uint64]NativeFunc
	stack   []byte
}

func NewMachine(mem process.MemoryAccess) *Machine {
	return &Machine{
		Mem:      mem,
		MaxSteps: 1 << 20,
		natives:  make(map[uint64]NativeFunc),
		stack:    make([]byte, stackSize),
	}
}

// Native registers fn as the implementation of the function at addr
func (m *Machine) Native(addr uint64, fn NativeFunc) {
	m.natives[addr] = fn
}

// Call runs the function at entry with up to four integer arguments and returns rax
func (m *Machine) Call(entry uint64, args ...uint64) (uint64, error) {
	argRegs := []Reg{RCX, RDX, R8, R9}
	if len(args) > len(argRegs) {
		return 0, fmt.Errorf("call with %d arguments: %w", len(args), ErrNotExecutable)
	}
	for i, a := range args {
		m.GPR[argRegs[i]] = a
	}

	m.GPR[RSP] = stackBase + stackSize - 0x40
	if err := m.push(returnSentinel); err != nil {
		return 0, err
	}
	m.RIP = entry

	if err := m.Run(); err != nil {
		return 0, err
	}
	return m.GPR[RAX], nil
}

// Float returns the low single of an xmm register
func (m *Machine) Float(x XReg) float32 {
	return math.Float32frombits(uint32(m.XMM[x]))
}

func (m *Machine) SetFloat(x XReg, f float32) {
	m.XMM[x] = uint64(math.Float32bits(f))
}

// Run executes until the sentinel return address is reached
func (m *Machine) Run() error {
	for m.RIP != returnSentinel {
		if m.Steps >= m.MaxSteps {
			return fmt.Errorf("at %#x: %w", m.RIP, ErrStepLimit)
		}
		m.Steps++

		if fn, ok := m.natives[m.RIP]; ok {
			if m.GPR[RSP]%16 != 8 {
				return fmt.Errorf("native %#x entered with rsp %#x: %w", m.RIP, m.GPR[RSP], ErrMisaligned)
			}
			if err := fn(m); err != nil {
				return fmt.Errorf("native %#x: %w", m.RIP, err)
			}
			ret, err := m.pop()
			if err != nil {
				return err
			}
			m.RIP = ret
			continue
		}

		if err := m.step(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) inStack(addr uint64, n int) bool {
	return addr >= stackBase && addr+uint64(n) <= stackBase+stackSize
}

// Read reads guest memory, including the machine's private stack
func (m *Machine) Read(addr uint64, n int) ([]byte, error) {
	if m.inStack(addr, n) {
		out := make([]byte, n)
		copy(out, m.stack[addr-stackBase:])
		return out, nil
	}
	return m.Mem.ReadMemory(process.ProcessMemoryAddress(addr), process.ProcessMemorySize(n))
}

func (m *Machine) Write(addr uint64, data []byte) error {
	if m.inStack(addr, len(data)) {
		copy(m.stack[addr-stackBase:], data)
		return nil
	}
	return m.Mem.WriteMemory(process.ProcessMemoryAddress(addr), data)
}

func (m *Machine) readUint(addr uint64, size int) (uint64, error) {
	data, err := m.Read(addr, size)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *Machine) writeUint(addr uint64, size int, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return m.Write(addr, buf[:size])
}

func (m *Machine) push(v uint64) error {
	m.GPR[RSP] -= 8
	return m.writeUint(m.GPR[RSP], 8, v)
}

func (m *Machine) pop() (uint64, error) {
	v, err := m.readUint(m.GPR[RSP], 8)
	if err != nil {
		return 0, err
	}
	m.GPR[RSP] += 8
	return v, nil
}

func (m *Machine) fetch() (x86asm.Inst, error) {
	for n := 15; n > 0; n-- {
		code, err := m.Read(m.RIP, n)
		if err != nil {
			continue
		}
		return x86asm.Decode(code, 64)
	}
	return x86asm.Inst{}, fmt.Errorf("fetch at %#x: %w", m.RIP, process.ErrAddressNotMapped)
}

type gpr struct {
	index int
	size  int
	high  bool
}

func lookupGPR(r x86asm.Reg) (gpr, bool) {
	switch {
	case r >= x86asm.AL && r <= x86asm.BL:
		return gpr{index: int(r - x86asm.AL), size: 1}, true
	case r >= x86asm.AH && r <= x86asm.BH:
		return gpr{index: int(r - x86asm.AH), size: 1, high: true}, true
	case r >= x86asm.SPB && r <= x86asm.DIB:
		return gpr{index: 4 + int(r-x86asm.SPB), size: 1}, true
	case r >= x86asm.R8B && r <= x86asm.R15B:
		return gpr{index: 8 + int(r-x86asm.R8B), size: 1}, true
	case r >= x86asm.AX && r <= x86asm.R15W:
		return gpr{index: int(r - x86asm.AX), size: 2}, true
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return gpr{index: int(r - x86asm.EAX), size: 4}, true
	case r >= x86asm.RAX && r <= x86asm.R15:
		return gpr{index: int(r - x86asm.RAX), size: 8}, true
	}
	return gpr{}, false
}

func isXMM(r x86asm.Reg) bool {
	return r >= x86asm.X0 && r <= x86asm.X15
}

func mask(size int) uint64 {
	if size >= 8 {
		return math.MaxUint64
	}
	return 1<<(uint(size)*8) - 1
}

func (m *Machine) getGPR(g gpr) uint64 {
	v := m.GPR[g.index]
	if g.high {
		return (v >> 8) & 0xFF
	}
	return v & mask(g.size)
}

func (m *Machine) setGPR(g gpr, v uint64) {
	switch {
	case g.high:
		m.GPR[g.index] = m.GPR[g.index]&^0xFF00 | (v&0xFF)<<8
	case g.size == 4:
		m.GPR[g.index] = v & 0xFFFFFFFF
	case g.size == 8:
		m.GPR[g.index] = v
	default:
		mk := mask(g.size)
		m.GPR[g.index] = m.GPR[g.index]&^mk | v&mk
	}
}

func (m *Machine) effective(mem x86asm.Mem, next uint64) uint64 {
	var a uint64
	if mem.Base == x86asm.RIP {
		a = next
	} else if g, ok := lookupGPR(mem.Base); ok {
		a = m.getGPR(g)
	}
	if g, ok := lookupGPR(mem.Index); ok && mem.Scale != 0 {
		a += m.getGPR(g) * uint64(mem.Scale)
	}
	return a + uint64(mem.Disp)
}

// operandSize picks the width of a two operand integer instruction
func operandSize(inst x86asm.Inst) int {
	for _, arg := range inst.Args[:2] {
		if r, ok := arg.(x86asm.Reg); ok {
			if g, ok := lookupGPR(r); ok {
				return g.size
			}
		}
	}
	if inst.MemBytes != 0 {
		return inst.MemBytes
	}
	return inst.DataSize / 8
}

func (m *Machine) load(arg x86asm.Arg, size int, next uint64) (uint64, error) {
	switch a := arg.(type) {
	case x86asm.Reg:
		if g, ok := lookupGPR(a); ok {
			return m.getGPR(g), nil
		}
		if isXMM(a) {
			return m.XMM[a-x86asm.X0] & mask(size), nil
		}
	case x86asm.Mem:
		return m.readUint(m.effective(a, next), size)
	case x86asm.Imm:
		return uint64(a) & mask(size), nil
	}
	return 0, fmt.Errorf("operand %v: %w", arg, ErrNotExecutable)
}

func (m *Machine) store(arg x86asm.Arg, size int, v uint64, next uint64) error {
	switch a := arg.(type) {
	case x86asm.Reg:
		if g, ok := lookupGPR(a); ok {
			m.setGPR(g, v)
			return nil
		}
	case x86asm.Mem:
		return m.writeUint(m.effective(a, next), size, v)
	}
	return fmt.Errorf("operand %v: %w", arg, ErrNotExecutable)
}

func msb(v uint64, size int) bool {
	return v>>(uint(size)*8-1)&1 == 1
}

func (m *Machine) setLogic(res uint64, size int) {
	res &= mask(size)
	m.zf, m.sf, m.cf, m.of = res == 0, msb(res, size), false, false
}

func (m *Machine) setAdd(a, b, res uint64, size int) {
	mk := mask(size)
	a, b, res = a&mk, b&mk, res&mk
	m.zf, m.sf = res == 0, msb(res, size)
	m.cf = res < a
	m.of = msb((a^res)&(b^res), size)
}

func (m *Machine) setSub(a, b, res uint64, size int) {
	mk := mask(size)
	a, b, res = a&mk, b&mk, res&mk
	m.zf, m.sf = res == 0, msb(res, size)
	m.cf = a < b
	m.of = msb((a^b)&(a^res), size)
}

func (m *Machine) cond(op x86asm.Op) (bool, bool) {
	switch op {
	case x86asm.JE:
		return m.zf, true
	case x86asm.JNE:
		return !m.zf, true
	case x86asm.JB:
		return m.cf, true
	case x86asm.JAE:
		return !m.cf, true
	case x86asm.JBE:
		return m.cf || m.zf, true
	case x86asm.JA:
		return !m.cf && !m.zf, true
	case x86asm.JS:
		return m.sf, true
	case x86asm.JNS:
		return !m.sf, true
	case x86asm.JO:
		return m.of, true
	case x86asm.JNO:
		return !m.of, true
	case x86asm.JL:
		return m.sf != m.of, true
	case x86asm.JGE:
		return m.sf == m.of, true
	case x86asm.JLE:
		return m.zf || m.sf != m.of, true
	case x86asm.JG:
		return !m.zf && m.sf == m.of, true
	}
	return false, false
}

func (m *Machine) target(arg x86asm.Arg, next uint64) (uint64, error) {
	switch a := arg.(type) {
	case x86asm.Rel:
		return next + uint64(int64(a)), nil
	case x86asm.Reg, x86asm.Mem:
		return m.load(a, 8, next)
	}
	return 0, fmt.Errorf("branch operand %v: %w", arg, ErrNotExecutable)
}

func (m *Machine) xmmArg(arg x86asm.Arg) (int, bool) {
	if r, ok := arg.(x86asm.Reg); ok && isXMM(r) {
		return int(r - x86asm.X0), true
	}
	return 0, false
}

func (m *Machine) single(arg x86asm.Arg, next uint64) (float32, error) {
	if x, ok := m.xmmArg(arg); ok {
		return math.Float32frombits(uint32(m.XMM[x])), nil
	}
	v, err := m.load(arg, 4, next)
	return math.Float32frombits(uint32(v)), err
}

func (m *Machine) setSingle(x int, f float32) {
	m.XMM[x] = m.XMM[x]&^0xFFFFFFFF | uint64(math.Float32bits(f))
}

func (m *Machine) step() error {
	inst, err := m.fetch()
	if err != nil {
		return fmt.Errorf("decode at %#x: %w", m.RIP, err)
	}

	pc := m.RIP
	next := pc + uint64(inst.Len)
	m.RIP = next
	args := inst.Args

	fail := func(err error) error {
		return fmt.Errorf("%#x %s: %w", pc, x86asm.IntelSyntax(inst, pc, nil), err)
	}

	switch inst.Op {
	case x86asm.NOP:

	case x86asm.MOV:
		size := operandSize(inst)
		v, err := m.load(args[1], size, next)
		if err != nil {
			return fail(err)
		}
		if err := m.store(args[0], size, v, next); err != nil {
			return fail(err)
		}

	case x86asm.MOVZX:
		srcSize := inst.MemBytes
		if r, ok := args[1].(x86asm.Reg); ok {
			g, _ := lookupGPR(r)
			srcSize = g.size
		}
		v, err := m.load(args[1], srcSize, next)
		if err != nil {
			return fail(err)
		}
		if err := m.store(args[0], 8, v, next); err != nil {
			return fail(err)
		}

	case x86asm.LEA:
		mem, ok := args[1].(x86asm.Mem)
		if !ok {
			return fail(ErrNotExecutable)
		}
		if err := m.store(args[0], 8, m.effective(mem, next), next); err != nil {
			return fail(err)
		}

	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.CMP, x86asm.TEST:
		size := operandSize(inst)
		a, err := m.load(args[0], size, next)
		if err != nil {
			return fail(err)
		}
		b, err := m.load(args[1], size, next)
		if err != nil {
			return fail(err)
		}

		var res uint64
		writeBack := true
		switch inst.Op {
		case x86asm.ADD:
			res = a + b
			m.setAdd(a, b, res, size)
		case x86asm.SUB:
			res = a - b
			m.setSub(a, b, res, size)
		case x86asm.CMP:
			res = a - b
			m.setSub(a, b, res, size)
			writeBack = false
		case x86asm.AND:
			res = a & b
			m.setLogic(res, size)
		case x86asm.TEST:
			res = a & b
			m.setLogic(res, size)
			writeBack = false
		case x86asm.OR:
			res = a | b
			m.setLogic(res, size)
		case x86asm.XOR:
			res = a ^ b
			m.setLogic(res, size)
		}
		if writeBack {
			if err := m.store(args[0], size, res&mask(size), next); err != nil {
				return fail(err)
			}
		}

	case x86asm.IMUL:
		size := operandSize(inst)
		a, err := m.load(args[1], size, next)
		if err != nil {
			return fail(err)
		}
		b := uint64(0)
		if args[2] != nil {
			b, err = m.load(args[2], size, next)
		} else {
			b, err = m.load(args[0], size, next)
		}
		if err != nil {
			return fail(err)
		}
		if err := m.store(args[0], size, (a*b)&mask(size), next); err != nil {
			return fail(err)
		}

	case x86asm.DIV:
		size := operandSize(inst)
		d, err := m.load(args[0], size, next)
		if err != nil {
			return fail(err)
		}
		if d == 0 {
			return fail(ErrDivide)
		}
		if size == 8 {
			if m.GPR[RDX] >= d {
				return fail(ErrDivide)
			}
			q, r := bits.Div64(m.GPR[RDX], m.GPR[RAX], d)
			m.GPR[RAX], m.GPR[RDX] = q, r
		} else {
			n := (m.GPR[RDX]&mask(size))<<(uint(size)*8) | m.GPR[RAX]&mask(size)
			q := n / d
			if q > mask(size) {
				return fail(ErrDivide)
			}
			m.setGPR(gpr{index: int(RAX), size: size}, q)
			m.setGPR(gpr{index: int(RDX), size: size}, n%d)
		}

	case x86asm.SHL, x86asm.SHR:
		size := operandSize(inst)
		v, err := m.load(args[0], size, next)
		if err != nil {
			return fail(err)
		}
		n, err := m.load(args[1], 1, next)
		if err != nil {
			return fail(err)
		}
		n &= 63
		if inst.Op == x86asm.SHL {
			v <<= n
		} else {
			v >>= n
		}
		m.setLogic(v, size)
		if err := m.store(args[0], size, v&mask(size), next); err != nil {
			return fail(err)
		}

	case x86asm.PUSH:
		v, err := m.load(args[0], 8, next)
		if err != nil {
			return fail(err)
		}
		if err := m.push(v); err != nil {
			return fail(err)
		}

	case x86asm.POP:
		v, err := m.pop()
		if err != nil {
			return fail(err)
		}
		if err := m.store(args[0], 8, v, next); err != nil {
			return fail(err)
		}

	case x86asm.JMP:
		t, err := m.target(args[0], next)
		if err != nil {
			return fail(err)
		}
		m.RIP = t

	case x86asm.CALL:
		t, err := m.target(args[0], next)
		if err != nil {
			return fail(err)
		}
		if err := m.push(next); err != nil {
			return fail(err)
		}
		m.RIP = t

	case x86asm.RET:
		v, err := m.pop()
		if err != nil {
			return fail(err)
		}
		m.RIP = v

	case x86asm.MOVSS:
		if x, ok := m.xmmArg(args[0]); ok {
			if y, ok := m.xmmArg(args[1]); ok {
				m.XMM[x] = m.XMM[x]&^0xFFFFFFFF | m.XMM[y]&0xFFFFFFFF
				break
			}
			v, err := m.load(args[1], 4, next)
			if err != nil {
				return fail(err)
			}
			m.XMM[x] = v
			break
		}
		y, ok := m.xmmArg(args[1])
		if !ok {
			return fail(ErrNotExecutable)
		}
		if err := m.store(args[0], 4, m.XMM[y]&0xFFFFFFFF, next); err != nil {
			return fail(err)
		}

	case x86asm.MOVD:
		if x, ok := m.xmmArg(args[0]); ok {
			v, err := m.load(args[1], 4, next)
			if err != nil {
				return fail(err)
			}
			m.XMM[x] = v
			break
		}
		y, ok := m.xmmArg(args[1])
		if !ok {
			return fail(ErrNotExecutable)
		}
		if err := m.store(args[0], 4, m.XMM[y]&0xFFFFFFFF, next); err != nil {
			return fail(err)
		}

	case x86asm.CVTSI2SS:
		x, ok := m.xmmArg(args[0])
		if !ok {
			return fail(ErrNotExecutable)
		}
		size := 4
		if r, ok := args[1].(x86asm.Reg); ok {
			g, _ := lookupGPR(r)
			size = g.size
		} else if inst.MemBytes != 0 {
			size = inst.MemBytes
		}
		v, err := m.load(args[1], size, next)
		if err != nil {
			return fail(err)
		}
		if size == 8 {
			m.setSingle(x, float32(int64(v)))
		} else {
			m.setSingle(x, float32(int32(uint32(v))))
		}

	case x86asm.ADDSS, x86asm.SUBSS, x86asm.MULSS, x86asm.DIVSS:
		x, ok := m.xmmArg(args[0])
		if !ok {
			return fail(ErrNotExecutable)
		}
		a := math.Float32frombits(uint32(m.XMM[x]))
		b, err := m.single(args[1], next)
		if err != nil {
			return fail(err)
		}
		switch inst.Op {
		case x86asm.ADDSS:
			a += b
		case x86asm.SUBSS:
			a -= b
		case x86asm.MULSS:
			a *= b
		case x86asm.DIVSS:
			a /= b
		}
		m.setSingle(x, a)

	case x86asm.XORPS, x86asm.MOVAPS:
		x, ok1 := m.xmmArg(args[0])
		y, ok2 := m.xmmArg(args[1])
		if !ok1 || !ok2 {
			return fail(ErrNotExecutable)
		}
		if inst.Op == x86asm.XORPS {
			m.XMM[x] ^= m.XMM[y]
		} else {
			m.XMM[x] = m.XMM[y]
		}

	default:
		taken, ok := m.cond(inst.Op)
		if !ok {
			return fail(ErrNotExecutable)
		}
		if taken {
			t, err := m.target(args[0], next)
			if err != nil {
				return fail(err)
			}
			m.RIP = t
		}
	}

	return nil
}
