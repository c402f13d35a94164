package trainer

import (
	"encoding/binary"
	"fmt"

	"rngtrainer/asm"
	"rngtrainer/process"
)

const (
	fnvBasis = 0xcbf29ce484222325
	fnvPrime = 0x100000001b3

	// float draws use an int in [0, floatSteps)
	floatSteps = 0x10000
	float65536 = 0x47800000
	float1     = 0x3F800000

	// DispatchStride is the size of one dispatch entry: mov r10b, imm8; jmp short body
	DispatchStride = 5
)

func dispatchLabel(k Kind, c Category) string {
	return fmt.Sprintf("%s.%s", k, c)
}

func bodyLabel(k Kind) string {
	return k.String() + ".body"
}

// rngProgram generates the three random functions. Each begins with a
// dispatch table of one entry per category that loads the category into
// r10 and jumps to the shared body.
//
// Win64 arguments: Range(int) takes min in ecx and max in edx, Range(float)
// takes min in xmm0 and max in xmm1. Only volatile registers are touched.
func rngProgram(seeds, behaviors process.ProcessMemoryAddress) *asm.Program {
	b := asm.NewBuilder("rng")

	dispatchTable(b, KindIntRange)
	b.Label(bodyLabel(KindIntRange))
	intBody(b, seeds, behaviors)

	dispatchTable(b, KindFloatRange)
	b.Label(bodyLabel(KindFloatRange))
	floatBody(b)

	dispatchTable(b, KindValue)
	b.Label(bodyLabel(KindValue))
	valueBody(b)

	return b.Program("rng")
}

func dispatchTable(b *asm.Builder, k Kind) {
	for _, c := range Categories() {
		b.Label(dispatchLabel(k, c))
		b.MovImm(asm.W8, asm.R10, int64(c))
		b.JmpShort(bodyLabel(k))
	}
}

// intBody draws the category's next value into r8 and maps it into [ecx, edx).
// An empty or inverted range returns ecx.
func intBody(b *asm.Builder, seeds, behaviors process.ProcessMemoryAddress) {
	b.AluImm(asm.And, asm.W32, asm.R10, 0xFF)
	b.MovAddr(asm.R11, uint64(behaviors))
	b.Load(asm.W8, asm.RAX, asm.Indexed(asm.R11, asm.R10, 1, 0))
	b.MovAddr(asm.R11, uint64(seeds))
	b.Lea(asm.R11, asm.Indexed(asm.R11, asm.R10, 8, 0))
	b.Load(asm.W64, asm.R8, asm.Ptr(asm.R11, 0))

	b.AluImm(asm.Cmp, asm.W32, asm.RAX, int32(Increment))
	b.IfElse(asm.CondE, func(b *asm.Builder) {
		b.Lea(asm.R9, asm.Ptr(asm.R8, 1))
		b.Store(asm.W64, asm.Ptr(asm.R11, 0), asm.R9)
	}, func(b *asm.Builder) {
		b.AluImm(asm.Cmp, asm.W32, asm.RAX, int32(Randomize))
		b.If(asm.CondE, func(b *asm.Builder) {
			fnvFold(b)
		})
	})

	// width = max - min, compared signed so that overflow still orders correctly
	b.Mov(asm.W32, asm.RAX, asm.RDX)
	b.Alu(asm.Sub, asm.W32, asm.RAX, asm.RCX)
	b.If(asm.CondLE, func(b *asm.Builder) {
		b.Mov(asm.W32, asm.RAX, asm.RCX)
		b.Ret()
	})
	b.Mov(asm.W32, asm.R9, asm.RAX)
	b.Mov(asm.W64, asm.RAX, asm.R8)
	b.Zero(asm.RDX)
	b.Div(asm.R9)
	b.Alu(asm.Add, asm.W32, asm.RDX, asm.RCX)
	b.Mov(asm.W32, asm.RAX, asm.RDX)
	b.Ret()
}

// fnvFold stores the FNV-1a hash of the eight seed bytes in r8 to [r11]. r8 keeps the drawn seed.
func fnvFold(b *asm.Builder) {
	b.Push(asm.RCX, asm.RDX)
	b.MovAddr(asm.RAX, fnvBasis)
	b.MovAddr(asm.R9, fnvPrime)
	b.Mov(asm.W64, asm.R10, asm.R8)
	b.MovImm(asm.W32, asm.RCX, 8)
	b.DoWhile(func(b *asm.Builder) {
		b.Mov(asm.W64, asm.RDX, asm.R10)
		b.AluImm(asm.And, asm.W32, asm.RDX, 0xFF)
		b.Alu(asm.Xor, asm.W64, asm.RAX, asm.RDX)
		b.Imul(asm.RAX, asm.R9)
		b.ShiftImm(asm.Shr, asm.R10, 8)
		b.AluImm(asm.Sub, asm.W32, asm.RCX, 1)
	}, asm.CondNE)
	b.Store(asm.W64, asm.Ptr(asm.R11, 0), asm.RAX)
	b.Pop(asm.RDX, asm.RCX)
}

// floatBody scales an int draw in [0, 65536) into [xmm0, xmm1]
func floatBody(b *asm.Builder) {
	b.Zero(asm.RCX)
	b.MovImm(asm.W32, asm.RDX, floatSteps)
	b.Call(bodyLabel(KindIntRange))
	b.Cvtsi2ss(asm.XMM2, asm.RAX)
	b.MovFloat(asm.XMM3, asm.RAX, float65536)
	b.Sse(asm.DivSS, asm.XMM2, asm.XMM3)
	b.Sse(asm.SubSS, asm.XMM1, asm.XMM0)
	b.Sse(asm.MulSS, asm.XMM2, asm.XMM1)
	b.Sse(asm.AddSS, asm.XMM0, asm.XMM2)
	b.Ret()
}

// valueBody is Range(0.0, 1.0)
func valueBody(b *asm.Builder) {
	b.Xorps(asm.XMM0, asm.XMM0)
	b.MovFloat(asm.XMM1, asm.RAX, float1)
	b.Jmp(bodyLabel(KindFloatRange))
}

// DispatchEntry returns the generated entry point for calls of kind k in category c
func (e *Engine) DispatchEntry(k Kind, c Category) (process.ProcessMemoryAddress, error) {
	if e.code == nil {
		return 0, fmt.Errorf("dispatch entry: %w", ErrState)
	}
	if !c.Valid() {
		return 0, fmt.Errorf("%d: %w", c, ErrCategory)
	}
	addr, err := e.code.Addr(dispatchLabel(k, c))
	return process.ProcessMemoryAddress(addr), err
}

// Inject allocates the seed and behavior tables and the generated code,
// overwrites the original random functions with jumps into it and
// retargets every call site at its category's dispatch entry
func (e *Engine) Inject() error {
	if e.state != Verified {
		return fmt.Errorf("inject in state %s: %w", e.state, ErrState)
	}
	mod := e.proc.Module()

	seeds, err := e.proc.Allocate(process.ProcessMemorySize(8*NumCategories), 0)
	if err != nil {
		return fmt.Errorf("failed to allocate seed table: %w", err)
	}
	behaviors, err := e.proc.Allocate(process.ProcessMemorySize(NumCategories), 0)
	if err != nil {
		return fmt.Errorf("failed to allocate behavior table: %w", err)
	}

	prog := rngProgram(seeds, behaviors)
	size, err := asm.Size(prog)
	if err != nil {
		return err
	}
	origin, err := e.proc.Allocate(process.ProcessMemorySize(size), mod.Base)
	if err != nil {
		return fmt.Errorf("failed to allocate code near %s: %w", mod.Base.ToString(), err)
	}
	code, err := asm.Assemble(prog, uint64(origin))
	if err != nil {
		return err
	}

	for _, s := range e.sites {
		if !process.InRel32Reach(s.Found.Add(4), origin) || !process.InRel32Reach(s.Found.Add(4), process.ProcessMemoryAddress(code.End())) {
			return fmt.Errorf("code at %s out of reach of %s: %w", origin.ToString(), s.Found.ToString(), process.ErrNoNearbyMemory)
		}
	}

	if err := e.proc.WriteMemory(origin, code.Code); err != nil {
		e.diag.Failf("writing generated code at %s failed: %v", origin.ToString(), err)
		return fmt.Errorf("failed to write generated code: %w", err)
	}

	e.seeds, e.behaviors, e.code = seeds, behaviors, code
	e.patches = nil

	for k := 0; k < numKinds; k++ {
		if e.targets[k] == 0 {
			continue
		}
		entry, _ := code.Addr(dispatchLabel(Kind(k), Unknown))
		stub := asm.NewBuilder("entry").JmpAbs(asm.R11, entry).Program(Kind(k).String() + ".entry")
		stubCode, err := asm.Assemble(stub, uint64(e.targets[k]))
		if err != nil {
			return err
		}
		if err := e.patch(Kind(k).String()+" entry", e.targets[k], stubCode.Code); err != nil {
			return e.abortInject(err)
		}
	}

	for _, s := range e.sites {
		entry, _ := code.Addr(dispatchLabel(s.Kind, s.Category))
		disp := int64(entry) - int64(s.Found.Add(4))
		field := binary.LittleEndian.AppendUint32(nil, uint32(int32(disp)))
		if err := e.patch(s.Caller, s.Found, field); err != nil {
			return e.abortInject(err)
		}
	}

	e.state = Injected
	e.log.Infoln("injected", len(e.sites), "call sites, code at", origin.ToString(), "seeds at", seeds.ToString())
	return nil
}

func (e *Engine) patch(name string, addr process.ProcessMemoryAddress, code []byte) error {
	original, err := e.proc.ReadMemory(addr, process.ProcessMemorySize(len(code)))
	if err != nil {
		return fmt.Errorf("%s: failed to read %s: %w", name, addr.ToString(), err)
	}
	if err := e.proc.WriteMemory(addr, code); err != nil {
		e.diag.Failf("patch %s at %s failed: %v", name, addr.ToString(), err)
		return fmt.Errorf("%s: failed to write %s: %w", name, addr.ToString(), err)
	}
	e.patches = append(e.patches, Patch{Name: name, Address: addr, Original: original, Written: code})
	return nil
}

// abortInject undoes the patches written so far
func (e *Engine) abortInject(cause error) error {
	for i := len(e.patches) - 1; i >= 0; i-- {
		p := e.patches[i]
		if err := e.proc.WriteMemory(p.Address, p.Original); err != nil {
			e.diag.Failf("rollback of %s at %s failed: %v", p.Name, p.Address.ToString(), err)
		}
	}
	e.patches = nil
	e.code = nil
	return cause
}

func (e *Engine) checkTables(c Category) error {
	if e.state != Injected {
		return fmt.Errorf("tables in state %s: %w", e.state, ErrState)
	}
	if !c.Valid() {
		return fmt.Errorf("%d: %w", c, ErrCategory)
	}
	return nil
}

func (e *Engine) SetSeed(c Category, seed uint64) error {
	if err := e.checkTables(c); err != nil {
		return err
	}
	return process.Write(e.proc, e.seeds.Add(8*int64(c)), seed)
}

func (e *Engine) Seed(c Category) (uint64, error) {
	if err := e.checkTables(c); err != nil {
		return 0, err
	}
	return process.Read[uint64](e.proc, e.seeds.Add(8*int64(c)))
}

func (e *Engine) SetAllSeeds(seed uint64) error {
	for _, c := range Categories() {
		if err := e.SetSeed(c, seed); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) SetBehavior(c Category, b Behavior) error {
	if err := e.checkTables(c); err != nil {
		return err
	}
	if !b.Valid() {
		return fmt.Errorf("%d: %w", b, ErrBehavior)
	}
	return process.Write(e.proc, e.behaviors.Add(int64(c)), uint8(b))
}

func (e *Engine) Behavior(c Category) (Behavior, error) {
	if err := e.checkTables(c); err != nil {
		return 0, err
	}
	v, err := process.Read[uint8](e.proc, e.behaviors.Add(int64(c)))
	return Behavior(v), err
}

func (e *Engine) SetAllBehaviors(b Behavior) error {
	for _, c := range Categories() {
		if err := e.SetBehavior(c, b); err != nil {
			return err
		}
	}
	return nil
}
