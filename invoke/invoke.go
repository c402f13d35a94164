// Package invoke calls functions inside a remote process.
//
// A stub and its argument block share one allocation, created on first use.
// A call writes the target and arguments into the block and runs the stub on
// a new remote thread; the stub loads the Win64 argument registers from the
// block, calls the target and stores rax and xmm0 back.
package invoke

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"rngtrainer/asm"
	"rngtrainer/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// argument block layout
const (
	offTarget  = 0x00
	offRCX     = 0x08
	offRDX     = 0x10
	offR8      = 0x18
	offR9      = 0x20
	offXMM     = 0x28
	offRetRAX  = 0x38
	offRetXMM0 = 0x40
	blockSize  = 0x48

	stubOffset = 0x80
	allocSize  = 0x1000
)

// Args are the first four integer and float arguments; unused ones are zero
type Args struct {
	RCX, RDX, R8, R9 uint64
	XMM              [4]float32
}

// Result holds the thread exit code, which is the low half of rax, and the full return registers
type Result struct {
	Code int32
	Rax  uint64
	Xmm0 float32
}

type Invoker struct {
	mu    sync.Mutex
	proc  process.Process
	block process.ProcessMemoryAddress
	stub  *asm.Assembled
	log   *logger.Logger
}

func New(proc process.Process) *Invoker {
	return &Invoker{
		proc: proc,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorLimeGreen, coloransi.Black, "invoke")),
	}
}

func stubProgram(block uint64) *asm.Program {
	b := asm.NewBuilder("invoke")
	b.Push(asm.RBX)
	b.MovAddr(asm.RBX, block)
	b.Load(asm.W64, asm.RCX, asm.Ptr(asm.RBX, offRCX))
	b.Load(asm.W64, asm.RDX, asm.Ptr(asm.RBX, offRDX))
	b.Load(asm.W64, asm.R8, asm.Ptr(asm.RBX, offR8))
	b.Load(asm.W64, asm.R9, asm.Ptr(asm.RBX, offR9))
	for i := 0; i < 4; i++ {
		b.MovssLoad(asm.XReg(i), asm.Ptr(asm.RBX, int32(offXMM+4*i)))
	}
	b.AluImm(asm.Sub, asm.W64, asm.RSP, 0x20)
	b.CallMem(asm.Ptr(asm.RBX, offTarget))
	b.AluImm(asm.Add, asm.W64, asm.RSP, 0x20)
	b.Store(asm.W64, asm.Ptr(asm.RBX, offRetRAX), asm.RAX)
	b.MovssStore(asm.Ptr(asm.RBX, offRetXMM0), asm.XMM0)
	b.Pop(asm.RBX)
	b.Ret()
	return b.Program("invoke")
}

func (v *Invoker) ensure() error {
	if v.stub != nil {
		return nil
	}

	block, err := v.proc.Allocate(allocSize, 0)
	if err != nil {
		return fmt.Errorf("failed to allocate invoke stub: %w", err)
	}

	stub, err := asm.Assemble(stubProgram(uint64(block)), uint64(block)+stubOffset)
	if err != nil {
		v.proc.Free(block)
		return err
	}
	if err := v.proc.WriteMemory(block+stubOffset, stub.Code); err != nil {
		v.proc.Free(block)
		return fmt.Errorf("failed to write invoke stub: %w", err)
	}

	v.block = block
	v.stub = stub
	v.log.Debugln("invoke stub at", process.ProcessMemoryAddress(stub.Origin).ToString())
	return nil
}

// Call runs target(args) on a remote thread and waits for it
func (v *Invoker) Call(target process.ProcessMemoryAddress, args Args) (Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensure(); err != nil {
		return Result{}, err
	}

	block := make([]byte, offRetRAX)
	binary.LittleEndian.PutUint64(block[offTarget:], uint64(target))
	binary.LittleEndian.PutUint64(block[offRCX:], args.RCX)
	binary.LittleEndian.PutUint64(block[offRDX:], args.RDX)
	binary.LittleEndian.PutUint64(block[offR8:], args.R8)
	binary.LittleEndian.PutUint64(block[offR9:], args.R9)
	for i, f := range args.XMM {
		binary.LittleEndian.PutUint32(block[offXMM+4*i:], math.Float32bits(f))
	}
	if err := v.proc.WriteMemory(v.block, block); err != nil {
		return Result{}, fmt.Errorf("failed to write arguments: %w", err)
	}

	code, err := v.proc.RunThread(process.ProcessMemoryAddress(v.stub.Origin), 0)
	if err != nil {
		return Result{}, fmt.Errorf("call %s: %w", target.ToString(), err)
	}

	ret, err := v.proc.ReadMemory(v.block+offRetRAX, blockSize-offRetRAX)
	if err != nil {
		return Result{Code: int32(code)}, fmt.Errorf("failed to read return values: %w", err)
	}

	return Result{
		Code: int32(code),
		Rax:  binary.LittleEndian.Uint64(ret),
		Xmm0: math.Float32frombits(binary.LittleEndian.Uint32(ret[offRetXMM0-offRetRAX:])),
	}, nil
}

// CallString passes a NUL terminated copy of s as the first argument
func (v *Invoker) CallString(target process.ProcessMemoryAddress, s string, rdx uint64) (Result, error) {
	buf, err := v.proc.Allocate(process.ProcessMemorySize(len(s)+1), 0)
	if err != nil {
		return Result{}, fmt.Errorf("failed to allocate string: %w", err)
	}
	defer v.proc.Free(buf)

	if err := v.proc.WriteMemory(buf, append([]byte(s), 0)); err != nil {
		return Result{}, fmt.Errorf("failed to write string: %w", err)
	}

	return v.Call(target, Args{RCX: uint64(buf), RDX: rdx})
}

// Close frees the stub; later calls allocate a new one
func (v *Invoker) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stub == nil {
		return nil
	}
	err := v.proc.Free(v.block)
	v.stub, v.block = nil, 0
	return err
}
