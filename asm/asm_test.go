package asm

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeKnownForms(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  []byte
	}{
		{"mov r11, imm64", func(b *Builder) { b.MovAddr(R11, 0x1122334455667788) },
			[]byte{0x49, 0xBB, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"jmp r11", func(b *Builder) { b.JmpReg(R11) }, []byte{0x41, 0xFF, 0xE3}},
		{"call r11", func(b *Builder) { b.CallReg(R11) }, []byte{0x41, 0xFF, 0xD3}},
		{"push r11", func(b *Builder) { b.Push(R11) }, []byte{0x41, 0x53}},
		{"pop r11", func(b *Builder) { b.Pop(R11) }, []byte{0x41, 0x5B}},
		{"push rbx", func(b *Builder) { b.Push(RBX) }, []byte{0x53}},
		{"mov rcx, [rbx+8]", func(b *Builder) { b.Load(W64, RCX, Ptr(RBX, 8)) }, []byte{0x48, 0x8B, 0x4B, 0x08}},
		{"mov r9, [r11+r10*8]", func(b *Builder) { b.Load(W64, R9, Indexed(R11, R10, 8, 0)) }, []byte{0x4F, 0x8B, 0x0C, 0xD3}},
		{"mov r10b, 3", func(b *Builder) { b.MovImm(W8, R10, 3) }, []byte{0x41, 0xB2, 0x03}},
		{"mov eax, imm32", func(b *Builder) { b.MovImm(W32, RAX, 0x3F800000) }, []byte{0xB8, 0x00, 0x00, 0x80, 0x3F}},
		{"call [rbx]", func(b *Builder) { b.CallMem(Ptr(RBX, 0)) }, []byte{0xFF, 0x13}},
		{"movss xmm0, [rbx+0x28]", func(b *Builder) { b.MovssLoad(XMM0, Ptr(RBX, 0x28)) }, []byte{0xF3, 0x0F, 0x10, 0x43, 0x28}},
		{"movss [rbx+0x40], xmm0", func(b *Builder) { b.MovssStore(Ptr(RBX, 0x40), XMM0) }, []byte{0xF3, 0x0F, 0x11, 0x43, 0x40}},
		{"mov rax, [rsp+0x28]", func(b *Builder) { b.Load(W64, RAX, Ptr(RSP, 0x28)) }, []byte{0x48, 0x8B, 0x44, 0x24, 0x28}},
		{"mov rax, [r13]", func(b *Builder) { b.Load(W64, RAX, Ptr(R13, 0)) }, []byte{0x49, 0x8B, 0x45, 0x00}},
		{"mov [rax], sil", func(b *Builder) { b.Store(W8, Ptr(RAX, 0), RSI) }, []byte{0x40, 0x88, 0x30}},
		{"movzx eax, byte [r11+r10]", func(b *Builder) { b.Load(W8, RAX, Indexed(R11, R10, 1, 0)) }, []byte{0x43, 0x0F, 0xB6, 0x04, 0x13}},
		{"sub rsp, 0x28", func(b *Builder) { b.AluImm(Sub, W64, RSP, 0x28) }, []byte{0x48, 0x83, 0xEC, 0x28}},
		{"add rsp, 0x100", func(b *Builder) { b.AluImm(Add, W64, RSP, 0x100) }, []byte{0x48, 0x81, 0xC4, 0x00, 0x01, 0x00, 0x00}},
		{"xor eax, eax", func(b *Builder) { b.Zero(RAX) }, []byte{0x31, 0xC0}},
		{"div rcx", func(b *Builder) { b.Div(RCX) }, []byte{0x48, 0xF7, 0xF1}},
		{"imul rax, r9", func(b *Builder) { b.Imul(RAX, R9) }, []byte{0x49, 0x0F, 0xAF, 0xC1}},
		{"cvtsi2ss xmm0, rax", func(b *Builder) { b.Cvtsi2ss(XMM0, RAX) }, []byte{0xF3, 0x48, 0x0F, 0x2A, 0xC0}},
		{"divss xmm0, xmm2", func(b *Builder) { b.Sse(DivSS, XMM0, XMM2) }, []byte{0xF3, 0x0F, 0x5E, 0xC2}},
		{"movd xmm1, eax", func(b *Builder) { b.Movd(XMM1, RAX) }, []byte{0x66, 0x0F, 0x6E, 0xC8}},
		{"mov qword [rbx+8], 0", func(b *Builder) { b.StoreImm(W64, Ptr(RBX, 8), 0) },
			[]byte{0x48, 0xC7, 0x43, 0x08, 0x00, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("t")
			tt.build(b)
			a, err := Assemble(b.Program(tt.name), 0x1000)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if !bytes.Equal(a.Code, tt.want) {
				t.Fatalf("got % x, want % x", a.Code, tt.want)
			}
			if _, err := Disassemble(a.Code, a.Origin); err != nil {
				t.Fatalf("Disassemble: %v", err)
			}
		})
	}
}

func TestAssembleLabels(t *testing.T) {
	b := NewBuilder("labels")
	b.Label("top").Nop(1).JmpShort("end").Jmp("top").Label("end").Ret()

	a, err := Assemble(b.Program("labels"), 0x2000)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	want := []byte{0x90, 0xEB, 0x05, 0xE9, 0xF8, 0xFF, 0xFF, 0xFF, 0xC3}
	if !bytes.Equal(a.Code, want) {
		t.Fatalf("got % x, want % x", a.Code, want)
	}
	if end, _ := a.Addr("end"); end != 0x2008 {
		t.Fatalf("end = %#x", end)
	}

	size, err := Size(b.Program("labels"))
	if err != nil || size != len(want) {
		t.Fatalf("Size = %d, %v", size, err)
	}
}

func TestAssembleErrors(t *testing.T) {
	undefined := NewBuilder("u").Jmp("missing")
	if _, err := Assemble(undefined.Program("u"), 0); !errors.Is(err, ErrUndefinedLabel) {
		t.Fatalf("undefined label: %v", err)
	}

	dup := NewBuilder("d").Label("x").Label("x")
	if _, err := Assemble(dup.Program("d"), 0); !errors.Is(err, ErrDuplicateLabel) {
		t.Fatalf("duplicate label: %v", err)
	}

	far := NewBuilder("f").JmpShort("end").Nop(200).Label("end")
	if _, err := Assemble(far.Program("f"), 0); !errors.Is(err, ErrBranchRange) {
		t.Fatalf("short range: %v", err)
	}

	bad := NewBuilder("b").Mov(W8, RAX, RCX)
	if _, err := Assemble(bad.Program("b"), 0); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("unsupported form: %v", err)
	}
}

func TestControlFlowLabelsAreUnique(t *testing.T) {
	b := NewBuilder("cf")
	b.Test(W64, RCX, RCX).If(CondNE, func(b *Builder) { b.Nop(1) })
	b.Test(W64, RCX, RCX).If(CondNE, func(b *Builder) { b.Nop(1) })

	if _, err := Assemble(b.Program("cf"), 0); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
}

func TestListing(t *testing.T) {
	b := NewBuilder("l")
	b.Label("entry").Push(R11).MovAddr(R11, 0x140001000).JmpReg(R11)

	a, err := Assemble(b.Program("listing"), 0x140000000)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	listing := a.Listing()
	for _, want := range []string{"entry:", "push r11", "jmp r11"} {
		if !bytes.Contains([]byte(listing), []byte(want)) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestCallLabel(t *testing.T) {
	b := NewBuilder("t")
	b.Call("fn").Ret().Label("fn").Ret()
	a, err := Assemble(b.Program("call"), 0x1000)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := []byte{0xE8, 0x01, 0x00, 0x00, 0x00, 0xC3, 0xC3}
	if !bytes.Equal(a.Code, want) {
		t.Fatalf("got % x, want % x", a.Code, want)
	}
}
