package invoke

import (
	"bytes"
	"errors"
	"testing"

	"rngtrainer/asm"
	"rngtrainer/process"
	"rngtrainer/process_blob"
)

const (
	sumFunc = 0x180000100
	lenFunc = 0x180000200
)

func newProcess() *process_blob.ProcessImage {
	img := process_blob.NewProcessImage(1, "test.dll", 0x180000000)
	img.MapModule(make([]byte, 0x1000))

	img.SetThreadHook(func(entry, param process.ProcessMemoryAddress) (uint32, error) {
		m := asm.NewMachine(img)
		m.Native(sumFunc, func(m *asm.Machine) error {
			m.GPR[asm.RAX] = m.GPR[asm.RCX] + m.GPR[asm.RDX] + m.GPR[asm.R8] + m.GPR[asm.R9]
			m.SetFloat(asm.XMM0, m.Float(asm.XMM0)+m.Float(asm.XMM3))
			return nil
		})
		m.Native(lenFunc, func(m *asm.Machine) error {
			data, err := m.Read(m.GPR[asm.RCX], 64)
			if err != nil {
				return err
			}
			m.GPR[asm.RAX] = uint64(bytes.IndexByte(data, 0))
			return nil
		})
		rax, err := m.Call(uint64(entry), uint64(param))
		return uint32(rax), err
	})
	return img
}

func TestCall(t *testing.T) {
	img := newProcess()
	v := New(img)

	res, err := v.Call(sumFunc, Args{RCX: 1, RDX: 2, R8: 3, R9: 0x100000000, XMM: [4]float32{1.5, 0, 0, 2}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Rax != 0x100000006 || res.Code != 6 {
		t.Fatalf("result = %+v", res)
	}
	if res.Xmm0 != 3.5 {
		t.Fatalf("xmm0 = %v", res.Xmm0)
	}

	// the stub is allocated once
	_, _, allocs := img.Counters()
	if _, err := v.Call(sumFunc, Args{}); err != nil {
		t.Fatal(err)
	}
	if _, _, again := img.Counters(); again != allocs {
		t.Fatalf("second call allocated")
	}
}

func TestCallString(t *testing.T) {
	img := newProcess()
	v := New(img)

	res, err := v.CallString(lenFunc, "Aquarium", 0)
	if err != nil {
		t.Fatalf("CallString: %v", err)
	}
	if res.Code != 8 {
		t.Fatalf("length = %d", res.Code)
	}

	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCallThreadFailure(t *testing.T) {
	img := process_blob.NewProcessImage(1, "test.dll", 0x180000000)
	img.MapModule(make([]byte, 0x1000))
	v := New(img)

	if _, err := v.Call(sumFunc, Args{}); !errors.Is(err, process.ErrUnsupported) {
		t.Fatalf("Call without threads: %v", err)
	}
}
