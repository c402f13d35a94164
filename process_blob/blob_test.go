package process_blob

import (
	"bytes"
	"errors"
	"testing"

	"rngtrainer/process"
)

func newTestImage() *ProcessImage {
	img := NewProcessImage(1234, "Game.dll", 0x180000000)
	mod := make([]byte, 0x3000)
	for i := range mod {
		mod[i] = byte(i)
	}
	img.MapModule(mod)
	return img
}

func TestReadWrite(t *testing.T) {
	img := newTestImage()

	data, err := img.ReadMemory(0x180000010, 4)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(data, []byte{0x10, 0x11, 0x12, 0x13}) {
		t.Fatalf("ReadMemory = % x", data)
	}

	if err := process.Write[uint32](img, 0x180000010, 0xdeadbeef); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, err := process.Read[uint32](img, 0x180000010)
	if err != nil || v != 0xdeadbeef {
		t.Fatalf("Read = 0x%x, %v", v, err)
	}

	if _, err := img.ReadMemory(0x180002ffe, 4); !errors.Is(err, process.ErrAddressNotMapped) {
		t.Fatalf("read past region: %v", err)
	}
	if _, err := img.ReadMemory(0x170000000, 1); !errors.Is(err, process.ErrAddressNotMapped) {
		t.Fatalf("read unmapped: %v", err)
	}

	reads, writes, _ := img.Counters()
	if reads != 4 || writes != 1 {
		t.Fatalf("counters = %d reads %d writes", reads, writes)
	}
}

func TestAllocateNear(t *testing.T) {
	img := newTestImage()
	mod := img.Module()

	a, err := img.Allocate(0x10, mod.Base)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := img.Allocate(0x2000, mod.Base)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a == b || !process.InRel32Reach(mod.Base, a) || !process.InRel32Reach(mod.Base, b+0x2000) {
		t.Fatalf("allocations out of reach: %s %s", a.ToString(), b.ToString())
	}

	far, err := img.Allocate(0x10, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := process.Write[uint64](img, far, 42); err != nil {
		t.Fatalf("write allocation: %v", err)
	}
	if err := img.Free(far); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := img.ReadMemory(far, 8); err == nil {
		t.Fatalf("read after free succeeded")
	}
	if err := img.Free(mod.Base); err == nil {
		t.Fatalf("freeing the module succeeded")
	}
}

func TestRunThread(t *testing.T) {
	img := newTestImage()
	if _, err := img.RunThread(0x180000000, 0); !errors.Is(err, process.ErrUnsupported) {
		t.Fatalf("RunThread without hook: %v", err)
	}

	img.SetThreadHook(func(entry, param process.ProcessMemoryAddress) (uint32, error) {
		return uint32(param), nil
	})
	code, err := img.RunThread(0x180000000, 7)
	if err != nil || code != 7 {
		t.Fatalf("RunThread = %d, %v", code, err)
	}
}

func TestSaveLoad(t *testing.T) {
	img := newTestImage()
	img.Reserve(0x180003000, 0x1000)
	img.mu.Lock()
	img.module.End = 0x180004000
	img.mu.Unlock()

	dir := t.TempDir()
	if err := SaveModule(dir, img); err != nil {
		t.Fatalf("SaveModule: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Module() != img.Module() {
		t.Fatalf("module = %+v, want %+v", loaded.Module(), img.Module())
	}

	want, _ := img.ReadMemory(0x180000000, 0x3000)
	got, err := loaded.ReadMemory(0x180000000, 0x3000)
	if err != nil || !bytes.Equal(got, want) {
		t.Fatalf("loaded module differs: %v", err)
	}

	item, _ := loaded.QueryRegion(0x180003800)
	if item.IsCommitted() {
		t.Fatalf("reserved region came back committed: %s", item)
	}
}
