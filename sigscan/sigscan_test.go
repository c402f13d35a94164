package sigscan

import (
	"encoding/binary"
	"testing"

	"rngtrainer/process"
	"rngtrainer/process_blob"
)

func TestParseHex(t *testing.T) {
	sig, err := ParseHex("41 80 7e 2a")
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if sig.String() != "41 80 7E 2A" {
		t.Fatalf("String = %q", sig.String())
	}

	if _, err := ParseHex("41 8"); err == nil {
		t.Fatalf("odd length accepted")
	}
	if _, err := ParseHex("zz"); err == nil {
		t.Fatalf("non hex accepted")
	}
	if _, err := ParseHex("   "); err == nil {
		t.Fatalf("empty accepted")
	}
}

func TestFind(t *testing.T) {
	data := []byte{1, 2, 3, 1, 2, 3, 4}

	tests := []struct {
		pattern []byte
		from    int
		want    int
	}{
		{[]byte{1, 2}, 0, 0},
		{[]byte{1, 2}, 1, 3},
		{[]byte{3, 4}, 0, 5},
		{[]byte{4}, 0, 6},
		{[]byte{4, 5}, 0, -1},
		{[]byte{1, 2, 3, 1, 2, 3, 4}, 0, 0},
		{[]byte{1}, 7, -1},
		{nil, 0, -1},
	}

	for _, tt := range tests {
		if got := Find(data, tt.pattern, tt.from); got != tt.want {
			t.Errorf("Find(% x, %d) = %d, want %d", tt.pattern, tt.from, got, tt.want)
		}
	}
}

func newModule(size int, place map[int][]byte) *process_blob.ProcessImage {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xCC
	}
	for off, b := range place {
		copy(data[off:], b)
	}

	img := process_blob.NewProcessImage(1, "test.dll", 0x180000000)
	img.MapModule(data)
	return img
}

func TestScannerWindows(t *testing.T) {
	straddle := MustParse("DE AD BE EF 01")
	late := MustParse("DE AD BE EF 02")
	twice := MustParse("DE AD BE EF 03")
	missing := MustParse("DE AD BE EF 04")

	img := newModule(0x30000, map[int][]byte{
		WindowSize - 2: straddle,
		0x25000:        late,
		0x12000:        twice,
		0x12100:        twice,
		0x2FFFB:        MustParse("DE AD BE EF 05"),
	})
	mod := img.Module()

	s := NewScanner(img)

	var straddleHits []process.ProcessMemoryAddress
	s.Add(straddle, func(w Window, index int) bool {
		straddleHits = append(straddleHits, w.Addr(index))
		return false
	})

	var lateAddr process.ProcessMemoryAddress
	s.Add(late, func(w Window, index int) bool {
		lateAddr = w.Addr(index)
		return true
	})

	var twiceHits int
	var twiceAddr process.ProcessMemoryAddress
	s.Add(twice, func(w Window, index int) bool {
		twiceHits++
		twiceAddr = w.Addr(index)
		return twiceHits == 2
	})

	var endAddr process.ProcessMemoryAddress
	s.Add(MustParse("DE AD BE EF 05"), func(w Window, index int) bool {
		endAddr = w.Addr(index)
		return true
	})

	s.Add(missing, func(w Window, index int) bool { return true })

	// the straddling entry never accepts and the missing one never matches
	if got := s.Execute(mod); got != 2 {
		t.Fatalf("Execute = %d, want 2", got)
	}
	if s.Pending() != 0 {
		t.Fatalf("worklist not cleared")
	}

	if len(straddleHits) != 1 || straddleHits[0] != mod.Base+WindowSize-2 {
		t.Fatalf("straddle hits = %v", straddleHits)
	}
	if lateAddr != mod.Base+0x25000 {
		t.Fatalf("late = %s", lateAddr.ToString())
	}
	if twiceAddr != mod.Base+0x12100 {
		t.Fatalf("second candidate = %s", twiceAddr.ToString())
	}
	if endAddr != mod.Base+0x2FFFB {
		t.Fatalf("end of module = %s", endAddr.ToString())
	}
}

func TestWindowRelativeTarget(t *testing.T) {
	img := newModule(0x1000, map[int][]byte{})
	base := img.Module().Base

	disp := make([]byte, 4)
	binary.LittleEndian.PutUint32(disp, uint32(0x100))
	if err := img.WriteMemory(base+0x10, disp); err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(disp, uint32(0xFFFFFFF0))
	if err := img.WriteMemory(base+0x20, disp); err != nil {
		t.Fatal(err)
	}

	// only the first 0x12 bytes are in the window; the second field comes from the process
	data, _ := img.ReadMemory(base, 0x14)
	w := Window{Base: base, Data: data[:0x12], proc: img}

	got, err := w.RelativeTarget(0x10)
	if err != nil || got != base+0x14+0x100 {
		t.Fatalf("RelativeTarget(0x10) = %s, %v", got.ToString(), err)
	}
	got, err = w.RelativeTarget(0x20)
	if err != nil || got != base+0x24-0x10 {
		t.Fatalf("RelativeTarget(0x20) = %s, %v", got.ToString(), err)
	}
}
