package process_test

import (
	"errors"
	"testing"
	"unicode/utf16"

	"rngtrainer/process"
	"rngtrainer/process_blob"
)

func newImage(t *testing.T) *process_blob.ProcessImage {
	t.Helper()
	img := process_blob.NewProcessImage(1, "Game.dll", 0x180000000)
	img.MapModule(make([]byte, 0x1000))
	img.Map(0x200000000, make([]byte, 0x1000), "rw-p")
	return img
}

func TestReadPointer(t *testing.T) {
	img := newImage(t)
	if _, err := process.ReadPointer(img, 0x180000000); !errors.Is(err, process.ErrInvalidPointer) {
		t.Fatalf("null pointer: %v", err)
	}
	if err := process.Write[uint64](img, 0x180000000, 0x200000010); err != nil {
		t.Fatal(err)
	}
	p, err := process.ReadPointer(img, 0x180000000)
	if err != nil || p != 0x200000010 {
		t.Fatalf("ReadPointer = %s, %v", p.ToString(), err)
	}
}

func TestReadUTF16(t *testing.T) {
	img := newImage(t)
	units := utf16.Encode([]rune("Foyer\x00junk"))
	for i, u := range units {
		if err := process.Write[uint16](img, process.ProcessMemoryAddress(0x200000000+2*i), u); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		max  int
		want string
	}{
		{0, ""},
		{3, "Foy"},
		{32, "Foyer"},
	}
	for _, tt := range tests {
		got, err := process.ReadUTF16(img, 0x200000000, tt.max)
		if err != nil || got != tt.want {
			t.Errorf("ReadUTF16(%d) = %q, %v, want %q", tt.max, got, err, tt.want)
		}
	}
}

func TestInRel32Reach(t *testing.T) {
	if !process.InRel32Reach(0x180000000, 0x180000000+0x7FFE0000) {
		t.Error("near target out of reach")
	}
	if process.InRel32Reach(0x180000000, 0x380000000) {
		t.Error("far target in reach")
	}
}
