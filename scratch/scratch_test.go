package scratch

import (
	"reflect"
	"testing"

	"rngtrainer/process"
	"rngtrainer/process_blob"
)

func newBuffer(t *testing.T, size int) *Buffer {
	t.Helper()

	img := process_blob.NewProcessImage(1, "test.dll", 0x180000000)
	base, err := img.Allocate(process.ProcessMemorySize(size), 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Init(img, base, process.ProcessMemorySize(size))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return b
}

func TestDrainFraming(t *testing.T) {
	b := newBuffer(t, 0x1000)

	decks := [][]string{
		{"<color=#FF00FF>Aquarium</color>", "Bedroom"},
		{"Closet"},
		{"Den", "Entrance Hall", "Foyer"},
	}
	if err := b.Append(decks); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !reflect.DeepEqual(got, decks) {
		t.Fatalf("Drain = %q, want %q", got, decks)
	}

	again, err := b.Drain()
	if err != nil || len(again) != 0 {
		t.Fatalf("second Drain = %q, %v", again, err)
	}

	if err := b.Append([][]string{{"Gallery"}, {}}); err != nil {
		t.Fatal(err)
	}
	got, _ = b.Drain()
	if !reflect.DeepEqual(got, [][]string{{"Gallery"}, {}}) {
		t.Fatalf("delta Drain = %q", got)
	}
}

func TestDecodeDropsPartialList(t *testing.T) {
	data := Encode([][]string{{"Attic"}, {"Ballroom", "Chapel"}})
	got := Decode(data[:len(data)-2])
	if !reflect.DeepEqual(got, [][]string{{"Attic"}}) {
		t.Fatalf("Decode = %q", got)
	}
}

func TestEncodeSkipsEmptyStrings(t *testing.T) {
	b := newBuffer(t, 0x1000)

	if err := b.Append([][]string{{"Attic", "", "Chapel"}, {""}, {"Den"}}); err != nil {
		t.Fatal(err)
	}
	got, err := b.Drain()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"Attic", "Chapel"}, {}, {"Den"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Drain = %q, want %q", got, want)
	}
}

func TestSlots(t *testing.T) {
	b := newBuffer(t, 0x1000)

	if err := b.SetSlot(2, 0xABCDEF); err != nil {
		t.Fatalf("SetSlot: %v", err)
	}
	v, err := b.Slot(2)
	if err != nil || v != 0xABCDEF {
		t.Fatalf("Slot = %#x, %v", v, err)
	}
	if b.SlotAddr(2) != b.Base()+0x18 {
		t.Fatalf("slot address = %s", b.SlotAddr(2).ToString())
	}
	if err := b.SetSlot(3, 1); err == nil {
		t.Fatalf("slot 3 accepted")
	}
}

func TestAppendFull(t *testing.T) {
	b := newBuffer(t, 0x1000)
	big := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		big = append(big, "Conservatory")
	}
	if err := b.Append([][]string{big}); err == nil {
		t.Fatalf("overflowing append accepted")
	}
	if c, _ := b.Cursor(); c != 0 {
		t.Fatalf("cursor moved on failed append: %d", c)
	}
}
