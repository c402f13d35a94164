package memory_map

import (
	"strings"
	"testing"
)

const sampleMaps = `140000000-140001000 r--p 00000000 00:2d 1234                       /games/Blue Prince/BLUE PRINCE.exe
180000000-180001000 r--p 00000000 00:2d 5678                       /games/Blue Prince/GameAssembly.dll
180001000-180400000 r-xp 00001000 00:2d 5678                       /games/Blue Prince/GameAssembly.dll
180400000-180500000 rw-p 00400000 00:2d 5678                       /games/Blue Prince/GameAssembly.dll
180600000-180700000 rw-p 00000000 00:00 0
not a maps line
7ffd00000000-7ffd00021000 rw-p 00000000 00:00 0                          [stack]
`

func TestParseMaps(t *testing.T) {
	entries, err := ParseMaps(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatalf("ParseMaps: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("got %d entries, want 6", len(entries))
	}

	if got := entries[0].Path; got != "/games/Blue Prince/BLUE PRINCE.exe" {
		t.Errorf("path = %q", got)
	}
	if entries[2].Address != 0x180001000 || entries[2].Size != 0x3ff000 || !entries[2].IsExecutable() {
		t.Errorf("entry 2 = %v", entries[2].MemoryMapItem)
	}
	if entries[4].Path != "" || !entries[4].IsWritable() {
		t.Errorf("anonymous entry = %+v", entries[4])
	}
	if entries[5].Path != "[stack]" {
		t.Errorf("stack path = %q", entries[5].Path)
	}
	if len(Items(entries)) != len(entries) {
		t.Errorf("Items dropped entries")
	}
}

func TestRegion(t *testing.T) {
	entries, err := ParseMaps(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatalf("ParseMaps: %v", err)
	}

	item, ok := Region(0x180002000, entries)
	if !ok || item.Address != 0x180001000 || item.Perms != "r-xp" {
		t.Errorf("mapped lookup = %v, %v", item, ok)
	}

	item, ok = Region(0x180550000, entries)
	if !ok || item.State != StateFree || item.Address != 0x180500000 || item.End() != 0x180600000 {
		t.Errorf("gap lookup = %v, %v", item, ok)
	}
	if item.IsReadable() {
		t.Errorf("gap is readable")
	}

	if _, ok := Region(0x7fff00000000, entries); ok {
		t.Errorf("lookup past the last entry succeeded")
	}
}
