package memory_map

import "testing"

func TestGetMemoryRegionForAddress(t *testing.T) {
	mm := []MemoryMapItem{
		{Address: 0x3000, Size: 0x1000, Perms: "r--p"},
		{Address: 0x1000, Size: 0x1000, Perms: "r-xp"},
		{Address: 0x5000, Size: 0x1000, Perms: "---p", State: StateReserve},
	}
	Sort(mm)

	tests := []struct {
		addr  uint64
		found bool
		valid bool
	}{
		{0x0fff, false, false},
		{0x1000, true, true},
		{0x1fff, true, true},
		{0x2000, false, false},
		{0x3800, true, true},
		{0x5000, true, false},
		{0x6000, false, false},
	}

	for _, tt := range tests {
		item := GetMemoryRegionForAddress(tt.addr, mm)
		if (item != nil) != tt.found {
			t.Errorf("0x%x: found = %v, want %v", tt.addr, item != nil, tt.found)
		}
		if got := IsValidAddress(tt.addr, mm); got != tt.valid {
			t.Errorf("0x%x: valid = %v, want %v", tt.addr, got, tt.valid)
		}
	}
}

func TestPermsFromProtect(t *testing.T) {
	tests := []struct {
		protect uint32
		want    string
	}{
		{PageReadOnly, "r--p"},
		{PageReadWrite, "rw-p"},
		{PageExecuteRead, "r-xp"},
		{PageExecuteReadWrite, "rwxp"},
		{PageNoAccess, "---p"},
		{PageReadWrite | PageGuard, "---p"},
	}

	for _, tt := range tests {
		if got := PermsFromProtect(tt.protect, MemPrivate); got != tt.want {
			t.Errorf("PermsFromProtect(0x%x) = %q, want %q", tt.protect, got, tt.want)
		}
	}

	if got := PermsFromProtect(PageExecuteRead, 0x1000000); got != "r-xs" {
		t.Errorf("image perms = %q", got)
	}
}
