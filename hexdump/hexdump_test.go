package hexdump

import (
	"strings"
	"testing"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

func TestDumpPlain(t *testing.T) {
	data := []byte("ABCDEFGH\x00\x01\x02\x03\x04\x05\x06\x07xyz")
	opts := DefaultOptions()
	opts.Plain = true
	opts.Address = 0x180001000

	got := Dump(data, opts)
	want := "0000000180001000  41 42 43 44 45 46 47 48 00 01 02 03 04 05 06 07  |ABCDEFGH........|\n" +
		"0000000180001010  78 79 7A" + strings.Repeat("   ", 13) + "  |xyz|\n"
	if got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestHighlight(t *testing.T) {
	opts := DefaultOptions()
	opts.ShowASCII = false
	opts.Highlights = []Highlight{{Offset: 1, Length: 1, Color: coloransi.Red}}

	got := Dump([]byte{0xAA, 0xBB, 0xCC}, opts)
	if !strings.Contains(got, coloransi.Color(coloransi.Red, coloransi.Black, "BB")) {
		t.Fatalf("highlighted byte not colored: %q", got)
	}
	if strings.Contains(got, coloransi.Color(coloransi.Red, coloransi.Black, "AA")) {
		t.Fatalf("unhighlighted byte colored: %q", got)
	}
}

func TestDiff(t *testing.T) {
	original := []byte{0xE8, 0x10, 0x20, 0x30, 0x40, 0x90}
	current := []byte{0xE8, 0x11, 0x22, 0x30, 0x41, 0x90}

	got := Diff(0x1000, original, current, false)
	for _, b := range []string{"11", "22", "41"} {
		if !strings.Contains(got, coloransi.Color(coloransi.Yellow, coloransi.Black, b)) {
			t.Errorf("changed byte %s not highlighted", b)
		}
	}
	for _, b := range []string{"E8", "30", "90"} {
		if strings.Contains(got, coloransi.Color(coloransi.Yellow, coloransi.Black, b)) {
			t.Errorf("unchanged byte %s highlighted", b)
		}
	}

	plain := Diff(0x1000, original, current, true)
	if strings.Contains(plain, "\033[") {
		t.Fatalf("plain diff has escapes: %q", plain)
	}
}
