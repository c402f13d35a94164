// Package hexdump renders process memory for the console, with optional
// highlighting of byte ranges such as patched call sites.
package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Highlight colors Length bytes starting at Offset into the dumped data
type Highlight struct {
	Offset int
	Length int
	Color  coloransi.ColorCode
}

func (h Highlight) contains(i int) bool {
	return i >= h.Offset && i < h.Offset+h.Length
}

type Options struct {
	BytesPerLine int

	// Address is printed for the first byte
	Address uint64

	ShowASCII bool

	// Plain disables color codes
	Plain bool

	Highlights []Highlight

	AddressColor coloransi.ColorCode
	HexColor     coloransi.ColorCode
	ZeroColor    coloransi.ColorCode
	ASCIIColor   coloransi.ColorCode
}

func DefaultOptions() Options {
	return Options{
		BytesPerLine: 16,
		ShowASCII:    true,
		AddressColor: coloransi.Cyan,
		HexColor:     coloransi.Green,
		ZeroColor:    coloransi.BrightBlack,
		ASCIIColor:   coloransi.White,
	}
}

func Dump(data []byte, opts Options) string {
	var buf bytes.Buffer
	DumpToWriter(&buf, data, opts)
	return buf.String()
}

func DumpToWriter(w io.Writer, data []byte, opts Options) {
	if opts.BytesPerLine <= 0 {
		opts.BytesPerLine = 16
	}

	for off := 0; off < len(data); off += opts.BytesPerLine {
		end := off + opts.BytesPerLine
		if end > len(data) {
			end = len(data)
		}
		writeLine(w, data, off, end, opts)
	}
}

func (o Options) paint(i int, fg coloransi.ColorCode, s string) string {
	if o.Plain {
		return s
	}
	for _, h := range o.Highlights {
		if h.contains(i) {
			return coloransi.Color(h.Color, coloransi.Black, s)
		}
	}
	return coloransi.Foreground(fg, s)
}

func writeLine(w io.Writer, data []byte, off, end int, opts Options) {
	addr := fmt.Sprintf("%016X", opts.Address+uint64(off))
	if !opts.Plain {
		addr = coloransi.Foreground(opts.AddressColor, addr)
	}

	var hex strings.Builder
	for i := off; i < off+opts.BytesPerLine; i++ {
		if i > off {
			hex.WriteByte(' ')
		}
		if i >= end {
			hex.WriteString("  ")
			continue
		}
		fg := opts.HexColor
		if data[i] == 0 {
			fg = opts.ZeroColor
		}
		hex.WriteString(opts.paint(i, fg, fmt.Sprintf("%02X", data[i])))
	}

	fmt.Fprint(w, addr, "  ", hex.String())

	if opts.ShowASCII {
		var ascii strings.Builder
		for i := off; i < end; i++ {
			c := "."
			if data[i] >= 0x20 && data[i] < 0x7F {
				c = string(rune(data[i]))
			}
			ascii.WriteString(opts.paint(i, opts.ASCIIColor, c))
		}
		fmt.Fprint(w, "  |", ascii.String(), "|")
	}

	fmt.Fprintln(w)
}

// Diff dumps current at addr and highlights every byte that differs from original
func Diff(addr uint64, original, current []byte, plain bool) string {
	opts := DefaultOptions()
	opts.Address = addr
	opts.Plain = plain

	start := -1
	for i := 0; i <= len(current); i++ {
		changed := i < len(current) && (i >= len(original) || original[i] != current[i])
		switch {
		case changed && start < 0:
			start = i
		case !changed && start >= 0:
			opts.Highlights = append(opts.Highlights, Highlight{Offset: start, Length: i - start, Color: coloransi.Yellow})
			start = -1
		}
	}

	return Dump(current, opts)
}
