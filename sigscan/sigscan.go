// Package sigscan locates byte signatures inside a module of a remote process.
//
// The module is read in fixed windows with a little trailing padding so that
// a signature straddling two windows is still seen, exactly once, by the
// window it starts in.
package sigscan

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"rngtrainer/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	WindowSize    = 0x10000
	WindowPadding = 0x100
)

// Signature is an exact byte sequence; there are no wildcards
type Signature []byte

// ParseHex parses "41 80 7E 2A" style strings; whitespace is optional
func ParseHex(s string) (Signature, error) {
	clean := strings.Join(strings.Fields(s), "")
	if clean == "" {
		return nil, fmt.Errorf("empty signature")
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("signature %q: %w", s, err)
	}
	return Signature(data), nil
}

// MustParse is ParseHex for signature tables compiled into the program
func MustParse(s string) Signature {
	sig, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return sig
}

func (s Signature) String() string {
	return strings.ToUpper(fmt.Sprintf("% x", []byte(s)))
}

// Find returns the first index >= from at which pattern occurs in data, or -1
func Find(data []byte, pattern []byte, from int) int {
	if len(pattern) == 0 || from < 0 || from > len(data)-len(pattern) {
		return -1
	}
	i := bytes.Index(data[from:], pattern)
	if i < 0 {
		return -1
	}
	return from + i
}

// Window is one read of the module handed to callbacks
type Window struct {
	Base process.ProcessMemoryAddress
	Data []byte
	proc process.MemoryAccess
}

// Addr returns the remote address of Data[index]
func (w Window) Addr(index int) process.ProcessMemoryAddress {
	return w.Base + process.ProcessMemoryAddress(index)
}

// Int32At reads a little endian int32 at index, going back to the process
// when the field runs past the window
func (w Window) Int32At(index int) (int32, error) {
	if index >= 0 && index+4 <= len(w.Data) {
		return int32(binary.LittleEndian.Uint32(w.Data[index:])), nil
	}
	if w.proc == nil {
		return 0, fmt.Errorf("int32 at %s: %w", w.Addr(index).ToString(), process.ErrAddressNotMapped)
	}
	return process.Read[int32](w.proc, w.Addr(index))
}

// RelativeTarget decodes the rel32 displacement at index, relative to the end of the field
func (w Window) RelativeTarget(index int) (process.ProcessMemoryAddress, error) {
	disp, err := w.Int32At(index)
	if err != nil {
		return 0, err
	}
	return w.Addr(index + 4).Add(int64(disp)), nil
}

// Callback inspects a match at Data[index] and reports whether the entry is satisfied
type Callback func(w Window, index int) bool

type entry struct {
	sig  Signature
	cb   Callback
	done bool
}

// Scanner runs a worklist of signatures over a module in one pass
type Scanner struct {
	proc    process.MemoryAccess
	entries []*entry
	log     *logger.Logger
}

func NewScanner(proc process.MemoryAccess) *Scanner {
	return &Scanner{
		proc: proc,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorTeal, coloransi.Black, "sigscan")),
	}
}

func (s *Scanner) Add(sig Signature, cb Callback) {
	s.entries = append(s.entries, &entry{sig: sig, cb: cb})
}

func (s *Scanner) Pending() int {
	return len(s.entries)
}

// Execute scans mod and returns how many entries were never satisfied.
// The worklist is empty afterwards.
func (s *Scanner) Execute(mod process.Module) int {
	defer func() { s.entries = nil }()

	remaining := len(s.entries)
	for start := mod.Base; start < mod.End && remaining > 0; start += WindowSize {
		size := process.ProcessMemorySize(WindowSize + WindowPadding)
		if avail := process.ProcessMemorySize(mod.End - start); avail < size {
			size = avail
		}

		data, err := s.proc.ReadMemory(start, size)
		if err != nil {
			s.log.Debugln("skipping unreadable window", start.ToString(), err)
			continue
		}

		w := Window{Base: start, Data: data, proc: s.proc}
		for _, e := range s.entries {
			if e.done {
				continue
			}
			for idx := Find(data, e.sig, 0); idx >= 0 && idx < WindowSize; idx = Find(data, e.sig, idx+1) {
				if e.cb(w, idx) {
					e.done = true
					remaining--
					break
				}
			}
		}
	}

	if remaining > 0 {
		for _, e := range s.entries {
			if !e.done {
				s.log.Warn("signature not found: ", e.sig.String())
			}
		}
	}

	return remaining
}
