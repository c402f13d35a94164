package peimage

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"rngtrainer/process_blob"
)

const (
	testBase  = 0x180000000
	testStamp = 0x67D0A1B2
)

// buildImage lays out the headers of a mapped PE32+ image with .text and .rdata
func buildImage() []byte {
	img := make([]byte, 0x5000)
	le := binary.LittleEndian

	copy(img, "MZ")
	le.PutUint32(img[0x3c:], 0x80)
	copy(img[0x80:], "PE\x00\x00")

	fh := img[0x84:]
	le.PutUint16(fh[0:], 0x8664)
	le.PutUint16(fh[2:], 2)
	le.PutUint32(fh[4:], testStamp)
	le.PutUint16(fh[16:], 0xF0)
	le.PutUint16(fh[18:], 0x2022)

	oh := img[0x98:]
	le.PutUint16(oh[0:], 0x20b)
	le.PutUint64(oh[24:], testBase)
	le.PutUint32(oh[32:], 0x1000)
	le.PutUint32(oh[36:], 0x200)
	le.PutUint32(oh[56:], 0x5000)
	le.PutUint32(oh[60:], 0x400)
	le.PutUint32(oh[108:], 16)

	section := func(at int, name string, va, size, flags uint32) {
		sh := img[at:]
		copy(sh, name)
		le.PutUint32(sh[8:], size)
		le.PutUint32(sh[12:], va)
		le.PutUint32(sh[16:], size)
		le.PutUint32(sh[20:], va)
		le.PutUint32(sh[36:], flags)
	}
	section(0x188, ".text", 0x1000, 0x3000, 0x60000020)
	section(0x1B0, ".rdata", 0x4000, 0x1000, 0x40000040)

	return img
}

func TestInspect(t *testing.T) {
	proc := process_blob.NewProcessImage(7, "GameAssembly.dll", testBase)
	proc.MapModule(buildImage())

	info, err := Inspect(proc, proc.Module())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	if info.Machine != 0x8664 || info.SizeOfImage != 0x5000 {
		t.Errorf("machine %#x, size %#x", info.Machine, info.SizeOfImage)
	}
	if want := time.Unix(testStamp, 0).UTC(); !info.Built.Equal(want) {
		t.Errorf("built %v, want %v", info.Built, want)
	}
	if len(info.Sections) != 2 {
		t.Fatalf("got %d sections", len(info.Sections))
	}

	text, ok := info.SectionOf(testBase + 0x2000)
	if !ok || text.Name != ".text" || !text.Executable || text.End != testBase+0x4000 {
		t.Errorf("SectionOf(.text) = %+v, %v", text, ok)
	}
	rdata, ok := info.SectionOf(testBase + 0x4800)
	if !ok || rdata.Name != ".rdata" || rdata.Executable {
		t.Errorf("SectionOf(.rdata) = %+v, %v", rdata, ok)
	}
	if _, ok := info.SectionOf(testBase + 0x10); ok {
		t.Errorf("headers resolved to a section")
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	proc := process_blob.NewProcessImage(7, "GameAssembly.dll", testBase)
	proc.MapModule(make([]byte, 0x1000))

	if _, err := Inspect(proc, proc.Module()); err == nil {
		t.Fatal("Inspect accepted an image without headers")
	} else if !errors.Is(err, ErrNotImage) {
		t.Logf("rejected by the parser: %v", err)
	}
}

func TestModuleReaderClamps(t *testing.T) {
	proc := process_blob.NewProcessImage(7, "GameAssembly.dll", testBase)
	proc.MapModule([]byte{1, 2, 3, 4})
	r := &moduleReader{proc: proc, mod: proc.Module()}

	buf := make([]byte, 8)
	n, err := r.ReadAt(buf, 2)
	if n != 2 || err == nil || buf[0] != 3 || buf[1] != 4 {
		t.Errorf("ReadAt = %d, %v, % x", n, err, buf[:n])
	}
	if _, err := r.ReadAt(buf, 4); err == nil {
		t.Errorf("read past the module succeeded")
	}
}
