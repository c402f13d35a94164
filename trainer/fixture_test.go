package trainer

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"rngtrainer/asm"
	"rngtrainer/process"
	"rngtrainer/process_blob"
	"rngtrainer/sigscan"
)

const (
	moduleBase = 0x180000000

	valueFunc     = moduleBase + 0x100
	intFunc       = moduleBase + 0x200
	floatFunc     = moduleBase + 0x300
	resolveFunc   = moduleBase + 0x400
	createFunc    = moduleBase + 0x500
	newStringFunc = moduleBase + 0x600
	pickFunc      = moduleBase + 0x700
	draftCalls    = moduleBase + 0x800

	// slots are spaced so that one pattern straddles a scan window boundary
	slotStart     = 0x1000
	slotStride    = 0x8E1
	patternOffset = 0x40

	originalCard = 0xC0FFEE
	cardTag      = 0xCA000000
)

var kindFuncs = [numKinds]uint64{valueFunc, intFunc, floatFunc}

var testLayout = DraftLayout{
	DeckCards:    0x18,
	CardName:     0x20,
	ListItems:    0x10,
	ListSize:     0x18,
	ArrayData:    0x20,
	StringLength: 0x10,
	StringChars:  0x14,
}

type placement struct {
	hex     string
	kind    Kind
	at      int
	offsets []int
}

type fixture struct {
	t          *testing.T
	img        *process_blob.ProcessImage
	placements []placement
	rooms      map[string]uint64
}

// newFixture lays out a module holding every signature of tables, each call
// field pointing at its kind's function. Signatures repeated with the same
// offset get one placement per repetition.
func newFixture(t *testing.T, tables Tables, mutate func(f *fixture, module []byte)) *fixture {
	t.Helper()
	f := &fixture{t: t, rooms: map[string]uint64{"Vault": 0x5000, "Closet": 0x6000}}

	type group struct {
		kind   Kind
		counts map[int]int
		order  []int
	}
	groups := map[string]*group{}
	var hexOrder []string
	for k, table := range tables {
		for _, s := range table {
			g, ok := groups[s.Hex]
			if !ok {
				g = &group{kind: Kind(k), counts: map[int]int{}}
				groups[s.Hex] = g
				hexOrder = append(hexOrder, s.Hex)
			}
			if g.counts[s.Offset] == 0 {
				g.order = append(g.order, s.Offset)
			}
			g.counts[s.Offset]++
		}
	}

	slot := 0
	for _, hex := range hexOrder {
		g := groups[hex]
		n := 0
		for _, c := range g.counts {
			n = max(n, c)
		}
		for i := 0; i < n; i++ {
			f.placements = append(f.placements, placement{hex: hex, kind: g.kind, at: slotStart + slot*slotStride + patternOffset, offsets: g.order})
			slot++
		}
	}

	module := make([]byte, slotStart+slot*slotStride+0x1000)
	for i := range module {
		module[i] = 0xCC
	}

	for _, p := range f.placements {
		copy(module[p.at:], sigscan.MustParse(p.hex))
		for _, off := range p.offsets {
			writeCall(module, p.at+off, kindFuncs[p.kind])
		}
	}

	f.writeFunctions(module)
	f.writeDraftSites(module)

	if mutate != nil {
		mutate(f, module)
	}

	f.img = process_blob.NewProcessImage(7, "GameAssembly.dll", moduleBase)
	f.img.MapModule(module)
	f.img.SetThreadHook(func(entry, param process.ProcessMemoryAddress) (uint32, error) {
		rax, err := f.machine().Call(uint64(entry), uint64(param))
		return uint32(rax), err
	})
	return f
}

// writeCall writes a call whose rel32 field is at module[field]
func writeCall(module []byte, field int, target uint64) {
	module[field-1] = 0xE8
	disp := int64(target) - int64(moduleBase+field+4)
	binary.LittleEndian.PutUint32(module[field:], uint32(int32(disp)))
}

func assembleInto(t *testing.T, module []byte, addr uint64, b *asm.Builder) {
	t.Helper()
	code, err := asm.Assemble(b.Program("fixture"), addr)
	if err != nil {
		t.Fatal(err)
	}
	copy(module[addr-moduleBase:], code.Code)
}

func (f *fixture) writeFunctions(module []byte) {
	// stand ins for the engine's random functions: value returns 0.5, the ranges return min
	assembleInto(f.t, module, valueFunc, asm.NewBuilder("value").MovFloat(asm.XMM0, asm.RAX, 0x3F000000).Ret())
	assembleInto(f.t, module, intFunc, asm.NewBuilder("int").Mov(asm.W32, asm.RAX, asm.RCX).Ret())
	assembleInto(f.t, module, floatFunc, asm.NewBuilder("float").Ret())

	pick := asm.NewBuilder("pick")
	pick.Push(asm.RBX)
	pick.AluImm(asm.Sub, asm.W64, asm.RSP, 0x20)
	pick.Mov(asm.W64, asm.RBX, asm.RCX)
	pick.MovImm(asm.W64, asm.RAX, originalCard)
	pick.AluImm(asm.Add, asm.W64, asm.RSP, 0x20)
	pick.Pop(asm.RBX)
	pick.Ret()
	assembleInto(f.t, module, pickFunc, pick)
}

const (
	pickHex      = "53 48 83 EC 20 48 89 CB 48 B8"
	pickLength   = 18
	resolveHex   = "DE C0 DE 01 90"
	createHex    = "DE C0 DE 02 90"
	newStringHex = "DE C0 DE 03 90"
	callOffset   = 6
)

func (f *fixture) writeDraftSites(module []byte) {
	for i, s := range []struct {
		hex    string
		target uint64
	}{{resolveHex, resolveFunc}, {createHex, createFunc}, {newStringHex, newStringFunc}} {
		at := draftCalls - moduleBase + i*0x20
		copy(module[at:], sigscan.MustParse(s.hex))
		writeCall(module, at+callOffset, s.target)
	}
}

func testDraftConfig() DraftConfig {
	return DraftConfig{
		Pick:        PickSignature{Hex: pickHex, Offset: 0, Length: pickLength},
		ResolveRoom: CallSignature{Hex: resolveHex, Offset: callOffset},
		CreateCard:  CallSignature{Hex: createHex, Offset: callOffset},
		NewString:   CallSignature{Hex: newStringHex, Offset: callOffset},
		Layout:      testLayout,
	}
}

// machine returns an interpreter with the game functions the watcher calls
func (f *fixture) machine() *asm.Machine {
	m := asm.NewMachine(f.img)
	m.Native(resolveFunc, func(m *asm.Machine) error {
		name, err := f.readString(m.GPR[asm.RCX])
		if err != nil {
			return err
		}
		m.GPR[asm.RAX] = f.rooms[name]
		return nil
	})
	m.Native(createFunc, func(m *asm.Machine) error {
		m.GPR[asm.RAX] = cardTag | m.GPR[asm.RCX]
		return nil
	})
	m.Native(newStringFunc, func(m *asm.Machine) error {
		data, err := m.Read(m.GPR[asm.RCX], 64)
		if err != nil {
			return err
		}
		n := 0
		for n < len(data) && data[n] != 0 {
			n++
		}
		m.GPR[asm.RAX] = f.newString(string(data[:n]))
		return nil
	})
	return m
}

func (f *fixture) alloc(size int) uint64 {
	addr, err := f.img.Allocate(process.ProcessMemorySize(size), 0)
	if err != nil {
		f.t.Fatal(err)
	}
	return uint64(addr)
}

func (f *fixture) write(addr uint64, data []byte) {
	if err := f.img.WriteMemory(process.ProcessMemoryAddress(addr), data); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) writeU64(addr, v uint64) {
	f.write(addr, binary.LittleEndian.AppendUint64(nil, v))
}

// newString builds a managed string: length at 0x10, UTF-16 at 0x14
func (f *fixture) newString(s string) uint64 {
	units := utf16.Encode([]rune(s))
	addr := f.alloc(0x14 + 2*len(units) + 2)
	data := binary.LittleEndian.AppendUint32(nil, uint32(len(units)))
	for _, u := range units {
		data = binary.LittleEndian.AppendUint16(data, u)
	}
	f.write(addr+0x10, data)
	return addr
}

func (f *fixture) readString(addr uint64) (string, error) {
	n, err := process.Read[int32](f.img, process.ProcessMemoryAddress(addr+0x10))
	if err != nil {
		return "", err
	}
	return process.ReadUTF16(f.img, process.ProcessMemoryAddress(addr+0x14), int(n))
}

// deck builds a deck whose card list holds cards with the given names
func (f *fixture) deck(names ...string) uint64 {
	items := f.alloc(0x20 + 8*len(names))
	for i, name := range names {
		card := f.alloc(0x30)
		f.writeU64(card+uint64(testLayout.CardName), f.newString(name))
		f.writeU64(items+0x20+uint64(8*i), card)
	}

	list := f.alloc(0x20)
	f.writeU64(list+0x10, items)
	f.write(list+0x18, binary.LittleEndian.AppendUint32(nil, uint32(len(names))))

	deck := f.alloc(0x40)
	f.writeU64(deck+uint64(testLayout.DeckCards), list)
	return deck
}

func (f *fixture) pick(deck uint64) uint64 {
	f.t.Helper()
	got, err := f.machine().Call(pickFunc, deck)
	if err != nil {
		f.t.Fatalf("pick: %v", err)
	}
	return got
}

func (f *fixture) moduleBytes() []byte {
	f.t.Helper()
	mod := f.img.Module()
	data, err := f.img.ReadMemory(mod.Base, mod.Size())
	if err != nil {
		f.t.Fatal(err)
	}
	return data
}

// siteEntry returns where the patched call at s now leads
func (f *fixture) siteEntry(s CallSite) uint64 {
	f.t.Helper()
	disp, err := process.Read[int32](f.img, s.Found)
	if err != nil {
		f.t.Fatal(err)
	}
	return uint64(s.Found.Add(4 + int64(disp)))
}

func (f *fixture) callInt(entry uint64, lo, hi int32) int32 {
	f.t.Helper()
	got, err := asm.NewMachine(f.img).Call(entry, uint64(uint32(lo)), uint64(uint32(hi)))
	if err != nil {
		f.t.Fatalf("call %#x: %v", entry, err)
	}
	return int32(uint32(got))
}

func (f *fixture) callFloat(entry uint64, lo, hi float32) float32 {
	f.t.Helper()
	m := asm.NewMachine(f.img)
	m.SetFloat(asm.XMM0, lo)
	m.SetFloat(asm.XMM1, hi)
	if _, err := m.Call(entry); err != nil {
		f.t.Fatalf("call %#x: %v", entry, err)
	}
	return m.Float(asm.XMM0)
}
