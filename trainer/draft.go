package trainer

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"rngtrainer/asm"
	"rngtrainer/inject"
	"rngtrainer/process"
	"rngtrainer/resolver"
	"rngtrainer/scratch"
	"rngtrainer/sigscan"
)

var (
	ErrDraftUnconfigured = errors.New("draft watcher signatures or layout not configured")
	ErrSlot              = errors.New("draft slot out of range")
)

const draftInterception = "RoomDeck.PickTop"

// PickSignature locates the hijacked range of the deck pick routine:
// [match+Offset, match+Offset+Length)
type PickSignature struct {
	Hex    string `yaml:"hex"`
	Offset int    `yaml:"offset"`
	Length int    `yaml:"length"`
}

// CallSignature locates a call whose rel32 field sits at match+Offset
type CallSignature struct {
	Hex    string `yaml:"hex"`
	Offset int    `yaml:"offset"`
}

// DraftLayout gives the object offsets the watcher walks. The IL2CPP
// container offsets have defaults; the game's own fields must be configured.
type DraftLayout struct {
	DeckCards int32 `yaml:"deck_cards"`
	CardName  int32 `yaml:"card_name"`

	ListItems    int32 `yaml:"list_items"`
	ListSize     int32 `yaml:"list_size"`
	ArrayData    int32 `yaml:"array_data"`
	StringLength int32 `yaml:"string_length"`
	StringChars  int32 `yaml:"string_chars"`
}

func DefaultLayout() DraftLayout {
	return DraftLayout{
		ListItems:    0x10,
		ListSize:     0x18,
		ArrayData:    0x20,
		StringLength: 0x10,
		StringChars:  0x14,
	}
}

// DraftConfig describes the pick routine and the game functions the
// watcher calls: ResolveRoom(name) returns room data, CreateCard(room)
// returns a card and NewString(char*) builds a managed string.
type DraftConfig struct {
	Pick        PickSignature `yaml:"pick"`
	ResolveRoom CallSignature `yaml:"resolve_room"`
	CreateCard  CallSignature `yaml:"create_card"`
	NewString   CallSignature `yaml:"new_string"`
	Layout      DraftLayout   `yaml:"layout"`
}

func (c DraftConfig) Configured() bool {
	return c.Pick.Hex != "" && c.Pick.Length > 0 &&
		c.ResolveRoom.Hex != "" && c.CreateCard.Hex != "" && c.NewString.Hex != "" &&
		c.Layout.DeckCards != 0 && c.Layout.CardName != 0
}

// Deck is one serialized deck seen by the pick routine
type Deck struct {
	// Index counts pick calls since the watcher was installed
	Index int
	// Slot is the override slot, 1 to 3, consulted by this pick
	Slot  int
	Cards []string
}

type draftWatcher struct {
	buf       *scratch.Buffer
	state     process.ProcessMemoryAddress
	pick      process.ProcessMemoryAddress
	resolve   process.ProcessMemoryAddress
	create    process.ProcessMemoryAddress
	newString process.ProcessMemoryAddress
	seen      int
}

// InstallDraftWatcher wraps the deck pick routine. Every pick serializes the
// deck's card names into the scratch buffer, then consults override slot
// (pick count mod 3); a set slot is cleared and its room is returned as a
// new card instead of running the original selection.
func (e *Engine) InstallDraftWatcher() error {
	if e.draft != nil {
		return fmt.Errorf("draft watcher already installed: %w", ErrState)
	}
	cfg := e.opts.Draft
	if !cfg.Configured() {
		return ErrDraftUnconfigured
	}

	w := &draftWatcher{}
	scanner := sigscan.NewScanner(e.proc)
	scanner.Add(sigscan.MustParse(cfg.Pick.Hex), func(win sigscan.Window, index int) bool {
		w.pick = win.Addr(index + cfg.Pick.Offset)
		return true
	})
	calls := []struct {
		sig  CallSignature
		dest *process.ProcessMemoryAddress
	}{
		{cfg.ResolveRoom, &w.resolve},
		{cfg.CreateCard, &w.create},
		{cfg.NewString, &w.newString},
	}
	for _, c := range calls {
		c := c
		scanner.Add(sigscan.MustParse(c.sig.Hex), func(win sigscan.Window, index int) bool {
			target, err := win.RelativeTarget(index + c.sig.Offset)
			if err != nil {
				return false
			}
			*c.dest = target
			return true
		})
	}
	if missing := scanner.Execute(e.proc.Module()); missing > 0 {
		return fmt.Errorf("%d draft signatures: %w", missing, ErrNotReady)
	}

	base, err := e.proc.Allocate(e.opts.ScratchSize, 0)
	if err != nil {
		return fmt.Errorf("failed to allocate scratch buffer: %w", err)
	}
	w.buf, err = scratch.Init(e.proc, base, e.opts.ScratchSize)
	if err != nil {
		return err
	}
	w.state, err = e.proc.Allocate(0x10, 0)
	if err != nil {
		return fmt.Errorf("failed to allocate watcher state: %w", err)
	}

	payload := draftPayload(w, uint64(base)+uint64(e.opts.ScratchSize), cfg.Layout)
	next := w.pick.Add(int64(cfg.Pick.Length))
	if _, err := e.injector.Intercept(draftInterception, w.pick, next, payload, true); err != nil {
		return err
	}

	e.draft = w
	e.log.Infoln("draft watcher on", w.pick.ToString(), "scratch", base.ToString())
	return nil
}

// draftPayload runs at the pick routine's entry with the deck in rcx
func draftPayload(w *draftWatcher, end uint64, l DraftLayout) *asm.Builder {
	b := asm.NewBuilder("draft")
	b.Push(asm.RCX, asm.RDX, asm.R8, asm.R9, asm.RBX, asm.RSI, asm.RDI)
	b.AluImm(asm.Sub, asm.W64, asm.RSP, 0x20)

	terminate := b.NewLabel("terminate")
	cardLoop := b.NewLabel("card")
	nextCard := b.NewLabel("next")
	charLoop := b.NewLabel("char")
	charDone := b.NewLabel("chardone")
	original := b.NewLabel("original")

	// rbx buffer, rdi write position, rsi end of buffer
	b.MovAddr(asm.RBX, uint64(w.buf.Base()))
	b.Load(asm.W64, asm.RAX, asm.Ptr(asm.RBX, scratch.CursorOffset))
	b.Lea(asm.RDI, asm.Indexed(asm.RBX, asm.RAX, 1, scratch.DataOffset))
	b.MovAddr(asm.RSI, end)

	// r9 items, r8d count, edx index
	b.Load(asm.W64, asm.RAX, asm.Ptr(asm.RCX, l.DeckCards))
	b.Test(asm.W64, asm.RAX, asm.RAX)
	b.Jcc(asm.CondE, terminate)
	b.Load(asm.W32, asm.R8, asm.Ptr(asm.RAX, l.ListSize))
	b.Load(asm.W64, asm.R9, asm.Ptr(asm.RAX, l.ListItems))
	b.Test(asm.W64, asm.R9, asm.R9)
	b.Jcc(asm.CondE, terminate)
	b.Zero(asm.RDX)

	b.Label(cardLoop)
	b.Alu(asm.Cmp, asm.W32, asm.RDX, asm.R8)
	b.Jcc(asm.CondGE, terminate)
	b.Load(asm.W64, asm.R10, asm.Indexed(asm.R9, asm.RDX, 8, l.ArrayData))
	b.Test(asm.W64, asm.R10, asm.R10)
	b.Jcc(asm.CondE, nextCard)
	b.Load(asm.W64, asm.R10, asm.Ptr(asm.R10, l.CardName))
	b.Test(asm.W64, asm.R10, asm.R10)
	b.Jcc(asm.CondE, nextCard)
	b.Load(asm.W32, asm.R11, asm.Ptr(asm.R10, l.StringLength))
	b.Test(asm.W32, asm.R11, asm.R11)
	b.Jcc(asm.CondLE, nextCard)

	// room for the name, its NUL and the list terminator
	b.Lea(asm.RAX, asm.Indexed(asm.RDI, asm.R11, 2, 4))
	b.Alu(asm.Cmp, asm.W64, asm.RAX, asm.RSI)
	b.Jcc(asm.CondA, original)

	b.Zero(asm.RCX)
	b.Label(charLoop)
	b.Alu(asm.Cmp, asm.W32, asm.RCX, asm.R11)
	b.Jcc(asm.CondGE, charDone)
	b.Load(asm.W16, asm.RAX, asm.Indexed(asm.R10, asm.RCX, 2, l.StringChars))
	b.Store(asm.W16, asm.Ptr(asm.RDI, 0), asm.RAX)
	b.AluImm(asm.Add, asm.W64, asm.RDI, 2)
	b.AluImm(asm.Add, asm.W32, asm.RCX, 1)
	b.Jmp(charLoop)
	b.Label(charDone)
	b.StoreImm(asm.W16, asm.Ptr(asm.RDI, 0), 0)
	b.AluImm(asm.Add, asm.W64, asm.RDI, 2)

	b.Label(nextCard)
	b.AluImm(asm.Add, asm.W32, asm.RDX, 1)
	b.Jmp(cardLoop)

	b.Label(terminate)
	b.Lea(asm.RAX, asm.Ptr(asm.RDI, 2))
	b.Alu(asm.Cmp, asm.W64, asm.RAX, asm.RSI)
	b.Jcc(asm.CondA, original)
	b.StoreImm(asm.W16, asm.Ptr(asm.RDI, 0), 0)
	b.AluImm(asm.Add, asm.W64, asm.RDI, 2)
	b.Mov(asm.W64, asm.RAX, asm.RDI)
	b.Alu(asm.Sub, asm.W64, asm.RAX, asm.RBX)
	b.AluImm(asm.Sub, asm.W64, asm.RAX, scratch.DataOffset)
	b.Store(asm.W64, asm.Ptr(asm.RBX, scratch.CursorOffset), asm.RAX)

	// slot = count++ % 3, counting recorded decks only so Decks labels stay aligned
	b.MovAddr(asm.RAX, uint64(w.state))
	b.Load(asm.W64, asm.RCX, asm.Ptr(asm.RAX, 0))
	b.Lea(asm.RDX, asm.Ptr(asm.RCX, 1))
	b.Store(asm.W64, asm.Ptr(asm.RAX, 0), asm.RDX)
	b.Mov(asm.W64, asm.RAX, asm.RCX)
	b.Zero(asm.RDX)
	b.MovImm(asm.W32, asm.R8, scratch.Slots)
	b.Div(asm.R8)
	b.Lea(asm.RSI, asm.Indexed(asm.RBX, asm.RDX, 8, scratch.SlotOffset))
	b.Load(asm.W64, asm.RCX, asm.Ptr(asm.RSI, 0))
	b.Test(asm.W64, asm.RCX, asm.RCX)
	b.Jcc(asm.CondE, original)

	// one shot: clear the slot, then build the forced card
	b.StoreImm(asm.W64, asm.Ptr(asm.RSI, 0), 0)
	b.Zero(asm.RDX)
	b.CallAbs(asm.RAX, uint64(w.resolve))
	b.Test(asm.W64, asm.RAX, asm.RAX)
	b.Jcc(asm.CondE, original)
	b.Mov(asm.W64, asm.RCX, asm.RAX)
	b.Zero(asm.RDX)
	b.CallAbs(asm.RAX, uint64(w.create))
	b.Test(asm.W64, asm.RAX, asm.RAX)
	b.Jcc(asm.CondE, original)
	b.AluImm(asm.Add, asm.W64, asm.RSP, 0x20)
	b.Pop(asm.RDI, asm.RSI, asm.RBX, asm.R9, asm.R8, asm.RDX, asm.RCX)
	b.Ret()

	b.Label(original)
	b.AluImm(asm.Add, asm.W64, asm.RSP, 0x20)
	b.Pop(asm.RDI, asm.RSI, asm.RBX, asm.R9, asm.R8, asm.RDX, asm.RCX)
	return b
}

func (e *Engine) watcher() (*draftWatcher, error) {
	if e.draft == nil {
		return nil, fmt.Errorf("draft watcher not installed: %w", ErrState)
	}
	return e.draft, nil
}

// Decks returns the decks serialized since the previous call
func (e *Engine) Decks() ([]Deck, error) {
	w, err := e.watcher()
	if err != nil {
		return nil, err
	}
	lists, err := w.buf.Drain()
	if err != nil {
		return nil, err
	}

	out := make([]Deck, 0, len(lists))
	for _, cards := range lists {
		out = append(out, Deck{Index: w.seen, Slot: w.seen%scratch.Slots + 1, Cards: cards})
		w.seen++
	}
	return out, nil
}

func checkDraftSlot(slot int) error {
	if slot < 1 || slot > scratch.Slots {
		return fmt.Errorf("slot %d, want 1 to %d: %w", slot, scratch.Slots, ErrSlot)
	}
	return nil
}

// ForceRoomDraft makes the next pick that consults slot return the named
// room. An empty name clears the slot.
func (e *Engine) ForceRoomDraft(name string, slot int) error {
	if err := checkDraftSlot(slot); err != nil {
		return err
	}
	if name == "" {
		return e.ClearOverride(slot)
	}
	w, err := e.watcher()
	if err != nil {
		return err
	}

	res, err := e.invoker.CallString(w.newString, name, 0)
	if err != nil {
		return fmt.Errorf("create string %q: %w", name, err)
	}
	str := process.ProcessMemoryAddress(res.Rax)
	if str == 0 {
		e.diag.Failf("string constructor returned null for %q", name)
		return fmt.Errorf("create string %q: %w", name, process.ErrInvalidPointer)
	}

	length, err := resolver.ReadData[int32](e.resolver, []int64{int64(str) + int64(e.opts.Draft.Layout.StringLength)}, true)
	if err != nil {
		return err
	}
	if want := len(utf16.Encode([]rune(name))); int(length) != want {
		e.diag.Failf("string for %q at %s has length %d, want %d", name, str.ToString(), length, want)
		return fmt.Errorf("create string %q: length %d, want %d", name, length, want)
	}
	chars, err := process.ReadUTF16(e.proc, str.Add(int64(e.opts.Draft.Layout.StringChars)), int(length))
	if err != nil {
		return fmt.Errorf("read string %q: %w", name, err)
	}
	if chars != name {
		e.diag.Failf("string for %q at %s reads back %q", name, str.ToString(), chars)
		return fmt.Errorf("create string %q: reads back %q", name, chars)
	}

	return w.buf.SetSlot(slot-1, uint64(str))
}

func (e *Engine) ClearOverride(slot int) error {
	if err := checkDraftSlot(slot); err != nil {
		return err
	}
	w, err := e.watcher()
	if err != nil {
		return err
	}
	return w.buf.SetSlot(slot-1, 0)
}

// Override returns the pending string pointer in slot, zero when clear
func (e *Engine) Override(slot int) (uint64, error) {
	if err := checkDraftSlot(slot); err != nil {
		return 0, err
	}
	w, err := e.watcher()
	if err != nil {
		return 0, err
	}
	return w.buf.Slot(slot - 1)
}

// DraftInterception returns the active pick routine interception
func (e *Engine) DraftInterception() (*inject.Interception, bool) {
	return e.injector.Get(draftInterception)
}
