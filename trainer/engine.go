// Package trainer instruments the random number calls of a running game.
//
// An Engine finds every call into Random.value, Random.Range(int, int) and
// Random.Range(float, float) by signature, checks that the calls of each kind
// agree on their target, and then replaces the targets with generated code
// that draws from a per category seed table. Each call site is retargeted at
// a dispatch entry that tags the call with its category.
package trainer

import (
	"errors"
	"fmt"

	"rngtrainer/asm"
	"rngtrainer/diag"
	"rngtrainer/inject"
	"rngtrainer/invoke"
	"rngtrainer/process"
	"rngtrainer/resolver"
	"rngtrainer/scratch"
	"rngtrainer/sigscan"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	ErrNotReady = errors.New("call sites not found")
	ErrStale    = errors.New("call sites disagree on their target")
	ErrState    = errors.New("operation not valid in the current state")
	ErrCategory = errors.New("invalid category")
	ErrBehavior = errors.New("invalid behavior")
)

// IsRetryable reports whether attaching may succeed later, for example once
// the game has finished loading or after an update to the signature tables
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, ErrStale)
}

type State int

const (
	Unattached State = iota
	Scanning
	Verified
	Stale
	Injected
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Scanning:
		return "scanning"
	case Verified:
		return "verified"
	case Stale:
		return "stale"
	case Injected:
		return "injected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CallSite is a located call into the random API
type CallSite struct {
	SiteSignature
	Kind Kind

	// Found is the address of the call's rel32 field
	Found  process.ProcessMemoryAddress
	Target process.ProcessMemoryAddress
}

// Patch is a range of target code overwritten by the engine
type Patch struct {
	Name     string
	Address  process.ProcessMemoryAddress
	Original []byte
	Written  []byte
}

type Options struct {
	// Tables replaces the built in call site signatures
	Tables *Tables

	Draft DraftConfig

	// ScratchSize is the size of the draft watcher's scratch buffer
	ScratchSize process.ProcessMemorySize

	Reporter *diag.Reporter

	DefaultSeed     uint64
	DefaultBehavior Behavior
	Seeds           map[Category]uint64
	Behaviors       map[Category]Behavior
}

type Engine struct {
	proc   process.Process
	opts   Options
	tables Tables
	state  State

	sites   []CallSite
	targets [numKinds]process.ProcessMemoryAddress

	seeds     process.ProcessMemoryAddress
	behaviors process.ProcessMemoryAddress
	code      *asm.Assembled
	patches   []Patch

	injector *inject.Injector
	invoker  *invoke.Invoker
	resolver *resolver.Resolver
	draft    *draftWatcher

	diag *diag.Reporter
	log  *logger.Logger
}

// New scans proc, verifies the call sites and injects the generated random
// functions, then applies the seed and behavior defaults from opts.
// On failure every patched call site and entry is restored.
func New(proc process.Process, opts Options) (*Engine, error) {
	e, err := Verify(proc, opts)
	if err != nil {
		return nil, err
	}
	if err := e.Inject(); err != nil {
		return nil, err
	}
	if err := e.applyDefaults(); err != nil {
		if rerr := e.Revert(); rerr != nil {
			e.diag.Failf("revert after failed defaults: %v", rerr)
		}
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	return e, nil
}

// Verify scans proc and checks the call sites without writing to it.
// The returned engine is in state Verified.
func Verify(proc process.Process, opts Options) (*Engine, error) {
	e := newEngine(proc, opts)
	if err := e.Scan(); err != nil {
		return nil, err
	}
	return e, nil
}

func newEngine(proc process.Process, opts Options) *Engine {
	if opts.ScratchSize == 0 {
		opts.ScratchSize = scratch.DefaultSize
	}

	tables := DefaultTables()
	if opts.Tables != nil {
		tables = *opts.Tables
	}

	return &Engine{
		proc:     proc,
		opts:     opts,
		tables:   tables,
		injector: inject.New(proc, opts.Reporter),
		invoker:  invoke.New(proc),
		resolver: resolver.New(proc, opts.Reporter),
		diag:     opts.Reporter,
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorLimeGreen, coloransi.Black, "trainer")),
	}
}

func (e *Engine) State() State {
	return e.state
}

func (e *Engine) Process() process.Process {
	return e.proc
}

func (e *Engine) Resolver() *resolver.Resolver {
	return e.resolver
}

// Sites returns the located call sites in table order
func (e *Engine) Sites() []CallSite {
	out := make([]CallSite, len(e.sites))
	copy(out, e.sites)
	return out
}

// Target returns the function every call site of kind k calls, zero when
// the tables have no sites of that kind
func (e *Engine) Target(k Kind) process.ProcessMemoryAddress {
	return e.targets[k]
}

// Code returns the generated random functions, nil before injection
func (e *Engine) Code() *asm.Assembled {
	return e.code
}

// Patches lists the code ranges written by Inject
func (e *Engine) Patches() []Patch {
	out := make([]Patch, len(e.patches))
	copy(out, e.patches)
	return out
}

// Scan locates every call site. Identical signatures with the same offset
// claim distinct matches, in address order.
func (e *Engine) Scan() error {
	if e.state == Injected {
		return fmt.Errorf("scan: %w", ErrState)
	}
	e.state = Scanning
	e.sites = nil

	mod := e.proc.Module()
	scanner := sigscan.NewScanner(e.proc)
	claimed := make(map[process.ProcessMemoryAddress]bool)
	found := make([]CallSite, e.tables.Count())
	ok := make([]bool, len(found))

	n := 0
	for k, table := range e.tables {
		for _, sig := range table {
			slot := n
			site := CallSite{SiteSignature: sig, Kind: Kind(k)}
			scanner.Add(sig.Pattern(), func(w sigscan.Window, index int) bool {
				field := index + site.Offset
				addr := w.Addr(field)
				if claimed[addr] {
					return false
				}
				target, err := w.RelativeTarget(field)
				if err != nil {
					e.log.Debugln("unreadable call site", addr.ToString(), err)
					return false
				}
				claimed[addr] = true
				site.Found = addr
				site.Target = target
				found[slot] = site
				ok[slot] = true
				return true
			})
			n++
		}
	}

	missing := scanner.Execute(mod)
	if missing > 0 {
		e.state = Unattached
		return fmt.Errorf("%d of %d signatures in %s: %w", missing, len(found), mod.Name, ErrNotReady)
	}

	if err := e.verify(found, mod); err != nil {
		e.state = Stale
		return err
	}

	e.sites = found
	e.state = Verified
	e.log.Infoln("located", len(found), "call sites in", mod.Name)
	return nil
}

func (e *Engine) verify(sites []CallSite, mod process.Module) error {
	var targets [numKinds]process.ProcessMemoryAddress

	for _, s := range sites {
		if !mod.Contains(s.Target) {
			e.diag.Failf("%s call in %s at %s targets %s outside %s", s.Kind, s.Caller, s.Found.ToString(), s.Target.ToString(), mod.Name)
			return fmt.Errorf("%s call in %s targets %s: %w", s.Kind, s.Caller, s.Target.ToString(), ErrStale)
		}
		if targets[s.Kind] == 0 {
			targets[s.Kind] = s.Target
			continue
		}
		if targets[s.Kind] != s.Target {
			e.diag.Failf("%s call in %s at %s targets %s, expected %s", s.Kind, s.Caller, s.Found.ToString(), s.Target.ToString(), targets[s.Kind].ToString())
			return fmt.Errorf("%s call in %s targets %s, others target %s: %w", s.Kind, s.Caller, s.Target.ToString(), targets[s.Kind].ToString(), ErrStale)
		}
	}

	for a := 0; a < numKinds; a++ {
		for b := a + 1; b < numKinds; b++ {
			if targets[a] != 0 && targets[a] == targets[b] {
				return fmt.Errorf("%s and %s calls share target %s: %w", Kind(a), Kind(b), targets[a].ToString(), ErrStale)
			}
		}
	}

	e.targets = targets
	return nil
}

func (e *Engine) applyDefaults() error {
	if err := e.SetAllSeeds(e.opts.DefaultSeed); err != nil {
		return err
	}
	if err := e.SetAllBehaviors(e.opts.DefaultBehavior); err != nil {
		return err
	}
	for c, seed := range e.opts.Seeds {
		if err := e.SetSeed(c, seed); err != nil {
			return err
		}
	}
	for c, b := range e.opts.Behaviors {
		if err := e.SetBehavior(c, b); err != nil {
			return err
		}
	}
	return nil
}

// Revert restores every patched entry and call site and removes the draft
// watcher. Allocations stay in the process. The engine returns to Verified
// and may be injected again.
func (e *Engine) Revert() error {
	var first error

	if e.draft != nil {
		if err := e.injector.UninterceptAll(); err != nil {
			first = err
		}
		e.draft = nil
	}

	for i := len(e.patches) - 1; i >= 0; i-- {
		p := e.patches[i]
		if err := e.proc.WriteMemory(p.Address, p.Original); err != nil {
			e.diag.Failf("revert %s at %s failed: %v", p.Name, p.Address.ToString(), err)
			if first == nil {
				first = fmt.Errorf("revert %s: %w", p.Name, err)
			}
		}
	}

	if e.state == Injected {
		e.state = Verified
	}
	e.patches = nil
	e.code = nil

	if err := e.invoker.Close(); err != nil && first == nil {
		first = err
	}

	e.log.Infoln("reverted")
	return first
}

// Reinject injects again after Revert and reapplies the seed and behavior defaults
func (e *Engine) Reinject() error {
	if err := e.Inject(); err != nil {
		return err
	}
	return e.applyDefaults()
}
