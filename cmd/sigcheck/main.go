// sigcheck verifies the call site signatures against a module dump written by
// module_dump, without a running game.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"rngtrainer/asm"
	"rngtrainer/hexdump"
	"rngtrainer/peimage"
	"rngtrainer/process"
	"rngtrainer/process_blob"
	"rngtrainer/sigscan"
	"rngtrainer/trainer"

	"github.com/stevedomin/termtable"
)

func main() {
	fromFlag := flag.String("from", "", "Directory containing the module dump")
	disasmFlag := flag.Bool("disasm", false, "Disassemble the call at every located site")
	injectFlag := flag.Bool("inject", false, "Inject into the loaded image and print the generated code")
	flag.Parse()

	if *fromFlag == "" {
		fmt.Println("Error: --from is required")
		flag.Usage()
		os.Exit(1)
	}

	img, err := process_blob.Load(*fromFlag)
	if err != nil {
		fmt.Printf("Error loading dump from %s: %v\n", *fromFlag, err)
		os.Exit(1)
	}
	defer img.Close()

	mod := img.Module()
	fmt.Printf("Loaded %s at %s (%d bytes)\n", mod.Name, mod.Base.ToString(), mod.Size())

	info, err := peimage.Inspect(img, mod)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	} else {
		fmt.Printf("Build: %s\n", info.Stamp())
		for _, s := range info.Sections {
			fmt.Printf("  %-8s %s - %s exec=%v\n", s.Name, s.Start.ToString(), s.End.ToString(), s.Executable)
		}
	}

	tables := trainer.DefaultTables()
	printMatchCounts(img, mod, tables)

	e, err := trainer.Verify(img, trainer.Options{})
	if err != nil {
		fmt.Printf("Verify failed: %v\n", err)
		if errors.Is(err, trainer.ErrNotReady) {
			fmt.Println("Signatures with zero matches above are missing from this build")
		}
		os.Exit(1)
	}

	fmt.Printf("\nAll %d call sites verified\n", len(e.Sites()))
	for k := range tables {
		fmt.Printf("  %-10s -> %s\n", trainer.Kind(k), e.Target(trainer.Kind(k)).ToString())
	}

	if info != nil {
		for _, site := range e.Sites() {
			if sec, ok := info.SectionOf(site.Found); !ok || !sec.Executable {
				fmt.Printf("Warning: %s site in %s at %s is outside executable code\n", site.Kind, site.Caller, site.Found.ToString())
			}
		}
	}

	if *disasmFlag {
		printDisassembly(img, e.Sites())
	}

	if *injectFlag {
		if err := e.Inject(); err != nil {
			fmt.Printf("Inject failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nGenerated code:")
		fmt.Println(e.Code().Listing())
		for _, p := range e.Patches() {
			fmt.Printf("%s:\n", p.Name)
			fmt.Print(hexdump.Diff(uint64(p.Address), p.Original, p.Written, false))
		}
	}
}

// printMatchCounts reports how often each signature occurs in the module
func printMatchCounts(proc process.MemoryAccess, mod process.Module, tables trainer.Tables) {
	type row struct {
		kind trainer.Kind
		sig  trainer.SiteSignature
		n    int
	}

	var rows []*row
	scanner := sigscan.NewScanner(proc)
	seen := make(map[string]*row)

	for k, table := range tables {
		for _, sig := range table {
			r := &row{kind: trainer.Kind(k), sig: sig}
			rows = append(rows, r)
			if _, ok := seen[sig.Hex]; ok {
				continue
			}
			seen[sig.Hex] = r
			scanner.Add(sig.Pattern(), func(w sigscan.Window, index int) bool {
				r.n++
				return false
			})
		}
	}
	scanner.Execute(mod)

	t := termtable.NewTable(nil, &termtable.TableOptions{Padding: 2})
	t.SetHeader([]string{"Kind", "Category", "Caller", "Offset", "Matches"})
	for _, r := range rows {
		n := seen[r.sig.Hex].n
		count := fmt.Sprint(n)
		if n == 0 {
			count = "MISSING"
		}
		t.AddRow([]string{r.kind.String(), r.sig.Category.String(), r.sig.Caller, fmt.Sprint(r.sig.Offset), count})
	}
	fmt.Println(t.Render())
}

func printDisassembly(proc process.MemoryAccess, sites []trainer.CallSite) {
	for _, s := range sites {
		// the call opcode sits one byte before its rel32 field
		start := s.Found - 1
		code, err := proc.ReadMemory(start, 5)
		if err != nil {
			fmt.Printf("%s: %v\n", s.Caller, err)
			continue
		}
		lines, err := asm.Disassemble(code, uint64(start))
		if err != nil {
			fmt.Printf("%s: %v\n", s.Caller, err)
			continue
		}
		fmt.Printf("%-12s %-45s %s\n", s.Category, s.Caller, lines[0])
	}
}
