package main

import (
	"fmt"
	"strconv"
	"strings"

	"rngtrainer/hexdump"
	"rngtrainer/peimage"
	"rngtrainer/process"
	"rngtrainer/scratch"
	"rngtrainer/trainer"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/spf13/cobra"
	"github.com/stevedomin/termtable"
)

func (c *console) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "rng",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		c.statusCommand(),
		c.seedCommand(),
		c.behaviorCommand(),
		c.sitesCommand(),
		c.buildCommand(),
		c.decksCommand(),
		c.forceCommand(),
		c.clearCommand(),
		c.slotsCommand(),
		c.patchesCommand(),
		c.peekCommand(),
		c.revertCommand(),
		c.injectCommand(),
		c.draftCommand(),
		&cobra.Command{
			Use:     "exit",
			Aliases: []string{"quit"},
			Short:   "Detach and leave",
			Args:    cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				c.quit = true
			},
		},
	)
	return root
}

// parseCategories accepts a category name or "all"
func parseCategories(s string) ([]trainer.Category, error) {
	if strings.EqualFold(s, "all") {
		return trainer.Categories(), nil
	}
	cat, err := trainer.ParseCategory(s)
	if err != nil {
		return nil, err
	}
	return []trainer.Category{cat}, nil
}

func parseSlot(s string) (int, error) {
	slot, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("slot %q: %w", s, err)
	}
	return slot, nil
}

func newTable(header ...string) *termtable.Table {
	t := termtable.NewTable(nil, &termtable.TableOptions{Padding: 2})
	t.SetHeader(header)
	return t
}

func (c *console) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine state, seeds and behaviors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				mod := e.Process().Module()
				c.printf("pid %d, %s %s-%s, state %s, %d call sites\n",
					e.Process().GetPID(), mod.Name, mod.Base.ToString(), mod.End.ToString(), e.State(), len(e.Sites()))
				if code := e.Code(); code != nil {
					c.printf("generated code at %s, %d bytes\n", process.ProcessMemoryAddress(code.Origin).ToString(), len(code.Code))
				}
				if e.State() != trainer.Injected {
					return nil
				}

				t := newTable("Category", "Seed", "Behavior")
				for _, cat := range trainer.Categories() {
					seed, err := e.Seed(cat)
					if err != nil {
						return err
					}
					b, err := e.Behavior(cat)
					if err != nil {
						return err
					}
					t.AddRow([]string{cat.String(), fmt.Sprintf("%d (0x%X)", seed, seed), b.String()})
				}
				c.printf("%s\n", t.Render())
				return nil
			})
		},
	}
}

func (c *console) seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <category|all> <value>",
		Short: "Set the seed of a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := parseCategories(args[0])
			if err != nil {
				return err
			}
			seed, err := strconv.ParseUint(args[1], 0, 64)
			if err != nil {
				return fmt.Errorf("seed %q: %w", args[1], err)
			}
			return c.do(func(e *trainer.Engine) error {
				for _, cat := range cats {
					if err := e.SetSeed(cat, seed); err != nil {
						return err
					}
				}
				c.printf("seed of %s set to %d\n", args[0], seed)
				return nil
			})
		},
	}
}

func (c *console) behaviorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "behavior <category|all> <Constant|Increment|Randomize>",
		Short: "Set how a category's seed produces values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := parseCategories(args[0])
			if err != nil {
				return err
			}
			b, err := trainer.ParseBehavior(args[1])
			if err != nil {
				return err
			}
			return c.do(func(e *trainer.Engine) error {
				for _, cat := range cats {
					if err := e.SetBehavior(cat, b); err != nil {
						return err
					}
				}
				c.printf("behavior of %s set to %s\n", args[0], b)
				return nil
			})
		},
	}
}

func (c *console) sitesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sites [category]",
		Short: "List the located call sites",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats := trainer.Categories()
			if len(args) == 1 {
				var err error
				if cats, err = parseCategories(args[0]); err != nil {
					return err
				}
			}
			want := make(map[trainer.Category]bool)
			for _, cat := range cats {
				want[cat] = true
			}

			return c.do(func(e *trainer.Engine) error {
				t := newTable("Kind", "Category", "Caller", "Call", "Target")
				for _, s := range e.Sites() {
					if !want[s.Category] {
						continue
					}
					t.AddRow([]string{s.Kind.String(), s.Category.String(), s.Caller, s.Found.ToString(), s.Target.ToString()})
				}
				c.printf("%s\n", t.Render())
				return nil
			})
		},
	}
}

func (c *console) buildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Show the build stamp and sections of the game module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				proc := e.Process()
				info, err := peimage.Inspect(proc, proc.Module())
				if err != nil {
					return err
				}
				c.printf("%s built %s\n", proc.Module().Name, info.Stamp())
				t := newTable("Section", "Start", "End", "Exec")
				for _, s := range info.Sections {
					t.AddRow([]string{s.Name, s.Start.ToString(), s.End.ToString(), strconv.FormatBool(s.Executable)})
				}
				c.printf("%s\n", t.Render())
				return nil
			})
		},
	}
}

func (c *console) decksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decks",
		Short: "Show the decks drawn from since the last call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				decks, err := e.Decks()
				if err != nil {
					return err
				}
				if len(decks) == 0 {
					c.printf("no new decks\n")
					return nil
				}
				for _, d := range decks {
					names := make([]string, len(d.Cards))
					for i, card := range d.Cards {
						names[i] = trainer.StripRichText(card)
					}
					c.printf("%s %s\n",
						coloransi.Foreground(coloransi.Cyan, fmt.Sprintf("#%d slot %d:", d.Index, d.Slot)),
						strings.Join(names, ", "))
				}
				return nil
			})
		},
	}
}

func (c *console) forceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "force <slot> <room name>",
		Short: "Make the next draft using slot return the named room",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			return c.do(func(e *trainer.Engine) error {
				if err := e.ForceRoomDraft(name, slot); err != nil {
					return err
				}
				c.printf("slot %d forced to %q\n", slot, name)
				return nil
			})
		},
	}
}

func (c *console) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <slot|all>",
		Short: "Clear a forced draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var slots []int
			if strings.EqualFold(args[0], "all") {
				for i := 1; i <= scratch.Slots; i++ {
					slots = append(slots, i)
				}
			} else {
				slot, err := parseSlot(args[0])
				if err != nil {
					return err
				}
				slots = append(slots, slot)
			}
			return c.do(func(e *trainer.Engine) error {
				for _, slot := range slots {
					if err := e.ClearOverride(slot); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (c *console) slotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "Show pending forced drafts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				t := newTable("Slot", "String")
				for slot := 1; slot <= scratch.Slots; slot++ {
					ptr, err := e.Override(slot)
					if err != nil {
						return err
					}
					value := "-"
					if ptr != 0 {
						value = process.ProcessMemoryAddress(ptr).ToString()
					}
					t.AddRow([]string{strconv.Itoa(slot), value})
				}
				c.printf("%s\n", t.Render())
				return nil
			})
		},
	}
}

func (c *console) patchesCommand() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "Dump every patched range with the changed bytes highlighted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				c.dumpPatches(e, plain)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "no colors")
	return cmd
}

func (c *console) dumpPatches(e *trainer.Engine, plain bool) {
	for _, p := range e.Patches() {
		c.printf("%s\n%s", p.Name, hexdump.Diff(uint64(p.Address), p.Original, p.Written, plain))
	}
	if in, ok := e.DraftInterception(); ok {
		c.printf("%s (cave at %s)\n", in.Name, in.Cave.ToString())
	}
}

func (c *console) peekCommand() *cobra.Command {
	var absolute bool
	var size uint
	cmd := &cobra.Command{
		Use:   "peek <offset>...",
		Short: "Resolve a pointer path and dump the memory at its end",
		Long: "Every offset but the last is added and dereferenced; the last is only added.\n" +
			"Paths start at the module base unless --abs is given.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offsets := make([]int64, len(args))
			for i, a := range args {
				v, err := strconv.ParseInt(a, 0, 64)
				if err != nil {
					u, uerr := strconv.ParseUint(a, 0, 64)
					if uerr != nil {
						return fmt.Errorf("offset %q: %w", a, err)
					}
					v = int64(u)
				}
				offsets[i] = v
			}

			return c.do(func(e *trainer.Engine) error {
				addr, err := e.Resolver().Resolve(offsets, absolute)
				if err != nil {
					return err
				}
				data, err := e.Process().ReadMemory(addr, process.ProcessMemorySize(size))
				if err != nil {
					return err
				}
				opts := hexdump.DefaultOptions()
				opts.Address = uint64(addr)
				c.printf("%s", hexdump.Dump(data, opts))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&absolute, "abs", false, "the first offset is an absolute address")
	cmd.Flags().UintVar(&size, "size", 64, "bytes to dump")
	return cmd
}

func (c *console) revertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revert",
		Short: "Restore the original code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				if err := e.Revert(); err != nil {
					return err
				}
				c.printf("reverted, state %s\n", e.State())
				return nil
			})
		},
	}
}

func (c *console) injectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inject",
		Short: "Inject again after revert",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				if err := e.Reinject(); err != nil {
					return err
				}
				if c.cfg.Draft.Configured() {
					if err := e.InstallDraftWatcher(); err != nil {
						return err
					}
				}
				c.printf("injected, state %s\n", e.State())
				return nil
			})
		},
	}
}

func (c *console) draftCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "draft",
		Short: "Install the draft watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(func(e *trainer.Engine) error {
				if err := e.InstallDraftWatcher(); err != nil {
					return err
				}
				in, _ := e.DraftInterception()
				c.printf("draft watcher installed at %s\n", in.Address.ToString())
				return nil
			})
		},
	}
}
