package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rngtrainer/trainer"
)

const sample = `
process: Game.exe
notify_cooldown: 5s
default_seed: 0x1234
default_behavior: increment
seeds:
  Rarity: 7
behaviors:
  drafting: Randomize
draft:
  pick:
    hex: "53 48 83 EC 20"
    offset: 0
    length: 18
  layout:
    deck_cards: 0x18
    card_name: 0x20
`

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.Process != "Game.exe" {
		t.Errorf("process = %q", c.Process)
	}
	if c.Module != "GameAssembly.dll" {
		t.Errorf("module default lost: %q", c.Module)
	}
	if c.NotifyCooldown != 5*time.Second {
		t.Errorf("cooldown = %s", c.NotifyCooldown)
	}
	if !c.RevertOnDetach {
		t.Errorf("revert_on_detach default lost")
	}
	if c.Draft.Pick.Length != 18 || c.Draft.Layout.DeckCards != 0x18 {
		t.Errorf("draft = %+v", c.Draft)
	}
	// container offsets keep their defaults when only game fields are given
	if c.Draft.Layout.ListItems != trainer.DefaultLayout().ListItems || c.Draft.Layout.StringChars != 0x14 {
		t.Errorf("layout defaults lost: %+v", c.Draft.Layout)
	}
}

func TestOptions(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}

	opts, err := c.Options(nil)
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.DefaultSeed != 0x1234 || opts.DefaultBehavior != trainer.Increment {
		t.Errorf("defaults = %#x %v", opts.DefaultSeed, opts.DefaultBehavior)
	}
	if opts.Seeds[trainer.Rarity] != 7 || len(opts.Seeds) != 1 {
		t.Errorf("seeds = %v", opts.Seeds)
	}
	if opts.Behaviors[trainer.Drafting] != trainer.Randomize {
		t.Errorf("behaviors = %v", opts.Behaviors)
	}
	if opts.ScratchSize != 1<<20 {
		t.Errorf("scratch = %d", opts.ScratchSize)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want error
	}{
		{"behavior", "default_behavior: shuffle", trainer.ErrBehavior},
		{"category", "seeds: {Garden: 1}", trainer.ErrCategory},
		{"category behavior", "behaviors: {Rarity: sometimes}", trainer.ErrBehavior},
		{"empty process", "process: ''", nil},
		{"scratch", "scratch_size: 16", nil},
		{"syntax", "seeds: [", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("Parse accepted %q", tc.yaml)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), DefaultFile))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DefaultSeed != 42 || c.DefaultBehavior != "Constant" {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)

	c := Default()
	c.Debug = true
	c.NotifyCooldown = time.Minute
	c.Seeds = map[string]uint64{"SlotMachine": 99}
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Debug || got.NotifyCooldown != time.Minute || got.Seeds["SlotMachine"] != 99 {
		t.Fatalf("loaded = %+v", got)
	}
}
