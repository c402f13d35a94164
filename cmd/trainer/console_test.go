package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"rngtrainer/config"
	"rngtrainer/process_blob"
	"rngtrainer/session"
	"rngtrainer/trainer"
)

const moduleBase = 0x180000000

func newTestConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()

	mod := make([]byte, 0x2000)
	copy(mod[0x100:], []byte{0x8B, 0xC1, 0xC3})
	copy(mod[0x400:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xE8, 0xF7, 0xFC, 0xFF, 0xFF})

	img := process_blob.NewProcessImage(11, "GameAssembly.dll", moduleBase)
	img.MapModule(mod)

	var tables trainer.Tables
	tables[trainer.KindIntRange] = []trainer.SiteSignature{
		{Category: trainer.Rarity, Hex: "DE AD BE EF", Offset: 5, Caller: "Test.Pick"},
	}
	sess, err := session.New(context.Background(), img, trainer.Options{Tables: &tables, DefaultSeed: 42}, true)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	var out bytes.Buffer
	return newConsole(sess, config.Default(), &out), &out
}

func TestConsoleSeedAndStatus(t *testing.T) {
	c, out := newTestConsole(t)

	for _, line := range []string{"seed rarity 0x10", "behavior all increment", "status"} {
		if err := c.exec(line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}

	got := out.String()
	for _, want := range []string{"seed of rarity set to 16", "behavior of all set to Increment", "state injected", "1 call sites"} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}

	var seed uint64
	var b trainer.Behavior
	c.do(func(e *trainer.Engine) error {
		seed, _ = e.Seed(trainer.Rarity)
		b, _ = e.Behavior(trainer.SlotMachine)
		return nil
	})
	if seed != 16 || b != trainer.Increment {
		t.Fatalf("seed %d behavior %s", seed, b)
	}
}

func TestConsoleErrors(t *testing.T) {
	c, _ := newTestConsole(t)

	for _, line := range []string{
		"seed Garden 1",
		"seed rarity many",
		"behavior rarity sometimes",
		"teleport",
		"decks",
		"force 1 'The Foundation",
		"build",
	} {
		if err := c.exec(line); err == nil {
			t.Errorf("%q succeeded", line)
		}
	}
}

func TestConsolePeekAndSites(t *testing.T) {
	c, out := newTestConsole(t)

	if err := c.exec("peek 0x400 --size 4"); err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !strings.Contains(out.String(), "0000000180000400") {
		t.Fatalf("peek output:\n%s", out.String())
	}

	// flags reset between lines
	out.Reset()
	if err := c.exec("peek 0x400"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "0000000180000430") {
		t.Fatalf("size flag leaked into the next command:\n%s", out.String())
	}

	out.Reset()
	if err := c.exec("sites rarity"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Test.Pick") {
		t.Fatalf("sites output:\n%s", out.String())
	}
}

func TestConsoleRevertInjectExit(t *testing.T) {
	c, out := newTestConsole(t)

	for _, line := range []string{"revert", "patches --plain", "inject", "patches --plain", "exit"} {
		if err := c.exec(line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	if !strings.Contains(out.String(), "reverted, state verified") || !strings.Contains(out.String(), "injected, state injected") {
		t.Fatalf("output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Test.Pick") {
		t.Fatalf("patches after inject not listed:\n%s", out.String())
	}
	if !c.quit {
		t.Fatal("exit did not stop the console")
	}
}

func TestCompleter(t *testing.T) {
	c, _ := newTestConsole(t)

	if got := c.completer("s"); len(got) != 4 {
		t.Errorf("completer(s) = %v", got)
	}
	got := c.completer("seed Slot")
	if len(got) != 1 || got[0] != "seed SlotMachine" {
		t.Errorf("completer(seed Slot) = %v", got)
	}
}
