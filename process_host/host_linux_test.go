//go:build linux

package process_host

import (
	"errors"
	"testing"

	"rngtrainer/process"
)

func TestOpenMissingProcess(t *testing.T) {
	var open Opener = Open
	if _, err := open("no such game.exe", "GameAssembly.dll"); !errors.Is(err, process.ErrProcessNotFound) {
		t.Fatalf("Open: %v", err)
	}

	finder, err := Finder()
	if err != nil {
		t.Fatalf("Finder: %v", err)
	}
	if _, err := finder.FindAllProcesses(); err != nil {
		t.Fatalf("FindAllProcesses: %v", err)
	}
}
