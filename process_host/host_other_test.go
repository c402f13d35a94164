//go:build !windows && !linux

package process_host

import (
	"errors"
	"testing"

	"rngtrainer/process"
)

func TestOpenUnsupported(t *testing.T) {
	var open Opener = Open
	if _, err := open("BLUE PRINCE.exe", "GameAssembly.dll"); !errors.Is(err, process.ErrUnsupported) {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Finder(); !errors.Is(err, process.ErrUnsupported) {
		t.Fatalf("Finder: %v", err)
	}
}
