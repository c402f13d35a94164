// Package resolver walks pointer paths in a remote process.
//
// A path is a list of offsets. Every offset but the last is added to the
// current address and the result dereferenced; the last offset is only added.
// Dereferences are cached by the address they were read from and never
// evicted, so later walks through the same static chain cost no reads.
package resolver

import (
	"errors"
	"fmt"
	"sync"

	"rngtrainer/diag"
	"rngtrainer/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Unresolved is returned alongside an error when a path cannot be walked
const Unresolved process.ProcessMemoryAddress = 0

// Target is what the resolver needs from a process
type Target interface {
	process.MemoryAccess
	Module() process.Module
}

type Resolver struct {
	proc  Target
	cache sync.Map
	diag  *diag.Reporter
	log   *logger.Logger
}

func New(proc Target, reporter *diag.Reporter) *Resolver {
	return &Resolver{
		proc: proc,
		diag: reporter,
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorIndigo, coloransi.ColorOrange, "resolver")),
	}
}

func (r *Resolver) fail(format string, args ...any) (process.ProcessMemoryAddress, error) {
	err := fmt.Errorf(format, args...)
	r.diag.Failf("%v", err)
	return Unresolved, fmt.Errorf("%w: %v", process.ErrUnresolved, err)
}

// Resolve walks offsets starting at zero when absolute is set, or at the module base otherwise
func (r *Resolver) Resolve(offsets []int64, absolute bool) (process.ProcessMemoryAddress, error) {
	if len(offsets) == 0 {
		return r.fail("empty offset list")
	}
	if !absolute && offsets[0] == 0 {
		return r.fail("module relative path starts at offset 0")
	}

	var addr process.ProcessMemoryAddress
	if !absolute {
		addr = r.proc.Module().Base
	}

	for i, off := range offsets[:len(offsets)-1] {
		addr = addr.Add(off)

		if cached, ok := r.cache.Load(addr); ok {
			addr = cached.(process.ProcessMemoryAddress)
			continue
		}

		ptr, err := process.ReadPointer(r.proc, addr)
		if errors.Is(err, process.ErrInvalidPointer) {
			return r.fail("offset %d: null pointer at %s", i, addr.ToString())
		}
		if err != nil {
			region, qerr := r.proc.QueryRegion(addr)
			if qerr != nil {
				return r.fail("offset %d: %s unreadable: %v", i, addr.ToString(), err)
			}
			return r.fail("offset %d: %s unreadable (%s): %v", i, addr.ToString(), region.String(), err)
		}

		r.cache.Store(addr, ptr)
		addr = ptr
	}

	return addr.Add(offsets[len(offsets)-1]), nil
}

// Cached returns the number of cached dereferences
func (r *Resolver) Cached() int {
	n := 0
	r.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// ReadData resolves a path and reads a T from its end
func ReadData[T any](r *Resolver, offsets []int64, absolute bool) (T, error) {
	addr, err := r.Resolve(offsets, absolute)
	if err != nil {
		var zero T
		return zero, err
	}
	return process.Read[T](r.proc, addr)
}

// WriteData resolves a path and writes value at its end
func WriteData[T any](r *Resolver, offsets []int64, absolute bool, value T) error {
	addr, err := r.Resolve(offsets, absolute)
	if err != nil {
		return err
	}
	if err := process.Write(r.proc, addr, value); err != nil {
		r.diag.Failf("write at %s: %v", addr.ToString(), err)
		return err
	}
	return nil
}
