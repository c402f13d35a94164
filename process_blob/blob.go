package process_blob

import (
	"fmt"
	"sort"
	"sync"

	"rngtrainer/process"
	"rngtrainer/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const pageSize = 0x1000

// ThreadFunc emulates a remote thread started at entry with param in rcx
type ThreadFunc func(entry, param process.ProcessMemoryAddress) (uint32, error)

type region struct {
	item      memory_map.MemoryMapItem
	data      []byte
	allocated bool
}

// ProcessImage implements process.Process over memory held in this process.
// It backs offline dumps and tests; writes and allocations behave like a live target.
type ProcessImage struct {
	mu      sync.Mutex
	pid     process.ProcessID
	module  process.Module
	regions []*region
	closed  bool

	nearCursor uint64
	farCursor  uint64
	thread     ThreadFunc

	reads  int
	writes int
	allocs int

	log *logger.Logger
}

var _ process.Process = (*ProcessImage)(nil)

// NewProcessImage creates an empty image whose module starts at base
func NewProcessImage(pid process.ProcessID, moduleName string, base process.ProcessMemoryAddress) *ProcessImage {
	return &ProcessImage{
		pid:       pid,
		module:    process.Module{Name: moduleName, Base: base, End: base},
		farCursor: 0x7FF000000000,
		log:       logger.NewLogger(coloransi.Color(coloransi.ColorTeal, coloransi.ColorOrange, fmt.Sprintf("image-%d", pid))),
	}
}

// MapModule maps the module image at the module base and extends the module bounds to cover it
func (p *ProcessImage) MapModule(data []byte) {
	p.Map(p.module.Base, data, "r-xp")

	p.mu.Lock()
	defer p.mu.Unlock()
	p.module.End = p.module.Base + process.ProcessMemoryAddress(len(data))
}

// Map adds a committed region holding a copy of data
func (p *ProcessImage) Map(addr process.ProcessMemoryAddress, data []byte, perms string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	p.insert(&region{
		item: memory_map.MemoryMapItem{Address: uint64(addr), Size: uint(len(data)), Perms: perms, State: memory_map.StateCommit},
		data: buf,
	})
}

// Reserve adds an address range that is reserved but not committed
func (p *ProcessImage) Reserve(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.insert(&region{
		item: memory_map.MemoryMapItem{Address: uint64(addr), Size: uint(size), Perms: "---p", State: memory_map.StateReserve},
	})
}

func (p *ProcessImage) insert(r *region) {
	p.regions = append(p.regions, r)
	sort.Slice(p.regions, func(i, j int) bool {
		return p.regions[i].item.Address < p.regions[j].item.Address
	})
}

// SetThreadHook installs the function RunThread delegates to
func (p *ProcessImage) SetThreadHook(fn ThreadFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.thread = fn
}

func (p *ProcessImage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.log.Infoln("Image closed")
	return nil
}

func (p *ProcessImage) GetPID() process.ProcessID {
	return p.pid
}

func (p *ProcessImage) Module() process.Module {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.module
}

func (p *ProcessImage) find(addr uint64) *region {
	i := sort.Search(len(p.regions), func(i int) bool {
		return p.regions[i].item.End() > addr
	})
	if i < len(p.regions) && p.regions[i].item.Address <= addr {
		return p.regions[i]
	}
	return nil
}

func (p *ProcessImage) span(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) (*region, uint64, error) {
	if p.closed {
		return nil, 0, process.ErrProcessNotOpen
	}

	r := p.find(uint64(addr))
	if r == nil {
		return nil, 0, fmt.Errorf("0x%x: %w", uint64(addr), process.ErrAddressNotMapped)
	}
	if !r.item.IsCommitted() {
		return nil, 0, fmt.Errorf("0x%x is %s: %w", uint64(addr), r.item.State, process.ErrAddressNotMapped)
	}

	offset := uint64(addr) - r.item.Address
	if offset+uint64(size) > uint64(len(r.data)) {
		return nil, 0, fmt.Errorf("access of %d bytes at 0x%x exceeds region 0x%x: %w", size, uint64(addr), r.item.Address, process.ErrAddressNotMapped)
	}

	return r, offset, nil
}

func (p *ProcessImage) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reads++
	if size == 0 {
		return []byte{}, nil
	}

	r, offset, err := p.span(addr, size)
	if err != nil {
		return nil, err
	}
	if !r.item.IsReadable() {
		return nil, fmt.Errorf("0x%x is not readable (%s): %w", uint64(addr), r.item.Perms, process.ErrAddressNotMapped)
	}

	result := make([]byte, size)
	copy(result, r.data[offset:offset+uint64(size)])
	return result, nil
}

// WriteMemory ignores page protection, matching the live backend which lifts it for the write
func (p *ProcessImage) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writes++
	if len(data) == 0 {
		return nil
	}

	r, offset, err := p.span(addr, process.ProcessMemorySize(len(data)))
	if err != nil {
		return err
	}

	copy(r.data[offset:], data)
	return nil
}

func (p *ProcessImage) QueryRegion(addr process.ProcessMemoryAddress) (memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.find(uint64(addr))
	if r == nil {
		return memory_map.MemoryMapItem{Address: uint64(addr), State: memory_map.StateFree, Perms: "---p"}, nil
	}
	return r.item, nil
}

func (p *ProcessImage) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]memory_map.MemoryMapItem, 0, len(p.regions))
	for _, r := range p.regions {
		result = append(result, r.item)
	}
	return result, nil
}

func alignUp(v, to uint64) uint64 {
	return (v + to - 1) &^ (to - 1)
}

func (p *ProcessImage) overlaps(addr, size uint64) bool {
	for _, r := range p.regions {
		if addr < r.item.End() && r.item.Address < addr+size {
			return true
		}
	}
	return false
}

func (p *ProcessImage) Allocate(size process.ProcessMemorySize, near process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, process.ErrProcessNotOpen
	}
	if size == 0 {
		return 0, fmt.Errorf("zero sized allocation")
	}

	length := alignUp(uint64(size), pageSize)

	var addr uint64
	if near != 0 {
		if p.nearCursor == 0 || !process.InRel32Reach(near, process.ProcessMemoryAddress(p.nearCursor)) {
			p.nearCursor = alignUp(uint64(near), 0x10000) + 0x100000
		}
		for p.overlaps(p.nearCursor, length) {
			p.nearCursor += 0x10000
		}
		addr = p.nearCursor
		if !process.InRel32Reach(near, process.ProcessMemoryAddress(addr+length)) {
			return 0, fmt.Errorf("allocate %d bytes near 0x%x: %w", size, uint64(near), process.ErrNoNearbyMemory)
		}
		p.nearCursor = alignUp(addr+length, 0x10000)
	} else {
		for p.overlaps(p.farCursor, length) {
			p.farCursor += 0x10000
		}
		addr = p.farCursor
		p.farCursor = alignUp(addr+length, 0x10000)
	}

	p.insert(&region{
		item:      memory_map.MemoryMapItem{Address: addr, Size: uint(length), Perms: "rwxp", State: memory_map.StateCommit},
		data:      make([]byte, length),
		allocated: true,
	})
	p.allocs++

	p.log.Debugln("allocated", length, "bytes at", process.ProcessMemoryAddress(addr).ToString())
	return process.ProcessMemoryAddress(addr), nil
}

func (p *ProcessImage) Free(addr process.ProcessMemoryAddress) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.regions {
		if r.item.Address == uint64(addr) && r.allocated {
			p.regions = append(p.regions[:i], p.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("free 0x%x: not an allocation: %w", uint64(addr), process.ErrInvalidPointer)
}

func (p *ProcessImage) RunThread(entry, param process.ProcessMemoryAddress) (uint32, error) {
	p.mu.Lock()
	fn := p.thread
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return 0, process.ErrProcessNotOpen
	}
	if fn == nil {
		return 0, fmt.Errorf("remote thread at 0x%x: %w", uint64(entry), process.ErrUnsupported)
	}
	return fn(entry, param)
}

// Counters reports how many reads, writes and allocations the image has served
func (p *ProcessImage) Counters() (reads, writes, allocs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads, p.writes, p.allocs
}

func (p *ProcessImage) ResetCounters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads, p.writes, p.allocs = 0, 0, 0
}
