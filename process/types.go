package process

// ProcessID represents a unique identifier for a process
type ProcessID int

// ProcessInfo contains basic information about a process
type ProcessInfo struct {
	PID     ProcessID // Process ID
	PPID    ProcessID // Parent Process ID
	Name    string    // Executable name
	Threads int       // Number of threads
}

// Module describes the image a process was attached through.
// Base <= End always holds; End is exclusive.
type Module struct {
	Name string
	Base ProcessMemoryAddress
	End  ProcessMemoryAddress
}

func (m Module) Size() ProcessMemorySize {
	return ProcessMemorySize(m.End - m.Base)
}

func (m Module) Contains(addr ProcessMemoryAddress) bool {
	return addr >= m.Base && addr < m.End
}
