//go:build linux

package process_linux

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rngtrainer/process"
)

// LinuxProcessFinder implements the process.ProcessFinder interface over /proc
type LinuxProcessFinder struct{}

// NewProcessFinder creates a new LinuxProcessFinder
func NewProcessFinder() process.ProcessFinder {
	return &LinuxProcessFinder{}
}

// FindProcess returns the lowest PID whose name is name
func FindProcess(name string) (process.ProcessID, error) {
	processes, err := NewProcessFinder().FindProcessByName(name)
	if err != nil {
		return 0, err
	}
	if len(processes) == 0 {
		return 0, fmt.Errorf("%q: %w", name, process.ErrProcessNotFound)
	}

	pid := processes[0].PID
	for _, p := range processes[1:] {
		if p.PID < pid {
			pid = p.PID
		}
	}
	return pid, nil
}

// FindProcessByPID finds a process by its PID
func (f *LinuxProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	info, err := getProcessInfo(pid)
	if err != nil {
		return nil, fmt.Errorf("pid %d: %v: %w", pid, err, process.ErrProcessNotFound)
	}
	return info, nil
}

// FindProcessByName finds processes by name, ignoring case. Wine processes
// are matched by the Windows executable in their command line.
func (f *LinuxProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	all, err := f.FindAllProcesses()
	if err != nil {
		return nil, err
	}

	var results []process.ProcessInfo
	for _, info := range all {
		if strings.EqualFold(info.Name, name) {
			results = append(results, info)
		}
	}
	return results, nil
}

// FindAllProcesses returns information about all running processes
func (f *LinuxProcessFinder) FindAllProcesses() ([]process.ProcessInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	self := os.Getpid()
	var results []process.ProcessInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 || pid == self {
			continue
		}

		info, err := getProcessInfo(process.ProcessID(pid))
		if err != nil {
			// exited while we were reading
			continue
		}
		results = append(results, *info)
	}
	return results, nil
}

func getProcessInfo(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	comm, err := os.ReadFile(filepath.Join(procPath, "comm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}

	// kernel threads have neither
	exe, _ := os.Readlink(filepath.Join(procPath, "exe"))
	cmdline, _ := os.ReadFile(filepath.Join(procPath, "cmdline"))

	info := &process.ProcessInfo{
		PID:  pid,
		Name: processName(strings.TrimSpace(string(comm)), exe, cmdline),
	}

	if status, err := os.ReadFile(filepath.Join(procPath, "status")); err == nil {
		info.PPID, info.Threads = parseStatus(status)
	}
	return info, nil
}

// processName prefers the Windows executable named by argv[0], then the
// binary's file name, then comm, which the kernel truncates to 15 bytes.
func processName(comm, exe string, cmdline []byte) string {
	argv0, _, _ := bytes.Cut(cmdline, []byte{0})
	if name := baseName(string(argv0)); strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name
	}
	if exe != "" {
		return filepath.Base(exe)
	}
	return comm
}

func parseStatus(status []byte) (ppid process.ProcessID, threads int) {
	for _, line := range strings.Split(string(status), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "PPid":
			if v, err := strconv.Atoi(value); err == nil {
				ppid = process.ProcessID(v)
			}
		case "Threads":
			if v, err := strconv.Atoi(value); err == nil {
				threads = v
			}
		}
	}
	return ppid, threads
}
