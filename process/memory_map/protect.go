package memory_map

// Windows page protection values
const (
	PageNoAccess         = 0x01
	PageReadOnly         = 0x02
	PageReadWrite        = 0x04
	PageWriteCopy        = 0x08
	PageExecute          = 0x10
	PageExecuteRead      = 0x20
	PageExecuteReadWrite = 0x40
	PageExecuteWriteCopy = 0x80
	PageGuard            = 0x100
)

// Windows region states and types
const (
	MemCommit  = 0x1000
	MemReserve = 0x2000
	MemFree    = 0x10000
	MemPrivate = 0x20000
)

// PermsFromProtect converts a page protection value into a maps-style permission string
func PermsFromProtect(protect uint32, memType uint32) string {
	perms := []byte("---s")
	if memType == MemPrivate {
		perms[3] = 'p'
	}

	if protect&PageGuard != 0 {
		return string(perms)
	}

	switch protect &^ 0x700 {
	case PageReadOnly:
		perms[0] = 'r'
	case PageReadWrite, PageWriteCopy:
		perms[0], perms[1] = 'r', 'w'
	case PageExecute:
		perms[2] = 'x'
	case PageExecuteRead:
		perms[0], perms[2] = 'r', 'x'
	case PageExecuteReadWrite, PageExecuteWriteCopy:
		perms[0], perms[1], perms[2] = 'r', 'w', 'x'
	}

	return string(perms)
}

// StateFromMem converts a region state value into one of the State constants
func StateFromMem(state uint32) string {
	switch state {
	case MemCommit:
		return StateCommit
	case MemReserve:
		return StateReserve
	default:
		return StateFree
	}
}
