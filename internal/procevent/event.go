package procevent

import "fmt"

// Kind is the proc_event discriminant from linux/cn_proc.h.
type Kind uint32

// Event kinds the kernel may send.
const (
	KindNone        Kind = 0x00000000
	KindFork        Kind = 0x00000001
	KindExec        Kind = 0x00000002
	KindUID         Kind = 0x00000004
	KindGID         Kind = 0x00000040
	KindSID         Kind = 0x00000080
	KindPtrace      Kind = 0x00000100
	KindComm        Kind = 0x00000200
	KindNonzeroExit Kind = 0x20000000
	KindCoredump    Kind = 0x40000000
	KindExit        Kind = 0x80000000
)

var kindNames = map[Kind]string{
	KindNone:        "none",
	KindFork:        "fork",
	KindExec:        "exec",
	KindUID:         "uid",
	KindGID:         "gid",
	KindSID:         "sid",
	KindPtrace:      "ptrace",
	KindComm:        "comm",
	KindNonzeroExit: "nonzero_exit",
	KindCoredump:    "coredump",
	KindExit:        "exit",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%#x)", uint32(k))
}

// Event is one decoded process event. It holds copies of the wire fields and
// does not reference the datagram it came from.
type Event struct {
	Kind Kind
	CPU  uint32
	// Timestamp is nanoseconds since boot, as stamped by the kernel.
	Timestamp uint64

	ParentPID  int
	ParentTGID int
	ChildPID   int
	ChildTGID  int
}

// IsThread reports whether the fork created a thread rather than a process.
func (e Event) IsThread() bool {
	return e.ChildPID != e.ChildTGID
}
