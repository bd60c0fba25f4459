package proc

import "strconv"

// Tracee is the kernel trace interface to a single stopped process.
// Every method corresponds to one trace request; none of them retry.
// Implementations are not required to be safe for concurrent use, a
// Tracee is driven by exactly one Target. Interrupt is the exception: it
// is called while another goroutine waits on the tracee.
type Tracee interface {
	// Pid returns the process id of the tracee.
	Pid() int

	// PeekWord reads the machine word at addr.
	PeekWord(addr uint64) (uint64, error)
	// PokeWord writes the machine word at addr.
	PokeWord(addr, word uint64) error

	// GetRegs fills regs with the full register snapshot.
	GetRegs(regs *AMD64PtraceRegs) error
	// SetRegs stores regs as the full register snapshot.
	SetRegs(regs *AMD64PtraceRegs) error

	// Cont resumes the tracee delivering sig (0 for none).
	Cont(sig int) error
	// SingleStep executes one instruction delivering sig (0 for none).
	SingleStep(sig int) error
	// Wait blocks until the tracee changes state.
	Wait() (WaitStatus, error)
	// Siginfo returns the signal metadata of the current stop.
	Siginfo() (Siginfo, error)

	// Kill terminates the tracee and reaps it.
	Kill() error
	// Detach stops tracing, killing the process if kill is set.
	Detach(kill bool) error

	// Interrupt sends SIGINT to the running tracee so that it stops.
	Interrupt() error
}

// WaitStatus is the decoded result of waiting on the tracee.
type WaitStatus struct {
	Exited     bool
	ExitStatus int
	Signaled   bool
	Signal     int
	Stopped    bool
	StopSignal int
}

// Siginfo holds the fields of the kernel siginfo structure used to
// classify a stop.
type Siginfo struct {
	Signo int
	Code  int
	Addr  uint64
}

// Signal numbers the core needs to reason about. They are the same on
// every Linux architecture.
const (
	SIGINT  = 0x2
	SIGILL  = 0x4
	SIGTRAP = 0x5
	SIGBUS  = 0x7
	SIGFPE  = 0x8
	SIGKILL = 0x9
	SIGSEGV = 0xb
	SIGSTOP = 0x13
)

// si_code values for SIGTRAP.
const (
	_TRAP_BRKPT = 0x1
	_TRAP_TRACE = 0x2
	_SI_KERNEL  = 0x80
)

// SignalName returns a human readable name for sig.
func SignalName(sig int) string {
	switch sig {
	case SIGILL:
		return "SIGILL"
	case SIGTRAP:
		return "SIGTRAP"
	case SIGBUS:
		return "SIGBUS"
	case SIGFPE:
		return "SIGFPE"
	case SIGKILL:
		return "SIGKILL"
	case SIGSEGV:
		return "SIGSEGV"
	case SIGSTOP:
		return "SIGSTOP"
	case 0x1:
		return "SIGHUP"
	case SIGINT:
		return "SIGINT"
	case 0x3:
		return "SIGQUIT"
	case 0x6:
		return "SIGABRT"
	case 0xa:
		return "SIGUSR1"
	case 0xc:
		return "SIGUSR2"
	case 0xd:
		return "SIGPIPE"
	case 0xe:
		return "SIGALRM"
	case 0xf:
		return "SIGTERM"
	case 0x11:
		return "SIGCHLD"
	case 0x12:
		return "SIGCONT"
	}
	return "signal " + strconv.Itoa(sig)
}

