package proc

import (
	"fmt"
	"strings"
)

// UnknownRegisterError is returned when a register name is not part of
// the register file of the target architecture.
type UnknownRegisterError struct {
	Name string
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("unknown register %q", e.Name)
}

// MemoryAccessError is returned when the kernel refuses to read or write
// the memory of the tracee, usually because the address is not mapped.
type MemoryAccessError struct {
	Op   string
	Addr uint64
	Err  error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("could not %s memory at %#x: %v", e.Op, e.Addr, e.Err)
}

func (e *MemoryAccessError) Unwrap() error { return e.Err }

// CapacityExceededError is returned when a new breakpoint would exceed
// the configured maximum number of breakpoints.
type CapacityExceededError struct {
	Max int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("maximum number of breakpoints (%d) reached", e.Max)
}

// TraceRequestError describes a failed trace request, the address or
// register it operated on and the error returned by the kernel.
type TraceRequestError struct {
	Op   string
	Addr uint64
	Reg  string
	Err  error
}

func (e *TraceRequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ptrace %s failed", e.Op)
	if e.Reg != "" {
		fmt.Fprintf(&b, " (register %s)", e.Reg)
	} else if e.Addr != 0 {
		fmt.Fprintf(&b, " at %#x", e.Addr)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *TraceRequestError) Unwrap() error { return e.Err }

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// ErrProcessSignaled indicates that the process was terminated by a
// signal.
type ErrProcessSignaled struct {
	Pid    int
	Signal int
}

func (pe ErrProcessSignaled) Error() string {
	return fmt.Sprintf("Process %d was killed by %s", pe.Pid, SignalName(pe.Signal))
}

// ErrProcessUnreachable indicates that the process vanished without the
// debugger observing its exit.
type ErrProcessUnreachable struct {
	Pid int
	Err error
}

func (pe ErrProcessUnreachable) Error() string {
	return fmt.Sprintf("Process %d is no longer reachable: %v", pe.Pid, pe.Err)
}

func (pe ErrProcessUnreachable) Unwrap() error { return pe.Err }

// ProcessDetachedError indicates that we detached from the target process.
type ProcessDetachedError struct{}

func (pe ProcessDetachedError) Error() string {
	return "detached from the process"
}

// UnsupportedFrameLayoutError is returned by StepOut when the current
// frame does not maintain a conventional frame pointer chain and the
// return address can not be located.
type UnsupportedFrameLayoutError struct {
	Rbp    uint64
	Rsp    uint64
	Reason string
}

func (e *UnsupportedFrameLayoutError) Error() string {
	return fmt.Sprintf("can not step out: %s (rbp=%#x rsp=%#x)", e.Reason, e.Rbp, e.Rsp)
}

// NoBreakpointError is returned when trying to clear, enable or disable
// a breakpoint that does not exist.
type NoBreakpointError struct {
	Addr uint64
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint at %#x", nbp.Addr)
}
