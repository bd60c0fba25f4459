package proc

import (
	"fmt"

	"github.com/go-delve/minidbg/pkg/logflags"
)

// StopReason describes the reason why the target process is stopped.
type StopReason uint8

const (
	StopUnknown             StopReason = iota
	StopLaunched                       // The process was just launched
	StopAttached                       // The debugger stopped the process after attaching
	StopManual                         // The debugger interrupted the running process
	StopBreakpoint                     // The target process hit a software breakpoint of the table
	StopHardcodedBreakpoint            // The target process executed a breakpoint instruction that is not in the table
	StopSingleStep                     // A single step completed
	StopStepOutFinished                // The stepout command terminated
	StopRunToFinished                  // RunTo reached its destination
	StopTrap                           // A SIGTRAP that is neither a breakpoint nor a single step
	StopSignal                         // The target process received a signal
	StopFatalSignal                    // The target process received a signal it can not survive
	StopExited                         // The target process terminated
	StopKilled                         // The target process was terminated by a signal
)

// String maps StopReason to string representation.
func (sr StopReason) String() string {
	switch sr {
	case StopUnknown:
		return "unknown"
	case StopLaunched:
		return "launched"
	case StopAttached:
		return "attached"
	case StopManual:
		return "manual stop"
	case StopBreakpoint:
		return "breakpoint"
	case StopHardcodedBreakpoint:
		return "hardcoded breakpoint"
	case StopSingleStep:
		return "single step"
	case StopStepOutFinished:
		return "step out finished"
	case StopRunToFinished:
		return "run to finished"
	case StopTrap:
		return "trap"
	case StopSignal:
		return "signal"
	case StopFatalSignal:
		return "fatal signal"
	case StopExited:
		return "exited"
	case StopKilled:
		return "killed"
	default:
		return ""
	}
}

// Terminal returns true if execution can not meaningfully continue after
// a stop for this reason.
func (sr StopReason) Terminal() bool {
	return sr == StopFatalSignal || sr == StopExited || sr == StopKilled
}

// StopEvent is the classified result of a tracee stop.
type StopEvent struct {
	Reason StopReason
	PC     uint64 // Program counter after any correction.

	Signal  int    // Signal that caused the stop, or that killed the process.
	SigCode int    // si_code of the signal.
	Addr    uint64 // si_addr of the signal, the faulting address for SIGSEGV and SIGBUS.

	// Breakpoint is the breakpoint that was hit or, for single steps, the
	// enabled breakpoint the step landed on.
	Breakpoint *Breakpoint

	ExitStatus int
}

func (ev *StopEvent) String() string {
	switch ev.Reason {
	case StopExited:
		return fmt.Sprintf("exited with status %d", ev.ExitStatus)
	case StopKilled:
		return fmt.Sprintf("killed by %s", SignalName(ev.Signal))
	case StopBreakpoint:
		return fmt.Sprintf("hit breakpoint %d at %#x", ev.Breakpoint.ID, ev.PC)
	case StopSignal, StopFatalSignal:
		return fmt.Sprintf("%s: %s at %#x", ev.Reason, SignalName(ev.Signal), ev.PC)
	}
	return fmt.Sprintf("%s at %#x", ev.Reason, ev.PC)
}

func isFatalSignal(sig int) bool {
	switch sig {
	case SIGSEGV, SIGBUS, SIGILL, SIGFPE:
		return true
	}
	return false
}

// dispatch classifies the stop described by ws and corrects the program
// counter after a breakpoint trap. It never resumes the tracee.
func (t *Target) dispatch(ws WaitStatus) (*StopEvent, error) {
	log := logflags.TrapLogger()
	switch {
	case ws.Exited:
		t.takeManualStop()
		t.state = StateExited
		t.exitStatus = ws.ExitStatus
		log.Debugf("process %d exited with status %d", t.Pid(), ws.ExitStatus)
		return &StopEvent{Reason: StopExited, ExitStatus: ws.ExitStatus}, nil
	case ws.Signaled:
		t.takeManualStop()
		t.state = StateSignaled
		t.termSignal = ws.Signal
		log.Debugf("process %d killed by %s", t.Pid(), SignalName(ws.Signal))
		return &StopEvent{Reason: StopKilled, Signal: ws.Signal}, nil
	case !ws.Stopped:
		return nil, fmt.Errorf("unexpected wait status %+v", ws)
	}

	t.state = StateStopped
	si, err := t.tracee.Siginfo()
	if err != nil {
		return nil, &TraceRequestError{Op: "getsiginfo", Err: err}
	}
	sig := ws.StopSignal
	if si.Signo != 0 {
		sig = si.Signo
	}
	pc, err := t.pc()
	if err != nil {
		return nil, err
	}
	if logflags.Trap() {
		log.Debugf("stop: signal=%s code=%#x pc=%#x", SignalName(sig), si.Code, pc)
	}

	if sig == SIGTRAP {
		return t.dispatchTrap(si, pc)
	}
	if sig == SIGINT && t.takeManualStop() {
		return &StopEvent{Reason: StopManual, PC: pc, Signal: sig}, nil
	}

	ev := &StopEvent{Reason: StopSignal, PC: pc, Signal: sig, SigCode: si.Code, Addr: si.Addr}
	if isFatalSignal(sig) {
		ev.Reason = StopFatalSignal
		t.faulted = true
	}
	if t.pendingSignal != 0 && t.pendingSignal != sig {
		log.Debugf("dropping pending %s", SignalName(t.pendingSignal))
	}
	t.pendingSignal = sig
	return ev, nil
}

func (t *Target) dispatchTrap(si Siginfo, pc uint64) (*StopEvent, error) {
	switch si.Code {
	case _SI_KERNEL, _TRAP_BRKPT:
		bpaddr := pc - uint64(t.arch.BreakpointSize())
		bp, ok := t.breakpoints.Find(bpaddr)
		if !ok || !bp.Enabled {
			return &StopEvent{Reason: StopHardcodedBreakpoint, PC: pc, Signal: SIGTRAP, SigCode: si.Code}, nil
		}
		// The breakpoint instruction was executed, move back to the
		// instruction it replaced.
		if err := t.setPC(bpaddr); err != nil {
			return nil, err
		}
		bp.TotalHitCount++
		return &StopEvent{Reason: StopBreakpoint, PC: bpaddr, Signal: SIGTRAP, SigCode: si.Code, Breakpoint: bp}, nil

	case _TRAP_TRACE:
		ev := &StopEvent{Reason: StopSingleStep, PC: pc, Signal: SIGTRAP, SigCode: si.Code}
		if bp, ok := t.breakpoints.Find(pc); ok && bp.Enabled {
			ev.Breakpoint = bp
		}
		return ev, nil
	}

	return &StopEvent{Reason: StopTrap, PC: pc, Signal: SIGTRAP, SigCode: si.Code, Addr: si.Addr}, nil
}
