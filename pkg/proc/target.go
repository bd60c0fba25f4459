package proc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/minidbg/pkg/logflags"
)

// State is the lifecycle state of the tracee as seen by the Target.
type State uint8

const (
	StateStopped State = iota
	StateRunning
	StateExited
	StateSignaled
	StateUnreachable
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateSignaled:
		return "signaled"
	case StateUnreachable:
		return "unreachable"
	case StateDetached:
		return "detached"
	}
	return "unknown"
}

// SignalPolicy decides what happens to a signal that stopped the tracee
// when execution is resumed.
type SignalPolicy uint8

const (
	// SignalPass delivers the signal to the tracee on the next resume.
	SignalPass SignalPolicy = iota
	// SignalSuppress discards the signal.
	SignalSuppress
)

func (p SignalPolicy) String() string {
	if p == SignalSuppress {
		return "suppress"
	}
	return "pass"
}

// ParseSignalPolicy parses "pass" or "suppress".
func ParseSignalPolicy(s string) (SignalPolicy, error) {
	switch strings.ToLower(s) {
	case "pass", "":
		return SignalPass, nil
	case "suppress":
		return SignalSuppress, nil
	}
	return SignalPass, fmt.Errorf("invalid signal policy %q (must be pass or suppress)", s)
}

// Config contains the configuration for a new Target object.
type Config struct {
	MaxBreakpoints int          // Maximum number of breakpoints, 0 means unlimited.
	SignalPolicy   SignalPolicy // What to do with signals on resume.
	StopReason     StopReason   // Initial stop reason.
}

// Target is the execution controller of a debugging session. It owns the
// breakpoint table and is the only user of the Tracee.
type Target struct {
	tracee Tracee
	mem    *traceeMemory
	arch   *AMD64
	cfg    Config

	breakpoints BreakpointMap

	state      State
	exitStatus int
	termSignal int
	lastErr    error

	// pendingSignal is the signal that stopped the tracee, to be delivered
	// on the next resume according to the signal policy.
	pendingSignal int
	// faulted is set after a fatal signal; the signal is always delivered
	// on resume.
	faulted bool
	// resumes counts the resume requests accepted by the tracee.
	resumes uint64

	// manualStopRequested is set by RequestManualStop until the SIGINT it
	// sent is reported.
	manualStopMutex     sync.Mutex
	manualStopRequested bool

	lastStop *StopEvent
}

// NewTarget returns a Target controlling t, which must be stopped.
func NewTarget(t Tracee, cfg Config) *Target {
	arch := AMD64Arch()
	tgt := &Target{
		tracee:      t,
		mem:         &traceeMemory{tracee: t},
		arch:        arch,
		cfg:         cfg,
		breakpoints: NewBreakpointMap(arch, cfg.MaxBreakpoints),
		state:       StateStopped,
	}
	tgt.lastStop = &StopEvent{Reason: cfg.StopReason}
	if pc, err := tgt.pc(); err == nil {
		tgt.lastStop.PC = pc
	}
	return tgt
}

// Pid returns the process id of the tracee.
func (t *Target) Pid() int {
	return t.tracee.Pid()
}

// State returns the lifecycle state of the tracee.
func (t *Target) State() State {
	return t.state
}

// Exited returns true if the tracee is gone.
func (t *Target) Exited() bool {
	return t.state == StateExited || t.state == StateSignaled || t.state == StateUnreachable
}

// Faulted returns true if the tracee stopped for a fatal signal.
func (t *Target) Faulted() bool {
	return t.faulted
}

// LastStop returns the event of the last stop.
func (t *Target) LastStop() *StopEvent {
	return t.lastStop
}

// Arch returns the architecture of the tracee.
func (t *Target) Arch() *AMD64 {
	return t.arch
}

// SignalPolicy returns the current signal policy.
func (t *Target) SignalPolicy() SignalPolicy {
	return t.cfg.SignalPolicy
}

// SetSignalPolicy changes the signal policy.
func (t *Target) SetSignalPolicy(p SignalPolicy) {
	t.cfg.SignalPolicy = p
}

func (t *Target) checkAlive() error {
	switch t.state {
	case StateExited:
		return ErrProcessExited{Pid: t.Pid(), Status: t.exitStatus}
	case StateSignaled:
		return ErrProcessSignaled{Pid: t.Pid(), Signal: t.termSignal}
	case StateUnreachable:
		return ErrProcessUnreachable{Pid: t.Pid(), Err: t.lastErr}
	case StateDetached:
		return ProcessDetachedError{}
	}
	return nil
}

// Breakpoints returns the user breakpoints sorted by ID.
func (t *Target) Breakpoints() []*Breakpoint {
	return t.breakpoints.List()
}

// FindBreakpoint returns the breakpoint at addr.
func (t *Target) FindBreakpoint(addr uint64) (*Breakpoint, bool) {
	return t.breakpoints.Find(addr)
}

// SetBreakpoint creates a breakpoint at addr, or reuses the existing one,
// and enables it.
func (t *Target) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	_, existed := t.breakpoints.Find(addr)
	bp, err := t.breakpoints.FindOrCreate(addr, UserBreakpoint)
	if err != nil {
		return nil, err
	}
	if err := t.breakpoints.Enable(t.mem, bp); err != nil {
		if !existed {
			delete(t.breakpoints.M, addr)
		}
		return nil, err
	}
	logflags.DebuggerLogger().Debugf("breakpoint %d set at %#x", bp.ID, addr)
	return bp, nil
}

// ClearBreakpoint removes the breakpoint at addr, restoring the original
// instruction.
func (t *Target) ClearBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	return t.breakpoints.Remove(t.mem, addr)
}

// EnableBreakpoint enables the breakpoint at addr.
func (t *Target) EnableBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	bp, ok := t.breakpoints.Find(addr)
	if !ok {
		return nil, NoBreakpointError{Addr: addr}
	}
	return bp, t.breakpoints.Enable(t.mem, bp)
}

// DisableBreakpoint disables the breakpoint at addr without removing it.
func (t *Target) DisableBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	bp, ok := t.breakpoints.Find(addr)
	if !ok {
		return nil, NoBreakpointError{Addr: addr}
	}
	return bp, t.breakpoints.Disable(t.mem, bp)
}

// resumeSignal returns the signal to deliver on the next resume and
// forgets it.
func (t *Target) resumeSignal() int {
	sig := t.pendingSignal
	t.pendingSignal = 0
	if t.faulted || t.cfg.SignalPolicy == SignalPass {
		return sig
	}
	return 0
}

// Continue resumes the tracee until its next stop. If the program counter
// is on an enabled breakpoint the original instruction is executed first.
func (t *Target) Continue() (*StopEvent, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	if !t.faulted {
		ev, stepped, err := t.stepOverBreakpoint(0)
		if err != nil {
			return nil, err
		}
		if stepped && ev.Reason != StopSingleStep {
			return ev, nil
		}
	}
	pending := t.pendingSignal
	sig := t.resumeSignal()
	if logflags.Debugger() {
		logflags.DebuggerLogger().Debugf("continue pid=%d sig=%d", t.Pid(), sig)
	}
	t.state = StateRunning
	if err := t.tracee.Cont(sig); err != nil {
		t.state = StateStopped
		t.pendingSignal = pending
		return nil, &TraceRequestError{Op: "cont", Err: err}
	}
	t.resumes++
	return t.wait()
}

// StepInstruction executes exactly one instruction. If the program
// counter is on an enabled breakpoint the original instruction is
// executed and the breakpoint is put back.
func (t *Target) StepInstruction() (*StopEvent, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	pending, resumes := t.pendingSignal, t.resumes
	sig := t.resumeSignal()
	ev, err := t.stepInstruction(sig)
	if err != nil && t.resumes == resumes {
		// the tracee never ran, sig was not delivered
		t.pendingSignal = pending
	}
	return ev, err
}

func (t *Target) stepInstruction(sig int) (*StopEvent, error) {
	if !t.faulted {
		ev, stepped, err := t.stepOverBreakpoint(sig)
		if stepped || err != nil {
			return ev, err
		}
	}
	return t.singleStep(sig)
}

// stepOverBreakpoint disables the breakpoint under the program counter,
// single steps and enables it again. It does nothing and returns false if
// there is no enabled breakpoint at the program counter.
func (t *Target) stepOverBreakpoint(sig int) (*StopEvent, bool, error) {
	pc, err := t.pc()
	if err != nil {
		return nil, false, err
	}
	bp, ok := t.breakpoints.Find(pc)
	if !ok || !bp.Enabled {
		return nil, false, nil
	}
	if logflags.Debugger() {
		logflags.DebuggerLogger().Debugf("stepping over breakpoint %d at %#x", bp.ID, pc)
	}
	if err := t.breakpoints.Disable(t.mem, bp); err != nil {
		return nil, true, err
	}
	ev, err := t.singleStep(sig)
	if t.state == StateStopped {
		if err1 := t.breakpoints.Enable(t.mem, bp); err1 != nil && err == nil {
			err = err1
		}
	}
	return ev, true, err
}

func (t *Target) singleStep(sig int) (*StopEvent, error) {
	t.state = StateRunning
	if err := t.tracee.SingleStep(sig); err != nil {
		t.state = StateStopped
		return nil, &TraceRequestError{Op: "singlestep", Err: err}
	}
	t.resumes++
	return t.wait()
}

// wait waits for the tracee to stop and classifies the stop.
func (t *Target) wait() (*StopEvent, error) {
	ws, err := t.tracee.Wait()
	if err != nil {
		if errors.Is(err, syscall.ECHILD) || errors.Is(err, syscall.ESRCH) {
			t.state = StateUnreachable
			t.lastErr = err
			return nil, ErrProcessUnreachable{Pid: t.Pid(), Err: err}
		}
		t.state = StateStopped
		return nil, &TraceRequestError{Op: "wait", Err: err}
	}
	ev, err := t.dispatch(ws)
	if err != nil {
		return nil, err
	}
	t.lastStop = ev
	if logflags.Debugger() {
		logflags.DebuggerLogger().Debugf("stopped: %s", ev)
	}
	return ev, nil
}

// RequestManualStop interrupts the running tracee. The stop is reported
// as StopManual and the SIGINT used to cause it is never delivered to the
// tracee. It can be called from a goroutine other than the one resuming
// the tracee.
func (t *Target) RequestManualStop() error {
	t.manualStopMutex.Lock()
	t.manualStopRequested = true
	t.manualStopMutex.Unlock()
	if err := t.tracee.Interrupt(); err != nil {
		t.takeManualStop()
		return err
	}
	return nil
}

// takeManualStop reports whether a manual stop was requested and clears
// the request.
func (t *Target) takeManualStop() bool {
	t.manualStopMutex.Lock()
	defer t.manualStopMutex.Unlock()
	r := t.manualStopRequested
	t.manualStopRequested = false
	return r
}

// StepOut continues until the current function returns to its caller.
// The return address is read from the stack slot above the saved frame
// pointer, so the current function must maintain a frame pointer chain.
// If anything else stops the tracee first that stop is returned and the
// step out is abandoned.
func (t *Target) StepOut() (*StopEvent, error) {
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	if t.faulted {
		return nil, errors.New("can not step out of a process stopped by a fatal signal")
	}
	rbp, rsp := regs.BP(), regs.SP()
	ptrSize := uint64(t.arch.PtrSize())
	layoutErr := func(reason string) error {
		return &UnsupportedFrameLayoutError{Rbp: rbp, Rsp: rsp, Reason: reason}
	}
	switch {
	case rbp == 0:
		return nil, layoutErr("frame pointer is zero")
	case rbp%ptrSize != 0:
		return nil, layoutErr("frame pointer is not aligned")
	case rbp < rsp:
		return nil, layoutErr("frame pointer is below the stack pointer")
	}
	retaddr, err := t.mem.readWord(rbp + ptrSize)
	if err != nil {
		return nil, err
	}
	if retaddr == 0 {
		return nil, layoutErr("return address is zero")
	}
	// Once the frame has returned the stack pointer is above the slot
	// holding the return address.
	cfa := rbp + 2*ptrSize
	logflags.DebuggerLogger().Debugf("step out to %#x (cfa %#x)", retaddr, cfa)

	return t.continueToTemp(retaddr, StepOutBreakpoint, StopStepOutFinished, func() (bool, error) {
		sp, err := t.ReadRegister(RegRsp)
		if err != nil {
			return false, err
		}
		return sp >= cfa, nil
	})
}

// RunTo continues until the tracee reaches addr.
func (t *Target) RunTo(addr uint64) (*StopEvent, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	return t.continueToTemp(addr, RunToBreakpoint, StopRunToFinished, nil)
}

// continueToTemp plants a temporary breakpoint of the given kind at addr
// and continues until it is hit with done returning true. The breakpoint
// is removed, or returned to its previous state, before returning.
func (t *Target) continueToTemp(addr uint64, kind BreakpointKind, reason StopReason, done func() (bool, error)) (ev *StopEvent, err error) {
	prev, existed := t.breakpoints.Find(addr)
	wasEnabled := existed && prev.Enabled
	bp, err := t.breakpoints.FindOrCreate(addr, kind)
	if err != nil {
		return nil, err
	}
	defer func() {
		err1 := t.restoreTemp(bp, kind, existed, wasEnabled)
		if err == nil {
			err = err1
		}
	}()
	if err := t.breakpoints.Enable(t.mem, bp); err != nil {
		return nil, err
	}

	for {
		ev, err := t.Continue()
		if err != nil || ev.Reason != StopBreakpoint || ev.Breakpoint != bp {
			return ev, err
		}
		finished := true
		if done != nil {
			finished, err = done()
			if err != nil {
				return ev, err
			}
		}
		if finished {
			if !wasEnabled {
				// the hit is ours, not the user's
				bp.TotalHitCount--
			}
			ev.Reason = reason
			return ev, nil
		}
		if wasEnabled {
			// a deeper frame hit a breakpoint the user had set
			return ev, nil
		}
		bp.TotalHitCount--
	}
}

func (t *Target) restoreTemp(bp *Breakpoint, kind BreakpointKind, existed, wasEnabled bool) error {
	if t.Exited() {
		bp.Kind &^= kind
		if bp.Kind == 0 {
			delete(t.breakpoints.M, bp.Addr)
		}
		return nil
	}
	if !existed {
		return t.breakpoints.ClearKind(t.mem, bp, kind)
	}
	bp.Kind &^= kind
	if !wasEnabled {
		return t.breakpoints.Disable(t.mem, bp)
	}
	return nil
}

// Detach restores every breakpoint and detaches from the tracee,
// optionally killing it.
func (t *Target) Detach(kill bool) error {
	if t.Exited() || t.state == StateDetached {
		return nil
	}
	if !kill {
		for _, bp := range t.breakpoints.M {
			if err := t.breakpoints.Disable(t.mem, bp); err != nil {
				return err
			}
		}
	}
	if err := t.tracee.Detach(kill); err != nil {
		return &TraceRequestError{Op: "detach", Err: err}
	}
	if kill {
		t.state = StateSignaled
		t.termSignal = SIGKILL
	} else {
		t.state = StateDetached
	}
	return nil
}

// LaunchFlags specifies how a new process is started.
type LaunchFlags uint8

const (
	// LaunchDisableASLR starts the process with address space
	// randomization turned off.
	LaunchDisableASLR LaunchFlags = 1 << iota
)
