//go:build !linux || !amd64
// +build !linux !amd64

package native

import (
	"github.com/go-delve/minidbg/pkg/proc"
)

// Launch returns ErrNativeBackendDisabled.
func Launch(_ []string, _ string, _ proc.LaunchFlags, _ string) (*Process, error) {
	return nil, ErrNativeBackendDisabled
}

// Attach returns ErrNativeBackendDisabled.
func Attach(_ int) (*Process, error) {
	return nil, ErrNativeBackendDisabled
}

// EntryPoint returns ErrNativeBackendDisabled.
func (dbp *Process) EntryPoint() (uint64, error) {
	return 0, ErrNativeBackendDisabled
}

// PeekWord returns ErrNativeBackendDisabled.
func (dbp *Process) PeekWord(addr uint64) (uint64, error) {
	return 0, ErrNativeBackendDisabled
}

// PokeWord returns ErrNativeBackendDisabled.
func (dbp *Process) PokeWord(addr, word uint64) error {
	return ErrNativeBackendDisabled
}

// GetRegs returns ErrNativeBackendDisabled.
func (dbp *Process) GetRegs(regs *proc.AMD64PtraceRegs) error {
	return ErrNativeBackendDisabled
}

// SetRegs returns ErrNativeBackendDisabled.
func (dbp *Process) SetRegs(regs *proc.AMD64PtraceRegs) error {
	return ErrNativeBackendDisabled
}

// Cont returns ErrNativeBackendDisabled.
func (dbp *Process) Cont(sig int) error {
	return ErrNativeBackendDisabled
}

// SingleStep returns ErrNativeBackendDisabled.
func (dbp *Process) SingleStep(sig int) error {
	return ErrNativeBackendDisabled
}

// Wait returns ErrNativeBackendDisabled.
func (dbp *Process) Wait() (proc.WaitStatus, error) {
	return proc.WaitStatus{}, ErrNativeBackendDisabled
}

// Siginfo returns ErrNativeBackendDisabled.
func (dbp *Process) Siginfo() (proc.Siginfo, error) {
	return proc.Siginfo{}, ErrNativeBackendDisabled
}

// Kill returns ErrNativeBackendDisabled.
func (dbp *Process) Kill() error {
	return ErrNativeBackendDisabled
}

// Detach returns ErrNativeBackendDisabled.
func (dbp *Process) Detach(kill bool) error {
	return ErrNativeBackendDisabled
}

// Interrupt returns ErrNativeBackendDisabled.
func (dbp *Process) Interrupt() error {
	return ErrNativeBackendDisabled
}
