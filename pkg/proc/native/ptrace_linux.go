//go:build linux && amd64
// +build linux,amd64

package native

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/minidbg/pkg/proc"
)

// ptraceAttach executes the sys.PtraceAttach call.
func ptraceAttach(pid int) error {
	return sys.PtraceAttach(pid)
}

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(tid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT
func ptraceCont(tid, sig int) error {
	return sys.PtraceCont(tid, sig)
}

// ptraceSingleStep executes ptrace PTRACE_SINGLESTEP
func ptraceSingleStep(pid, sig int) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(pid), uintptr(0), uintptr(sig), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptracePeekData reads one word with PTRACE_PEEKDATA. The raw system call
// stores the word at the address passed as data.
func ptracePeekData(pid int, addr uint64) (uint64, error) {
	var word uint64
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_PEEKDATA, uintptr(pid), uintptr(addr), uintptr(unsafe.Pointer(&word)), 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return word, nil
}

// ptracePokeData writes one word with PTRACE_POKEDATA.
func ptracePokeData(pid int, addr, word uint64) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_POKEDATA, uintptr(pid), uintptr(addr), uintptr(word), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptraceGetRegs and ptraceSetRegs transfer the whole general purpose
// register set, proc.AMD64PtraceRegs has the same layout as the kernel's
// user_regs_struct.
func ptraceGetRegs(pid int, regs *proc.AMD64PtraceRegs) error {
	return sys.PtraceGetRegs(pid, (*sys.PtraceRegs)(regs))
}

func ptraceSetRegs(pid int, regs *proc.AMD64PtraceRegs) error {
	return sys.PtraceSetRegs(pid, (*sys.PtraceRegs)(regs))
}

type ptraceSiginfo struct {
	signo int32
	errno int32
	code  int32
	_     int32
	addr  uint64    // only valid if signo is SIGTRAP, SIGFPE, SIGILL, SIGBUS or SIGSEGV
	pad   [104]byte // siginfo_t is 128 bytes on amd64
}

// ptraceGetSiginfo executes ptrace PTRACE_GETSIGINFO.
func ptraceGetSiginfo(pid int) (proc.Siginfo, error) {
	var si ptraceSiginfo
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETSIGINFO, uintptr(pid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if e1 != 0 {
		return proc.Siginfo{}, e1
	}
	return proc.Siginfo{Signo: int(si.signo), Code: int(si.code), Addr: si.addr}, nil
}
