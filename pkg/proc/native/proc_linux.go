//go:build linux && amd64
// +build linux,amd64

package native

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/minidbg/pkg/logflags"
	"github.com/go-delve/minidbg/pkg/proc"
	"github.com/go-delve/minidbg/pkg/proc/linutil"
)

const (
	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant
)

// Launch creates and begins debugging a new process. First entry in
// `cmd` is the program to run, and then rest are the arguments
// to be supplied to that process. `wd` is working directory of the program.
// If tty is not empty the process uses it as its controlling terminal.
// The returned process is stopped right after execve, before the dynamic
// loader runs.
func Launch(cmd []string, wd string, flags proc.LaunchFlags, tty string) (*Process, error) {
	if len(cmd) == 0 {
		return nil, errors.New("no program to launch")
	}
	path, err := findExecutable(cmd[0])
	if err != nil {
		return nil, err
	}

	var process *exec.Cmd

	dbp := newProcess(0)
	dbp.execPtraceFunc(func() {
		if flags&proc.LaunchDisableASLR != 0 {
			oldPersonality, _, err := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if err == syscall.Errno(0) {
				newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
				syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
				defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
			}
		}

		process = exec.Command(path)
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		// The process gets its own process group so that ^C typed at the
		// prompt only reaches the debugger.
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:  true,
			Setpgid: true,
		}
		if tty != "" {
			dbp.ctty, err = attachProcessToTTY(process, tty)
			if err != nil {
				return
			}
		}
		if wd != "" {
			process.Dir = wd
		}
		err = process.Start()
	})
	if err != nil {
		dbp.postExit()
		return nil, err
	}
	dbp.pid = process.Process.Pid
	dbp.childProcess = true
	logflags.PtraceLogger().Debugf("launched %q pid=%d", path, dbp.pid)

	status, err := dbp.wait(dbp.pid, 0)
	if err != nil {
		dbp.postExit()
		return nil, fmt.Errorf("waiting for target execve failed: %s", err)
	}
	if status == nil || !status.Stopped() || status.StopSignal() != sys.SIGTRAP {
		dbp.postExit()
		return nil, fmt.Errorf("process %d did not stop after execve", dbp.pid)
	}
	dbp.execPtraceFunc(func() { err = sys.PtraceSetOptions(dbp.pid, sys.PTRACE_O_EXITKILL) })
	if err != nil {
		_ = dbp.Kill()
		return nil, fmt.Errorf("could not set ptrace options: %v", err)
	}
	dbp.comm = linutil.Comm(dbp.pid)
	return dbp, nil
}

// Attach to an existing process with the given PID. The process is left
// stopped.
func Attach(pid int) (*Process, error) {
	dbp := newProcess(pid)

	var err error
	dbp.execPtraceFunc(func() { err = ptraceAttach(dbp.pid) })
	if err != nil {
		dbp.postExit()
		return nil, err
	}
	status, err := dbp.wait(dbp.pid, 0)
	if err != nil {
		dbp.postExit()
		return nil, err
	}
	if status == nil || !status.Stopped() {
		dbp.postExit()
		return nil, fmt.Errorf("process %d exited while attaching", pid)
	}
	logflags.PtraceLogger().Debugf("attached to pid=%d (%s)", pid, status.StopSignal())
	dbp.comm = linutil.Comm(dbp.pid)
	return dbp, nil
}

// findExecutable resolves path like a shell would and checks that it can
// be executed.
func findExecutable(path string) (string, error) {
	if !strings.Contains(path, "/") {
		p, err := exec.LookPath(path)
		if err != nil {
			return "", err
		}
		path = p
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() || fi.Mode().Perm()&0111 == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrNotExecutable)
	}
	return path, nil
}

// EntryPoint returns the entry point address of the process, read from
// the auxiliary vector.
func (dbp *Process) EntryPoint() (uint64, error) {
	if dbp.exited {
		return 0, sys.ESRCH
	}
	return linutil.EntryPoint(dbp.pid)
}

// ptrace runs fn on the ptrace thread unless the process is gone.
func (dbp *Process) ptrace(fn func() error) error {
	if dbp.exited || dbp.detached {
		return sys.ESRCH
	}
	var err error
	dbp.execPtraceFunc(func() { err = fn() })
	return err
}

// PeekWord reads the word at addr.
func (dbp *Process) PeekWord(addr uint64) (word uint64, err error) {
	err = dbp.ptrace(func() error {
		word, err = ptracePeekData(dbp.pid, addr)
		return err
	})
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("peek pid=%d addr=%#x word=%#x err=%v", dbp.pid, addr, word, err)
	}
	return word, err
}

// PokeWord writes word at addr.
func (dbp *Process) PokeWord(addr, word uint64) error {
	err := dbp.ptrace(func() error { return ptracePokeData(dbp.pid, addr, word) })
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("poke pid=%d addr=%#x word=%#x err=%v", dbp.pid, addr, word, err)
	}
	return err
}

// GetRegs reads the general purpose registers.
func (dbp *Process) GetRegs(regs *proc.AMD64PtraceRegs) error {
	err := dbp.ptrace(func() error { return ptraceGetRegs(dbp.pid, regs) })
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("getregs pid=%d err=%v", dbp.pid, err)
	}
	return err
}

// SetRegs writes the general purpose registers.
func (dbp *Process) SetRegs(regs *proc.AMD64PtraceRegs) error {
	err := dbp.ptrace(func() error { return ptraceSetRegs(dbp.pid, regs) })
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("setregs pid=%d err=%v", dbp.pid, err)
	}
	return err
}

// Cont resumes the process delivering sig.
func (dbp *Process) Cont(sig int) error {
	err := dbp.ptrace(func() error { return ptraceCont(dbp.pid, sig) })
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("cont pid=%d sig=%d err=%v", dbp.pid, sig, err)
	}
	return err
}

// SingleStep executes one instruction delivering sig.
func (dbp *Process) SingleStep(sig int) error {
	err := dbp.ptrace(func() error { return ptraceSingleStep(dbp.pid, sig) })
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("singlestep pid=%d sig=%d err=%v", dbp.pid, sig, err)
	}
	return err
}

// Siginfo returns the signal information of the current stop.
func (dbp *Process) Siginfo() (si proc.Siginfo, err error) {
	err = dbp.ptrace(func() error {
		si, err = ptraceGetSiginfo(dbp.pid)
		return err
	})
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("getsiginfo pid=%d signo=%d code=%#x addr=%#x err=%v", dbp.pid, si.Signo, si.Code, si.Addr, err)
	}
	return si, err
}

// Wait waits for the process to stop or terminate.
func (dbp *Process) Wait() (proc.WaitStatus, error) {
	if dbp.exited || dbp.detached {
		return proc.WaitStatus{}, sys.ECHILD
	}
	status, err := dbp.wait(dbp.pid, 0)
	if err != nil {
		return proc.WaitStatus{}, err
	}
	ws := convertWaitStatus(status)
	if ws.Exited || ws.Signaled {
		dbp.exited = true
		dbp.postExit()
	}
	if logflags.Ptrace() {
		logflags.PtraceLogger().Debugf("wait pid=%d status=%+v", dbp.pid, ws)
	}
	return ws, nil
}

func convertWaitStatus(status *sys.WaitStatus) proc.WaitStatus {
	switch {
	case status == nil:
		// thread group leader became a zombie, the exit status is lost.
		return proc.WaitStatus{Exited: true}
	case status.Exited():
		return proc.WaitStatus{Exited: true, ExitStatus: status.ExitStatus()}
	case status.Signaled():
		return proc.WaitStatus{Signaled: true, Signal: int(status.Signal())}
	case status.Stopped():
		return proc.WaitStatus{Stopped: true, StopSignal: int(status.StopSignal())}
	}
	return proc.WaitStatus{}
}

func (dbp *Process) wait(pid, options int) (*sys.WaitStatus, error) {
	var s sys.WaitStatus
	// If we call wait4/waitpid on a thread that is the leader of its group,
	// with options == 0, while ptracing and the thread leader has exited leaving
	// zombies of its own then waitpid hangs forever this is apparently intended
	// behaviour in the linux kernel because it's just so convenient.
	// Therefore we call wait4 in a loop with WNOHANG, sleeping a while between
	// calls and exiting when either wait4 succeeds or we find out that the thread
	// has become a zombie.
	for {
		wpid, err := sys.Wait4(pid, &s, sys.WNOHANG|sys.WALL|options, nil)
		if err != nil {
			return nil, err
		}
		if wpid != 0 {
			return &s, nil
		}
		if linutil.Status(pid) == linutil.StatusZombie {
			return nil, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Kill kills the process and waits for it to be reaped.
func (dbp *Process) Kill() error {
	if dbp.exited {
		return nil
	}
	pid := dbp.pid
	if dbp.childProcess {
		// launched processes lead their own process group
		pid = -pid
	}
	if err := sys.Kill(pid, sys.SIGKILL); err != nil {
		return errors.New("could not deliver signal " + err.Error())
	}
	for {
		status, err := dbp.wait(dbp.pid, 0)
		if err != nil {
			return err
		}
		if status == nil || status.Exited() || status.Signaled() {
			break
		}
	}
	logflags.PtraceLogger().Debugf("killed pid=%d", dbp.pid)
	dbp.exited = true
	dbp.postExit()
	return nil
}

// Interrupt sends SIGINT to the process. It can be called while another
// goroutine is in Wait.
func (dbp *Process) Interrupt() error {
	return sys.Kill(dbp.pid, sys.SIGINT)
}

// Detach stops tracing the process. If kill is set the process is killed
// instead.
func (dbp *Process) Detach(kill bool) error {
	if kill {
		return dbp.Kill()
	}
	if err := dbp.ptrace(func() error { return ptraceDetach(dbp.pid, 0) }); err != nil {
		return err
	}
	logflags.PtraceLogger().Debugf("detached from pid=%d", dbp.pid)
	dbp.detached = true
	dbp.postExit()
	return nil
}
