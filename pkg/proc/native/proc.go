package native

import (
	"errors"
	"os"
	"runtime"
)

// ErrNativeBackendDisabled is returned when trying to use the native
// backend on a platform it does not support.
var ErrNativeBackendDisabled = errors.New("native backend disabled during compilation")

// ErrNotExecutable is returned by Launch when the program is not an
// executable file.
var ErrNotExecutable = errors.New("not an executable file")

// Process represents a single process being traced with ptrace. It
// implements proc.Tracee.
type Process struct {
	pid  int
	comm string

	// childProcess is true if this process was started by Launch.
	childProcess bool
	ctty         *os.File

	// ptrace requests must all be issued by the thread that attached, so
	// they are funneled through ptraceChan to a single goroutine locked to
	// its OS thread.
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}

	exited   bool
	detached bool
}

// newProcess returns an initialized Process struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int) *Process {
	dbp := &Process{
		pid:            pid,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process ID.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// Comm returns the command name of the process.
func (dbp *Process) Comm() string {
	return dbp.comm
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

// postExit stops the ptrace goroutine, no trace requests can be issued
// afterwards.
func (dbp *Process) postExit() {
	if dbp.ptraceChan == nil {
		return
	}
	close(dbp.ptraceChan)
	dbp.ptraceChan = nil
	if dbp.ctty != nil {
		dbp.ctty.Close()
		dbp.ctty = nil
	}
}
