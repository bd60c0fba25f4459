package native_test

import (
	"bufio"
	"debug/elf"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/minidbg/pkg/proc"
	"github.com/go-delve/minidbg/pkg/proc/native"
	protest "github.com/go-delve/minidbg/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func withTestProcess(t *testing.T, mode string, cfg proc.Config, fn func(tgt *proc.Target, p *native.Process, fixture protest.Fixture)) {
	t.Helper()
	fixture := protest.BuildFixture(t, "testprog")
	cmd := []string{fixture.Path}
	if mode != "" {
		cmd = append(cmd, mode)
	}
	p, err := native.Launch(cmd, "", proc.LaunchDisableASLR, "")
	require.NoError(t, err, "Launch")
	cfg.StopReason = proc.StopLaunched
	tgt := proc.NewTarget(p, cfg)
	defer func() {
		assert.NoError(t, tgt.Detach(true))
	}()
	fn(tgt, p, fixture)
}

func mustContinue(t *testing.T, tgt *proc.Target) *proc.StopEvent {
	t.Helper()
	ev, err := tgt.Continue()
	require.NoError(t, err, "Continue()")
	return ev
}

// stepToFrame single steps through a function prologue until the frame
// pointer is set up.
func stepToFrame(t *testing.T, tgt *proc.Target) {
	t.Helper()
	for i := 0; i < 8; i++ {
		regs, err := tgt.Registers()
		require.NoError(t, err)
		if regs.BP() == regs.SP() {
			return
		}
		_, err = tgt.StepInstruction()
		require.NoError(t, err)
	}
	t.Fatal("frame pointer never set up")
}

func TestLaunchAndExit(t *testing.T) {
	withTestProcess(t, "", proc.Config{}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
		assert.Equal(t, proc.StopLaunched, tgt.LastStop().Reason)
		assert.NotZero(t, tgt.Pid())
		assert.Equal(t, tgt.Pid(), p.Pid())

		// ^C typed at the prompt goes to the foreground group, not to the target
		pgid, err := syscall.Getpgid(p.Pid())
		require.NoError(t, err)
		assert.Equal(t, p.Pid(), pgid)

		ev := mustContinue(t, tgt)
		assert.Equal(t, proc.StopExited, ev.Reason)
		assert.Equal(t, 9, ev.ExitStatus)

		_, err = tgt.ReadRegister(proc.RegRip)
		assert.Equal(t, proc.ErrProcessExited{Pid: p.Pid(), Status: 9}, err)
	})
}

func TestLaunchNotExecutable(t *testing.T) {
	fixture := protest.BuildFixture(t, "testprog")

	_, err := native.Launch([]string{fixture.Source}, "", 0, "")
	assert.True(t, errors.Is(err, native.ErrNotExecutable), "got %v", err)

	_, err = native.Launch([]string{fixture.Path + ".missing"}, "", 0, "")
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	_, err = native.Launch(nil, "", 0, "")
	assert.Error(t, err)
}

func TestEntryPoint(t *testing.T) {
	withTestProcess(t, "", proc.Config{}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
		f, err := elf.Open(fixture.Path)
		require.NoError(t, err)
		defer f.Close()

		entry, err := p.EntryPoint()
		require.NoError(t, err)
		assert.Equal(t, f.Entry, entry)

		ev, err := tgt.RunTo(entry)
		require.NoError(t, err)
		assert.Equal(t, proc.StopRunToFinished, ev.Reason)
		assert.Equal(t, entry, ev.PC)
		_, ok := tgt.FindBreakpoint(entry)
		assert.False(t, ok)
	})
}

func TestBreakpointAndStepOut(t *testing.T) {
	withTestProcess(t, "", proc.Config{}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
		add := fixture.Sym(t, "add")
		main := fixture.Sym(t, "main")
		orig, err := tgt.ReadMemoryByte(add.Addr)
		require.NoError(t, err)

		bp, err := tgt.SetBreakpoint(add.Addr)
		require.NoError(t, err)
		b, err := tgt.ReadMemoryByte(add.Addr)
		require.NoError(t, err)
		assert.Equal(t, byte(0xCC), b)

		ev := mustContinue(t, tgt)
		require.Equal(t, proc.StopBreakpoint, ev.Reason, "%s", ev)
		assert.Equal(t, add.Addr, ev.PC)
		assert.Same(t, bp, ev.Breakpoint)
		assert.Equal(t, uint64(1), bp.TotalHitCount)

		rdi, err := tgt.ReadRegister(proc.RegRdi)
		require.NoError(t, err)
		assert.Equal(t, uint64(24), rdi&0xffffffff)

		stepToFrame(t, tgt)
		ev, err = tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, proc.StopStepOutFinished, ev.Reason)
		assert.True(t, main.Contains(ev.PC), "stopped at %#x outside of main", ev.PC)
		rax, err := tgt.ReadRegister(proc.RegRax)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), rax&0xffffffff)

		_, err = tgt.ClearBreakpoint(add.Addr)
		require.NoError(t, err)
		b, err = tgt.ReadMemoryByte(add.Addr)
		require.NoError(t, err)
		assert.Equal(t, orig, b)

		ev = mustContinue(t, tgt)
		assert.Equal(t, proc.StopExited, ev.Reason)
		assert.Equal(t, 9, ev.ExitStatus)
	})
}

func TestStepOutRecursion(t *testing.T) {
	withTestProcess(t, "", proc.Config{}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
		fact := fixture.Sym(t, "fact")
		_, err := tgt.SetBreakpoint(fact.Addr)
		require.NoError(t, err)
		mustContinue(t, tgt)
		ev := mustContinue(t, tgt)
		require.Equal(t, proc.StopBreakpoint, ev.Reason, "%s", ev)
		_, err = tgt.ClearBreakpoint(fact.Addr)
		require.NoError(t, err)

		stepToFrame(t, tgt)
		rbp, err := tgt.ReadRegister(proc.RegRbp)
		require.NoError(t, err)

		ev, err = tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, proc.StopStepOutFinished, ev.Reason)
		assert.True(t, fact.Contains(ev.PC), "stopped at %#x outside of fact", ev.PC)
		rsp, err := tgt.ReadRegister(proc.RegRsp)
		require.NoError(t, err)
		assert.Equal(t, rbp+16, rsp)

		ev = mustContinue(t, tgt)
		assert.Equal(t, proc.StopExited, ev.Reason)
	})
}

func TestRegisterWrite(t *testing.T) {
	withTestProcess(t, "", proc.Config{}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
		add := fixture.Sym(t, "add")
		_, err := tgt.SetBreakpoint(add.Addr)
		require.NoError(t, err)
		mustContinue(t, tgt)

		// add(24, -15) becomes add(100, -15)
		require.NoError(t, tgt.WriteRegister(proc.RegRdi, 100))
		rdi, err := tgt.ReadRegisterByName("RDI")
		require.NoError(t, err)
		assert.Equal(t, uint64(100), rdi)

		ev := mustContinue(t, tgt)
		assert.Equal(t, proc.StopExited, ev.Reason)
		assert.Equal(t, 85, ev.ExitStatus)
	})
}

func TestSegfault(t *testing.T) {
	withTestProcess(t, "segv", proc.Config{}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
		ev := mustContinue(t, tgt)
		require.Equal(t, proc.StopFatalSignal, ev.Reason, "%s", ev)
		assert.Equal(t, proc.SIGSEGV, ev.Signal)
		assert.Equal(t, uint64(0x10), ev.Addr)
		assert.True(t, tgt.Faulted())

		_, err := tgt.ReadRegister(proc.RegRip)
		assert.NoError(t, err, "a faulted process can be inspected")

		ev = mustContinue(t, tgt)
		assert.Equal(t, proc.StopKilled, ev.Reason)
		assert.Equal(t, proc.SIGSEGV, ev.Signal)
	})
}

func TestSignalPolicy(t *testing.T) {
	for _, tc := range []struct {
		policy proc.SignalPolicy
		status int
	}{
		{proc.SignalPass, 42},
		{proc.SignalSuppress, 43},
	} {
		t.Run(tc.policy.String(), func(t *testing.T) {
			withTestProcess(t, "signal", proc.Config{SignalPolicy: tc.policy}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
				ev := mustContinue(t, tgt)
				require.Equal(t, proc.StopSignal, ev.Reason, "%s", ev)
				assert.Equal(t, int(syscall.SIGUSR1), ev.Signal)

				ev = mustContinue(t, tgt)
				assert.Equal(t, proc.StopExited, ev.Reason)
				assert.Equal(t, tc.status, ev.ExitStatus)
			})
		})
	}
}

func TestHardcodedBreakpoint(t *testing.T) {
	withTestProcess(t, "int3", proc.Config{}, func(tgt *proc.Target, p *native.Process, fixture protest.Fixture) {
		main := fixture.Sym(t, "main")
		ev := mustContinue(t, tgt)
		require.Equal(t, proc.StopHardcodedBreakpoint, ev.Reason, "%s", ev)
		assert.True(t, main.Contains(ev.PC))
		b, err := tgt.ReadMemoryByte(ev.PC - 1)
		require.NoError(t, err)
		assert.Equal(t, byte(0xCC), b, "pc must be past the int3")

		ev = mustContinue(t, tgt)
		assert.Equal(t, proc.StopExited, ev.Reason)
		assert.Equal(t, 5, ev.ExitStatus)
	})
}

func TestAttachDetach(t *testing.T) {
	fixture := protest.BuildFixture(t, "testprog")
	cmd := exec.Command(fixture.Path, "loop")
	require.NoError(t, cmd.Start())
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()
	// let it get past the dynamic loader
	time.Sleep(100 * time.Millisecond)

	p, err := native.Attach(cmd.Process.Pid)
	require.NoError(t, err)
	tgt := proc.NewTarget(p, proc.Config{StopReason: proc.StopAttached})
	assert.Equal(t, proc.StopAttached, tgt.LastStop().Reason)

	mainFn := fixture.Sym(t, "main")
	_, err = tgt.ReadRegister(proc.RegRip)
	require.NoError(t, err)
	_, err = tgt.ReadMemoryWord(mainFn.Addr)
	require.NoError(t, err)

	require.NoError(t, tgt.Detach(false))
	assert.Equal(t, proc.StateDetached, tgt.State())
	_, err = tgt.ReadRegister(proc.RegRip)
	assert.Equal(t, proc.ProcessDetachedError{}, err)

	// still alive after detaching
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, cmd.Process.Signal(syscall.Signal(0)))
}

func TestLaunchTTYAndASLR(t *testing.T) {
	fixture := protest.BuildFixture(t, "testprog")

	stackAddr := func() string {
		ptmx, tty, err := pty.Open()
		require.NoError(t, err)
		defer ptmx.Close()
		defer tty.Close()

		p, err := native.Launch([]string{fixture.Path, "stack"}, "", proc.LaunchDisableASLR, tty.Name())
		require.NoError(t, err)
		tgt := proc.NewTarget(p, proc.Config{StopReason: proc.StopLaunched})
		ev := mustContinue(t, tgt)
		require.Equal(t, proc.StopExited, ev.Reason, "%s", ev)

		line, err := bufio.NewReader(ptmx).ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSpace(line)
	}

	first := stackAddr()
	assert.True(t, strings.HasPrefix(first, "0x"), "unexpected output %q", first)
	assert.Equal(t, first, stackAddr(), "stack moved with ASLR disabled")
}
