package proc_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/minidbg/pkg/proc"
	protest "github.com/go-delve/minidbg/pkg/proc/test"
)

func TestStepOut(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		bp := setBreakpoint(t, tgt, protest.SampleFnBody)
		mustContinue(t, tgt)
		rbp := ft.Regs.Rbp

		ev, err := tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, proc.StopStepOutFinished, ev.Reason)
		assert.Equal(t, uint64(protest.SampleFnReturn), ev.PC)
		assert.Equal(t, uint64(protest.SampleFnReturn), currentPC(t, tgt))
		assert.Equal(t, rbp+16, ft.Regs.Rsp)
		assert.Equal(t, uint64(0x2a), ft.Regs.Rcx)

		_, ok := tgt.FindBreakpoint(protest.SampleFnReturn)
		assert.False(t, ok, "temporary breakpoint left behind")
		assert.Equal(t, byte(0x48), ft.Bytes(protest.SampleFnReturn, 1)[0])
		assert.Equal(t, []*proc.Breakpoint{bp}, tgt.Breakpoints())
		assert.Equal(t, uint64(1), bp.TotalHitCount)
	})
}

func TestStepOutKeepsUserBreakpoint(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		setBreakpoint(t, tgt, protest.SampleFnBody)
		ret := setBreakpoint(t, tgt, protest.SampleFnReturn)
		mustContinue(t, tgt)

		ev, err := tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, proc.StopStepOutFinished, ev.Reason)
		assert.Same(t, ret, ev.Breakpoint)
		assert.Equal(t, uint64(1), ret.TotalHitCount)
		assert.True(t, ret.Enabled)
		assert.True(t, ret.IsUser())
		assert.False(t, ret.IsInternal())
	})
}

func TestStepOutRestoresDisabledBreakpoint(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		setBreakpoint(t, tgt, protest.SampleFnBody)
		ret := setBreakpoint(t, tgt, protest.SampleFnReturn)
		_, err := tgt.DisableBreakpoint(protest.SampleFnReturn)
		require.NoError(t, err)
		mustContinue(t, tgt)

		ev, err := tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, uint64(protest.SampleFnReturn), ev.PC)
		assert.False(t, ret.Enabled)
		assert.Zero(t, ret.TotalHitCount)
		assert.Equal(t, byte(0x48), ft.Bytes(protest.SampleFnReturn, 1)[0])
	})
}

func TestStepOutRecursive(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		setBreakpoint(t, tgt, protest.SampleRec)
		mustContinue(t, tgt)
		ev := mustContinue(t, tgt)
		require.Equal(t, proc.StopBreakpoint, ev.Reason)
		require.Equal(t, uint64(2), ev.Breakpoint.TotalHitCount)
		_, err := tgt.ClearBreakpoint(protest.SampleRec)
		require.NoError(t, err)

		// push rbp; mov rbp, rsp
		mustStep(t, tgt)
		mustStep(t, tgt)
		rbp := ft.Regs.Rbp
		require.Equal(t, ft.Regs.Rsp, rbp)

		ev, err = tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, proc.StopStepOutFinished, ev.Reason)
		assert.Equal(t, uint64(protest.SampleRecEpilog), ev.PC)
		assert.Equal(t, rbp+16, ft.Regs.Rsp, "stopped in a deeper frame")

		ev = mustContinue(t, tgt)
		assert.Equal(t, proc.StopExited, ev.Reason)
	})
}

func TestStepOutInterrupted(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		setBreakpoint(t, tgt, protest.SampleFnBody)
		other := setBreakpoint(t, tgt, protest.SampleFnNop)
		mustContinue(t, tgt)

		ev, err := tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, proc.StopBreakpoint, ev.Reason)
		assert.Same(t, other, ev.Breakpoint)

		_, ok := tgt.FindBreakpoint(protest.SampleFnReturn)
		assert.False(t, ok, "temporary breakpoint left behind")
	})
}

func TestStepOutUnsupportedFrame(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		var fle *proc.UnsupportedFrameLayoutError

		// rbp is zero at the first instruction of the program
		_, err := tgt.StepOut()
		require.True(t, errors.As(err, &fle), "got %v", err)
		assert.Equal(t, "frame pointer is zero", fle.Reason)

		// at the entry of fn the frame pointer still belongs to main and
		// the slot above it holds no return address
		setBreakpoint(t, tgt, protest.SampleFn)
		mustContinue(t, tgt)
		_, err = tgt.StepOut()
		require.True(t, errors.As(err, &fle), "got %v", err)
		assert.Equal(t, "return address is zero", fle.Reason)

		require.NoError(t, tgt.WriteRegister(proc.RegRbp, ft.Regs.Rsp+3))
		_, err = tgt.StepOut()
		require.True(t, errors.As(err, &fle), "got %v", err)
		assert.Equal(t, "frame pointer is not aligned", fle.Reason)

		require.NoError(t, tgt.WriteRegister(proc.RegRbp, ft.Regs.Rsp-16))
		_, err = tgt.StepOut()
		require.True(t, errors.As(err, &fle), "got %v", err)
		assert.Equal(t, "frame pointer is below the stack pointer", fle.Reason)

		assert.Equal(t, uint64(protest.SampleFn), currentPC(t, tgt), "a rejected step out must not run the target")
	})
}

func TestStepOutStopsOnFault(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		setBreakpoint(t, tgt, protest.SampleFnBody)
		mustContinue(t, tgt)
		// ud2 before the function returns
		require.NoError(t, tgt.WriteMemoryByte(protest.SampleFnNop, 0x0f))
		require.NoError(t, tgt.WriteMemoryByte(protest.SampleFnNop+1, 0x0b))

		ev, err := tgt.StepOut()
		require.NoError(t, err)
		assert.Equal(t, proc.StopFatalSignal, ev.Reason)
		assert.Equal(t, proc.SIGILL, ev.Signal)
		assert.True(t, tgt.Faulted())
		assert.Equal(t, uint64(protest.SampleFnNop), ev.PC)
		_, ok := tgt.FindBreakpoint(protest.SampleFnReturn)
		assert.False(t, ok)
		assert.Equal(t, byte(0x48), ft.Bytes(protest.SampleFnReturn, 1)[0])
	})
}
