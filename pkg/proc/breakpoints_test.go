package proc_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/minidbg/pkg/proc"
	protest "github.com/go-delve/minidbg/pkg/proc/test"
)

func newSampleMap(t *testing.T, max int) (proc.BreakpointMap, proc.MemoryReadWriter, *protest.FakeTracee) {
	t.Helper()
	ft := protest.NewSampleTracee()
	return proc.NewBreakpointMap(proc.AMD64Arch(), max), proc.TraceeMemory(ft), ft
}

func TestEnableDisableRestoresByte(t *testing.T) {
	bpmap, mem, ft := newSampleMap(t, 0)
	for addr := uint64(protest.SampleMain); addr < protest.SampleHandler; addr++ {
		before := ft.Bytes(addr, 8)
		bp, err := bpmap.FindOrCreate(addr, proc.UserBreakpoint)
		require.NoError(t, err)
		require.NoError(t, bpmap.Enable(mem, bp))
		assert.Equal(t, byte(0xCC), ft.Bytes(addr, 1)[0])
		assert.Equal(t, before[1:], ft.Bytes(addr+1, 7), "neighbouring bytes changed at %#x", addr)
		require.NoError(t, bpmap.Disable(mem, bp))
		assert.Equal(t, before, ft.Bytes(addr, 8), "address %#x", addr)
	}
}

func TestFindOrCreateIdempotent(t *testing.T) {
	bpmap, mem, ft := newSampleMap(t, 0)
	bp1, err := bpmap.FindOrCreate(protest.SampleFn, proc.UserBreakpoint)
	require.NoError(t, err)
	assert.False(t, bp1.Enabled)
	assert.Nil(t, bp1.OriginalData)
	assert.Equal(t, byte(0x55), ft.Bytes(protest.SampleFn, 1)[0], "creating a breakpoint must not touch memory")

	bp2, err := bpmap.FindOrCreate(protest.SampleFn, proc.UserBreakpoint)
	require.NoError(t, err)
	assert.Same(t, bp1, bp2)
	assert.Equal(t, 1, bpmap.Len())

	for i := 0; i < 3; i++ {
		require.NoError(t, bpmap.Enable(mem, bp1))
	}
	assert.Equal(t, byte(0xCC), ft.Bytes(protest.SampleFn, 1)[0])
	assert.Equal(t, []byte{0x55}, bp1.OriginalData, "enable saved the breakpoint instruction")

	require.NoError(t, bpmap.Disable(mem, bp1))
	require.NoError(t, bpmap.Disable(mem, bp1))
	assert.Equal(t, byte(0x55), ft.Bytes(protest.SampleFn, 1)[0])
}

func TestBreakpointCapacity(t *testing.T) {
	bpmap, _, _ := newSampleMap(t, 2)
	_, err := bpmap.FindOrCreate(protest.SampleFn, proc.UserBreakpoint)
	require.NoError(t, err)
	_, err = bpmap.FindOrCreate(protest.SampleRec, proc.UserBreakpoint)
	require.NoError(t, err)

	_, err = bpmap.FindOrCreate(protest.SampleExit, proc.UserBreakpoint)
	var cee *proc.CapacityExceededError
	require.True(t, errors.As(err, &cee), "got %v", err)
	assert.Equal(t, 2, cee.Max)

	// existing breakpoints can still be found
	_, err = bpmap.FindOrCreate(protest.SampleFn, proc.UserBreakpoint)
	assert.NoError(t, err)
}

func TestBreakpointIDs(t *testing.T) {
	bpmap, _, _ := newSampleMap(t, 0)
	user1, _ := bpmap.FindOrCreate(protest.SampleRec, proc.UserBreakpoint)
	internal, _ := bpmap.FindOrCreate(protest.SampleFnReturn, proc.StepOutBreakpoint)
	user2, _ := bpmap.FindOrCreate(protest.SampleFn, proc.UserBreakpoint)

	assert.Equal(t, 1, user1.ID)
	assert.Equal(t, 2, user2.ID)
	assert.Less(t, internal.ID, 0)
	assert.True(t, internal.IsInternal())
	assert.False(t, internal.IsUser())

	assert.Equal(t, []*proc.Breakpoint{user1, user2}, bpmap.List())

	// an internal breakpoint promoted to a user one gets a user ID
	promoted, _ := bpmap.FindOrCreate(protest.SampleFnReturn, proc.UserBreakpoint)
	assert.Same(t, internal, promoted)
	assert.Equal(t, 3, promoted.ID)
	assert.True(t, promoted.IsUser())
	assert.True(t, promoted.IsInternal())
}

func TestRemoveAndClearKind(t *testing.T) {
	bpmap, mem, ft := newSampleMap(t, 0)
	_, err := bpmap.Remove(mem, protest.SampleFn)
	assert.Equal(t, proc.NoBreakpointError{Addr: protest.SampleFn}, err)

	bp, _ := bpmap.FindOrCreate(protest.SampleFn, proc.UserBreakpoint|proc.StepOutBreakpoint)
	require.NoError(t, bpmap.Enable(mem, bp))

	require.NoError(t, bpmap.ClearKind(mem, bp, proc.StepOutBreakpoint))
	_, ok := bpmap.Find(protest.SampleFn)
	assert.True(t, ok, "user breakpoint removed with its internal kind")
	assert.True(t, bp.Enabled)

	require.NoError(t, bpmap.ClearKind(mem, bp, proc.UserBreakpoint))
	_, ok = bpmap.Find(protest.SampleFn)
	assert.False(t, ok)
	assert.Equal(t, byte(0x55), ft.Bytes(protest.SampleFn, 1)[0])
}

func TestTargetBreakpointOperations(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		bp := setBreakpoint(t, tgt, protest.SampleFnBody)
		again := setBreakpoint(t, tgt, protest.SampleFnBody)
		assert.Same(t, bp, again)
		assert.Len(t, tgt.Breakpoints(), 1)

		_, err := tgt.DisableBreakpoint(protest.SampleFnBody)
		require.NoError(t, err)
		assert.False(t, bp.Enabled)
		assert.Equal(t, byte(0x48), ft.Bytes(protest.SampleFnBody, 1)[0])

		// a disabled breakpoint is not hit
		ev := mustContinue(t, tgt)
		assert.Equal(t, proc.StopExited, ev.Reason)
		assert.Zero(t, bp.TotalHitCount)
	})
}

func TestTargetEnableClear(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		_, err := tgt.EnableBreakpoint(protest.SampleFn)
		assert.Equal(t, proc.NoBreakpointError{Addr: protest.SampleFn}, err)

		bp := setBreakpoint(t, tgt, protest.SampleFn)
		_, err = tgt.DisableBreakpoint(protest.SampleFn)
		require.NoError(t, err)
		_, err = tgt.EnableBreakpoint(protest.SampleFn)
		require.NoError(t, err)
		assert.True(t, bp.Enabled)

		cleared, err := tgt.ClearBreakpoint(protest.SampleFn)
		require.NoError(t, err)
		assert.Same(t, bp, cleared)
		assert.Empty(t, tgt.Breakpoints())
		assert.Equal(t, byte(0x55), ft.Bytes(protest.SampleFn, 1)[0])
	})
}

func TestSetBreakpointUnmapped(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		_, err := tgt.SetBreakpoint(0xdead0000)
		var mae *proc.MemoryAccessError
		require.True(t, errors.As(err, &mae), "got %v", err)
		_, ok := tgt.FindBreakpoint(0xdead0000)
		assert.False(t, ok, "failed breakpoint left in the table")
	})
}

func TestSetBreakpointCapacity(t *testing.T) {
	withSampleTargetConfig(t, proc.Config{MaxBreakpoints: 1}, func(tgt *proc.Target, ft *protest.FakeTracee) {
		setBreakpoint(t, tgt, protest.SampleFn)
		_, err := tgt.SetBreakpoint(protest.SampleRec)
		var cee *proc.CapacityExceededError
		assert.True(t, errors.As(err, &cee), "got %v", err)
	})
}
