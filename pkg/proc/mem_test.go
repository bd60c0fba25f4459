package proc_test

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/minidbg/pkg/proc"
	protest "github.com/go-delve/minidbg/pkg/proc/test"
)

func TestWriteMemoryByteKeepsWord(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		const addr = 0x600000
		ft.Map(addr, []byte{0x44, 0x33, 0x22, 0x11, 0, 0, 0, 0})

		require.NoError(t, tgt.WriteMemoryByte(addr, 0xAB))
		assert.Equal(t, uint64(0x112233AB), ft.Word(addr))

		w, err := tgt.ReadMemoryWord(addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x112233AB), w)

		b, err := tgt.ReadMemoryByte(addr + 1)
		require.NoError(t, err)
		assert.Equal(t, byte(0x33), b)
	})
}

func TestMemoryAccessDenied(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		const addr = 0xdead0000
		_, err := tgt.ReadMemoryByte(addr)
		var mae *proc.MemoryAccessError
		require.True(t, errors.As(err, &mae), "got %v", err)
		assert.Equal(t, "read", mae.Op)
		assert.Equal(t, uint64(addr), mae.Addr)
		assert.True(t, errors.Is(err, syscall.EIO))

		err = tgt.WriteMemoryByte(addr, 1)
		require.True(t, errors.As(err, &mae), "got %v", err)

		ft.Fail["poke"] = syscall.EPERM
		err = tgt.WriteMemoryByte(protest.SampleMain, 0x90)
		require.True(t, errors.As(err, &mae), "got %v", err)
		assert.Equal(t, "write", mae.Op)
		assert.Equal(t, byte(0x55), ft.Bytes(protest.SampleMain, 1)[0])
	})
}

func TestMemoryByteAtEndOfMapping(t *testing.T) {
	withSampleTarget(t, func(tgt *proc.Target, ft *protest.FakeTracee) {
		const page = 0x700000
		ft.MapZero(page, 0x1000)
		ft.Map(page+0xff8, []byte{1, 2, 3, 4, 5, 6, 7, 8})

		for i := uint64(0); i < 8; i++ {
			b, err := tgt.ReadMemoryByte(page + 0xff8 + i)
			require.NoError(t, err)
			assert.Equal(t, byte(i+1), b)
		}

		require.NoError(t, tgt.WriteMemoryByte(page+0xffc, 0xAB))
		assert.Equal(t, []byte{1, 2, 3, 4, 0xAB, 6, 7, 8}, ft.Bytes(page+0xff8, 8))

		bp, err := tgt.SetBreakpoint(page + 0xfff)
		require.NoError(t, err)
		assert.Equal(t, []byte{8}, bp.OriginalData)
		assert.Equal(t, []byte{0xCC}, ft.Bytes(page+0xfff, 1))

		_, err = tgt.ReadMemoryByte(page + 0x1000)
		var mae *proc.MemoryAccessError
		assert.True(t, errors.As(err, &mae), "got %v", err)
	})
}
