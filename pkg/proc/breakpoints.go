package proc

import (
	"fmt"
	"sort"
)

// Breakpoint represents a software breakpoint. Stores information on the
// break point including the bytes that originally were stored at that
// address.
type Breakpoint struct {
	ID           int    // Logical ID, negative for internal breakpoints.
	Addr         uint64 // Address breakpoint is set for.
	OriginalData []byte // Bytes replaced by the breakpoint instruction, nil until the first enable.
	Enabled      bool   // Whether the breakpoint instruction is currently written to memory.

	// Kind describes whether this is a user breakpoint or an internal one
	// set by a stepping operation. A single breakpoint can be both.
	Kind BreakpointKind

	TotalHitCount uint64 // Number of times a breakpoint has been reached
}

// BreakpointKind determines the behavior of the debugger when the
// breakpoint is reached.
type BreakpointKind uint16

const (
	// UserBreakpoint is a user set breakpoint
	UserBreakpoint BreakpointKind = (1 << iota)
	// StepOutBreakpoint is set by StepOut on the return address of the
	// current frame and removed when StepOut returns.
	StepOutBreakpoint
	// RunToBreakpoint is set by RunTo and removed when RunTo returns.
	RunToBreakpoint
)

func (bp *Breakpoint) String() string {
	state := "disabled"
	if bp.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("Breakpoint %d at %#x %s (%d)", bp.ID, bp.Addr, state, bp.TotalHitCount)
}

// IsUser returns true if bp was set by the user.
func (bp *Breakpoint) IsUser() bool {
	return bp.Kind&UserBreakpoint != 0
}

// IsInternal returns true if bp was set by a stepping operation.
func (bp *Breakpoint) IsInternal() bool {
	return bp.Kind&^UserBreakpoint != 0
}

// BreakpointMap represents an (address, breakpoint) map.
type BreakpointMap struct {
	M map[uint64]*Breakpoint

	// Max is the maximum number of breakpoints, 0 means no limit.
	Max int

	arch *AMD64

	breakpointIDCounter         int
	internalBreakpointIDCounter int
}

// NewBreakpointMap creates a new BreakpointMap holding at most max
// breakpoints.
func NewBreakpointMap(arch *AMD64, max int) BreakpointMap {
	return BreakpointMap{
		M:    make(map[uint64]*Breakpoint),
		Max:  max,
		arch: arch,
	}
}

// Find returns the breakpoint at addr, if any.
func (bpmap *BreakpointMap) Find(addr uint64) (*Breakpoint, bool) {
	bp, ok := bpmap.M[addr]
	return bp, ok
}

// FindOrCreate returns the breakpoint at addr, creating a disabled one if
// none exists. The kind is added to the kinds of an existing breakpoint.
func (bpmap *BreakpointMap) FindOrCreate(addr uint64, kind BreakpointKind) (*Breakpoint, error) {
	if bp, ok := bpmap.M[addr]; ok {
		if kind&UserBreakpoint != 0 && !bp.IsUser() {
			bpmap.breakpointIDCounter++
			bp.ID = bpmap.breakpointIDCounter
		}
		bp.Kind |= kind
		return bp, nil
	}

	if bpmap.Max > 0 && len(bpmap.M) >= bpmap.Max {
		return nil, &CapacityExceededError{Max: bpmap.Max}
	}

	bp := &Breakpoint{Addr: addr, Kind: kind}
	if kind&UserBreakpoint != 0 {
		bpmap.breakpointIDCounter++
		bp.ID = bpmap.breakpointIDCounter
	} else {
		bpmap.internalBreakpointIDCounter++
		bp.ID = -bpmap.internalBreakpointIDCounter
	}
	bpmap.M[addr] = bp
	return bp, nil
}

// Enable writes the breakpoint instruction at bp.Addr, saving the bytes
// it replaces. Enabling an enabled breakpoint does nothing.
func (bpmap *BreakpointMap) Enable(mem MemoryReadWriter, bp *Breakpoint) error {
	if bp.Enabled {
		return nil
	}
	instr := bpmap.arch.BreakpointInstruction()
	originalData := make([]byte, len(instr))
	for i := range instr {
		b, err := mem.ReadMemoryByte(bp.Addr + uint64(i))
		if err != nil {
			return err
		}
		originalData[i] = b
	}
	for i := range instr {
		if err := mem.WriteMemoryByte(bp.Addr+uint64(i), instr[i]); err != nil {
			// put back whatever was already overwritten
			for j := 0; j < i; j++ {
				mem.WriteMemoryByte(bp.Addr+uint64(j), originalData[j])
			}
			return err
		}
	}
	bp.OriginalData = originalData
	bp.Enabled = true
	return nil
}

// Disable restores the bytes saved by Enable. Disabling a disabled
// breakpoint does nothing.
func (bpmap *BreakpointMap) Disable(mem MemoryReadWriter, bp *Breakpoint) error {
	if !bp.Enabled {
		return nil
	}
	for i, b := range bp.OriginalData {
		if err := mem.WriteMemoryByte(bp.Addr+uint64(i), b); err != nil {
			return err
		}
	}
	bp.Enabled = false
	return nil
}

// Remove disables the breakpoint at addr and deletes it from the map.
func (bpmap *BreakpointMap) Remove(mem MemoryReadWriter, addr uint64) (*Breakpoint, error) {
	bp, ok := bpmap.M[addr]
	if !ok {
		return nil, NoBreakpointError{Addr: addr}
	}
	if err := bpmap.Disable(mem, bp); err != nil {
		return nil, err
	}
	delete(bpmap.M, addr)
	return bp, nil
}

// ClearKind removes kind from bp. The breakpoint is disabled and deleted
// when no kind is left.
func (bpmap *BreakpointMap) ClearKind(mem MemoryReadWriter, bp *Breakpoint, kind BreakpointKind) error {
	bp.Kind &^= kind
	if bp.Kind != 0 {
		return nil
	}
	_, err := bpmap.Remove(mem, bp.Addr)
	return err
}

// List returns the user breakpoints sorted by ID.
func (bpmap *BreakpointMap) List() []*Breakpoint {
	r := make([]*Breakpoint, 0, len(bpmap.M))
	for _, bp := range bpmap.M {
		if bp.IsUser() {
			r = append(r, bp)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// Len returns the number of breakpoints in the map, internal ones
// included.
func (bpmap *BreakpointMap) Len() int {
	return len(bpmap.M)
}
