package proc

// MemoryReadWriter is the byte granular view of tracee memory used to
// patch breakpoint instructions.
type MemoryReadWriter interface {
	ReadMemoryByte(addr uint64) (byte, error)
	WriteMemoryByte(addr uint64, value byte) error
}

// traceeMemory hides the word granular transfers of the trace interface.
type traceeMemory struct {
	tracee Tracee
}

// TraceeMemory returns a MemoryReadWriter operating directly on t.
func TraceeMemory(t Tracee) MemoryReadWriter {
	return &traceeMemory{tracee: t}
}

// wordOf returns the address of the aligned word containing addr and the
// bit offset of addr inside it. An aligned word never straddles a page, so
// any mapped byte can be reached.
func wordOf(addr uint64) (uint64, uint64) {
	return addr &^ 7, 8 * (addr & 7)
}

func (mem *traceeMemory) ReadMemoryByte(addr uint64) (byte, error) {
	waddr, shift := wordOf(addr)
	word, err := mem.tracee.PeekWord(waddr)
	if err != nil {
		return 0, &MemoryAccessError{Op: "read", Addr: addr, Err: err}
	}
	return byte(word >> shift), nil
}

// WriteMemoryByte reads the aligned word containing addr, replaces the
// byte at addr with value and writes the word back. The other bytes of the
// word are left untouched.
func (mem *traceeMemory) WriteMemoryByte(addr uint64, value byte) error {
	waddr, shift := wordOf(addr)
	word, err := mem.tracee.PeekWord(waddr)
	if err != nil {
		return &MemoryAccessError{Op: "read", Addr: addr, Err: err}
	}
	word = word&^(0xff<<shift) | uint64(value)<<shift
	if err := mem.tracee.PokeWord(waddr, word); err != nil {
		return &MemoryAccessError{Op: "write", Addr: addr, Err: err}
	}
	return nil
}

func (mem *traceeMemory) readWord(addr uint64) (uint64, error) {
	word, err := mem.tracee.PeekWord(addr)
	if err != nil {
		return 0, &MemoryAccessError{Op: "read", Addr: addr, Err: err}
	}
	return word, nil
}

// ReadMemoryByte returns the byte at addr.
func (t *Target) ReadMemoryByte(addr uint64) (byte, error) {
	if err := t.checkAlive(); err != nil {
		return 0, err
	}
	return t.mem.ReadMemoryByte(addr)
}

// WriteMemoryByte writes value at addr.
func (t *Target) WriteMemoryByte(addr uint64, value byte) error {
	if err := t.checkAlive(); err != nil {
		return err
	}
	return t.mem.WriteMemoryByte(addr, value)
}

// ReadMemoryWord returns the machine word starting at addr.
func (t *Target) ReadMemoryWord(addr uint64) (uint64, error) {
	if err := t.checkAlive(); err != nil {
		return 0, err
	}
	return t.mem.readWord(addr)
}
