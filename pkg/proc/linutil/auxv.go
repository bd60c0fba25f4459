package linutil

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	_AT_NULL  = 0
	_AT_ENTRY = 9
)

// EntryPointFromAuxv searches the elf auxiliary vector for the entry point
// address. The vector is a list of 64bit (tag, value) pairs terminated by
// AT_NULL.
// For a description of the auxiliary vector (auxv) format see:
// System V Application Binary Interface, AMD64 Architecture Processor
// Supplement, section 3.4.3.
func EntryPointFromAuxv(auxv []byte) uint64 {
	for len(auxv) >= 16 {
		tag := binary.LittleEndian.Uint64(auxv)
		val := binary.LittleEndian.Uint64(auxv[8:])
		auxv = auxv[16:]

		switch tag {
		case _AT_NULL:
			return 0
		case _AT_ENTRY:
			return val
		}
	}
	return 0
}

// EntryPoint returns the entry point address of process pid, read from
// /proc/pid/auxv.
func EntryPoint(pid int) (uint64, error) {
	auxv, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", pid))
	if err != nil {
		return 0, err
	}
	entry := EntryPointFromAuxv(auxv)
	if entry == 0 {
		return 0, fmt.Errorf("no entry point in auxiliary vector of process %d", pid)
	}
	return entry, nil
}
