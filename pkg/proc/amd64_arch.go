package proc

import "fmt"

// AMD64 describes the parts of the amd64 architecture the debugger
// depends on.
type AMD64 struct{}

var amd64BreakInstruction = []byte{0xCC}

// AMD64Arch returns an initialized AMD64 struct.
func AMD64Arch() *AMD64 {
	return &AMD64{}
}

// PtrSize returns the size of a pointer on this architecture.
func (a *AMD64) PtrSize() int {
	return 8
}

// BreakpointInstruction returns the Breakpoint instruction for this
// architecture.
func (a *AMD64) BreakpointInstruction() []byte {
	return amd64BreakInstruction
}

// BreakpointSize returns the size of the breakpoint instruction on this
// architecture.
func (a *AMD64) BreakpointSize() int {
	return len(amd64BreakInstruction)
}

// AMD64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for AMD64 CPUs (user_regs_struct).
type AMD64PtraceRegs struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// PC returns the value of the RIP register.
func (r *AMD64PtraceRegs) PC() uint64 {
	return r.Rip
}

// SP returns the value of the RSP register.
func (r *AMD64PtraceRegs) SP() uint64 {
	return r.Rsp
}

// BP returns the value of the RBP register.
func (r *AMD64PtraceRegs) BP() uint64 {
	return r.Rbp
}

// amd64RegisterFields maps every Register to the field of the snapshot
// that holds it. The order of the entries is independent of the layout of
// AMD64PtraceRegs.
var amd64RegisterFields = [numRegisters]func(*AMD64PtraceRegs) *uint64{
	RegR15:     func(r *AMD64PtraceRegs) *uint64 { return &r.R15 },
	RegR14:     func(r *AMD64PtraceRegs) *uint64 { return &r.R14 },
	RegR13:     func(r *AMD64PtraceRegs) *uint64 { return &r.R13 },
	RegR12:     func(r *AMD64PtraceRegs) *uint64 { return &r.R12 },
	RegRbp:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rbp },
	RegRbx:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rbx },
	RegR11:     func(r *AMD64PtraceRegs) *uint64 { return &r.R11 },
	RegR10:     func(r *AMD64PtraceRegs) *uint64 { return &r.R10 },
	RegR9:      func(r *AMD64PtraceRegs) *uint64 { return &r.R9 },
	RegR8:      func(r *AMD64PtraceRegs) *uint64 { return &r.R8 },
	RegRax:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rax },
	RegRcx:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rcx },
	RegRdx:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rdx },
	RegRsi:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rsi },
	RegRdi:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rdi },
	RegOrigRax: func(r *AMD64PtraceRegs) *uint64 { return &r.Orig_rax },
	RegRip:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rip },
	RegCs:      func(r *AMD64PtraceRegs) *uint64 { return &r.Cs },
	RegEflags:  func(r *AMD64PtraceRegs) *uint64 { return &r.Eflags },
	RegRsp:     func(r *AMD64PtraceRegs) *uint64 { return &r.Rsp },
	RegSs:      func(r *AMD64PtraceRegs) *uint64 { return &r.Ss },
	RegFsBase:  func(r *AMD64PtraceRegs) *uint64 { return &r.Fs_base },
	RegGsBase:  func(r *AMD64PtraceRegs) *uint64 { return &r.Gs_base },
	RegDs:      func(r *AMD64PtraceRegs) *uint64 { return &r.Ds },
	RegEs:      func(r *AMD64PtraceRegs) *uint64 { return &r.Es },
	RegFs:      func(r *AMD64PtraceRegs) *uint64 { return &r.Fs },
	RegGs:      func(r *AMD64PtraceRegs) *uint64 { return &r.Gs },
}

// Get returns the value of reg in the snapshot.
func (r *AMD64PtraceRegs) Get(reg Register) (uint64, error) {
	p, err := r.field(reg)
	if err != nil {
		return 0, err
	}
	return *p, nil
}

// Set changes the value of reg in the snapshot. Nothing is written to the
// tracee.
func (r *AMD64PtraceRegs) Set(reg Register, value uint64) error {
	p, err := r.field(reg)
	if err != nil {
		return err
	}
	*p = value
	return nil
}

func (r *AMD64PtraceRegs) field(reg Register) (*uint64, error) {
	if reg < 0 || reg >= numRegisters {
		return nil, &UnknownRegisterError{Name: fmt.Sprintf("register(%d)", int(reg))}
	}
	return amd64RegisterFields[reg](r), nil
}

// Slice returns the registers in the order they appear in
// user_regs_struct.
func (r *AMD64PtraceRegs) Slice() []RegisterValue {
	out := make([]RegisterValue, 0, numRegisters)
	for _, reg := range AllRegisters() {
		out = append(out, RegisterValue{Reg: reg, Value: *amd64RegisterFields[reg](r)})
	}
	return out
}
