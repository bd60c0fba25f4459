package proc

import "strings"

// Register identifies one register of the user visible amd64 register
// file, in the order of the kernel's user_regs_struct.
type Register int

const (
	RegR15 Register = iota
	RegR14
	RegR13
	RegR12
	RegRbp
	RegRbx
	RegR11
	RegR10
	RegR9
	RegR8
	RegRax
	RegRcx
	RegRdx
	RegRsi
	RegRdi
	RegOrigRax
	RegRip
	RegCs
	RegEflags
	RegRsp
	RegSs
	RegFsBase
	RegGsBase
	RegDs
	RegEs
	RegFs
	RegGs

	numRegisters
)

var registerNames = [numRegisters]string{
	RegR15:     "r15",
	RegR14:     "r14",
	RegR13:     "r13",
	RegR12:     "r12",
	RegRbp:     "rbp",
	RegRbx:     "rbx",
	RegR11:     "r11",
	RegR10:     "r10",
	RegR9:      "r9",
	RegR8:      "r8",
	RegRax:     "rax",
	RegRcx:     "rcx",
	RegRdx:     "rdx",
	RegRsi:     "rsi",
	RegRdi:     "rdi",
	RegOrigRax: "orig_rax",
	RegRip:     "rip",
	RegCs:      "cs",
	RegEflags:  "eflags",
	RegRsp:     "rsp",
	RegSs:      "ss",
	RegFsBase:  "fs_base",
	RegGsBase:  "gs_base",
	RegDs:      "ds",
	RegEs:      "es",
	RegFs:      "fs",
	RegGs:      "gs",
}

var registersByName = func() map[string]Register {
	m := make(map[string]Register, numRegisters)
	for i, name := range registerNames {
		m[name] = Register(i)
	}
	return m
}()

func (reg Register) String() string {
	if reg < 0 || reg >= numRegisters {
		return "unknown"
	}
	return registerNames[reg]
}

// ParseRegister returns the register called name. The lookup is case
// insensitive.
func ParseRegister(name string) (Register, error) {
	reg, ok := registersByName[strings.ToLower(name)]
	if !ok {
		return 0, &UnknownRegisterError{Name: name}
	}
	return reg, nil
}

// AllRegisters returns every register in user_regs_struct order.
func AllRegisters() []Register {
	r := make([]Register, numRegisters)
	for i := range r {
		r[i] = Register(i)
	}
	return r
}

// RegisterValue is a register together with its value.
type RegisterValue struct {
	Reg   Register
	Value uint64
}

// ReadRegister returns the current value of reg. Every call fetches a
// fresh snapshot of the register file from the tracee.
func (t *Target) ReadRegister(reg Register) (uint64, error) {
	if err := t.checkAlive(); err != nil {
		return 0, err
	}
	var regs AMD64PtraceRegs
	if err := t.getRegs(&regs, reg.String()); err != nil {
		return 0, err
	}
	return regs.Get(reg)
}

// WriteRegister sets reg to value. The register file is fetched, changed
// and stored back as a whole.
func (t *Target) WriteRegister(reg Register, value uint64) error {
	if err := t.checkAlive(); err != nil {
		return err
	}
	var regs AMD64PtraceRegs
	if err := t.getRegs(&regs, reg.String()); err != nil {
		return err
	}
	if err := regs.Set(reg, value); err != nil {
		return err
	}
	return t.setRegs(&regs, reg.String())
}

// ReadRegisterByName is like ReadRegister but takes the register name as
// typed by the user.
func (t *Target) ReadRegisterByName(name string) (uint64, error) {
	reg, err := ParseRegister(name)
	if err != nil {
		return 0, err
	}
	return t.ReadRegister(reg)
}

// WriteRegisterByName is like WriteRegister but takes the register name
// as typed by the user.
func (t *Target) WriteRegisterByName(name string, value uint64) error {
	reg, err := ParseRegister(name)
	if err != nil {
		return err
	}
	return t.WriteRegister(reg, value)
}

// Registers returns a fresh snapshot of the whole register file.
func (t *Target) Registers() (*AMD64PtraceRegs, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	regs := new(AMD64PtraceRegs)
	if err := t.getRegs(regs, ""); err != nil {
		return nil, err
	}
	return regs, nil
}

func (t *Target) getRegs(regs *AMD64PtraceRegs, reg string) error {
	if err := t.tracee.GetRegs(regs); err != nil {
		return &TraceRequestError{Op: "getregs", Reg: reg, Err: err}
	}
	return nil
}

func (t *Target) setRegs(regs *AMD64PtraceRegs, reg string) error {
	if err := t.tracee.SetRegs(regs); err != nil {
		return &TraceRequestError{Op: "setregs", Reg: reg, Err: err}
	}
	return nil
}

func (t *Target) pc() (uint64, error) {
	var regs AMD64PtraceRegs
	if err := t.getRegs(&regs, RegRip.String()); err != nil {
		return 0, err
	}
	return regs.PC(), nil
}

func (t *Target) setPC(pc uint64) error {
	var regs AMD64PtraceRegs
	if err := t.getRegs(&regs, RegRip.String()); err != nil {
		return err
	}
	regs.Rip = pc
	return t.setRegs(&regs, RegRip.String())
}
