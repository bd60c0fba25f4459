package test

import (
	"encoding/binary"
	"errors"
	"syscall"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/minidbg/pkg/proc"
)

const (
	pageSize = 0x1000

	// FakeStackTop is the end of the stack mapped by NewFakeTracee.
	FakeStackTop = 0x7ffffffde000
	// FakeStackSize is the size of the stack mapped by NewFakeTracee.
	FakeStackSize = 0x10000

	defaultMaxSteps = 1 << 16

	zeroFlag = 1 << 6
)

// si_code values reported by the fake kernel.
const (
	siKernel   = 0x80
	trapTrace  = 0x2
	segvMaperr = 0x1
)

var errStepLimit = errors.New("fake tracee: instruction limit exceeded")

type fakeStop struct {
	ws proc.WaitStatus
	si proc.Siginfo
}

// FakeTracee is an in memory amd64 process implementing proc.Tracee.
// Instructions are decoded with x86asm and a small subset of them (push,
// pop, mov, add, sub, cmp, call, ret, leave, jmp, je, jne, nop, hlt, ud2
// and int3) is executed, everything else only advances the program
// counter. HLT terminates the process with the low byte of RAX as exit
// status.
type FakeTracee struct {
	PID  int
	Regs proc.AMD64PtraceRegs

	// Handlers maps a signal to the address of its handler. A delivered
	// signal without a handler terminates the process, unless it is
	// ignored by default.
	Handlers map[int]uint64
	// Delivered records every signal passed to Cont or SingleStep.
	Delivered []int
	// Fail makes the named trace request fail with the given error. Names
	// are "peek", "poke", "getregs", "setregs", "cont", "singlestep",
	// "wait", "siginfo" and "detach".
	Fail map[string]error
	// MaxSteps limits the number of instructions a single Cont executes.
	MaxSteps int

	GetRegsCalls int
	SetRegsCalls int
	PeekCalls    int
	PokeCalls    int

	Killed   bool
	Detached bool

	pages   map[uint64]*[pageSize]byte
	queued  []int
	next    *fakeStop
	si      proc.Siginfo
	stopped bool
	dead    bool
}

// NewFakeTracee returns a stopped FakeTracee with code mapped at text,
// the program counter set to text and a zeroed stack below FakeStackTop.
func NewFakeTracee(pid int, text uint64, code []byte) *FakeTracee {
	ft := &FakeTracee{
		PID:      pid,
		Handlers: make(map[int]uint64),
		Fail:     make(map[string]error),
		pages:    make(map[uint64]*[pageSize]byte),
		stopped:  true,
	}
	ft.Map(text, code)
	ft.MapZero(FakeStackTop-FakeStackSize, FakeStackSize)
	ft.Regs.Rip = text
	ft.Regs.Rsp = FakeStackTop - 0x100
	ft.Regs.Cs = 0x33
	ft.Regs.Ss = 0x2b
	ft.Regs.Eflags = 0x246
	return ft
}

// Map maps the pages containing [addr, addr+len(data)) and copies data
// there.
func (ft *FakeTracee) Map(addr uint64, data []byte) {
	ft.MapZero(addr, uint64(len(data)))
	for i, b := range data {
		ft.writeByte(addr+uint64(i), b)
	}
}

// MapZero maps the pages containing [addr, addr+size).
func (ft *FakeTracee) MapZero(addr, size uint64) {
	for p := addr &^ (pageSize - 1); p < addr+size; p += pageSize {
		if ft.pages[p] == nil {
			ft.pages[p] = new([pageSize]byte)
		}
	}
}

// Bytes returns n bytes of memory at addr, bypassing the trace
// interface. Unmapped bytes read as zero.
func (ft *FakeTracee) Bytes(addr uint64, n int) []byte {
	r := make([]byte, n)
	for i := range r {
		r[i], _ = ft.readByte(addr + uint64(i))
	}
	return r
}

// Word returns the little endian word at addr, bypassing the trace
// interface.
func (ft *FakeTracee) Word(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(ft.Bytes(addr, 8))
}

// QueueSignal makes the next resume stop with sig before any instruction
// is executed, as if the signal had been sent by another process.
func (ft *FakeTracee) QueueSignal(sig int) {
	ft.queued = append(ft.queued, sig)
}

// Interrupt queues SIGINT, it is reported by the next resume.
func (ft *FakeTracee) Interrupt() error {
	if ft.dead {
		return syscall.ESRCH
	}
	ft.QueueSignal(proc.SIGINT)
	return nil
}

// Dead returns true once the process has exited or was killed.
func (ft *FakeTracee) Dead() bool {
	return ft.dead
}

func (ft *FakeTracee) readByte(addr uint64) (byte, bool) {
	page := ft.pages[addr&^(pageSize-1)]
	if page == nil {
		return 0, false
	}
	return page[addr&(pageSize-1)], true
}

func (ft *FakeTracee) writeByte(addr uint64, b byte) bool {
	page := ft.pages[addr&^(pageSize-1)]
	if page == nil {
		return false
	}
	page[addr&(pageSize-1)] = b
	return true
}

func (ft *FakeTracee) check(op string) error {
	if err := ft.Fail[op]; err != nil {
		return err
	}
	if ft.dead || !ft.stopped {
		return syscall.ESRCH
	}
	return nil
}

func (ft *FakeTracee) Pid() int {
	return ft.PID
}

func (ft *FakeTracee) PeekWord(addr uint64) (uint64, error) {
	ft.PeekCalls++
	if err := ft.check("peek"); err != nil {
		return 0, err
	}
	var buf [8]byte
	for i := range buf {
		b, ok := ft.readByte(addr + uint64(i))
		if !ok {
			return 0, syscall.EIO
		}
		buf[i] = b
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (ft *FakeTracee) PokeWord(addr, word uint64) error {
	ft.PokeCalls++
	if err := ft.check("poke"); err != nil {
		return err
	}
	for i := uint64(0); i < 8; i++ {
		if _, ok := ft.readByte(addr + i); !ok {
			return syscall.EIO
		}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	for i, b := range buf {
		ft.writeByte(addr+uint64(i), b)
	}
	return nil
}

func (ft *FakeTracee) GetRegs(regs *proc.AMD64PtraceRegs) error {
	ft.GetRegsCalls++
	if err := ft.check("getregs"); err != nil {
		return err
	}
	*regs = ft.Regs
	return nil
}

func (ft *FakeTracee) SetRegs(regs *proc.AMD64PtraceRegs) error {
	ft.SetRegsCalls++
	if err := ft.check("setregs"); err != nil {
		return err
	}
	ft.Regs = *regs
	return nil
}

func (ft *FakeTracee) Cont(sig int) error {
	if err := ft.check("cont"); err != nil {
		return err
	}
	ft.resume(sig)
	max := ft.MaxSteps
	if max <= 0 {
		max = defaultMaxSteps
	}
	for i := 0; ft.next == nil; i++ {
		if i >= max {
			ft.stop(proc.SIGSTOP, 0, 0)
			return errStepLimit
		}
		ft.exec()
	}
	return nil
}

func (ft *FakeTracee) SingleStep(sig int) error {
	if err := ft.check("singlestep"); err != nil {
		return err
	}
	handlerEntry := sig != 0 && ft.Handlers[sig] != 0
	ft.resume(sig)
	if ft.next == nil && !handlerEntry {
		ft.exec()
	}
	if ft.next == nil {
		ft.stop(proc.SIGTRAP, trapTrace, 0)
	}
	return nil
}

func (ft *FakeTracee) Wait() (proc.WaitStatus, error) {
	if err := ft.Fail["wait"]; err != nil {
		return proc.WaitStatus{}, err
	}
	if ft.next == nil {
		if ft.dead {
			return proc.WaitStatus{}, syscall.ECHILD
		}
		return proc.WaitStatus{}, errors.New("fake tracee: wait without resume")
	}
	st := ft.next
	ft.next = nil
	if st.ws.Stopped {
		ft.stopped = true
		ft.si = st.si
	}
	return st.ws, nil
}

func (ft *FakeTracee) Siginfo() (proc.Siginfo, error) {
	if err := ft.check("siginfo"); err != nil {
		return proc.Siginfo{}, err
	}
	return ft.si, nil
}

func (ft *FakeTracee) Kill() error {
	if ft.dead {
		return syscall.ESRCH
	}
	ft.dead = true
	ft.stopped = false
	ft.Killed = true
	return nil
}

func (ft *FakeTracee) Detach(kill bool) error {
	if err := ft.Fail["detach"]; err != nil {
		return err
	}
	if kill {
		return ft.Kill()
	}
	ft.Detached = true
	ft.stopped = false
	return nil
}

// resume delivers sig and reports the first queued signal, if any.
func (ft *FakeTracee) resume(sig int) {
	ft.stopped = false
	if sig != 0 {
		ft.Delivered = append(ft.Delivered, sig)
		if handler := ft.Handlers[sig]; handler != 0 {
			if !ft.push(ft.Regs.Rip) {
				ft.terminate(proc.SIGSEGV)
				return
			}
			ft.Regs.Rip = handler
		} else if !ignoredByDefault(sig) {
			ft.terminate(sig)
			return
		}
	}
	if len(ft.queued) > 0 {
		sig := ft.queued[0]
		ft.queued = ft.queued[1:]
		ft.stop(sig, 0, 0)
	}
}

func ignoredByDefault(sig int) bool {
	switch sig {
	case 0x11, 0x12, 0x17, 0x1c: // SIGCHLD, SIGCONT, SIGURG, SIGWINCH
		return true
	}
	return false
}

func (ft *FakeTracee) stop(sig, code int, addr uint64) {
	ft.next = &fakeStop{
		ws: proc.WaitStatus{Stopped: true, StopSignal: sig},
		si: proc.Siginfo{Signo: sig, Code: code, Addr: addr},
	}
}

func (ft *FakeTracee) exit(status int) {
	ft.dead = true
	ft.next = &fakeStop{ws: proc.WaitStatus{Exited: true, ExitStatus: status}}
}

func (ft *FakeTracee) terminate(sig int) {
	ft.dead = true
	ft.next = &fakeStop{ws: proc.WaitStatus{Signaled: true, Signal: sig}}
}

func (ft *FakeTracee) push(v uint64) bool {
	sp := ft.Regs.Rsp - 8
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for i, b := range buf {
		if !ft.writeByte(sp+uint64(i), b) {
			return false
		}
	}
	ft.Regs.Rsp = sp
	return true
}

func (ft *FakeTracee) pop() (uint64, bool) {
	var buf [8]byte
	for i := range buf {
		b, ok := ft.readByte(ft.Regs.Rsp + uint64(i))
		if !ok {
			return 0, false
		}
		buf[i] = b
	}
	ft.Regs.Rsp += 8
	return binary.LittleEndian.Uint64(buf[:]), true
}

func (ft *FakeTracee) reg(r x86asm.Reg) *uint64 {
	switch r {
	case x86asm.RAX:
		return &ft.Regs.Rax
	case x86asm.RCX:
		return &ft.Regs.Rcx
	case x86asm.RDX:
		return &ft.Regs.Rdx
	case x86asm.RBX:
		return &ft.Regs.Rbx
	case x86asm.RSP:
		return &ft.Regs.Rsp
	case x86asm.RBP:
		return &ft.Regs.Rbp
	case x86asm.RSI:
		return &ft.Regs.Rsi
	case x86asm.RDI:
		return &ft.Regs.Rdi
	case x86asm.R8:
		return &ft.Regs.R8
	case x86asm.R9:
		return &ft.Regs.R9
	case x86asm.R10:
		return &ft.Regs.R10
	case x86asm.R11:
		return &ft.Regs.R11
	case x86asm.R12:
		return &ft.Regs.R12
	case x86asm.R13:
		return &ft.Regs.R13
	case x86asm.R14:
		return &ft.Regs.R14
	case x86asm.R15:
		return &ft.Regs.R15
	}
	return nil
}

// operand returns the value of a register or immediate argument.
func (ft *FakeTracee) operand(arg x86asm.Arg) (uint64, bool) {
	switch a := arg.(type) {
	case x86asm.Reg:
		if p := ft.reg(a); p != nil {
			return *p, true
		}
	case x86asm.Imm:
		return uint64(a), true
	}
	return 0, false
}

func (ft *FakeTracee) setZero(v uint64) {
	if v == 0 {
		ft.Regs.Eflags |= zeroFlag
	} else {
		ft.Regs.Eflags &^= zeroFlag
	}
}

// exec executes the instruction at the program counter.
func (ft *FakeTracee) exec() {
	pc := ft.Regs.Rip
	first, ok := ft.readByte(pc)
	if !ok {
		ft.stop(proc.SIGSEGV, segvMaperr, pc)
		return
	}
	if first == 0xCC {
		ft.Regs.Rip = pc + 1
		ft.stop(proc.SIGTRAP, siKernel, 0)
		return
	}
	code := make([]byte, 0, 15)
	for i := uint64(0); i < 15; i++ {
		b, ok := ft.readByte(pc + i)
		if !ok {
			break
		}
		code = append(code, b)
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		ft.stop(proc.SIGILL, 0, pc)
		return
	}
	next := pc + uint64(inst.Len)

	switch inst.Op {
	case x86asm.HLT:
		ft.Regs.Rip = next
		ft.exit(int(ft.Regs.Rax & 0xff))
		return
	case x86asm.UD2:
		ft.stop(proc.SIGILL, 0, pc)
		return
	case x86asm.PUSH:
		v, _ := ft.operand(inst.Args[0])
		if !ft.push(v) {
			ft.stop(proc.SIGSEGV, segvMaperr, ft.Regs.Rsp-8)
			return
		}
	case x86asm.POP:
		v, ok := ft.pop()
		if !ok {
			ft.stop(proc.SIGSEGV, segvMaperr, ft.Regs.Rsp)
			return
		}
		if r, ok := inst.Args[0].(x86asm.Reg); ok && ft.reg(r) != nil {
			*ft.reg(r) = v
		}
	case x86asm.MOV:
		dst, ok := inst.Args[0].(x86asm.Reg)
		if v, ok2 := ft.operand(inst.Args[1]); ok && ok2 && ft.reg(dst) != nil {
			*ft.reg(dst) = v
		}
	case x86asm.ADD, x86asm.SUB, x86asm.CMP:
		dst, ok := inst.Args[0].(x86asm.Reg)
		v, ok2 := ft.operand(inst.Args[1])
		if ok && ok2 && ft.reg(dst) != nil {
			p := ft.reg(dst)
			var res uint64
			switch inst.Op {
			case x86asm.ADD:
				res = *p + v
				*p = res
			case x86asm.SUB:
				res = *p - v
				*p = res
			default:
				res = *p - v
			}
			ft.setZero(res)
		}
	case x86asm.LEAVE:
		ft.Regs.Rsp = ft.Regs.Rbp
		v, ok := ft.pop()
		if !ok {
			ft.stop(proc.SIGSEGV, segvMaperr, ft.Regs.Rsp)
			return
		}
		ft.Regs.Rbp = v
	case x86asm.CALL:
		rel, ok := inst.Args[0].(x86asm.Rel)
		if !ok {
			break
		}
		if !ft.push(next) {
			ft.stop(proc.SIGSEGV, segvMaperr, ft.Regs.Rsp-8)
			return
		}
		next += uint64(int64(rel))
	case x86asm.RET:
		v, ok := ft.pop()
		if !ok {
			ft.stop(proc.SIGSEGV, segvMaperr, ft.Regs.Rsp)
			return
		}
		next = v
	case x86asm.JMP, x86asm.JE, x86asm.JNE:
		rel, ok := inst.Args[0].(x86asm.Rel)
		if !ok {
			break
		}
		zf := ft.Regs.Eflags&zeroFlag != 0
		if inst.Op == x86asm.JMP || (inst.Op == x86asm.JE && zf) || (inst.Op == x86asm.JNE && !zf) {
			next += uint64(int64(rel))
		}
	}
	ft.Regs.Rip = next
}
