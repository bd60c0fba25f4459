package test

// Addresses of the sample program returned by SampleProgram.
const (
	SampleMain       = 0x401000 // push rbp; mov rbp, rsp
	SampleCallFn     = 0x401004 // call SampleFn
	SampleFnReturn   = 0x401009 // mov rdi, 3
	SampleCallRec    = 0x401010 // call SampleRec
	SampleRecReturn  = 0x401015 // mov rax, 7
	SampleExit       = 0x40101d // hlt
	SampleFn         = 0x401020 // push rbp; mov rbp, rsp
	SampleFnBody     = 0x401024 // mov rcx, 0x2a
	SampleFnNop      = 0x40102b // nop
	SampleRec        = 0x401040 // push rbp; mov rbp, rsp
	SampleRecCall    = 0x40104a // call SampleRec
	SampleRecEpilog  = 0x40104f // pop rbp
	SampleHandler    = 0x401060 // mov rdx, 0x63; ret
	SampleExitStatus = 7
)

// SampleProgram returns the machine code of a small program to be loaded
// at SampleMain:
//
//	main:
//		push rbp
//		mov rbp, rsp
//		call fn
//		mov rdi, 3
//		call rec
//		mov rax, 7
//		pop rbp
//		hlt
//	fn:
//		push rbp
//		mov rbp, rsp
//		mov rcx, 0x2a
//		nop
//		pop rbp
//		ret
//	rec:
//		push rbp
//		mov rbp, rsp
//		sub rdi, 1
//		je 1f
//		call rec
//	1:	pop rbp
//		ret
//	handler:
//		mov rdx, 0x63
//		ret
func SampleProgram() []byte {
	code := make([]byte, SampleHandler+8-SampleMain)
	for i := range code {
		code[i] = 0x90
	}
	put := func(addr uint64, b ...byte) {
		copy(code[addr-SampleMain:], b)
	}
	put(SampleMain, 0x55, 0x48, 0x89, 0xe5)
	put(SampleCallFn, 0xe8, 0x17, 0x00, 0x00, 0x00)
	put(SampleFnReturn, 0x48, 0xc7, 0xc7, 0x03, 0x00, 0x00, 0x00)
	put(SampleCallRec, 0xe8, 0x2b, 0x00, 0x00, 0x00)
	put(SampleRecReturn, 0x48, 0xc7, 0xc0, SampleExitStatus, 0x00, 0x00, 0x00)
	put(SampleRecReturn+7, 0x5d)
	put(SampleExit, 0xf4)

	put(SampleFn, 0x55, 0x48, 0x89, 0xe5)
	put(SampleFnBody, 0x48, 0xc7, 0xc1, 0x2a, 0x00, 0x00, 0x00)
	put(SampleFnNop+1, 0x5d, 0xc3)

	put(SampleRec, 0x55, 0x48, 0x89, 0xe5)
	put(SampleRec+4, 0x48, 0x83, 0xef, 0x01)
	put(SampleRec+8, 0x74, 0x05)
	put(SampleRecCall, 0xe8, 0xf1, 0xff, 0xff, 0xff)
	put(SampleRecEpilog, 0x5d, 0xc3)

	put(SampleHandler, 0x48, 0xc7, 0xc2, 0x63, 0x00, 0x00, 0x00, 0xc3)
	return code
}

// NewSampleTracee returns a FakeTracee stopped at the first instruction
// of SampleProgram.
func NewSampleTracee() *FakeTracee {
	ft := NewFakeTracee(1234, SampleMain, SampleProgram())
	ft.Handlers[0xa] = SampleHandler // SIGUSR1
	return ft
}
