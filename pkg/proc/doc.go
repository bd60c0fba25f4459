// Package proc is a low-level package that provides methods to manipulate
// the process we are debugging.
//
// proc implements the machine level core of the debugger:
// * reading and writing registers and memory of a stopped tracee
// * the software breakpoint table
// * classification of every stop reported by the kernel
// * continue, single step, step out and run to address
//
// The kernel trace interface is abstracted by Tracee, see package native
// for the ptrace implementation.
package proc
