package linutil

import (
	"bytes"
	"fmt"
	"os"
)

// Process statuses, third field of /proc/pid/stat.
const (
	StatusSleeping  = 'S'
	StatusRunning   = 'R'
	StatusTraceStop = 't'
	StatusZombie    = 'Z'

	// Kernel 2.6 has TraceStop as T
	StatusTraceStopT = 'T'
)

// Status returns the status letter of process pid, or 0 if it can not be
// read.
func Status(pid int) rune {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	return parseStatus(buf)
}

// The second field of /proc/pid/stat is the name of the task in
// parentheses. Both parentheses and spaces can appear inside the name and
// no escaping happens, so the status is found after the last ')'.
func parseStatus(stat []byte) rune {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return 0
	}
	return rune(stat[i+2])
}

// Comm returns the command name of process pid.
func Comm(pid int) string {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSuffix(comm, []byte("\n")))
}
