package native

import "github.com/go-delve/minidbg/pkg/proc"

var _ proc.Tracee = (*Process)(nil)
