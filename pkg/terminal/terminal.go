package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/go-delve/minidbg/pkg/config"
	"github.com/go-delve/minidbg/pkg/logflags"
	"github.com/go-delve/minidbg/pkg/proc"
)

// Term represents the terminal running minidbg.
type Term struct {
	target   *proc.Target
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	InitFile string

	// attached is true if the target was not started by us, exiting then
	// asks before killing it.
	attached bool

	runningMutex sync.Mutex
	running      bool
}

// New returns a new Term.
func New(target *proc.Target, conf *config.Config, attached bool) *Term {
	dumb := isDumbTerminal()
	var w io.Writer
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}
	t := newTerm(target, conf, w, dumb)
	t.attached = attached
	t.line = liner.NewLiner()
	t.line.SetCtrlCAborts(true)
	return t
}

func newTerm(target *proc.Target, conf *config.Config, w io.Writer, dumb bool) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	return &Term{
		target: target,
		conf:   conf,
		prompt: "(minidbg) ",
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// sigintGuard requests a manual stop when SIGINT arrives while the target
// is running. At the prompt liner handles ^C itself.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.runningMutex.Lock()
		running := t.running
		t.runningMutex.Unlock()
		if !running {
			continue
		}
		fmt.Fprintf(t.stdout, "received SIGINT, stopping process\n")
		if err := t.target.RequestManualStop(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// Run begins running minidbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.HistoryFilePath()
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")
	t.printStop(t.target.LastStop())

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

// resume runs fn, which resumes the target, and reports where it stopped.
func (t *Term) resume(fn func() (*proc.StopEvent, error)) error {
	t.runningMutex.Lock()
	t.running = true
	t.runningMutex.Unlock()
	defer func() {
		t.runningMutex.Lock()
		t.running = false
		t.runningMutex.Unlock()
	}()

	ev, err := fn()
	if err != nil {
		return err
	}
	t.printStop(ev)
	return nil
}

// printStop describes ev to the user.
func (t *Term) printStop(ev *proc.StopEvent) {
	if ev == nil {
		return
	}
	pid := t.target.Pid()
	switch ev.Reason {
	case proc.StopExited:
		fmt.Fprintf(t.stdout, "Process %d has exited with status %d\n", pid, ev.ExitStatus)
		return
	case proc.StopKilled:
		fmt.Fprintf(t.stdout, "Process %d was killed by %s\n", pid, t.colorize(ansiRed, proc.SignalName(ev.Signal)))
		return
	case proc.StopFatalSignal:
		msg := fmt.Sprintf("%s at %#x", proc.SignalName(ev.Signal), ev.PC)
		if ev.Signal == proc.SIGSEGV || ev.Signal == proc.SIGBUS {
			msg += fmt.Sprintf(" (fault address %#x)", ev.Addr)
		}
		t.Println("> ", t.colorize(ansiRed, msg)+", continuing will terminate the process")
	case proc.StopSignal:
		t.Println("> ", fmt.Sprintf("received %s at %#x", t.colorize(ansiMagenta, proc.SignalName(ev.Signal)), ev.PC))
	default:
		t.Println("> ", ev.String())
	}
	if logflags.Debugger() {
		logflags.DebuggerLogger().Debugf("stop event %+v", *ev)
	}

	if t.conf.ShowLocationOnStop {
		if regs, err := t.target.Registers(); err == nil {
			fmt.Fprintf(t.stdout, "rip = %#x rsp = %#x rbp = %#x\n", regs.PC(), regs.SP(), regs.BP())
		}
	}
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.HistoryFilePath()
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.target.Exited() || t.target.State() == proc.StateDetached {
		return 0, nil
	}

	kill := true
	if t.attached {
		answer, err := yesno(t.line, "Would you like to kill the process? [Y/n] ")
		if err != nil {
			return 2, io.EOF
		}
		kill = answer
	}
	if err := t.target.Detach(kill); err != nil {
		return 1, err
	}
	return 0, nil
}
