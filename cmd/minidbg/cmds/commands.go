package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/minidbg/pkg/config"
	"github.com/go-delve/minidbg/pkg/logflags"
	"github.com/go-delve/minidbg/pkg/proc"
	"github.com/go-delve/minidbg/pkg/proc/native"
	"github.com/go-delve/minidbg/pkg/terminal"
	"github.com/go-delve/minidbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// workingDir is the working directory for running the program.
	workingDir string
	// tty is used to provide an alternate TTY for the program you wish to debug.
	tty string
	// stopAtEntry runs the program to its entry point before the first prompt.
	stopAtEntry bool

	maxBreakpoints int
	disableASLR    bool
	signalPolicy   signalPolicyFlag

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const minidbgCommandLongDesc = `minidbg is a machine level debugger for x86-64 Linux programs.

minidbg starts or attaches to a program and lets you set breakpoints at
addresses, single step instructions, step out of functions and inspect
registers and memory.

Pass flags to the program you are debugging using ` + "`--`" + `, for example:

` + "`minidbg exec ./hello -- server --config conf/config.toml`"

// signalPolicyFlag is the value of the --signal-policy flag.
type signalPolicyFlag proc.SignalPolicy

var _ pflag.Value = (*signalPolicyFlag)(nil)

func (f *signalPolicyFlag) String() string {
	return proc.SignalPolicy(*f).String()
}

func (f *signalPolicyFlag) Set(s string) error {
	p, err := proc.ParseSignalPolicy(s)
	if err != nil {
		return err
	}
	*f = signalPolicyFlag(p)
	return nil
}

func (f *signalPolicyFlag) Type() string {
	return "policy"
}

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	// Main minidbg root command.
	rootCommand = &cobra.Command{
		Use:          "minidbg",
		Short:        "minidbg is a machine level debugger for x86-64 Linux programs.",
		Long:         minidbgCommandLongDesc,
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'minidbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'minidbg help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", ".", "Working directory for running the program.")
	rootCommand.PersistentFlags().IntVar(&maxBreakpoints, "max-breakpoints", conf.GetMaxBreakpoints(), "Maximum number of breakpoints, 0 means unlimited.")
	rootCommand.PersistentFlags().BoolVar(&disableASLR, "disable-aslr", conf.GetDisableASLR(), "Disable address space randomization of launched programs.")
	signalPolicy = signalPolicyFlag(proc.SignalPass)
	rootCommand.PersistentFlags().Var(&signalPolicy, "signal-policy", `What to do with a signal that stopped the program when it is resumed, "pass" or "suppress".`)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to running process and begin debugging.",
		Long: `Attach to an already running process and begin debugging it.

This command will cause minidbg to take control of an already running process, and
begin a new debug session.  When exiting the debug session you will have the
option to let the process continue or kill it.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'exec' subcommand.
	execCommand := &cobra.Command{
		Use:   "exec <path/to/binary> [-- args]",
		Short: "Execute a precompiled binary, and begin a debug session.",
		Long: `Execute a precompiled binary and begin a debug session.

This command will cause minidbg to exec the binary and immediately attach to it to
begin a new debug session. The program is stopped before its first instruction,
use --stop-at-entry to run it to the entry point of the executable instead.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(cmd, 0, args))
		},
	}
	execCommand.Flags().StringVar(&tty, "tty", "", "TTY to use for the target program")
	execCommand.Flags().BoolVar(&stopAtEntry, "stop-at-entry", false, "Run the program to its entry point before the first prompt.")
	rootCommand.AddCommand(execCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "minidbg\n%s\n", version.MinidbgVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log execution control decisions
	ptrace		Log every trace request sent to the kernel
	trap		Log the classification of every stop

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(cmd, pid, nil))
}

// targetConfig merges the configuration file with the flags explicitly
// set on the command line.
func targetConfig(flags *pflag.FlagSet) (proc.Config, proc.LaunchFlags, error) {
	cfg := proc.Config{MaxBreakpoints: conf.GetMaxBreakpoints()}
	policy, err := proc.ParseSignalPolicy(conf.GetSignalPolicy())
	if err != nil {
		return cfg, 0, fmt.Errorf("configuration file: %v", err)
	}
	cfg.SignalPolicy = policy

	if flags.Changed("max-breakpoints") {
		cfg.MaxBreakpoints = maxBreakpoints
	}
	if cfg.MaxBreakpoints < 0 {
		return cfg, 0, fmt.Errorf("invalid maximum number of breakpoints %d", cfg.MaxBreakpoints)
	}
	if flags.Changed("signal-policy") {
		cfg.SignalPolicy = proc.SignalPolicy(signalPolicy)
	}

	var lf proc.LaunchFlags
	noASLR := conf.GetDisableASLR()
	if flags.Changed("disable-aslr") {
		noASLR = disableASLR
	}
	if noASLR {
		lf |= proc.LaunchDisableASLR
	}
	return cfg, lf, nil
}

func execute(cmd *cobra.Command, attachPid int, processArgs []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	cfg, launchFlags, err := targetConfig(cmd.Flags())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var p *native.Process
	if attachPid == 0 {
		cfg.StopReason = proc.StopLaunched
		p, err = native.Launch(processArgs, workingDir, launchFlags, tty)
	} else {
		cfg.StopReason = proc.StopAttached
		p, err = native.Attach(attachPid)
	}
	if err != nil {
		if errors.Is(err, native.ErrNotExecutable) {
			fmt.Fprintf(os.Stderr, "%s is not executable\n", processArgs[0])
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	target := proc.NewTarget(p, cfg)
	logflags.DebuggerLogger().Debugf("debugging pid %d (%s)", p.Pid(), p.Comm())

	if stopAtEntry && attachPid == 0 {
		entry, err := p.EntryPoint()
		if err == nil {
			_, err = target.RunTo(entry)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not run to entry point: %v\n", err)
		}
	}

	term := terminal.New(target, conf, attachPid != 0)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
