// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/minidbg/pkg/proc"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the minidbg terminal process.
type Commands struct {
	cmds []command
	// index maps every alias to the position of its command in cmds.
	index *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <address>

The address is hexadecimal, the 0x prefix is optional. Setting a
breakpoint where one is already set enables it again.

See also: "help clear", "help disable"`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clear, helpMsg: `Deletes breakpoint.

	clear <address>

The original instruction is written back.`},
		{aliases: []string{"enable"}, group: breakCmds, cmdFn: enableBreakpoint, helpMsg: `Enables a disabled breakpoint.

	enable <address>`},
		{aliases: []string{"disable"}, group: breakCmds, cmdFn: disableBreakpoint, helpMsg: `Disables a breakpoint without deleting it.

	disable <address>`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Run until breakpoint or program termination.

	continue

A signal that stopped the program is delivered or discarded according to
the signal policy, see "help config".`},
		{aliases: []string{"step", "stepi", "si"}, group: runCmds, cmdFn: stepInstruction, helpMsg: `Single step a single cpu instruction.

	step

A breakpoint on the current instruction is stepped over.`},
		{aliases: []string{"stepout", "so"}, group: runCmds, cmdFn: stepout, helpMsg: `Step out of the current function.

	stepout

The return address is read from the frame pointer chain, the current
function must have set up its frame.`},
		{aliases: []string{"runto"}, group: runCmds, cmdFn: runto, helpMsg: `Run until the program reaches an address.

	runto <address>`},
		{aliases: []string{"register", "r"}, group: dataCmds, cmdFn: register, helpMsg: `Read or write registers.

	register read <name>
	register write <name> <value>
	register dump

Register names are the ones of the kernel register set, for example rip,
rax, eflags, orig_rax or fs_base. Values are hexadecimal.`},
		{aliases: []string{"memory", "m"}, group: dataCmds, cmdFn: memory, helpMsg: `Read or write memory.

	memory read <address> [count]
	memory write <address> <byte>

Addresses, values and count are hexadecimal. Memory is read and written
one byte at a time, count defaults to 1.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of commands.

	source <path>

Empty lines and lines starting with # are ignored.`},
		{aliases: []string{"exit", "quit", "q", "x"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit

A launched program is killed, for an attached one you will be asked.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.rebuildIndex()
	return c
}

func (c *Commands) rebuildIndex() {
	c.index = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			c.index.Add(alias, i)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.rebuildIndex()
}

// Find will look up the command function for the given command input.
// An alias matches exactly or as an unambiguous prefix. If it cannot find
// the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	if node, ok := c.index.Find(cmdstr); ok {
		return c.cmds[node.Meta().(int)].cmdFn
	}

	found := -1
	var names []string
	for _, alias := range c.index.PrefixSearch(cmdstr) {
		node, ok := c.index.Find(alias)
		if !ok {
			continue
		}
		i := node.Meta().(int)
		if found < 0 || found == i {
			found = i
			continue
		}
		names = append(names, c.cmds[found].aliases[0], c.cmds[i].aliases[0])
		found = i
	}
	if len(names) > 0 {
		names = uniqueSorted(names)
		return func(t *Term, args string) error {
			return fmt.Errorf("ambiguous command %q, could be: %s", cmdstr, strings.Join(names, ", "))
		}
	}
	if found >= 0 {
		return c.cmds[found].cmdFn
	}
	return noCmdAvailable
}

func uniqueSorted(v []string) []string {
	sort.Strings(v)
	r := v[:0]
	for i := range v {
		if i == 0 || v[i] != v[i-1] {
			r = append(r, v[i])
		}
	}
	return r
}

// complete returns the aliases starting with line.
func (c *Commands) complete(line string) []string {
	r := c.index.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.rebuildIndex()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	switch len(v) {
	case 0:
		return nil, nil
	case 1:
		return v[0], nil
	}
	return nil, errors.New("pipes are not supported")
}

// parseHex parses a hexadecimal number with an optional 0x prefix.
func parseHex(s string) (uint64, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(t, 16, 64)
	if err != nil || t == "" {
		return 0, fmt.Errorf("invalid hexadecimal number %q", s)
	}
	return n, nil
}

// addressArg parses the single address argument of a command.
func addressArg(cmdname, args string) (uint64, error) {
	v, err := splitArgs(args)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("wrong number of arguments: %s <address>", cmdname)
	}
	return parseHex(v[0])
}

func breakpoint(t *Term, args string) error {
	addr, err := addressArg("break", args)
	if err != nil {
		return err
	}
	bp, err := t.target.SetBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s set at %#x\n", formatBreakpointName(bp, true), bp.Addr)
	return nil
}

func clear(t *Term, args string) error {
	addr, err := addressArg("clear", args)
	if err != nil {
		return err
	}
	bp, err := t.target.ClearBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s cleared at %#x\n", formatBreakpointName(bp, true), bp.Addr)
	return nil
}

func enableBreakpoint(t *Term, args string) error {
	addr, err := addressArg("enable", args)
	if err != nil {
		return err
	}
	bp, err := t.target.EnableBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s enabled\n", formatBreakpointName(bp, true))
	return nil
}

func disableBreakpoint(t *Term, args string) error {
	addr, err := addressArg("disable", args)
	if err != nil {
		return err
	}
	bp, err := t.target.DisableBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s disabled\n", formatBreakpointName(bp, true))
	return nil
}

func formatBreakpointName(bp *proc.Breakpoint, upcase bool) string {
	thing := "breakpoint"
	if upcase {
		thing = "Breakpoint"
	}
	return fmt.Sprintf("%s %d", thing, bp.ID)
}

func breakpoints(t *Term, args string) error {
	bps := t.target.Breakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints set")
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, bp := range bps {
		state := t.colorize(ansiGreen, "enabled")
		if !bp.Enabled {
			state = t.colorize(ansiYellow, "disabled")
		}
		fmt.Fprintf(w, "%s\tat %#x\t(%s)\thit %d times\n", formatBreakpointName(bp, true), bp.Addr, state, bp.TotalHitCount)
	}
	return w.Flush()
}

func cont(t *Term, args string) error {
	return t.resume(t.target.Continue)
}

func stepInstruction(t *Term, args string) error {
	return t.resume(t.target.StepInstruction)
}

func stepout(t *Term, args string) error {
	return t.resume(t.target.StepOut)
}

func runto(t *Term, args string) error {
	addr, err := addressArg("runto", args)
	if err != nil {
		return err
	}
	return t.resume(func() (*proc.StopEvent, error) {
		return t.target.RunTo(addr)
	})
}

func register(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return errors.New("wrong number of arguments: register read|write|dump")
	}
	switch v[0] {
	case "read":
		if len(v) != 2 {
			return errors.New("wrong number of arguments: register read <name>")
		}
		val, err := t.target.ReadRegisterByName(v[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%s = %#x\n", strings.ToLower(v[1]), val)
	case "write":
		if len(v) != 3 {
			return errors.New("wrong number of arguments: register write <name> <value>")
		}
		val, err := parseHex(v[2])
		if err != nil {
			return err
		}
		return t.target.WriteRegisterByName(v[1], val)
	case "dump":
		regs, err := t.target.Registers()
		if err != nil {
			return err
		}
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
		for _, reg := range regs.Slice() {
			fmt.Fprintf(w, "%s\t%#x\t\n", reg.Reg, reg.Value)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown register subcommand %q", v[0])
	}
	return nil
}

func memory(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) < 2 {
		return errors.New("wrong number of arguments: memory read|write <address> ...")
	}
	addr, err := parseHex(v[1])
	if err != nil {
		return err
	}
	switch v[0] {
	case "read":
		count := uint64(1)
		switch len(v) {
		case 2:
		case 3:
			count, err = parseHex(v[2])
			if err != nil || count == 0 {
				return fmt.Errorf("invalid count %q", v[2])
			}
		default:
			return errors.New("wrong number of arguments: memory read <address> [count]")
		}
		return examineMemory(t, addr, count)
	case "write":
		if len(v) != 3 {
			return errors.New("wrong number of arguments: memory write <address> <byte>")
		}
		val, err := parseHex(v[2])
		if err != nil {
			return err
		}
		if val > 0xff {
			return fmt.Errorf("value %#x does not fit in a byte", val)
		}
		return t.target.WriteMemoryByte(addr, byte(val))
	default:
		return fmt.Errorf("unknown memory subcommand %q", v[0])
	}
}

// examineMemory prints count bytes starting at addr, 16 per line.
func examineMemory(t *Term, addr, count uint64) error {
	const perLine = 16
	var line strings.Builder
	for i := uint64(0); i < count; i++ {
		b, err := t.target.ReadMemoryByte(addr + i)
		if err != nil {
			if line.Len() > 0 {
				fmt.Fprintln(t.stdout, line.String())
			}
			return err
		}
		if i%perLine == 0 {
			if line.Len() > 0 {
				fmt.Fprintln(t.stdout, line.String())
				line.Reset()
			}
			fmt.Fprintf(&line, "%#x:", addr+i)
		}
		fmt.Fprintf(&line, " %02x", b)
	}
	fmt.Fprintln(t.stdout, line.String())
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return errors.New("wrong number of arguments: source <filename>")
	}
	return c.executeFile(t, args)
}

// ExitRequestError is returned when the user
// exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
