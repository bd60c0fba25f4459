package cmds

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/minidbg/pkg/proc"
)

func newTestCommand(t *testing.T, configYml string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	if configYml != "" {
		dir := filepath.Join(home, ".minidbg")
		require.NoError(t, os.MkdirAll(dir, 0700))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(configYml), 0600))
	}
	New()
}

func parse(t *testing.T, name string, args ...string) *pflag.FlagSet {
	t.Helper()
	cmd, _, err := rootCommand.Find([]string{name})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd.Flags()
}

func TestTargetConfigDefaults(t *testing.T) {
	newTestCommand(t, "")
	fs := parse(t, "exec")
	cfg, lf, err := targetConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.MaxBreakpoints)
	assert.Equal(t, proc.SignalPass, cfg.SignalPolicy)
	assert.Equal(t, proc.LaunchDisableASLR, lf)
}

func TestTargetConfigFromFile(t *testing.T) {
	newTestCommand(t, "max-breakpoints: 5\nsignal-policy: suppress\ndisable-aslr: false\n")
	fs := parse(t, "attach")
	cfg, lf, err := targetConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxBreakpoints)
	assert.Equal(t, proc.SignalSuppress, cfg.SignalPolicy)
	assert.Equal(t, proc.LaunchFlags(0), lf)
}

func TestTargetConfigFlagsOverrideFile(t *testing.T) {
	newTestCommand(t, "max-breakpoints: 5\nsignal-policy: suppress\ndisable-aslr: false\n")
	fs := parse(t, "exec", "--max-breakpoints", "0", "--signal-policy", "pass", "--disable-aslr", "--tty", "/dev/pts/9", "--stop-at-entry")
	cfg, lf, err := targetConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MaxBreakpoints)
	assert.Equal(t, proc.SignalPass, cfg.SignalPolicy)
	assert.Equal(t, proc.LaunchDisableASLR, lf)
	assert.Equal(t, "/dev/pts/9", tty)
	assert.True(t, stopAtEntry)
}

func TestTargetConfigErrors(t *testing.T) {
	newTestCommand(t, "")
	fs := parse(t, "exec", "--max-breakpoints", "-2")
	_, _, err := targetConfig(fs)
	assert.Error(t, err)

	cmd, _, err := rootCommand.Find([]string{"exec"})
	require.NoError(t, err)
	err = cmd.ParseFlags([]string{"--signal-policy", "drop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signal policy")

	newTestCommand(t, "signal-policy: drop\n")
	fs = parse(t, "exec")
	_, _, err = targetConfig(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file")
}

func TestSignalPolicyFlag(t *testing.T) {
	var f signalPolicyFlag
	assert.Equal(t, "pass", f.String())
	assert.Equal(t, "policy", f.Type())
	require.NoError(t, f.Set("SUPPRESS"))
	assert.Equal(t, "suppress", f.String())
	assert.Error(t, f.Set("ignore"))
	assert.Equal(t, "suppress", f.String())
}

func TestMissingArguments(t *testing.T) {
	for _, tc := range []struct {
		args []string
		err  string
	}{
		{[]string{"exec"}, "you must provide a path to a binary"},
		{[]string{"attach"}, "you must provide a PID"},
	} {
		newTestCommand(t, "")
		rootCommand.SetArgs(tc.args)
		rootCommand.SetOut(new(bytes.Buffer))
		rootCommand.SetErr(new(bytes.Buffer))
		err := rootCommand.Execute()
		require.Error(t, err, tc.args)
		assert.Equal(t, tc.err, err.Error())
	}
}

func TestVersionCommand(t *testing.T) {
	newTestCommand(t, "")
	out := new(bytes.Buffer)
	rootCommand.SetArgs([]string{"version"})
	rootCommand.SetOut(out)
	require.NoError(t, rootCommand.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "minidbg\nVersion: "), out.String())
}
