package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir     string = ".minidbg"
	configDirXDG  string = "minidbg"
	configFile    string = "config.yml"
	historyFile   string = ".minidbg_history"
	maxBreakpoint        = 64
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Maximum number of breakpoints, including the ones used internally by
	// stepping commands. Zero means unlimited.
	MaxBreakpoints *int `yaml:"max-breakpoints,omitempty"`

	// What to do with signals received by the target when it is resumed:
	// "pass" or "suppress".
	SignalPolicy string `yaml:"signal-policy,omitempty"`

	// Start launched programs with address space randomization disabled.
	DisableASLR *bool `yaml:"disable-aslr,omitempty"`

	// Print the stop location after every command that resumes the target.
	ShowLocationOnStop bool `yaml:"show-location-on-stop"`
}

// GetMaxBreakpoints returns the configured breakpoint capacity.
func (c *Config) GetMaxBreakpoints() int {
	if c == nil || c.MaxBreakpoints == nil {
		return maxBreakpoint
	}
	return *c.MaxBreakpoints
}

// GetDisableASLR returns true unless ASLR was explicitly enabled.
func (c *Config) GetDisableASLR() bool {
	if c == nil || c.DisableASLR == nil {
		return true
	}
	return *c.DisableASLR
}

// GetSignalPolicy returns the configured signal policy, "pass" if unset.
func (c *Config) GetSignalPolicy() string {
	if c == nil || c.SignalPolicy == "" {
		return "pass"
	}
	return c.SignalPolicy
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	if c.MaxBreakpoints != nil && *c.MaxBreakpoints < 0 {
		return &Config{}, fmt.Errorf("invalid max-breakpoints %d", *c.MaxBreakpoints)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for the minidbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Maximum number of breakpoints, stepping commands use one temporarily.
# Zero removes the limit.
# max-breakpoints: 64

# What to do with a signal that stopped the program when it is resumed,
# either "pass" to deliver it or "suppress" to discard it.
# Fatal signals are always delivered.
# signal-policy: pass

# Uncomment the following line to launch programs with address space
# layout randomization enabled.
# disable-aslr: false

# Uncomment the following line to print the stop location after every
# continue, step and stepout.
# show-location-on-stop: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $HOME/.minidbg is used if it exists, otherwise $XDG_CONFIG_HOME/minidbg
// when XDG_CONFIG_HOME is set.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	dir := filepath.Join(userHomeDir, configDir)
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			dir = filepath.Join(xdg, configDirXDG)
		}
	}
	return filepath.Join(dir, file), nil
}

// HistoryFilePath returns the path of the terminal history file.
func HistoryFilePath() (string, error) {
	return GetConfigFilePath(historyFile)
}
