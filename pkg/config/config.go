// Package config implements loading and saving of the sdb
// configuration file.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir   string = ".sdb"
	configFile  string = "config.yml"
	historyFile string = "history"
)

// DefaultEntryFunction is the function name at which stack unwinding
// terminates when the config file does not override it. Targets built
// by the Go toolchain enter user code at main.main.
const DefaultEntryFunction = "main.main"

// DefaultMaxBacktraceDepth bounds a backtrace walked through corrupt
// frame-pointer linkage.
const DefaultMaxBacktraceDepth = 64

// Config defines all configuration options available to be set through
// the config file.
type Config struct {
	// Command aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// EntryFunction is the function whose frame terminates a backtrace.
	EntryFunction string `yaml:"entry-function"`

	// MaxBacktraceDepth is the maximum number of frames printed by the
	// backtrace command.
	MaxBacktraceDepth int `yaml:"max-backtrace-depth"`

	// ShowSource controls whether stop reports include the resolved
	// source position in addition to the raw address.
	ShowSource bool `yaml:"show-source"`
}

// LoadConfig attempts to populate a Config object from the config.yml
// file. Missing or unreadable files yield the defaults.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.\n", err)
		return defaultConfig()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.\n", err)
		return defaultConfig()
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v\n", err)
			return defaultConfig()
		}
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Printf("Closing config file failed: %v.\n", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.\n", err)
		return defaultConfig()
	}

	c := defaultConfig()
	err = yaml.Unmarshal(data, c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.\n", err)
		return defaultConfig()
	}
	if c.EntryFunction == "" {
		c.EntryFunction = DefaultEntryFunction
	}
	if c.MaxBacktraceDepth <= 0 {
		c.MaxBacktraceDepth = DefaultMaxBacktraceDepth
	}
	return c
}

// SaveConfig will marshal and save the config struct to disk.
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

func defaultConfig() *Config {
	return &Config{
		EntryFunction:     DefaultEntryFunction,
		MaxBacktraceDepth: DefaultMaxBacktraceDepth,
		ShowSource:        true,
	}
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	f.Seek(0, os.SEEK_SET)
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the sdb debugger.

# This is the default configuration file. Available options are
# provided, but disabled. Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given
# command.
# aliases:
#   command: ["alias1", "alias2"]

# Function whose frame terminates a backtrace.
# entry-function: main.main

# Maximum number of frames printed by the backtrace command.
# max-backtrace-depth: 64

# Print resolved source positions in stop reports.
# show-source: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config
// files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(fname string) (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return path.Join(usr.HomeDir, configDir, fname), nil
}

// HistoryFilePath returns the path at which the terminal persists its
// command history.
func HistoryFilePath() (string, error) {
	return GetConfigFilePath(historyFile)
}
