package config

import (
	"os"

	"github.com/coral-mesh/autotest/internal/logging"
)

// Default values.
const (
	DefaultStrategy  = "auto"
	DefaultIsolation = "process"
	DefaultLogLevel  = "warn"

	// DefaultFileName is the configuration file looked up in the working
	// directory when no path is given.
	DefaultFileName = "autotest.yaml"

	// EnvConfigPath names the configuration file.
	EnvConfigPath = "AUTOTEST_CONFIG"
)

// Default returns the default configuration. Pretty logging is on when
// standard error is a terminal.
func Default() *Config {
	return &Config{
		Strategy:  DefaultStrategy,
		Isolation: DefaultIsolation,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Pretty: logging.IsTerminal(os.Stderr),
		},
	}
}
