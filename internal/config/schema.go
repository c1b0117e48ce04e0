// Package config holds the harness configuration.
//
// Values are layered: defaults, then a YAML file, then AUTOTEST_* environment
// variables. Command-line flags are applied last by the caller.
package config

// Config is the harness configuration.
type Config struct {
	// Strategy selects symbol enumeration: auto, dynamic or sections.
	Strategy string `yaml:"strategy" env:"AUTOTEST_STRATEGY"`
	// Isolation selects where cases run: process or inprocess. With
	// inprocess a case that calls os.Exit ends the whole run with its status.
	Isolation string `yaml:"isolation" env:"AUTOTEST_ISOLATION"`
	// Run keeps only cases whose name contains one of the patterns.
	Run []string `yaml:"run" env:"AUTOTEST_RUN"`

	Log LogConfig `yaml:"log"`
}

// LogConfig configures harness logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"AUTOTEST_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"AUTOTEST_LOG_PRETTY"`
}
