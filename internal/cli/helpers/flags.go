package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/autotest/internal/config"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
// Validates that the format is in the supportedFormats list.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat), description)

	// Add shell completion for format flag.
	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}

	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}

// ConfigFlags holds the flag values that override configuration.
type ConfigFlags struct {
	ConfigPath string
	Strategy   string
	Isolation  string
	Run        []string
	LogLevel   string
	LogPretty  bool
}

// AddFlags adds configuration flags to a FlagSet.
func (f *ConfigFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.ConfigPath, "config", "", "Configuration file (default $AUTOTEST_CONFIG or ./autotest.yaml)")
	flags.StringVar(&f.Strategy, "strategy", config.DefaultStrategy, "Discovery strategy (auto, dynamic, sections)")
	flags.StringVar(&f.Isolation, "isolation", config.DefaultIsolation, "Test isolation (process, inprocess)")
	flags.StringArrayVar(&f.Run, "run", nil, "Only run tests whose name contains this substring (repeatable)")
	flags.StringVar(&f.LogLevel, "log-level", config.DefaultLogLevel, "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&f.LogPretty, "log-pretty", false, "Human-readable logs (default when stderr is a terminal)")
}

// Load reads the layered configuration and applies the flags that were set
// explicitly. The result is validated.
func (f *ConfigFlags) Load(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.NewLayeredLoader().Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	f.Apply(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overrides cfg with every flag set on the command line.
func (f *ConfigFlags) Apply(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("strategy") {
		cfg.Strategy = f.Strategy
	}
	if flags.Changed("isolation") {
		cfg.Isolation = f.Isolation
	}
	if flags.Changed("run") {
		cfg.Run = f.Run
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if flags.Changed("log-pretty") {
		cfg.Log.Pretty = f.LogPretty
	}
}
