// Package inspect implements the inspect command: it reports the dynamic
// linking metadata of an ELF file and the test cases a harness would find in
// it.
package inspect

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/autotest/internal/cli/helpers"
	"github.com/coral-mesh/autotest/internal/discovery"
	"github.com/coral-mesh/autotest/internal/elfimage"
	autoerrors "github.com/coral-mesh/autotest/internal/errors"
	"github.com/coral-mesh/autotest/internal/logging"
)

// Report describes one ELF file.
type Report struct {
	Path        string `json:"path"`
	Class       string `json:"class"`
	ByteOrder   string `json:"byte_order"`
	Low         string `json:"low"`
	High        string `json:"high"`
	Interpreter bool   `json:"interpreter"`
	Dynamic     bool   `json:"dynamic"`

	HashKind string `json:"hash_kind,omitempty"`
	Buckets  uint32 `json:"buckets,omitempty"`
	Symbols  uint32 `json:"symbols,omitempty"`

	Discovery      *helpers.Listing `json:"discovery,omitempty"`
	DiscoveryError string           `json:"discovery_error,omitempty"`
}

// Inspect builds the report of the file at path. Discovery failures are part
// of the report; only an unreadable image is an error.
func Inspect(path string, strategy discovery.Strategy, logger zerolog.Logger) (*Report, error) {
	img, err := elfimage.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer autoerrors.DeferClose(logger, img, "failed to close image")

	r := &Report{
		Path:        path,
		Class:       img.Class.String(),
		ByteOrder:   img.Order.String(),
		Low:         fmt.Sprintf("0x%x", img.Low),
		High:        fmt.Sprintf("0x%x", img.High),
		Interpreter: img.Interp,
		Dynamic:     img.Dynamic != 0,
	}

	if r.Dynamic {
		if err := r.readTable(img); err != nil {
			return nil, err
		}
	}

	res, err := discovery.NewDiscoverer(logger).Discover(discovery.File(path), strategy)
	if err != nil {
		r.DiscoveryError = err.Error()
		return r, nil
	}
	listing := helpers.NewListing(res)
	r.Discovery = &listing

	return r, nil
}

func (r *Report) readTable(img *elfimage.Image) error {
	table, err := elfimage.Open(img)
	if errors.Is(err, elfimage.ErrMissingSymbolTable) || errors.Is(err, elfimage.ErrMissingHashTable) {
		// Static PIE and similar images carry a dynamic section without symbols.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dynamic symbol table of %s: %w", r.Path, err)
	}

	count, err := table.Count()
	if err != nil {
		return fmt.Errorf("failed to count dynamic symbols of %s: %w", r.Path, err)
	}

	r.HashKind = table.HashKind.String()
	r.Buckets = table.BucketCount()
	r.Symbols = count
	return nil
}

// Write renders the report as text.
func (r *Report) Write(w io.Writer, styles helpers.Styles) error {
	_, _ = fmt.Fprintln(w, styles.Header(r.Path))
	helpers.WriteField(w, styles, "class", fmt.Sprintf("%s (%s)", r.Class, r.ByteOrder))
	helpers.WriteField(w, styles, "load range", fmt.Sprintf("%s-%s", r.Low, r.High))
	helpers.WriteField(w, styles, "interpreter", yesNo(r.Interpreter))
	helpers.WriteField(w, styles, "dynamic", yesNo(r.Dynamic))
	if r.HashKind != "" {
		helpers.WriteField(w, styles, "hash table", fmt.Sprintf("%s (%d buckets)", r.HashKind, r.Buckets))
		helpers.WriteField(w, styles, "symbols", fmt.Sprint(r.Symbols))
	}

	if r.DiscoveryError != "" {
		helpers.WriteField(w, styles, "discovery", styles.Warn(r.DiscoveryError))
		return nil
	}
	if r.Discovery == nil {
		return nil
	}

	_, _ = fmt.Fprintln(w)
	return r.Discovery.Write(w, helpers.FormatTable, styles)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// NewInspectCmd creates the inspect command.
func NewInspectCmd() *cobra.Command {
	var (
		format   string
		jsonOut  bool
		strategy string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "inspect <elf-file>",
		Short: "Show the symbol tables and test cases of an ELF file",
		Long: `Inspect reads an ELF executable without running it and reports its class,
load layout, dynamic hash table and the test cases a linked harness would
discover.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut {
				format = string(helpers.FormatJSON)
			}
			if err := helpers.ValidateFormat(format, []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON}); err != nil {
				return err
			}

			s, err := discovery.ParseStrategy(strategy)
			if err != nil {
				return err
			}

			logCfg := logging.DefaultConfig()
			logCfg.Level = logLevel
			logCfg.Output = cmd.ErrOrStderr()
			logger := logging.NewWithComponent(logCfg, "inspect")

			report, err := Inspect(args[0], s, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if helpers.OutputFormat(format) == helpers.FormatJSON {
				return (&helpers.JSONFormatter{}).Format(report, out)
			}
			return report.Write(out, helpers.StylesFor(out))
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON})
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Shorthand for --format json")
	cmd.Flags().StringVar(&strategy, "strategy", string(discovery.StrategyAuto), "Discovery strategy (auto, dynamic, sections)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")

	return cmd
}
