package helpers

import (
	"fmt"
	"io"
	"strings"

	"github.com/coral-mesh/autotest/internal/discovery"
)

// CaseRow is one discovered test case in command output.
type CaseRow struct {
	Name   string `header:"NAME" json:"name"`
	Symbol string `header:"SYMBOL" json:"symbol"`
	Flags  string `header:"FLAGS" json:"flags"`
	Entry  string `header:"ENTRY" json:"entry"`
}

// Listing is the result of a discovery in command output.
type Listing struct {
	Strategy    string    `json:"strategy"`
	Sources     []string  `json:"sources"`
	Fingerprint string    `json:"fingerprint"`
	Unresolved  []string  `json:"unresolved,omitempty"`
	Cases       []CaseRow `json:"cases"`
}

// NewListing converts a discovery result.
func NewListing(res *discovery.Result) Listing {
	cases := res.Cases.Cases()
	rows := make([]CaseRow, 0, len(cases))
	for _, c := range cases {
		rows = append(rows, CaseRow{
			Name:   c.Name,
			Symbol: c.Symbol,
			Flags:  caseFlags(c),
			Entry:  c.Entry.String(),
		})
	}

	sources := make([]string, len(res.Sources))
	for i, src := range res.Sources {
		sources[i] = string(src)
	}

	return Listing{
		Strategy:    string(res.Strategy),
		Sources:     sources,
		Fingerprint: res.Fingerprint,
		Unresolved:  res.Unresolved,
		Cases:       rows,
	}
}

func caseFlags(c discovery.Case) string {
	var flags []string
	if c.Skip {
		flags = append(flags, "skip")
	}
	if c.ExpectAbort {
		flags = append(flags, "abort")
	}
	if c.ExpectSegv {
		flags = append(flags, "segv")
	}
	if c.ExpectFailure {
		flags = append(flags, "fail")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

// Write renders the listing. JSON carries the whole listing, CSV only the
// cases, and a table is preceded by a summary.
func (l Listing) Write(w io.Writer, format OutputFormat, styles Styles) error {
	switch format {
	case FormatJSON:
		return (&JSONFormatter{}).Format(l, w)
	case FormatCSV:
		return (&CSVFormatter{}).Format(l.Cases, w)
	case FormatTable:
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	WriteField(w, styles, "strategy", l.Strategy)
	WriteField(w, styles, "sources", strings.Join(l.Sources, ", "))
	WriteField(w, styles, "fingerprint", l.Fingerprint)
	WriteField(w, styles, "cases", fmt.Sprint(len(l.Cases)))
	for _, sym := range l.Unresolved {
		WriteField(w, styles, "unresolved", styles.Warn(sym))
	}
	_, _ = fmt.Fprintln(w)

	if len(l.Cases) == 0 {
		_, err := fmt.Fprintln(w, "No test cases found.")
		return err
	}
	return (&TableFormatter{Styles: styles}).Format(l.Cases, w)
}

// WriteField writes an aligned "label: value" line.
func WriteField(w io.Writer, styles Styles, label, value string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.Label(fmt.Sprintf("%-13s", label+":")), value)
}
