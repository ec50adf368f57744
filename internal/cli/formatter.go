// =============================================================================
// CLI OUTPUT FORMATTER - TABLE, JSON, YAML OUTPUT SUPPORT
// =============================================================================
//
// WHAT IS THIS?
// Output formatting for telegraph-bench, supporting three formats:
//   - Table (default): aligned columns for a terminal
//   - JSON: for scripting with jq
//   - YAML: for diffing runs or pasting into notes
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │  $ telegraph-bench run --simulate                                       │
//   │  ENGINE      DELIVERED  MISSED  MEAN   STDDEV  P50    P99    MAX        │
//   │  eventqueue  412        0       50µs   0s      50µs   50µs   50µs       │
//   │  mailbox     412        0       50µs   0s      50µs   50µs   50µs       │
//   │                                                                         │
//   │  $ telegraph-bench runs list -o json | jq '.[].engine'                  │
//   │  "mailbox"                                                              │
//   │  "eventqueue"                                                           │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/report"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/store"
)

// =============================================================================
// OUTPUT FORMAT
// =============================================================================

// OutputFormat represents the output format type.
type OutputFormat string

// Supported output formats
const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// ParseOutputFormat parses an output format string.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return OutputTable, nil
	case "json":
		return OutputJSON, nil
	case "yaml", "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: table, json, yaml)", s)
	}
}

// =============================================================================
// FORMATTER
// =============================================================================

// Formatter handles output formatting for CLI commands.
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter writing to stdout.
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer (for testing).
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Writer returns the output writer.
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Format outputs data in the configured format.
func (f *Formatter) Format(data any) error {
	switch f.format {
	case OutputJSON:
		return f.formatJSON(data)
	case OutputYAML:
		return f.formatYAML(data)
	default:
		return fmt.Errorf("use specific table method for data type")
	}
}

// structured reports whether the formatter emits JSON or YAML, writing data
// if so.
func (f *Formatter) structured(data any) (bool, error) {
	switch f.format {
	case OutputJSON:
		return true, f.formatJSON(data)
	case OutputYAML:
		return true, f.formatYAML(data)
	}
	return false, nil
}

func (f *Formatter) formatJSON(data any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) formatYAML(data any) error {
	encoder := yaml.NewEncoder(f.writer)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}

// =============================================================================
// TABLE FORMATTING
// =============================================================================

// Table creates a new table writer.
func (f *Formatter) Table() *TableWriter {
	return &TableWriter{
		tw: tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0),
	}
}

// TableWriter wraps tabwriter for convenient table output.
type TableWriter struct {
	tw      *tabwriter.Writer
	headers []string
}

// SetHeaders sets the table headers.
func (t *TableWriter) SetHeaders(headers ...string) {
	t.headers = headers
}

// WriteHeaders writes the headers row.
func (t *TableWriter) WriteHeaders() {
	if len(t.headers) == 0 {
		return
	}
	upper := make([]string, len(t.headers))
	for i, h := range t.headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(t.tw, strings.Join(upper, "\t"))
}

// WriteRow writes a single row.
func (t *TableWriter) WriteRow(values ...any) {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(t.tw, strings.Join(strs, "\t"))
}

// Flush flushes the table writer.
func (t *TableWriter) Flush() error {
	return t.tw.Flush()
}

// =============================================================================
// SPECIFIC DATA TYPE FORMATTERS
// =============================================================================

// FormatComparisons outputs one row per engine, followed by the per-delay
// breakdown.
func (f *Formatter) FormatComparisons(rows []report.Comparison) error {
	if ok, err := f.structured(rows); ok {
		return err
	}

	table := f.Table()
	table.SetHeaders("ENGINE", "DELIVERED", "MISSED", "PENDING", "MEAN", "STDDEV", "P50", "P95", "P99", "MAX", "OUTLIERS")
	table.WriteHeaders()
	for _, r := range rows {
		s := r.Overall
		table.WriteRow(r.Engine, r.Delivered, r.Missed, r.Pending,
			formatDuration(s.Mean), formatDuration(s.StdDev),
			formatDuration(s.P50), formatDuration(s.P95), formatDuration(s.P99),
			formatDuration(s.Max), s.Outliers)
	}
	if err := table.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(f.writer)
	fmt.Fprintln(f.writer, "BY DELAY:")
	table = f.Table()
	table.SetHeaders("ENGINE", "DELAY", "COUNT", "MEAN", "STDDEV", "P99", "MAX")
	table.WriteHeaders()
	for _, r := range rows {
		for _, d := range r.ByDelay {
			s := d.Summary
			table.WriteRow(r.Engine, formatDuration(d.Delay), s.Count,
				formatDuration(s.Mean), formatDuration(s.StdDev),
				formatDuration(s.P99), formatDuration(s.Max))
		}
	}
	return table.Flush()
}

// FormatRuns outputs a list of stored runs.
func (f *Formatter) FormatRuns(runs []store.Run) error {
	if runs == nil {
		runs = []store.Run{}
	}
	if ok, err := f.structured(runs); ok {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(f.writer, "No runs found")
		return nil
	}

	table := f.Table()
	table.SetHeaders("ID", "BATCH", "ENGINE", "MODE", "STARTED", "DISPATCHED", "DELIVERED", "MISSED")
	table.WriteHeaders()
	for _, r := range runs {
		table.WriteRow(r.ID, r.BatchID, r.Engine, runMode(r.Simulated),
			r.StartedAt.Local().Format(time.DateTime), r.Dispatched, r.Delivered, r.Missed)
	}
	return table.Flush()
}

// FormatRunDetail outputs one run with its lateness summary.
func (f *Formatter) FormatRunDetail(detail *RunDetail) error {
	if ok, err := f.structured(detail); ok {
		return err
	}

	r := detail.Run
	fmt.Fprintf(f.writer, "Run:        %s\n", r.ID)
	fmt.Fprintf(f.writer, "Batch:      %s\n", r.BatchID)
	fmt.Fprintf(f.writer, "Engine:     %s\n", r.Engine)
	fmt.Fprintf(f.writer, "Mode:       %s\n", runMode(r.Simulated))
	fmt.Fprintf(f.writer, "Started:    %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(f.writer, "Elapsed:    %s\n", r.Elapsed)
	if r.Seed != 0 {
		fmt.Fprintf(f.writer, "Seed:       %d\n", r.Seed)
	}
	fmt.Fprintf(f.writer, "Dispatched: %d\n", r.Dispatched)
	fmt.Fprintf(f.writer, "Delivered:  %d\n", r.Delivered)
	fmt.Fprintf(f.writer, "Missed:     %d\n", r.Missed)
	fmt.Fprintf(f.writer, "Pending:    %d\n", r.Pending)
	fmt.Fprintln(f.writer)

	return f.FormatComparisons([]report.Comparison{detail.Report})
}

// FormatHealth outputs health status.
func (f *Formatter) FormatHealth(health *HealthResponse) error {
	if ok, err := f.structured(health); ok {
		return err
	}

	fmt.Fprintf(f.writer, "Status:    %s\n", health.Status)
	fmt.Fprintf(f.writer, "Timestamp: %s\n", health.Timestamp)
	if health.Uptime != "" {
		fmt.Fprintf(f.writer, "Uptime:    %s\n", health.Uptime)
	}
	return nil
}

// FormatVersion outputs version information.
func (f *Formatter) FormatVersion(info *VersionInfo) error {
	if ok, err := f.structured(info); ok {
		return err
	}

	fmt.Fprintf(f.writer, "Client Version: %s\n", info.ClientVersion)
	if info.ServerVersion != "" {
		fmt.Fprintf(f.writer, "Server Version: %s\n", info.ServerVersion)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// formatDuration rounds to the microsecond, the resolution lateness is
// meaningful at.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d > -time.Microsecond && d < time.Microsecond {
		return d.String()
	}
	return d.Round(time.Microsecond).String()
}

func runMode(simulated bool) string {
	if simulated {
		return "simulated"
	}
	return "real"
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message.
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintInfo prints an info message.
func PrintInfo(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}
