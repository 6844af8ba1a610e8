// Package render provides centralized output rendering for the installer
// CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// Color handling:
//   - --no-color affects table output only
//   - TUI mode is unaffected by --no-color (uses its own styling)
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/winusb/cli/tui"
	"github.com/justapithecus/winusb/iox"
	"github.com/justapithecus/winusb/metrics"
	"github.com/justapithecus/winusb/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Summary is the install command's output: the report plus the session
// metrics when requested.
type Summary struct {
	Report  *types.InstallReport `json:"report" yaml:"report"`
	Metrics *metrics.Snapshot    `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	formatStr := c.String("format")
	format, err := ParseFormat(formatStr)
	if err != nil {
		return nil, err
	}

	// Apply default format based on TTY detection
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTable(data any) error {
	switch v := data.(type) {
	case []types.Device:
		return r.renderDevices(v)
	case *types.InstallReport:
		return r.renderReport(v, nil)
	case Summary:
		return r.renderReport(v.Report, v.Metrics)
	case *Summary:
		return r.renderReport(v.Report, v.Metrics)
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() == reflect.Slice {
		return r.renderSliceTable(rv)
	}
	return r.renderStructTable(data)
}

func (r *Renderer) renderDevices(devices []types.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(r.out, "(no devices)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINTERFACE\tDRIVER\tDESCRIPTION")
	for _, d := range devices {
		iface := "-"
		if d.InterfaceIndex != nil {
			iface = fmt.Sprintf("%d", *d.InterfaceIndex)
		} else if d.Composite {
			iface = "composite"
		}
		driverName := "(none)"
		if d.HasDriver() {
			driverName = *d.Driver
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID(), iface, driverName, d.Description)
	}
	return w.Flush()
}

func (r *Renderer) renderReport(report *types.InstallReport, snap *metrics.Snapshot) error {
	if report == nil {
		fmt.Fprintln(r.out, "(no report)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "session:\t%s\n", report.SessionID)
	fmt.Fprintf(w, "status:\t%s\n", r.styled(tui.StatusStyle(string(report.Status)), string(report.Status)))
	fmt.Fprintf(w, "installed:\t%d/%d\n", report.Installed, report.Total)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Results) > 0 {
		fmt.Fprintln(r.out)
		w = tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tDESCRIPTION\tRESULT")
		for _, res := range report.Results {
			outcome := r.styled(tui.SuccessStyle, "ok")
			if !res.OK() {
				outcome = r.styled(tui.ErrorStyle, "failed: "+res.Err)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", deviceLabel(res.Device), res.Device.Description, outcome)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if snap != nil {
		fmt.Fprintln(r.out)
		w = tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "heartbeats:\t%d\n", snap.HeartbeatsReceived)
		fmt.Fprintf(w, "log lines relayed:\t%d\n", snap.LogLinesRelayed)
		fmt.Fprintf(w, "ipc decode errors:\t%d\n", snap.IPCDecodeErrors)
		return w.Flush()
	}
	return nil
}

func deviceLabel(d types.Device) string {
	if d.InterfaceIndex != nil {
		return fmt.Sprintf("%s/%d", d.ID(), *d.InterfaceIndex)
	}
	return d.ID()
}

func (r *Renderer) styled(style lipgloss.Style, s string) string {
	if r.noColor {
		return s
	}
	return style.Render(s)
}

func (r *Renderer) renderSliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer iox.DiscardErr(w.Flush)

	first := v.Index(0)
	if first.Kind() == reflect.Ptr {
		first = first.Elem()
	}
	if first.Kind() != reflect.Struct {
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, r.formatValue(v.Index(i)))
		}
		return nil
	}

	fields := exportedFields(first.Type())
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = fieldName(f)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for i := 0; i < v.Len(); i++ {
		row := v.Index(i)
		if row.Kind() == reflect.Ptr {
			row = row.Elem()
		}
		values := make([]string, len(fields))
		for j, f := range fields {
			values[j] = r.formatValue(row.FieldByIndex(f.Index))
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	return nil
}

func (r *Renderer) renderStructTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer iox.DiscardErr(w.Flush)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		for _, f := range exportedFields(v.Type()) {
			fmt.Fprintf(w, "%s:\t%s\n", fieldName(f), r.formatValue(v.FieldByIndex(f.Index)))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			fmt.Fprintf(w, "%s:\t%s\n", key, r.formatValue(iter.Value()))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}

	return nil
}

// exportedFields skips unexported fields such as the msgpack layout
// markers on wire types.
func exportedFields(t reflect.Type) []reflect.StructField {
	var fields []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.IsExported() {
			fields = append(fields, f)
		}
	}
	return fields
}

func fieldName(f reflect.StructField) string {
	// Prefer json tag name
	if tag := f.Tag.Get("json"); tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" && parts[0] != "-" {
			return parts[0]
		}
	}
	return strings.ToLower(f.Name)
}

func (r *Renderer) formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}

	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
