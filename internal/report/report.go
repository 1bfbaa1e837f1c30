// Package report generalizes app/formatter.go's OutputFormatter/
// ConsoleFormatter pair from formatting query result rows into
// formatting the diagnostic output this tool produces: commit events,
// carved cells, schema entries, and byte-size summaries. Byte
// counts use dustin/go-humanize to render sizes for a human reader.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/sqlitedissect/dissect/internal/carve"
	"github.com/sqlitedissect/dissect/internal/history"
	"github.com/sqlitedissect/dissect/internal/recordval"
	"github.com/sqlitedissect/dissect/internal/schema"
)

// Formatter renders the tool's four report kinds. Only ConsoleFormatter
// is implemented; the interface exists so a future machine-readable
// formatter (csv/xlsx/sqlite, tracked in export_formats) can be added
// without touching call sites.
type Formatter interface {
	FormatCommit(c *history.Commit) string
	FormatCarvedCell(c *carve.Cell) string
	FormatSchemaEntry(e *schema.Entry) string
	FormatSizeSummary(label string, bytes int64) string
}

// ConsoleFormatter renders tab-separated, human-readable lines for
// terminal output.
type ConsoleFormatter struct {
	io.Writer
}

func NewConsoleFormatter(w io.Writer) *ConsoleFormatter {
	return &ConsoleFormatter{Writer: w}
}

func formatValue(v *recordval.Value) string {
	if v == nil {
		return "<truncated>"
	}
	if v.IsNull() {
		return "NULL"
	}
	switch {
	case recordval.IsIntegerValue(v):
		n, _ := v.Int64()
		return fmt.Sprintf("%d", n)
	case recordval.IsFloatValue(v):
		f, _ := v.Float64()
		return fmt.Sprintf("%g", f)
	case recordval.IsTextValue(v):
		t, _ := v.Text(recordval.TextEncodingUTF8)
		return t
	default:
		b, _ := v.Blob()
		return fmt.Sprintf("x'%x'", b)
	}
}

// FormatCommit renders one version's change event for a table.
func (cf *ConsoleFormatter) FormatCommit(c *history.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] version %d: table=%s +%d ~%d -%d", c.RunID, c.VersionNum, c.TableName, len(c.Added), len(c.Updated), len(c.Removed))
	if len(c.UpdatedPages) > 0 {
		fmt.Fprintf(&b, " pages_touched=%d", len(c.UpdatedPages))
	}
	if c.FreelistNote != "" {
		fmt.Fprintf(&b, " (%s)", c.FreelistNote)
	}
	return b.String()
}

// FormatCarvedCell renders one recovered record.
func (cf *ConsoleFormatter) FormatCarvedCell(c *carve.Cell) string {
	var parts []string
	for _, col := range c.Columns {
		if col.Value != nil {
			parts = append(parts, formatValue(col.Value))
		} else {
			parts = append(parts, fmt.Sprintf("<%s>", col.TruncationReason))
		}
	}
	rowid := "?"
	if c.Rowid != nil {
		rowid = fmt.Sprintf("%d", *c.Rowid)
	}
	kind := "freeblock"
	if c.Kind == carve.KindUnallocated {
		kind = "unallocated"
	}
	status := "complete"
	if c.Truncated {
		status = "truncated"
	}
	return fmt.Sprintf("page=%d offset=%d rowid=%s source=%s status=%s\t%s", c.PageNumber, c.StartOffset, rowid, kind, status, strings.Join(parts, "\t"))
}

// FormatSchemaEntry renders one sqlite_master row.
func (cf *ConsoleFormatter) FormatSchemaEntry(e *schema.Entry) string {
	var cols []string
	for _, c := range e.Columns {
		cols = append(cols, fmt.Sprintf("%s:%s", c.Name, c.Affinity))
	}
	extra := ""
	if e.WithoutRowid {
		extra = " without_rowid"
	}
	if e.Kind == schema.KindVirtualTable {
		extra = fmt.Sprintf(" virtual(%s)", e.VirtualModule)
	}
	return fmt.Sprintf("%s %s root=%d%s [%s]", e.Kind, e.Name, e.RootPage, extra, strings.Join(cols, ", "))
}

// FormatSizeSummary renders a labeled byte count in human-readable form.
func (cf *ConsoleFormatter) FormatSizeSummary(label string, bytes int64) string {
	return fmt.Sprintf("%s: %s (%d bytes)", label, humanize.Bytes(uint64(bytes)), bytes)
}

// WriteAll writes lines, one per call to render, separated by newlines,
// followed by a trailing newline if lines is non-empty.
func WriteAll(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
