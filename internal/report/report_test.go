package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sqlitedissect/dissect/internal/carve"
	"github.com/sqlitedissect/dissect/internal/history"
	"github.com/sqlitedissect/dissect/internal/recordval"
	"github.com/sqlitedissect/dissect/internal/schema"
)

func TestFormatCommitIncludesCounts(t *testing.T) {
	cf := NewConsoleFormatter(&bytes.Buffer{})
	c := &history.Commit{
		RunID:      uuid.New(),
		VersionNum: 2,
		TableName:  "people",
		Added:      []history.LiveCell{{}},
		Removed:    []history.LiveCell{{}, {}},
	}
	out := cf.FormatCommit(c)
	if !strings.Contains(out, "table=people") || !strings.Contains(out, "+1") || !strings.Contains(out, "-2") {
		t.Errorf("FormatCommit() = %q, missing expected fields", out)
	}
}

func TestFormatCarvedCellRendersTruncationReason(t *testing.T) {
	cf := NewConsoleFormatter(&bytes.Buffer{})
	cell := &carve.Cell{
		Kind:       carve.KindUnallocated,
		PageNumber: 4,
		Truncated:  true,
		Columns: []carve.CarvedColumn{
			{TruncationReason: "body extends past available bytes"},
		},
	}
	out := cf.FormatCarvedCell(cell)
	if !strings.Contains(out, "unallocated") || !strings.Contains(out, "truncated") {
		t.Errorf("FormatCarvedCell() = %q, missing expected status fields", out)
	}
	if !strings.Contains(out, "<body extends past available bytes>") {
		t.Errorf("FormatCarvedCell() = %q, missing truncation reason", out)
	}
}

func TestFormatCarvedCellRendersValues(t *testing.T) {
	cf := NewConsoleFormatter(&bytes.Buffer{})
	iv := recordval.Value{SerialType: 1, Raw: []byte{42}}
	rowid := uint64(7)
	cell := &carve.Cell{
		Kind:  carve.KindFreeblock,
		Rowid: &rowid,
		Columns: []carve.CarvedColumn{
			{Value: &iv},
		},
	}
	out := cf.FormatCarvedCell(cell)
	if !strings.Contains(out, "rowid=7") {
		t.Errorf("FormatCarvedCell() = %q, want rowid=7", out)
	}
	if !strings.Contains(out, "42") {
		t.Errorf("FormatCarvedCell() = %q, want the decoded value 42", out)
	}
}

func TestFormatSchemaEntry(t *testing.T) {
	cf := NewConsoleFormatter(&bytes.Buffer{})
	e := &schema.Entry{
		Kind:     schema.KindTable,
		Name:     "people",
		RootPage: 3,
		Columns: []schema.Column{
			{Name: "id", Affinity: schema.AffinityInteger},
		},
	}
	out := cf.FormatSchemaEntry(e)
	if !strings.Contains(out, "people") || !strings.Contains(out, "root=3") || !strings.Contains(out, "id:INTEGER") {
		t.Errorf("FormatSchemaEntry() = %q, missing expected fields", out)
	}
}

func TestFormatSizeSummaryUsesHumanReadableUnits(t *testing.T) {
	cf := NewConsoleFormatter(&bytes.Buffer{})
	out := cf.FormatSizeSummary("database", 4096)
	if !strings.Contains(out, "database:") || !strings.Contains(out, "4.1 kB") || !strings.Contains(out, "4096 bytes") {
		t.Errorf("FormatSizeSummary() = %q, missing expected fields", out)
	}
}

func TestWriteAllJoinsWithNewlines(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAll(&buf, []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "a\nb\n" {
		t.Errorf("WriteAll() wrote %q, want \"a\\nb\\n\"", buf.String())
	}
}
