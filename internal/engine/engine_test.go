package engine

import (
	"encoding/binary"
	"testing"

	"github.com/sqlitedissect/dissect/internal/config"
	"github.com/sqlitedissect/dissect/internal/format"
	"github.com/sqlitedissect/dissect/internal/varint"
	"github.com/sqlitedissect/dissect/internal/version"
)

type fakeSource map[uint32][]byte

func (f fakeSource) ReadPage(n uint32) ([]byte, error) { return f[n], nil }

func buildMasterSchemaPage1(usable int, sql string) []byte {
	data := make([]byte, usable)
	data[100] = 0x0D // table leaf, after the 100-byte file header

	var record []byte
	cols := []string{"table", "people", "people", "", sql}
	var bodies [][]byte
	var serialTypes []uint64
	for i, c := range cols {
		if i == 3 { // rootpage column encoded as a small integer, not text
			bodies = append(bodies, []byte{2})
			serialTypes = append(serialTypes, 1)
			continue
		}
		bodies = append(bodies, []byte(c))
		serialTypes = append(serialTypes, uint64(13+2*len(c)))
	}
	var header []byte
	for _, st := range serialTypes {
		header = append(header, varint.Encode(st)...)
	}
	headerLen := uint64(len(header)) + uint64(len(varint.Encode(uint64(len(header)+1))))
	record = append(record, varint.Encode(headerLen)...)
	record = append(record, header...)
	for _, b := range bodies {
		record = append(record, b...)
	}

	var cell []byte
	cell = append(cell, varint.Encode(uint64(len(record)))...)
	cell = append(cell, varint.Encode(1)...) // rowid
	cell = append(cell, record...)

	contentStart := usable - len(cell)
	copy(data[contentStart:], cell)

	binary.BigEndian.PutUint16(data[101:103], 0)
	binary.BigEndian.PutUint16(data[103:105], 1)
	binary.BigEndian.PutUint16(data[105:107], uint16(contentStart))
	binary.BigEndian.PutUint16(data[108:110], uint16(contentStart))
	return data
}

func TestReadSchemaParsesMasterRow(t *testing.T) {
	usable := 1024
	page1 := buildMasterSchemaPage1(usable, "CREATE TABLE people (id INTEGER, name TEXT)")
	header := &format.DatabaseHeader{PageSize: uint16(usable)}
	base := version.NewBase(header, usable, 1, fakeSource{1: page1})

	e := &Engine{cfg: config.Default()}
	entries, err := e.ReadSchema(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Name != "people" {
		t.Errorf("Name = %q, want people", entries[0].Name)
	}
	if len(entries[0].Columns) != 2 {
		t.Errorf("got %d columns, want 2", len(entries[0].Columns))
	}
}

func TestReadSchemaHonorsTableFilter(t *testing.T) {
	usable := 1024
	page1 := buildMasterSchemaPage1(usable, "CREATE TABLE people (id INTEGER)")
	header := &format.DatabaseHeader{PageSize: uint16(usable)}
	base := version.NewBase(header, usable, 1, fakeSource{1: page1})

	e := &Engine{cfg: config.New(config.WithExemptedTables("people"))}
	entries, err := e.ReadSchema(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0 (people is exempted)", len(entries))
	}
}

func TestFreelistPageSetWalksTrunkChain(t *testing.T) {
	usable := 512
	trunkPage := make([]byte, usable)
	binary.BigEndian.PutUint32(trunkPage[0:4], 0) // no next trunk
	binary.BigEndian.PutUint32(trunkPage[4:8], 2) // 2 leaf pages
	binary.BigEndian.PutUint32(trunkPage[8:12], 10)
	binary.BigEndian.PutUint32(trunkPage[12:16], 11)

	header := &format.DatabaseHeader{PageSize: uint16(usable), FreelistHeadPage: 3}
	base := version.NewBase(header, usable, 11, fakeSource{3: trunkPage})

	pages := freelistPageSet(base)
	if !pages[3] || !pages[10] || !pages[11] {
		t.Errorf("freelistPageSet() = %v, want trunk 3 and leaves 10,11 present", pages)
	}
}

func TestFreelistPageSetEmptyWhenNoFreelist(t *testing.T) {
	header := &format.DatabaseHeader{PageSize: 512, FreelistHeadPage: 0}
	base := version.NewBase(header, 512, 1, fakeSource{})
	pages := freelistPageSet(base)
	if len(pages) != 0 {
		t.Errorf("got %d pages, want 0 for an empty freelist", len(pages))
	}
}
