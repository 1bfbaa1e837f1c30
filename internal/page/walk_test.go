package page

import (
	"encoding/binary"
	"testing"

	"github.com/sqlitedissect/dissect/internal/varint"
)

type fakeFetcher map[uint32][]byte

func (f fakeFetcher) Page(n uint32) ([]byte, error) { return f[n], nil }

func buildTableLeafPageWithRows(usable int, rows []uint64) []byte {
	data := make([]byte, usable)
	data[0] = btreeTypeTableLeaf
	contentStart := usable
	var offsets []int
	for _, rowid := range rows {
		payload := []byte("row")
		var cell []byte
		cell = append(cell, varint.Encode(uint64(len(payload)))...)
		cell = append(cell, varint.Encode(rowid)...)
		cell = append(cell, payload...)
		contentStart -= len(cell)
		copy(data[contentStart:], cell)
		offsets = append(offsets, contentStart)
	}
	binary.BigEndian.PutUint16(data[1:3], 0)
	binary.BigEndian.PutUint16(data[3:5], uint16(len(rows)))
	binary.BigEndian.PutUint16(data[5:7], uint16(contentStart))
	for i, off := range offsets {
		arrOff := 8 + i*2
		binary.BigEndian.PutUint16(data[arrOff:arrOff+2], uint16(off))
	}
	return data
}

func TestTraverseTableLeavesSingleLeaf(t *testing.T) {
	usable := 512
	fetcher := fakeFetcher{
		2: buildTableLeafPageWithRows(usable, []uint64{1, 2, 3}),
	}
	leaves, pages, err := TraverseTableLeaves(fetcher, usable, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(leaves) != 3 {
		t.Fatalf("got %d leaves, want 3", len(leaves))
	}
	if len(pages) != 1 || pages[0] != 2 {
		t.Errorf("pages = %v, want [2]", pages)
	}
}

func buildTableInteriorPage(usable int, children []uint32, rightmost uint32) []byte {
	data := make([]byte, usable)
	data[0] = btreeTypeTableInterior
	contentStart := usable
	var offsets []int
	for i, child := range children {
		var cell []byte
		cell = make([]byte, 4)
		binary.BigEndian.PutUint32(cell, child)
		cell = append(cell, varint.Encode(uint64(i+1))...)
		contentStart -= len(cell)
		copy(data[contentStart:], cell)
		offsets = append(offsets, contentStart)
	}
	binary.BigEndian.PutUint16(data[1:3], 0)
	binary.BigEndian.PutUint16(data[3:5], uint16(len(children)))
	binary.BigEndian.PutUint16(data[5:7], uint16(contentStart))
	binary.BigEndian.PutUint32(data[8:12], rightmost)
	for i, off := range offsets {
		arrOff := 12 + i*2
		binary.BigEndian.PutUint16(data[arrOff:arrOff+2], uint16(off))
	}
	return data
}

func TestTraverseTableLeavesInteriorFansOutToLeaves(t *testing.T) {
	usable := 512
	fetcher := fakeFetcher{
		2: buildTableInteriorPage(usable, []uint32{3}, 4),
		3: buildTableLeafPageWithRows(usable, []uint64{10, 11}),
		4: buildTableLeafPageWithRows(usable, []uint64{20}),
	}
	leaves, pages, err := TraverseTableLeaves(fetcher, usable, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(leaves) != 3 {
		t.Fatalf("got %d leaves, want 3", len(leaves))
	}
	if len(pages) != 3 {
		t.Errorf("got %d visited pages, want 3", len(pages))
	}
}

func TestTraverseTableLeavesDetectsCycle(t *testing.T) {
	usable := 512
	fetcher := fakeFetcher{
		2: buildTableInteriorPage(usable, []uint32{2}, 0),
	}
	if _, _, err := TraverseTableLeaves(fetcher, usable, 2); err == nil {
		t.Fatal("expected error for cyclic b-tree")
	}
}
