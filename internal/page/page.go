// Package page classifies and decodes SQLite pages: table/index b-tree
// interior and leaf pages, overflow pages, freelist trunk/leaf pages, and
// auto-vacuum pointer-map pages. The b-tree header layout and cell
// pointer array walk are adapted from app/btree.go and app/types.go's
// BTree/PageHeader code; overflow-chain, freelist, and pointer-map
// decoding have no precedent there (whole small pages were always read
// inline) and are written fresh.
package page

import (
	"encoding/binary"
	"fmt"

	"github.com/sqlitedissect/dissect/internal/diag"
)

// Type identifies the structural kind of a page.
type Type int

const (
	TypeTableInterior Type = iota
	TypeTableLeaf
	TypeIndexInterior
	TypeIndexLeaf
	TypeOverflow
	TypeFreelistTrunk
	TypeFreelistLeaf
	TypePointerMap
)

func (t Type) String() string {
	switch t {
	case TypeTableInterior:
		return "TableInterior"
	case TypeTableLeaf:
		return "TableLeaf"
	case TypeIndexInterior:
		return "IndexInterior"
	case TypeIndexLeaf:
		return "IndexLeaf"
	case TypeOverflow:
		return "Overflow"
	case TypeFreelistTrunk:
		return "FreelistTrunk"
	case TypeFreelistLeaf:
		return "FreelistLeaf"
	case TypePointerMap:
		return "PointerMap"
	default:
		return "Unknown"
	}
}

func (t Type) IsLeaf() bool {
	return t == TypeTableLeaf || t == TypeIndexLeaf
}

func (t Type) IsInterior() bool {
	return t == TypeTableInterior || t == TypeIndexInterior
}

func (t Type) IsTable() bool {
	return t == TypeTableInterior || t == TypeTableLeaf
}

// btree page type bytes, per the first byte of a b-tree page's payload.
const (
	btreeTypeIndexInterior = 0x02
	btreeTypeTableInterior = 0x05
	btreeTypeIndexLeaf     = 0x0A
	btreeTypeTableLeaf     = 0x0D
)

// BTreeHeader is the 8- or 12-byte page header at the start of every
// b-tree page (after the 100-byte file header on page 1).
type BTreeHeader struct {
	Type             Type
	FirstFreeblock   uint16
	CellCount        uint16
	CellContentStart int // 0 in the raw field means 65536
	FragmentedBytes  uint8
	RightmostChild   uint32 // interior pages only
	headerSize       int    // 8 or 12
}

// HeaderSize returns 8 for leaf pages, 12 for interior pages.
func (h *BTreeHeader) HeaderSize() int { return h.headerSize }

// ReadBTreeHeader decodes the b-tree page header starting at
// pageStart within data (100 for page 1's b-tree header, 0 otherwise).
func ReadBTreeHeader(data []byte, pageStart int) (*BTreeHeader, error) {
	if pageStart+8 > len(data) {
		return nil, diag.NewParsingError(diag.KindBTreePage, "read_btree_header", int64(pageStart), fmt.Errorf("page too short for header"), nil)
	}
	raw := data[pageStart]
	var typ Type
	switch raw {
	case btreeTypeIndexInterior:
		typ = TypeIndexInterior
	case btreeTypeTableInterior:
		typ = TypeTableInterior
	case btreeTypeIndexLeaf:
		typ = TypeIndexLeaf
	case btreeTypeTableLeaf:
		typ = TypeTableLeaf
	default:
		return nil, diag.NewParsingError(diag.KindBTreePage, "read_btree_header", int64(pageStart), fmt.Errorf("unrecognized b-tree page type byte 0x%02x", raw), nil)
	}

	h := &BTreeHeader{
		Type:             typ,
		FirstFreeblock:   binary.BigEndian.Uint16(data[pageStart+1 : pageStart+3]),
		CellCount:        binary.BigEndian.Uint16(data[pageStart+3 : pageStart+5]),
		CellContentStart: int(binary.BigEndian.Uint16(data[pageStart+5 : pageStart+7])),
		FragmentedBytes:  data[pageStart+7],
	}
	if h.CellContentStart == 0 {
		h.CellContentStart = 65536
	}

	if typ.IsInterior() {
		if pageStart+12 > len(data) {
			return nil, diag.NewParsingError(diag.KindBTreePage, "read_btree_header", int64(pageStart), fmt.Errorf("interior page too short for rightmost pointer"), nil)
		}
		h.RightmostChild = binary.BigEndian.Uint32(data[pageStart+8 : pageStart+12])
		h.headerSize = 12
	} else {
		h.headerSize = 8
	}
	return h, nil
}

// CellPointers reads the cell_count big-endian u16 offsets following the
// header, each relative to the start of the page (not pageStart — cell
// offsets in SQLite are always page-relative, including on page 1).
func CellPointers(data []byte, pageStart int, h *BTreeHeader) ([]int, error) {
	arrayStart := pageStart + h.headerSize
	ptrs := make([]int, h.CellCount)
	for i := 0; i < int(h.CellCount); i++ {
		off := arrayStart + i*2
		if off+2 > len(data) {
			return nil, diag.NewParsingError(diag.KindBTreePage, "read_cell_pointer_array", int64(off), fmt.Errorf("cell pointer %d out of bounds", i), nil)
		}
		ptrs[i] = int(binary.BigEndian.Uint16(data[off : off+2]))
	}
	return ptrs, nil
}

// UnallocatedSpan returns the inclusive byte range [start, end) between
// the end of the cell pointer array and the start of the cell content
// area — the region the carver walks backward over.
func UnallocatedSpan(pageStart int, h *BTreeHeader) (start, end int) {
	start = pageStart + h.headerSize + int(h.CellCount)*2
	end = h.CellContentStart
	return start, end
}

// Freeblock is one link in a page's freeblock chain.
type Freeblock struct {
	Offset int // page-relative
	Size   int
}

// WalkFreeblocks follows the freeblock chain from h.FirstFreeblock,
// validating that offsets strictly increase (a cycle or a
// non-monotonic chain is reported as a PageParsingError rather than
// looping forever).
func WalkFreeblocks(data []byte, pageStart int, h *BTreeHeader) ([]Freeblock, error) {
	var blocks []Freeblock
	offset := int(h.FirstFreeblock)
	prev := 0
	for offset != 0 {
		if offset <= prev {
			return nil, diag.NewParsingError(diag.KindBTreePage, "walk_freeblocks", int64(offset), fmt.Errorf("freeblock offset %d does not strictly increase past %d", offset, prev), nil)
		}
		abs := offset
		if abs+4 > len(data) {
			return nil, diag.NewParsingError(diag.KindBTreePage, "walk_freeblocks", int64(offset), fmt.Errorf("freeblock header out of bounds"), nil)
		}
		next := int(binary.BigEndian.Uint16(data[abs : abs+2]))
		size := int(binary.BigEndian.Uint16(data[abs+2 : abs+4]))
		if size < 4 {
			return nil, diag.NewParsingError(diag.KindBTreePage, "walk_freeblocks", int64(offset), fmt.Errorf("freeblock size %d below minimum 4", size), nil)
		}
		blocks = append(blocks, Freeblock{Offset: offset, Size: size})
		prev = offset
		offset = next
	}
	return blocks, nil
}

// PayloadView describes where a cell's payload lives: inline bytes on
// this page, plus the first overflow page number if the payload spills.
type PayloadView struct {
	PageNumber   uint32
	Inline       []byte
	TotalLength  uint64
	OverflowPage uint32 // 0 if no overflow
}

// HasOverflow reports whether the payload spills past this page.
func (p PayloadView) HasOverflow() bool { return p.OverflowPage != 0 }

// LocalPayloadSize implements SQLite's inline/overflow split: U is the
// usable page size (page_size - reserved_space); maxLocal/minLocal are
// cell-type-specific (table-leaf cells allow more bytes inline than
// index cells, since index cells must leave room for a child pointer
// in the worst case). Returns the number of payload bytes stored inline;
// the rest spills to the overflow chain.
func LocalPayloadSize(usablePageSize int, maxLocal, minLocal int, payloadLength int) int {
	if payloadLength <= maxLocal {
		return payloadLength
	}
	local := minLocal + (payloadLength-minLocal)%(usablePageSize-4)
	if local > maxLocal {
		local = minLocal
	}
	return local
}

// TableLeafLocalLimits returns (maxLocal, minLocal) for table-leaf cells.
func TableLeafLocalLimits(usablePageSize int) (maxLocal, minLocal int) {
	maxLocal = usablePageSize - 35
	minLocal = ((usablePageSize-12)*32)/255 - 23
	return
}

// IndexLocalLimits returns (maxLocal, minLocal) for index (interior and
// leaf) cells.
func IndexLocalLimits(usablePageSize int) (maxLocal, minLocal int) {
	maxLocal = ((usablePageSize-12)*64)/255 - 23
	minLocal = ((usablePageSize-12)*32)/255 - 23
	return
}

// ReadOverflowPage decodes an overflow page: a 4-byte next-page pointer
// (0 terminates the chain) followed by content bytes filling the rest of
// the usable page.
func ReadOverflowPage(data []byte, usablePageSize int) (next uint32, content []byte, err error) {
	if len(data) < 4 {
		return 0, nil, diag.NewParsingError(diag.KindPage, "read_overflow_page", 0, fmt.Errorf("overflow page too short"), nil)
	}
	next = binary.BigEndian.Uint32(data[0:4])
	end := usablePageSize
	if end > len(data) {
		end = len(data)
	}
	content = data[4:end]
	return next, content, nil
}

// ReadPayload collects a cell's inline bytes plus, when present, the
// entire overflow chain (depth-bounded by dbSizePages to guarantee
// termination on a cyclic chain).
func ReadPayload(totalLength uint64, inline []byte, firstOverflow uint32, fetchPage func(uint32) ([]byte, error), usablePageSize int, dbSizePages uint32) ([]byte, error) {
	out := make([]byte, 0, totalLength)
	out = append(out, inline...)
	page := firstOverflow
	seen := map[uint32]bool{}
	for page != 0 && uint64(len(out)) < totalLength {
		if seen[page] {
			return nil, diag.NewParsingError(diag.KindPage, "read_overflow_chain", 0, fmt.Errorf("overflow chain cycles back to page %d", page), nil)
		}
		seen[page] = true
		if uint32(len(seen)) > dbSizePages {
			return nil, diag.NewParsingError(diag.KindPage, "read_overflow_chain", 0, fmt.Errorf("overflow chain exceeds database size"), nil)
		}
		data, err := fetchPage(page)
		if err != nil {
			return nil, err
		}
		next, content, err := ReadOverflowPage(data, usablePageSize)
		if err != nil {
			return nil, err
		}
		remaining := totalLength - uint64(len(out))
		if uint64(len(content)) > remaining {
			content = content[:remaining]
		}
		out = append(out, content...)
		page = next
	}
	if uint64(len(out)) != totalLength {
		return nil, diag.NewParsingError(diag.KindPage, "read_overflow_chain", 0, fmt.Errorf("assembled %d bytes, want %d", len(out), totalLength), nil)
	}
	return out, nil
}

// FreelistTrunk is a freelist trunk page: a pointer to the next trunk
// page and the list of freelist leaf page numbers it owns.
type FreelistTrunk struct {
	NextTrunk uint32
	LeafPages []uint32
}

// ReadFreelistTrunk decodes a freelist trunk page.
func ReadFreelistTrunk(data []byte) (*FreelistTrunk, error) {
	if len(data) < 8 {
		return nil, diag.NewParsingError(diag.KindPage, "read_freelist_trunk", 0, fmt.Errorf("page too short for trunk header"), nil)
	}
	next := binary.BigEndian.Uint32(data[0:4])
	count := binary.BigEndian.Uint32(data[4:8])
	leaves := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		off := 8 + int(i)*4
		if off+4 > len(data) {
			return nil, diag.NewParsingError(diag.KindPage, "read_freelist_trunk", int64(off), fmt.Errorf("leaf pointer %d out of bounds", i), nil)
		}
		leaves = append(leaves, binary.BigEndian.Uint32(data[off:off+4]))
	}
	return &FreelistTrunk{NextTrunk: next, LeafPages: leaves}, nil
}

// PointerMapEntry describes one page's role in the auto-vacuum
// pointer-map: its type code (1..5) and, when applicable, its parent
// page number.
type PointerMapEntry struct {
	Type       uint8
	ParentPage uint32
}

// ReadPointerMapPage decodes every 5-byte entry in a pointer-map page:
// (U-5)/5 entries of (type byte, parent page u32 big-endian).
func ReadPointerMapPage(data []byte, usablePageSize int) ([]PointerMapEntry, error) {
	count := (usablePageSize - 5) / 5
	entries := make([]PointerMapEntry, 0, count)
	for i := 0; i < count; i++ {
		off := i * 5
		if off+5 > len(data) {
			break
		}
		typ := data[off]
		if typ == 0 {
			break
		}
		if typ < 1 || typ > 5 {
			return nil, diag.NewParsingError(diag.KindPage, "read_pointer_map_page", int64(off), fmt.Errorf("pointer-map entry type %d out of range [1,5]", typ), nil)
		}
		parent := binary.BigEndian.Uint32(data[off+1 : off+5])
		entries = append(entries, PointerMapEntry{Type: typ, ParentPage: parent})
	}
	return entries, nil
}

// IsPointerMapPage reports whether pageNumber is one of the
// auto-vacuum pointer-map pages: page 2, then every N pages thereafter,
// where N = (usablePageSize-5)/5 + 1.
func IsPointerMapPage(pageNumber uint32, usablePageSize int) bool {
	if pageNumber < 2 {
		return false
	}
	n := uint32((usablePageSize-5)/5 + 1)
	return (pageNumber-2)%n == 0
}
