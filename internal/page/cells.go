package page

import (
	"encoding/binary"
	"fmt"

	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/varint"
)

// TableInteriorCell is (left-child page, rowid) on a table-interior page.
type TableInteriorCell struct {
	Offset     int
	LeftChild  uint32
	Rowid      uint64
}

// TableLeafCell is (payload-length, rowid, payload view) on a table-leaf
// page.
type TableLeafCell struct {
	Offset  int
	Rowid   uint64
	Payload PayloadView
}

// IndexInteriorCell is (left-child page, payload view) on an
// index-interior page; the payload encodes the index key plus rowid.
type IndexInteriorCell struct {
	Offset    int
	LeftChild uint32
	Payload   PayloadView
}

// IndexLeafCell is (payload view) on an index-leaf page.
type IndexLeafCell struct {
	Offset  int
	Payload PayloadView
}

func splitInlineOverflow(data []byte, pageStart, cellStart, payloadOffset int, payloadLength uint64, usablePageSize int, maxLocal, minLocal int) (PayloadView, error) {
	local := LocalPayloadSize(usablePageSize, maxLocal, minLocal, int(payloadLength))
	end := payloadOffset + local
	if end > len(data) {
		return PayloadView{}, diag.NewParsingError(diag.KindCell, "split_inline_overflow", int64(cellStart), fmt.Errorf("inline payload of %d bytes exceeds page bounds", local), nil)
	}
	view := PayloadView{Inline: data[payloadOffset:end], TotalLength: payloadLength}
	if local < int(payloadLength) {
		if end+4 > len(data) {
			return PayloadView{}, diag.NewParsingError(diag.KindCell, "split_inline_overflow", int64(cellStart), fmt.Errorf("missing overflow page pointer"), nil)
		}
		view.OverflowPage = binary.BigEndian.Uint32(data[end : end+4])
	}
	return view, nil
}

// ParseTableInteriorCell decodes a table-interior cell at offset
// (page-relative) in data.
func ParseTableInteriorCell(data []byte, pageStart, offset int) (*TableInteriorCell, error) {
	if offset+4 > len(data) {
		return nil, diag.NewParsingError(diag.KindCell, "parse_table_interior_cell", int64(offset), fmt.Errorf("cell truncated before left-child pointer"), nil)
	}
	leftChild := binary.BigEndian.Uint32(data[offset : offset+4])
	rowid, n := varint.Read(data, offset+4)
	if n == 0 {
		return nil, diag.NewParsingError(diag.KindCell, "parse_table_interior_cell", int64(offset+4), fmt.Errorf("truncated rowid varint"), nil)
	}
	return &TableInteriorCell{Offset: offset, LeftChild: leftChild, Rowid: rowid}, nil
}

// ParseTableLeafCell decodes a table-leaf cell: payload-length varint,
// rowid varint, inline payload, optional overflow pointer.
func ParseTableLeafCell(data []byte, pageStart, offset int, usablePageSize int) (*TableLeafCell, error) {
	payloadLength, n1 := varint.ReadOrError(data, offset)
	if n1 < 0 {
		return nil, diag.NewParsingError(diag.KindCell, "parse_table_leaf_cell", int64(offset), fmt.Errorf("truncated payload-length varint"), nil)
	}
	rowid, n2 := varint.Read(data, offset+n1)
	if n2 == 0 {
		return nil, diag.NewParsingError(diag.KindCell, "parse_table_leaf_cell", int64(offset+n1), fmt.Errorf("truncated rowid varint"), nil)
	}
	payloadOffset := offset + n1 + n2
	maxLocal, minLocal := TableLeafLocalLimits(usablePageSize)
	view, err := splitInlineOverflow(data, pageStart, offset, payloadOffset, payloadLength, usablePageSize, maxLocal, minLocal)
	if err != nil {
		return nil, err
	}
	return &TableLeafCell{Offset: offset, Rowid: rowid, Payload: view}, nil
}

// ParseIndexInteriorCell decodes an index-interior cell: left-child
// page, payload-length varint, inline payload, optional overflow.
func ParseIndexInteriorCell(data []byte, pageStart, offset int, usablePageSize int) (*IndexInteriorCell, error) {
	if offset+4 > len(data) {
		return nil, diag.NewParsingError(diag.KindCell, "parse_index_interior_cell", int64(offset), fmt.Errorf("cell truncated before left-child pointer"), nil)
	}
	leftChild := binary.BigEndian.Uint32(data[offset : offset+4])
	payloadLength, n := varint.ReadOrError(data, offset+4)
	if n < 0 {
		return nil, diag.NewParsingError(diag.KindCell, "parse_index_interior_cell", int64(offset+4), fmt.Errorf("truncated payload-length varint"), nil)
	}
	payloadOffset := offset + 4 + n
	maxLocal, minLocal := IndexLocalLimits(usablePageSize)
	view, err := splitInlineOverflow(data, pageStart, offset, payloadOffset, payloadLength, usablePageSize, maxLocal, minLocal)
	if err != nil {
		return nil, err
	}
	return &IndexInteriorCell{Offset: offset, LeftChild: leftChild, Payload: view}, nil
}

// ParseIndexLeafCell decodes an index-leaf cell: payload-length varint,
// inline payload, optional overflow.
func ParseIndexLeafCell(data []byte, pageStart, offset int, usablePageSize int) (*IndexLeafCell, error) {
	payloadLength, n := varint.ReadOrError(data, offset)
	if n < 0 {
		return nil, diag.NewParsingError(diag.KindCell, "parse_index_leaf_cell", int64(offset), fmt.Errorf("truncated payload-length varint"), nil)
	}
	payloadOffset := offset + n
	maxLocal, minLocal := IndexLocalLimits(usablePageSize)
	view, err := splitInlineOverflow(data, pageStart, offset, payloadOffset, payloadLength, usablePageSize, maxLocal, minLocal)
	if err != nil {
		return nil, err
	}
	return &IndexLeafCell{Offset: offset, Payload: view}, nil
}
