package page

import (
	"fmt"

	"github.com/sqlitedissect/dissect/internal/diag"
)

// Fetcher reads a page's raw bytes given its 1-based page number. Any
// type with this method (notably *version.Version) satisfies it without
// either package importing the other.
type Fetcher interface {
	Page(pageNumber uint32) ([]byte, error)
}

// CellLocation pins a table-leaf cell to its page and in-page offset,
// the identity the history iterator and carver key change-tracking on.
type CellLocation struct {
	PageNumber uint32
	Offset     int
	Rowid      uint64
	Payload    PayloadView
}

// TraverseTableLeaves walks every page reachable from a table's root
// page (interior pages recursively, leaf pages collected) and returns
// every table-leaf cell found, in (page_number, cell_pointer_index)
// order. It defends against corrupt/cyclic page graphs by refusing to
// visit the same page number twice.
func TraverseTableLeaves(fetcher Fetcher, usablePageSize int, rootPage uint32) ([]CellLocation, []uint32, error) {
	visited := map[uint32]bool{}
	var leaves []CellLocation
	var pages []uint32

	var walk func(pageNum uint32) error
	walk = func(pageNum uint32) error {
		if pageNum == 0 {
			return nil
		}
		if visited[pageNum] {
			return diag.NewParsingError(diag.KindBTreePage, "traverse_table_leaves", 0, fmt.Errorf("page %d visited twice: cyclic b-tree", pageNum), nil)
		}
		visited[pageNum] = true
		pages = append(pages, pageNum)

		data, err := fetcher.Page(pageNum)
		if err != nil {
			return err
		}
		pageStart := 0
		if pageNum == 1 {
			pageStart = 100
		}
		h, err := ReadBTreeHeader(data, pageStart)
		if err != nil {
			return err
		}
		ptrs, err := CellPointers(data, pageStart, h)
		if err != nil {
			return err
		}

		if h.Type == TypeTableLeaf {
			for _, off := range ptrs {
				cell, err := ParseTableLeafCell(data, pageStart, off, usablePageSize)
				if err != nil {
					return err
				}
				leaves = append(leaves, CellLocation{PageNumber: pageNum, Offset: off, Rowid: cell.Rowid, Payload: cell.Payload})
			}
			return nil
		}

		if h.Type != TypeTableInterior {
			return diag.NewParsingError(diag.KindBTreePage, "traverse_table_leaves", 0, fmt.Errorf("page %d is not part of a table b-tree (type %s)", pageNum, h.Type), nil)
		}
		for _, off := range ptrs {
			cell, err := ParseTableInteriorCell(data, pageStart, off)
			if err != nil {
				return err
			}
			if err := walk(cell.LeftChild); err != nil {
				return err
			}
		}
		return walk(h.RightmostChild)
	}

	if err := walk(rootPage); err != nil {
		return nil, nil, err
	}
	return leaves, pages, nil
}
