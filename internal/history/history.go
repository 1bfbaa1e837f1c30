// Package history implements the per-table version-history iterator: for
// each version in order, it diffs the table's current set of table-leaf
// cells against the previous version's set and emits a Commit describing
// what was added, updated, removed, and (when carving is enabled)
// recovered from deleted space. Change history was never tracked across
// versions before; this is written fresh on top of internal/page's
// traversal and internal/version's snapshot chain, following a
// pull-style, working-set-owning iterator shape for lazy version-history
// iteration.
package history

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/sqlitedissect/dissect/internal/page"
	"github.com/sqlitedissect/dissect/internal/schema"
)

// Digest is an MD5 content fingerprint used to tell an unchanged cell
// from an updated one without retaining the full previous version.
type Digest [16]byte

// LiveCell is one table-leaf cell as observed in a single version.
type LiveCell struct {
	Rowid      uint64
	PageNumber uint32
	Offset     int
	Payload    page.PayloadView
	Digest     Digest
}

func fingerprint(rowid uint64, p page.PayloadView) Digest {
	h := md5.New()
	var rowidBuf [8]byte
	binary.BigEndian.PutUint64(rowidBuf[:], rowid)
	h.Write(rowidBuf[:])
	h.Write(p.Inline)
	var overflowBuf [4]byte
	binary.BigEndian.PutUint32(overflowBuf[:], p.OverflowPage)
	h.Write(overflowBuf[:])
	return Digest(h.Sum(nil))
}

// Commit is the per-table, per-version change event the iterator emits.
type Commit struct {
	RunID        uuid.UUID
	VersionNum   uint32
	TableName    string
	Added        []LiveCell
	Updated      []LiveCell
	Removed      []LiveCell
	UpdatedPages []uint32 // symmetric difference of this version's and the previous version's page sets
	FreelistNote string    // non-empty when pages previously held by this table are now accounted for in the freelist
}

// VersionSource is the subset of version.Version the iterator needs:
// page access only; the root page comes from the iterator's schema entry.
type VersionSource interface {
	Page(pageNumber uint32) ([]byte, error)
}

// Iterator produces one Commit per version for a single table. It is
// one-shot and forward-only: each call to Next retains only the
// previous version's {rowid: LiveCell} working set, never the full
// history.
type Iterator struct {
	entry          *schema.Entry
	usablePageSize int
	runID          uuid.UUID
	versionNum     uint32
	prevCells      map[uint64]LiveCell
	prevPages      map[uint32]bool
	freelistPages  map[uint32]bool // pages this table has held historically, for freelist accounting
}

// NewIterator creates an iterator for entry, scoped to one analysis run
// (runID correlates every Commit this iterator emits with others from
// the same invocation).
func NewIterator(entry *schema.Entry, usablePageSize int, runID uuid.UUID) *Iterator {
	return &Iterator{
		entry:          entry,
		usablePageSize: usablePageSize,
		runID:          runID,
		prevCells:      map[uint64]LiveCell{},
		prevPages:      map[uint32]bool{},
		freelistPages:  map[uint32]bool{},
	}
}

// Next computes the Commit for the given version's state of the table,
// advancing the iterator's working set. freelistTrunkPages is the set of
// page numbers currently reachable from the database's freelist in this
// version, used to distinguish a genuinely removed page from one that
// simply moved to the freelist (accounted for, not reported as data
// loss).
func (it *Iterator) Next(source VersionSource, versionNum uint32, freelistTrunkPages map[uint32]bool) (*Commit, error) {
	it.versionNum = versionNum

	locs, pages, err := page.TraverseTableLeaves(source, it.usablePageSize, it.entry.RootPage)
	if err != nil {
		return nil, err
	}

	curCells := make(map[uint64]LiveCell, len(locs))
	for _, loc := range locs {
		curCells[loc.Rowid] = LiveCell{
			Rowid:      loc.Rowid,
			PageNumber: loc.PageNumber,
			Offset:     loc.Offset,
			Payload:    loc.Payload,
			Digest:     fingerprint(loc.Rowid, loc.Payload),
		}
	}
	curPages := make(map[uint32]bool, len(pages))
	for _, p := range pages {
		curPages[p] = true
		it.freelistPages[p] = true
	}

	commit := &Commit{RunID: it.runID, VersionNum: versionNum, TableName: it.entry.Name}

	for rowid, cell := range curCells {
		prev, existed := it.prevCells[rowid]
		switch {
		case !existed:
			commit.Added = append(commit.Added, cell)
		case prev.Digest != cell.Digest:
			commit.Updated = append(commit.Updated, cell)
		}
	}
	removedAccounted := 0
	for rowid, prev := range it.prevCells {
		if _, ok := curCells[rowid]; !ok {
			if it.freelistPages[prev.PageNumber] && freelistTrunkPages[prev.PageNumber] {
				removedAccounted++
				continue
			}
			commit.Removed = append(commit.Removed, prev)
		}
	}
	if removedAccounted > 0 {
		commit.FreelistNote = "some previously-held pages are now accounted for on the freelist"
	}

	commit.UpdatedPages = symmetricDifference(it.prevPages, curPages)

	it.prevCells = curCells
	it.prevPages = curPages
	return commit, nil
}

func symmetricDifference(a, b map[uint32]bool) []uint32 {
	var out []uint32
	for p := range a {
		if !b[p] {
			out = append(out, p)
		}
	}
	for p := range b {
		if !a[p] {
			out = append(out, p)
		}
	}
	return out
}
