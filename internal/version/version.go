// Package version implements the immutable snapshot chain: the base
// database (version 0) plus one synthesized version per WAL commit-frame
// run. No prior code here ever read more than a single static .db file;
// this is written fresh against the page-fetcher abstraction
// app/types.go's DatabaseRaw interface suggests, generalized from "one
// file" to "a base plus an ordered overlay of WAL frames".
package version

import (
	"bytes"
	"sort"

	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/format"
)

// PageSource reads a page's raw bytes given its 1-based page number.
type PageSource interface {
	ReadPage(pageNumber uint32) ([]byte, error)
}

// Frame is one decoded WAL frame: its header plus the raw page image
// that follows it.
type Frame struct {
	Header *format.WALFrameHeader
	Data   []byte
	Index  int // 0-based position within the WAL's frame sequence
}

// CommitRun is a maximal run of WAL frames ending at a commit frame
// (db_size_after_commit != 0); frames within a run may repeat page
// numbers, in which case only the last write to a page within the run
// is visible to the version built from it.
type CommitRun struct {
	Frames          []Frame
	DatabaseSize    uint32
	CommitFrameIdx  int
}

// SplitCommitRuns partitions a WAL's frame sequence into commit runs,
// returning any trailing frames that never reach a commit as a separate
// slice — the non-committing-tail case callers must warn about instead
// of silently dropping.
func SplitCommitRuns(frames []Frame) (runs []CommitRun, trailing []Frame) {
	start := 0
	for i, f := range frames {
		if f.Header.IsCommitFrame() {
			runs = append(runs, CommitRun{
				Frames:         frames[start : i+1],
				DatabaseSize:   f.Header.CommitSize,
				CommitFrameIdx: i,
			})
			start = i + 1
		}
	}
	if start < len(frames) {
		trailing = frames[start:]
	}
	return runs, trailing
}

// Version is an immutable snapshot: either the base Database (version 0)
// or a synthesized WalCommit overlaying a previous version with one
// commit run's frames.
type Version struct {
	Number          uint32
	Header          *format.DatabaseHeader
	PageSize        int
	DatabaseSize    uint32
	base            PageSource
	pageIndex       map[uint32][]byte // page number -> overlay bytes, this version only
	previous        *Version
}

// NewBase constructs version 0 directly from the database file.
func NewBase(header *format.DatabaseHeader, pageSize int, databaseSize uint32, source PageSource) *Version {
	return &Version{
		Number:       0,
		Header:       header,
		PageSize:     pageSize,
		DatabaseSize: databaseSize,
		base:         source,
	}
}

// NewCommit synthesizes the next version from prev by overlaying run's
// frames: for each page number written one or more times within the run,
// only the bytes from the last such frame are kept (most-recent-frame-wins).
func NewCommit(prev *Version, run CommitRun, sink diag.Sink) *Version {
	overlay := make(map[uint32][]byte, len(run.Frames))
	for _, f := range run.Frames {
		overlay[f.Header.PageNumber] = f.Data
	}

	header := prev.Header
	if data, ok := overlay[1]; ok {
		if h, err := format.ReadDatabaseHeader(bytes.NewReader(data), false, sink); err == nil {
			header = h
		}
	}

	return &Version{
		Number:       prev.Number + 1,
		Header:       header,
		PageSize:     prev.PageSize,
		DatabaseSize: run.DatabaseSize,
		base:         prev.base,
		pageIndex:    overlay,
		previous:     prev,
	}
}

// Page returns page number p's bytes as of this version: the overlay
// entry if this version (or an ancestor) wrote it, otherwise the base
// file's copy.
func (v *Version) Page(p uint32) ([]byte, error) {
	for cur := v; cur != nil; cur = cur.previous {
		if cur.pageIndex != nil {
			if data, ok := cur.pageIndex[p]; ok {
				return data, nil
			}
		}
	}
	return v.base.ReadPage(p)
}

// ChangedPages returns the page numbers written by this version's own
// commit run (empty for the base version).
func (v *Version) ChangedPages() []uint32 {
	pages := make([]uint32, 0, len(v.pageIndex))
	for p := range v.pageIndex {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// Chain is the full ordered sequence of versions: base plus one per
// commit run.
type Chain struct {
	Versions []*Version
	Trailing []Frame
}

// BuildChain constructs the full version chain from a base version and
// a WAL's frame sequence.
func BuildChain(base *Version, walFrames []Frame, sink diag.Sink) *Chain {
	runs, trailing := SplitCommitRuns(walFrames)
	chain := &Chain{Versions: []*Version{base}}
	prev := base
	for _, run := range runs {
		next := NewCommit(prev, run, sink)
		chain.Versions = append(chain.Versions, next)
		prev = next
	}
	if len(trailing) > 0 {
		sink.Warn(diag.Warning{
			Op:     "build_version_chain",
			Field:  "wal_tail",
			Detail: "wal ends with non-committing frames; exposed as an unused trailing range, not folded into any version",
		})
	}
	chain.Trailing = trailing
	return chain
}
