package version

import (
	"testing"

	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/format"
)

func frame(pageNum uint32, commitSize uint32, data []byte) Frame {
	return Frame{Header: &format.WALFrameHeader{PageNumber: pageNum, CommitSize: commitSize}, Data: data}
}

func TestSplitCommitRunsSeparatesTrailing(t *testing.T) {
	frames := []Frame{
		frame(1, 0, []byte("a")),
		frame(2, 3, []byte("b")), // commits here
		frame(1, 0, []byte("c")), // trailing, never commits
	}
	runs, trailing := SplitCommitRuns(frames)
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if len(runs[0].Frames) != 2 {
		t.Errorf("first run has %d frames, want 2", len(runs[0].Frames))
	}
	if len(trailing) != 1 {
		t.Fatalf("got %d trailing frames, want 1", len(trailing))
	}
}

func TestSplitCommitRunsNoTrailingWhenAllCommit(t *testing.T) {
	frames := []Frame{frame(1, 2, []byte("a"))}
	_, trailing := SplitCommitRuns(frames)
	if trailing != nil {
		t.Errorf("trailing = %v, want nil", trailing)
	}
}

type fakePageSource map[uint32][]byte

func (f fakePageSource) ReadPage(n uint32) ([]byte, error) { return f[n], nil }

func TestVersionPageFallsBackToBase(t *testing.T) {
	base := NewBase(&format.DatabaseHeader{}, 512, 5, fakePageSource{1: []byte("base-page-1")})
	data, err := base.Page(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "base-page-1" {
		t.Errorf("Page(1) = %q, want base-page-1", data)
	}
}

func TestVersionPageUsesOverlayThenFallsBackToAncestor(t *testing.T) {
	base := NewBase(&format.DatabaseHeader{}, 512, 5, fakePageSource{1: []byte("base1"), 2: []byte("base2")})
	sink := diag.NewCollector()

	run1 := CommitRun{Frames: []Frame{frame(1, 1, []byte("v1-page1"))}, DatabaseSize: 5}
	v1 := NewCommit(base, run1, sink)

	run2 := CommitRun{Frames: []Frame{frame(2, 1, []byte("v2-page2"))}, DatabaseSize: 5}
	v2 := NewCommit(v1, run2, sink)

	p1, _ := v2.Page(1) // not touched by v2, falls back through v1's overlay
	if string(p1) != "v1-page1" {
		t.Errorf("Page(1) via v2 = %q, want v1-page1", p1)
	}
	p2, _ := v2.Page(2) // v2's own overlay
	if string(p2) != "v2-page2" {
		t.Errorf("Page(2) via v2 = %q, want v2-page2", p2)
	}
}

func TestNewCommitMostRecentFrameWins(t *testing.T) {
	base := NewBase(&format.DatabaseHeader{}, 512, 5, fakePageSource{})
	sink := diag.NewCollector()
	run := CommitRun{
		Frames: []Frame{
			frame(1, 0, []byte("first-write")),
			frame(1, 1, []byte("second-write")), // same page, later in the run, commits
		},
		DatabaseSize: 5,
	}
	v := NewCommit(base, run, sink)
	data, _ := v.Page(1)
	if string(data) != "second-write" {
		t.Errorf("Page(1) = %q, want second-write (last frame wins)", data)
	}
}

func TestBuildChainWarnsOnTrailingFrames(t *testing.T) {
	base := NewBase(&format.DatabaseHeader{}, 512, 5, fakePageSource{})
	sink := diag.NewCollector()
	frames := []Frame{
		frame(1, 2, []byte("committed")),
		frame(1, 0, []byte("never-commits")),
	}
	chain := BuildChain(base, frames, sink)
	if len(chain.Versions) != 2 {
		t.Fatalf("got %d versions, want 2 (base + one commit)", len(chain.Versions))
	}
	if len(chain.Trailing) != 1 {
		t.Errorf("got %d trailing frames, want 1", len(chain.Trailing))
	}
	if sink.Count() != 1 {
		t.Errorf("expected 1 warning for the non-committing tail, got %d", sink.Count())
	}
}

func TestChangedPagesSortedForCommitVersion(t *testing.T) {
	base := NewBase(&format.DatabaseHeader{}, 512, 5, fakePageSource{})
	sink := diag.NewCollector()
	run := CommitRun{
		Frames: []Frame{
			frame(5, 0, []byte("x")),
			frame(2, 0, []byte("y")),
			frame(9, 1, []byte("z")),
		},
		DatabaseSize: 5,
	}
	v := NewCommit(base, run, sink)
	pages := v.ChangedPages()
	if len(pages) != 3 || pages[0] != 2 || pages[1] != 5 || pages[2] != 9 {
		t.Errorf("ChangedPages() = %v, want [2 5 9]", pages)
	}
}
