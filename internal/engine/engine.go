// Package engine drives one analysis run end to end: open the database
// (and, when configured, its WAL; a rollback journal is not read), build the version
// chain, walk the schema, and iterate each table's history emitting
// commits and carved cells through a report.Formatter. app/sqlite_engine.go's
// SqliteEngine opens one database and dispatches dot-commands through a
// ConsoleFormatter; this package generalizes that shape into a driver
// that opens a version chain and dispatches per-table analysis passes
// instead of SQL commands.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sqlitedissect/dissect/internal/carve"
	"github.com/sqlitedissect/dissect/internal/config"
	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/format"
	"github.com/sqlitedissect/dissect/internal/history"
	"github.com/sqlitedissect/dissect/internal/page"
	"github.com/sqlitedissect/dissect/internal/recordval"
	"github.com/sqlitedissect/dissect/internal/report"
	"github.com/sqlitedissect/dissect/internal/schema"
	"github.com/sqlitedissect/dissect/internal/signature"
	"github.com/sqlitedissect/dissect/internal/version"
)

// filePageSource reads pages directly from an *os.File, satisfying both
// version.PageSource and (through *version.Version) page.Fetcher.
type filePageSource struct {
	file     *os.File
	pageSize int
}

func (s *filePageSource) ReadPage(pageNumber uint32) ([]byte, error) {
	if pageNumber == 0 {
		return nil, fmt.Errorf("engine: page number 0 is invalid")
	}
	buf := make([]byte, s.pageSize)
	offset := int64(pageNumber-1) * int64(s.pageSize)
	n, err := s.file.ReadAt(buf, offset)
	if err != nil && n != len(buf) {
		return nil, diag.NewParsingError(diag.KindPage, "read_page", offset, fmt.Errorf("page %d: %w", pageNumber, err), nil)
	}
	return buf, nil
}

// Engine holds the open database (and optional WAL) for one run plus the
// resources a ResourceManager closes when Close is called.
type Engine struct {
	cfg       *config.Config
	sink      diag.Sink
	resources *config.ResourceManager
	formatter report.Formatter
	runID     uuid.UUID

	chain    *version.Chain
	source   *filePageSource
}

// Open reads the database header, decodes the WAL file at cfg.WALPath if
// one is set, and builds the version chain. cfg.JournalPath is not read.
// The returned Engine owns the file handles and must have Close called
// on it.
func Open(cfg *config.Config, sink diag.Sink) (*Engine, error) {
	rm := config.NewResourceManager()

	dbFile, err := os.Open(cfg.DatabasePath)
	if err != nil {
		return nil, diag.NewVersionParsingError(diag.VersionKindDatabase, "open_database", err)
	}
	rm.Add(dbFile)

	headerBuf := make([]byte, 100)
	if _, err := dbFile.ReadAt(headerBuf, 0); err != nil {
		rm.Close()
		return nil, diag.NewVersionParsingError(diag.VersionKindDatabase, "read_database_header", err)
	}
	header, err := format.ReadDatabaseHeader(bytes.NewReader(headerBuf), cfg.StrictFormatChecking, sink)
	if err != nil {
		rm.Close()
		return nil, err
	}

	pageSize := header.ActualPageSize()
	fi, err := dbFile.Stat()
	if err != nil {
		rm.Close()
		return nil, diag.NewVersionParsingError(diag.VersionKindDatabase, "stat_database", err)
	}
	dbSizePages := header.ResolvedSizeInPages(fi.Size(), sink)

	source := &filePageSource{file: dbFile, pageSize: pageSize}
	base := version.NewBase(header, pageSize, dbSizePages, source)

	var frames []version.Frame
	if !cfg.NoJournal && cfg.WALPath != "" {
		frames, err = readWALFrames(cfg.WALPath, sink, cfg.StrictFormatChecking)
		if err != nil {
			rm.Close()
			return nil, err
		}
		readWALIndexAdvisory(cfg.DatabasePath+"-shm", sink)
	}
	chain := version.BuildChain(base, frames, sink)

	runID := uuid.New()
	eng := &Engine{
		cfg:       cfg,
		sink:      sink,
		resources: rm,
		formatter: report.NewConsoleFormatter(os.Stdout),
		runID:     runID,
		chain:     chain,
		source:    source,
	}
	return eng, nil
}

func readWALFrames(walPath string, sink diag.Sink, strict bool) ([]version.Frame, error) {
	f, err := os.Open(walPath)
	if err != nil {
		return nil, diag.NewVersionParsingError(diag.VersionKindWAL, "open_wal", err)
	}
	defer f.Close()

	walHeader, err := format.ReadWALHeader(f, strict, sink)
	if err != nil {
		return nil, err
	}
	order := walHeader.ByteOrder()

	fi, err := f.Stat()
	if err != nil {
		return nil, diag.NewVersionParsingError(diag.VersionKindWAL, "stat_wal", err)
	}

	frameSize := 24 + int(walHeader.PageSize)
	var frames []version.Frame
	offset := int64(32)
	idx := 0
	for offset+int64(frameSize) <= fi.Size() {
		frameHeader, err := format.ReadWALFrameHeader(io.NewSectionReader(f, offset, 24), order, walHeader, strict, sink, offset)
		if err != nil {
			return nil, err
		}
		data := make([]byte, walHeader.PageSize)
		if _, err := f.ReadAt(data, offset+24); err != nil {
			return nil, diag.NewVersionParsingError(diag.VersionKindWALFrame, "read_wal_frame_data", err)
		}
		frames = append(frames, version.Frame{Header: frameHeader, Data: data, Index: idx})
		offset += int64(frameSize)
		idx++
	}
	return frames, nil
}

// readWALIndexAdvisory opens the companion -shm file, if present, and
// decodes its header purely for diagnostic purposes: nothing it reports
// feeds into the version chain, so a missing or unreadable -shm never
// blocks analysis of the WAL itself.
func readWALIndexAdvisory(shmPath string, sink diag.Sink) {
	f, err := os.Open(shmPath)
	if err != nil {
		return
	}
	defer f.Close()
	if h, err := format.ReadWALIndexHeader(f, sink); err == nil {
		sink.Warn(diag.Warning{
			Op:     "read_wal_index_advisory",
			Field:  "max_frame",
			Detail: fmt.Sprintf("wal-index reports max_frame=%d page_count=%d (advisory only)", h.MaxFrame, h.PageCount),
		})
	}
}

// Close releases every resource opened by Open.
func (e *Engine) Close() error {
	return e.resources.Close()
}

// ReadSchema decodes sqlite_master (root page 1) as of the given
// version, returning every entry the config's table filters admit.
func (e *Engine) ReadSchema(v *version.Version) ([]*schema.Entry, error) {
	locs, _, err := page.TraverseTableLeaves(v, v.PageSize-int(v.Header.ReservedSpace), 1)
	if err != nil {
		return nil, err
	}
	var entries []*schema.Entry
	usable := v.PageSize - int(v.Header.ReservedSpace)
	for _, loc := range locs {
		payload, err := page.ReadPayload(loc.Payload.TotalLength, loc.Payload.Inline, loc.Payload.OverflowPage, v.Page, usable, v.DatabaseSize)
		if err != nil {
			return nil, err
		}
		rec, _, err := recordval.Decode(payload)
		if err != nil {
			return nil, err
		}
		entry, err := schema.ParseMasterSchemaRow(rec)
		if err != nil {
			return nil, err
		}
		if !e.cfg.IncludesTable(entry.Name) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// freelistPageSet walks the base version's freelist trunk/leaf chain and
// returns every page number it currently owns.
func freelistPageSet(v *version.Version) map[uint32]bool {
	out := map[uint32]bool{}
	trunk := v.Header.FreelistHeadPage
	seen := map[uint32]bool{}
	for trunk != 0 && !seen[trunk] {
		seen[trunk] = true
		data, err := v.Page(trunk)
		if err != nil {
			break
		}
		ft, err := page.ReadFreelistTrunk(data)
		if err != nil {
			break
		}
		out[trunk] = true
		for _, leaf := range ft.LeafPages {
			out[leaf] = true
		}
		trunk = ft.NextTrunk
	}
	return out
}

// Run iterates every configured table's version history across the
// chain, emitting a Commit per version and, when carving is enabled,
// carved cells recovered from each version's pages.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.chain.Versions) == 0 {
		return fmt.Errorf("engine: empty version chain")
	}
	base := e.chain.Versions[0]
	entries, err := e.ReadSchema(base)
	if err != nil {
		return err
	}

	if e.cfg.Schema {
		for _, entry := range entries {
			fmt.Fprintln(os.Stdout, e.formatter.FormatSchemaEntry(entry))
		}
	}
	if e.cfg.SchemaHistory {
		for _, v := range e.chain.Versions {
			fmt.Fprintf(os.Stdout, "version %d: schema_cookie=%d\n", v.Number, v.Header.SchemaCookie)
		}
	}

	iterators := make(map[string]*history.Iterator, len(entries))
	signatures := make(map[string]*signature.TableSignature, len(entries))
	usable := base.PageSize - int(base.Header.ReservedSpace)

	for _, entry := range entries {
		if !entry.SupportsSignature() {
			continue
		}
		iterators[entry.Name] = history.NewIterator(entry, usable, e.runID)
		if sig, err := signature.NewFromSchema(entry); err == nil {
			signatures[entry.Name] = sig
		} else {
			e.sink.Warn(diag.Warning{Op: "build_signature", Field: entry.Name, Detail: err.Error()})
		}
	}

	for _, v := range e.chain.Versions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		freelist := freelistPageSet(v)

		for _, entry := range entries {
			it, ok := iterators[entry.Name]
			if !ok {
				continue
			}
			commit, err := it.Next(v, v.Number, freelist)
			if err != nil {
				e.sink.Warn(diag.Warning{Op: "iterate_history", Field: entry.Name, Detail: err.Error()})
				continue
			}
			if e.cfg.SchemaHistory || len(commit.Added)+len(commit.Updated)+len(commit.Removed) > 0 {
				fmt.Fprintln(os.Stdout, e.formatter.FormatCommit(commit))
			}

			sig, hasSig := signatures[entry.Name]
			if !hasSig {
				continue
			}
			for _, loc := range mustLocations(v, usable, entry.RootPage) {
				payload, err := page.ReadPayload(loc.Payload.TotalLength, loc.Payload.Inline, loc.Payload.OverflowPage, v.Page, usable, v.DatabaseSize)
				if err != nil {
					continue
				}
				rec, _, err := recordval.Decode(payload)
				if err != nil {
					continue
				}
				sig.AddRow(rec.Values)
			}

			if e.cfg.Carve {
				e.carveTable(v, entry, sig, usable)
			}
		}
	}

	if e.cfg.Signatures {
		for name, sig := range signatures {
			fmt.Fprintf(os.Stdout, "signature %s: min_observed_columns=%d columns=%d\n", name, sig.MinObservedColumns(), len(sig.Columns))
		}
	}

	return nil
}

func mustLocations(v *version.Version, usable int, rootPage uint32) []page.CellLocation {
	locs, _, err := page.TraverseTableLeaves(v, usable, rootPage)
	if err != nil {
		return nil
	}
	return locs
}

// carveTable runs freeblock carving, and when CarveFreelists is set also
// unallocated-space carving, over every table b-tree page reached from
// this table's root, always in the Focused flavor (a balance between the
// broad Schema flavor and the data-exhausting Probabilistic flavor).
func (e *Engine) carveTable(v *version.Version, entry *schema.Entry, sig *signature.TableSignature, usable int) {
	locs, pages, err := page.TraverseTableLeaves(v, usable, entry.RootPage)
	if err != nil {
		return
	}
	live := map[[16]byte]bool{}
	for _, loc := range locs {
		payload, err := page.ReadPayload(loc.Payload.TotalLength, loc.Payload.Inline, loc.Payload.OverflowPage, v.Page, usable, v.DatabaseSize)
		if err != nil {
			continue
		}
		rec, _, err := recordval.Decode(payload)
		if err != nil {
			continue
		}
		var cols []carve.CarvedColumn
		for i, val := range rec.Values {
			vv := val
			cols = append(cols, carve.CarvedColumn{SerialType: rec.SerialTypes[i], Value: &vv})
		}
		live[carve.Digest(cols)] = true
	}

	for _, pn := range pages {
		data, err := v.Page(pn)
		if err != nil {
			continue
		}
		pageStart := 0
		if pn == 1 {
			pageStart = 100
		}
		h, err := page.ReadBTreeHeader(data, pageStart)
		if err != nil || !h.Type.IsTable() {
			continue
		}

		var carved []carve.Cell
		if blocks, err := page.WalkFreeblocks(data, pageStart, h); err == nil {
			for _, b := range blocks {
				if c := carve.CarveFreeblock(data, pageStart, b, sig, signature.FlavorFocused, pn); c != nil {
					carved = append(carved, *c)
				}
			}
		}
		if e.cfg.CarveFreelists {
			start, end := page.UnallocatedSpan(pageStart, h)
			cutoff := pageStart + h.HeaderSize() + int(h.CellCount)*2
			carved = append(carved, carve.CarveUnallocated(data, start, end, sig, signature.FlavorFocused, pn, cutoff)...)
		}

		carved = carve.SuppressDuplicates(carved, live)
		for i := range carved {
			fmt.Fprintln(os.Stdout, e.formatter.FormatCarvedCell(&carved[i]))
		}
	}
}

// WithTimeout wraps ctx with the same 30-second command budget
// app/sqlite_engine.go's handleDBInfo/handleTables use, generalized here
// to bound one full analysis run instead of one command.
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 30*time.Second)
}
