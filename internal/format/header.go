// Package format implements the fixed-layout decoders for the 100-byte
// database header, the WAL header and frame header, the rollback-journal
// header, and the WAL-index header. The database header struct and its
// binary.Read-based decode are adapted directly from app/types.go and
// app/sqlite_db.go's DatabaseHeader; the WAL, journal, and WAL-index
// readers have no precedent there (a WAL file was never read) and are
// written fresh, following the same binary.Read-over-a-fixed-struct
// idiom.
package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sqlitedissect/dissect/internal/diag"
)

// DatabaseHeader is the 100-byte SQLite database file header, field order
// and sizes exactly as SQLite lays them out.
type DatabaseHeader struct {
	MagicNumber        [16]byte
	PageSize           uint16
	FileFormatWrite    uint8
	FileFormatRead     uint8
	ReservedSpace      uint8
	MaxEmbeddedPayload uint8 // must be 64
	MinEmbeddedPayload uint8 // must be 32
	LeafPayloadFrac    uint8
	FileChangeCounter  uint32
	DatabaseSizePages  uint32
	FreelistHeadPage   uint32
	FreelistPageCount  uint32
	SchemaCookie       uint32
	SchemaFormat       uint32
	DefaultCacheSize   uint32
	LargestRootBTree   uint32 // nonzero => auto-vacuum incremental
	TextEncoding       uint32 // 1=UTF-8, 2=UTF-16LE, 3=UTF-16BE
	UserVersion        uint32
	IncrementalVacuum  uint32
	ApplicationID      uint32
	Reserved           [20]byte
	VersionValidFor    uint32
	SQLiteVersionNum   uint32
}

const magicString = "SQLite format 3\x00"

// ActualPageSize returns the real page size, translating the header's
// special encoding of 65536 as the stored value 1.
func (h *DatabaseHeader) ActualPageSize() int {
	if h.PageSize == 1 {
		return 65536
	}
	return int(h.PageSize)
}

// TextEncodingName returns "UTF-8", "UTF-16LE", or "UTF-16BE" for the
// header's declared encoding, defaulting to UTF-8 for unrecognized values.
func (h *DatabaseHeader) TextEncodingName() string {
	switch h.TextEncoding {
	case 2:
		return "UTF-16LE"
	case 3:
		return "UTF-16BE"
	default:
		return "UTF-8"
	}
}

// IsAutoVacuum reports whether this database uses auto-vacuum (and
// therefore carries pointer-map pages).
func (h *DatabaseHeader) IsAutoVacuum() bool {
	return h.LargestRootBTree != 0
}

func isPowerOfTwoInRange(n, lo, hi int) bool {
	return n >= lo && n <= hi && n&(n-1) == 0
}

// ReadDatabaseHeader decodes the 100-byte header from r. In strict mode,
// magic mismatch, an invalid page size, incorrect embedded-payload
// fractions, an unrecognized text encoding, or an out-of-range schema
// format all raise a HeaderParsingError. Reserved space is not checked: as
// a uint8 it cannot exceed 255. In
// non-strict mode the same conditions are downgraded to warnings on sink
// and the header is returned as decoded so downstream code can defend
// against the nonsense values itself.
func ReadDatabaseHeader(r io.Reader, strict bool, sink diag.Sink) (*DatabaseHeader, error) {
	var h DatabaseHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, diag.NewParsingError(diag.KindHeader, "read_database_header", 0, err, nil)
	}

	fail := func(field string, offset int64, detail string) error {
		if strict {
			return diag.NewParsingError(diag.KindHeader, "validate_database_header", offset, fmt.Errorf("%s", detail), map[string]interface{}{"field": field})
		}
		sink.Warn(diag.Warning{Op: "validate_database_header", Offset: offset, Field: field, Detail: detail})
		return nil
	}

	if !bytes.Equal(h.MagicNumber[:], []byte(magicString)) {
		if err := fail("magic_number", 0, fmt.Sprintf("expected %q, got %q", magicString, h.MagicNumber[:])); err != nil {
			return nil, err
		}
	}
	if !isPowerOfTwoInRange(h.ActualPageSize(), 512, 65536) {
		if err := fail("page_size", 16, fmt.Sprintf("page size %d is not a power of two in [512,65536]", h.ActualPageSize())); err != nil {
			return nil, err
		}
	}
	if h.MaxEmbeddedPayload != 64 {
		if err := fail("max_embedded_payload_fraction", 21, fmt.Sprintf("expected 64, got %d", h.MaxEmbeddedPayload)); err != nil {
			return nil, err
		}
	}
	if h.MinEmbeddedPayload != 32 {
		if err := fail("min_embedded_payload_fraction", 22, fmt.Sprintf("expected 32, got %d", h.MinEmbeddedPayload)); err != nil {
			return nil, err
		}
	}
	if h.TextEncoding != 1 && h.TextEncoding != 2 && h.TextEncoding != 3 {
		if err := fail("text_encoding", 56, fmt.Sprintf("expected 1, 2, or 3, got %d", h.TextEncoding)); err != nil {
			return nil, err
		}
	}
	if h.SchemaFormat < 1 || h.SchemaFormat > 4 {
		if err := fail("schema_format", 44, fmt.Sprintf("expected 1..4, got %d", h.SchemaFormat)); err != nil {
			return nil, err
		}
	}

	return &h, nil
}

// ResolvedSizeInPages returns the database's size in pages, deriving it
// from fileSize/pageSize whenever the header's declared size is
// unreliable: either it is zero, or version_valid_for disagrees with the
// file change counter. The caller supplies a sink so the fallback can be
// recorded as a warning.
func (h *DatabaseHeader) ResolvedSizeInPages(fileSize int64, sink diag.Sink) uint32 {
	pageSize := int64(h.ActualPageSize())
	stale := h.VersionValidFor != h.FileChangeCounter
	if h.DatabaseSizePages == 0 || stale {
		derived := uint32(fileSize / pageSize)
		sink.Warn(diag.Warning{
			Op:     "resolve_database_size",
			Offset: 28,
			Field:  "database_size_pages",
			Detail: fmt.Sprintf("header value %d unreliable (stale=%v); derived %d from file length", h.DatabaseSizePages, stale, derived),
		})
		return derived
	}
	return h.DatabaseSizePages
}
