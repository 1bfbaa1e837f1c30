package format

import (
	"encoding/binary"
	"io"

	"github.com/sqlitedissect/dissect/internal/diag"
)

// WALMagicBigEndian and WALMagicLittleEndian are the two valid magic
// numbers for a WAL file; the choice fixes the byte order in which frame
// checksums are computed. Header and frame-header fields are big-endian
// under either magic.
const (
	WALMagicBigEndian    uint32 = 0x377f0683
	WALMagicLittleEndian uint32 = 0x377f0682
)

// WALHeader is the 32-byte header at the start of a -wal file.
type WALHeader struct {
	Magic           uint32
	FileFormat      uint32
	PageSize        uint32
	CheckpointSeq   uint32
	Salt1           uint32
	Salt2           uint32
	Checksum1       uint32
	Checksum2       uint32
}

// ByteOrder returns the binary.ByteOrder implied by Magic.
func (h *WALHeader) ByteOrder() binary.ByteOrder {
	if h.Magic == WALMagicLittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ReadWALHeader decodes the 32-byte WAL header from r. The header is
// always read big-endian off the wire (every field except the magic is an
// opaque 32-bit quantity at this stage); ByteOrder then reports the
// checksum byte order the magic selects.
func ReadWALHeader(r io.Reader, strict bool, sink diag.Sink) (*WALHeader, error) {
	var h WALHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, diag.NewVersionParsingError(diag.VersionKindWAL, "read_wal_header", err)
	}
	if h.Magic != WALMagicBigEndian && h.Magic != WALMagicLittleEndian {
		detail := "wal magic number does not match either known value"
		if strict {
			return nil, diag.NewVersionParsingError(diag.VersionKindWAL, "validate_wal_header", errString(detail))
		}
		sink.Warn(diag.Warning{Op: "validate_wal_header", Offset: 0, Field: "magic", Detail: detail})
	}
	return &h, nil
}

// WALFrameHeader precedes every page image in a -wal file.
type WALFrameHeader struct {
	PageNumber    uint32
	CommitSize    uint32 // nonzero only on the final frame of a committed transaction
	Salt1         uint32
	Salt2         uint32
	Checksum1     uint32
	Checksum2     uint32
}

// IsCommitFrame reports whether this frame is the last frame of a
// transaction (commit_size != 0), per SQLite's WAL frame format.
func (f *WALFrameHeader) IsCommitFrame() bool {
	return f.CommitSize != 0
}

// ReadWALFrameHeader decodes a 24-byte big-endian frame header and
// validates the frame's salt values against the WAL header's salt so a
// frame from a stale or unrelated WAL generation is rejected rather than
// silently misread. order is the checksum byte order from the WAL header;
// it does not affect how the fields are decoded, and checksums are not
// verified here.
func ReadWALFrameHeader(r io.Reader, order binary.ByteOrder, wal *WALHeader, strict bool, sink diag.Sink, offset int64) (*WALFrameHeader, error) {
	var f WALFrameHeader
	if err := binary.Read(r, binary.BigEndian, &f); err != nil {
		return nil, diag.NewVersionParsingError(diag.VersionKindWALFrame, "read_wal_frame_header", err)
	}
	if f.Salt1 != wal.Salt1 || f.Salt2 != wal.Salt2 {
		detail := "frame salt does not match wal header salt"
		if strict {
			return nil, diag.NewVersionParsingError(diag.VersionKindWALFrame, "validate_wal_frame_header", errString(detail))
		}
		sink.Warn(diag.Warning{Op: "validate_wal_frame_header", Offset: offset, Field: "salt", Detail: detail})
	}
	return &f, nil
}

// JournalHeaderMagic is the 8-byte magic string at the start of every
// rollback-journal header.
var JournalHeaderMagic = [8]byte{0xd9, 0xd5, 0x05, 0xf9, 0x20, 0xa1, 0x63, 0xd7}

// JournalHeader is the fixed portion of a rollback-journal header; the
// nonce/sector-size padding that follows it up to header_size is opaque
// and not modeled here since nothing downstream reads it.
type JournalHeader struct {
	Magic          [8]byte
	PageCount      int32 // -1 means "all pages that follow, to end of file"
	Nonce          uint32
	InitialPages   uint32
	SectorSize     uint32
	PageSize       uint32
}

// ReadJournalHeader decodes the 28-byte fixed journal header from r.
func ReadJournalHeader(r io.Reader, strict bool, sink diag.Sink) (*JournalHeader, error) {
	var h JournalHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, diag.NewVersionParsingError(diag.VersionKindDatabase, "read_journal_header", err)
	}
	if h.Magic != JournalHeaderMagic {
		detail := "journal magic number mismatch"
		if strict {
			return nil, diag.NewVersionParsingError(diag.VersionKindDatabase, "validate_journal_header", errString(detail))
		}
		sink.Warn(diag.Warning{Op: "validate_journal_header", Offset: 0, Field: "magic", Detail: detail})
	}
	return &h, nil
}

// HasAllPages reports whether PageCount signals "every page to EOF"
// rather than a literal count.
func (h *JournalHeader) HasAllPages() bool {
	return h.PageCount < 0
}

// WALIndexHeader mirrors the portion of the -shm first header frame this
// tool cares about: the change counter and the mxFrame/page-count fields
// that mark the last checkpointed state. It is read advisory-only — a
// missing or unreadable -shm never blocks analysis of the -wal file
// itself, since every fact in the index is re-derivable by replaying the
// WAL frames in order.
type WALIndexHeader struct {
	Version      uint32
	Unused       uint32
	ChangeCount  uint32
	IsInit       uint8
	BigEndianCk  uint8
	PageSize     uint16
	MaxFrame     uint32
	PageCount    uint32
	FrameCksum1  uint32
	FrameCksum2  uint32
	Salt1        uint32
	Salt2        uint32
	Checksum1    uint32
	Checksum2    uint32
}

// ReadWALIndexHeader decodes one of the two copies of the 48-byte
// wal-index header. Every field is advisory: callers should treat a
// validation failure as a warning regardless of strict mode, since the
// -shm file is regenerated from the WAL by any connecting reader and its
// absence or corruption never invalidates the WAL file it shadows.
func ReadWALIndexHeader(r io.Reader, sink diag.Sink) (*WALIndexHeader, error) {
	var h WALIndexHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, diag.NewVersionParsingError(diag.VersionKindDatabase, "read_wal_index_header", err)
	}
	return &h, nil
}

type plainError string

func (e plainError) Error() string { return string(e) }

func errString(s string) error { return plainError(s) }
