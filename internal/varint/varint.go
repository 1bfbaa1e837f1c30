// Package varint implements SQLite's 1-9 byte big-endian variable-length
// integer codec. The forward reader is adapted from app/types.go's
// readVarint and app/readers.go's VarintReader.ReadVarint; the reverse
// reader has no precedent there (deleted data was never carved) and is
// written fresh for the carver.
package varint

import "github.com/sqlitedissect/dissect/internal/diag"

// Read decodes a forward varint starting at offset in data, exactly as
// SQLite encodes it: the first 8 bytes each contribute their low 7 bits to
// a big-endian accumulator with the high bit signaling continuation; a 9th
// byte (if reached) contributes all 8 bits. It never rejects a 9-byte read
// on format grounds — only callers that need bounds-checked carving should
// treat a truncated read as an error.
func Read(data []byte, offset int) (value uint64, length int) {
	var result uint64
	for i := 0; i < 9 && offset+i < len(data); i++ {
		b := data[offset+i]
		if i == 8 {
			result = (result << 8) | uint64(b)
			return result, i + 1
		}
		result = (result << 7) | uint64(b&0x7F)
		if b&0x80 == 0 {
			return result, i + 1
		}
	}
	return result, 0
}

// ReadOrError is Read with the ambiguity removed: a truncated read
// reports length -1 instead of 0, so callers that need a plain
// (value, length) pair without constructing a diag error can still
// distinguish "zero-length value" (impossible) from "truncated".
func ReadOrError(data []byte, offset int) (value uint64, length int) {
	value, length = Read(data, offset)
	if length == 0 {
		return 0, -1
	}
	return value, length
}

// ReadChecked is Read but fails with InvalidVarInt on truncation (offset+k
// past the end of data), the only way the forward format itself can be
// rejected.
func ReadChecked(data []byte, offset int) (value uint64, length int, err error) {
	value, length = Read(data, offset)
	if length == 0 {
		return 0, 0, diag.NewCarvingError(diag.CarvingKindInvalidVarInt, int64(offset), "truncated varint read")
	}
	return value, length, nil
}

// ReadReverse recovers a varint by walking backward from end (exclusive)
// toward the start of buf — used only by the carver to reconstruct a
// record header from a known trailing byte. It follows
// continuation bytes (high bit set) backward for up to 8 bytes; a 9-byte
// varint is not reliably recoverable in reverse, so more than 8
// continuation bytes preceding end is reported as InvalidVarInt.
// Returns the decoded value, its length in bytes, and the start offset
// (end - length).
func ReadReverse(buf []byte, end int) (value uint64, length int, start int, err error) {
	if end <= 0 || end > len(buf) {
		return 0, 0, 0, diag.NewCarvingError(diag.CarvingKindInvalidVarInt, int64(end), "reverse varint end out of range")
	}

	// Walk backward while the previous byte is a continuation byte.
	low := end - 1
	for low > 0 && low > end-9 && buf[low-1]&0x80 != 0 {
		low--
	}
	length = end - low
	if length > 9 || (length == 9 && buf[low]&0x80 != 0) {
		return 0, 0, 0, diag.NewCarvingError(diag.CarvingKindInvalidVarInt, int64(end), "more than 8 continuation bytes precede end")
	}

	value, fwdLen := Read(buf, low)
	if fwdLen != length {
		return 0, 0, 0, diag.NewCarvingError(diag.CarvingKindInvalidVarInt, int64(end), "reverse scan boundary disagrees with forward decode")
	}
	return value, length, low, nil
}

// Encode returns the canonical SQLite varint encoding of v, 1-9 bytes.
func Encode(v uint64) []byte {
	if v <= 0x7F {
		return []byte{byte(v)}
	}

	// Values needing more than 56 bits always take the full 9-byte form:
	// bytes 0..7 carry bits 63..8 as seven-bit continuation groups, byte 8
	// carries bits 7..0 verbatim.
	if v > 1<<56-1 {
		out := make([]byte, 9)
		out[8] = byte(v)
		rest := v >> 8
		for i := 7; i >= 0; i-- {
			out[i] = byte(rest&0x7F) | 0x80
			rest >>= 7
		}
		return out
	}

	// Otherwise collect 7-bit groups least-significant first, then emit
	// most-significant first with every non-final byte continuation-flagged.
	var groups []byte
	for x := v; x != 0; x >>= 7 {
		groups = append(groups, byte(x&0x7F))
	}
	n := len(groups)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		g := groups[n-1-i]
		if i != n-1 {
			g |= 0x80
		}
		out[i] = g
	}
	return out
}
