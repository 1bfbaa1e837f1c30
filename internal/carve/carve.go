// Package carve recovers deleted table-leaf records from freeblocks and
// the unallocated span of a page by applying a table's record signature
// as an acceptance test against candidate byte spans. Nothing here reads
// from prior code (live, allocated cells were all that was ever read
// before); it is written fresh against the freeblock/unallocated-region
// algorithms, reusing internal/varint's forward/reverse codec and
// internal/signature's per-column acceptance rules.
package carve

import (
	"crypto/md5"

	"github.com/sqlitedissect/dissect/internal/page"
	"github.com/sqlitedissect/dissect/internal/recordval"
	"github.com/sqlitedissect/dissect/internal/signature"
	"github.com/sqlitedissect/dissect/internal/varint"
)

// Kind distinguishes how a carved cell was located.
type Kind int

const (
	KindFreeblock Kind = iota
	KindUnallocated
)

// CarvedColumn is one column of a carved cell: its serial type, the
// decoded value if the bytes were fully present, and (for a truncated
// cell) why decoding stopped.
type CarvedColumn struct {
	SerialType       uint64
	Value            *recordval.Value
	TruncationReason string
}

// Cell is one recovered record.
type Cell struct {
	Kind        Kind
	PageNumber  uint32
	StartOffset int
	EndOffset   int
	Truncated   bool
	Rowid       *uint64 // nil when unrecoverable (reverse 9-byte varint, or freeblock at page start)
	Columns     []CarvedColumn
}

func digest(cols []CarvedColumn) [16]byte {
	h := md5.New()
	for _, c := range cols {
		if c.Value != nil {
			h.Write(c.Value.Raw)
		}
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// forwardHeader is a best-effort record-header parse that never returns
// an error: a truncated or nonsensical header_length simply yields zero
// serial types, which the caller's signature check will reject.
func forwardHeader(data []byte, start, limit int) (headerLen uint64, serialTypes []uint64, bodyStart int, ok bool) {
	if start >= len(data) || start >= limit {
		return 0, nil, 0, false
	}
	hl, n := varint.Read(data, start)
	if n == 0 || hl < uint64(n) {
		return 0, nil, 0, false
	}
	offset := start + n
	headerEnd := start + int(hl)
	if headerEnd > limit || headerEnd > len(data) {
		return 0, nil, 0, false
	}
	var types []uint64
	for offset < headerEnd {
		st, k := varint.Read(data, offset)
		if k == 0 {
			return 0, nil, 0, false
		}
		types = append(types, st)
		offset += k
	}
	return hl, types, offset, true
}

// matchSignature walks serialTypes against sig's columns in order,
// decoding each accepted column's body bytes; the first serial type not
// permitted by the signature truncates the result at that column.
func matchSignature(data []byte, bodyStart, limit int, serialTypes []uint64, sig *signature.TableSignature, flavor signature.Flavor) (cols []CarvedColumn, truncated bool, end int) {
	offset := bodyStart
	for i, st := range serialTypes {
		if i >= len(sig.Columns) {
			truncated = true
			break
		}
		if !sig.Columns[i].Allows(flavor, st) {
			truncated = true
			break
		}
		length := varint.ContentLength(st)
		if offset+length > limit || offset+length > len(data) {
			cols = append(cols, CarvedColumn{SerialType: st, TruncationReason: "body extends past available bytes"})
			truncated = true
			offset += length
			break
		}
		raw := data[offset : offset+length]
		v := recordval.Value{SerialType: st, Simplified: varint.Simplified(st), Raw: raw}
		cols = append(cols, CarvedColumn{SerialType: st, Value: &v})
		offset += length
	}
	return cols, truncated, offset
}

// CarveFreeblock attempts to recover a deleted cell from one freeblock.
// offset and size are page-relative on every page, page 1 included;
// pageStart (100 for page 1's b-tree region, 0 otherwise) is not
// consulted. Whenever block.Offset is nonzero the varints preceding the
// record header are read backward to recover the rowid.
func CarveFreeblock(data []byte, pageStart int, block page.Freeblock, sig *signature.TableSignature, flavor signature.Flavor, pageNumber uint32) *Cell {
	if block.Size-4 < 2 {
		return nil
	}
	start := block.Offset + 4
	limit := block.Offset + block.Size
	headerLen, serialTypes, bodyStart, ok := forwardHeader(data, start, limit)
	if !ok || headerLen == 0 {
		return nil
	}

	cols, truncated, end := matchSignature(data, bodyStart, limit, serialTypes, sig, flavor)
	if len(cols) == 0 {
		return nil
	}

	cell := &Cell{Kind: KindFreeblock, PageNumber: pageNumber, StartOffset: start, EndOffset: end, Truncated: truncated, Columns: cols}

	if block.Offset > 0 {
		if payloadLen, plLen, plStart, err := varint.ReadReverse(data, start); err == nil {
			if rowid, rLen, _, err2 := varint.ReadReverse(data, plStart); err2 == nil {
				_ = payloadLen
				_ = plLen
				_ = rLen
				r := rowid
				cell.Rowid = &r
			}
		}
	}

	return cell
}

// CarveUnallocated walks the unallocated span backward from end to
// start. At each end position it tries candidate record-header starts in
// descending order and parses each one forward against the signature;
// columns are not matched in reverse from the final column, so a record
// whose header has been overwritten is not recovered.
func CarveUnallocated(data []byte, spanStart, spanEnd int, sig *signature.TableSignature, flavor signature.Flavor, pageNumber uint32, cutoff int) []Cell {
	var results []Cell
	end := spanEnd
	for end > spanStart && end > cutoff {
		cell, newEnd := carveOneBackward(data, spanStart, end, sig, flavor, pageNumber, cutoff)
		if cell == nil {
			end--
			continue
		}
		results = append(results, *cell)
		end = newEnd
	}
	return results
}

// carveOneBackward tries every header start candidate in
// [max(spanStart,cutoff), end) in descending order, accepting the first
// one whose forward-parsed header validates against the signature. This
// favors the latest (rightmost) viable header — the one least likely to
// have been partially overwritten by a subsequent allocation.
func carveOneBackward(data []byte, spanStart, end int, sig *signature.TableSignature, flavor signature.Flavor, pageNumber uint32, cutoff int) (*Cell, int) {
	low := spanStart
	if cutoff > low {
		low = cutoff
	}
	for start := end - 1; start >= low; start-- {
		headerLen, serialTypes, bodyStart, ok := forwardHeader(data, start, end)
		if !ok || len(serialTypes) == 0 {
			continue
		}
		cols, truncated, bodyEnd := matchSignature(data, bodyStart, end, serialTypes, sig, flavor)
		if len(cols) == 0 {
			continue
		}
		_ = headerLen
		cell := &Cell{
			Kind:        KindUnallocated,
			PageNumber:  pageNumber,
			StartOffset: start,
			EndOffset:   bodyEnd,
			Truncated:   truncated || bodyEnd < end,
			Columns:     cols,
		}
		if start > spanStart {
			if rowid, _, plStart, err := varint.ReadReverse(data, start); err == nil {
				_ = plStart
				r := rowid
				cell.Rowid = &r
			}
		}
		return cell, start
	}
	return nil, low
}

// SuppressDuplicates drops carved cells whose content digest matches any
// live cell's digest on the same page.
func SuppressDuplicates(carved []Cell, liveDigests map[[16]byte]bool) []Cell {
	out := make([]Cell, 0, len(carved))
	for _, c := range carved {
		if liveDigests[digest(c.Columns)] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Digest exposes the content digest so callers building liveDigests can
// use the same function for live cells (see internal/history.fingerprint
// for the rowid-inclusive variant used there instead; carved cells often
// lack a recovered rowid, so duplicate suppression compares column
// content only).
func Digest(cols []CarvedColumn) [16]byte { return digest(cols) }
