// Package recordval decodes a b-tree cell's record payload — the header
// of serial-type varints followed by the packed column body — into typed
// Values. It generalizes the RecordHeader/RecordBody/SQLiteValue trio in
// app/types.go and app/values.go into a single decode pass that keeps the
// raw bytes alongside the serial type instead of re-deriving sizes from a
// lossy uint8 copy of the serial type, and actually converts IEEE-754
// bits to float64 (app/values.go's float64FromBits is a stub that returns
// float64(b) verbatim; this package uses math.Float64frombits).
package recordval

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding/unicode"

	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/varint"
)

// TextEncoding mirrors the database header's text_encoding field.
type TextEncoding uint32

const (
	TextEncodingUTF8    TextEncoding = 1
	TextEncodingUTF16LE TextEncoding = 2
	TextEncodingUTF16BE TextEncoding = 3
)

// Value is one column value decoded from a record body, holding both its
// original serial type and the raw content bytes so the carver can
// re-examine a value without re-reading the page.
type Value struct {
	SerialType uint64
	Simplified varint.SimplifiedType
	Raw        []byte
}

// IsNull reports whether this value decodes to SQL NULL.
func (v Value) IsNull() bool {
	return v.SerialType == 0
}

// Int64 returns the value as a signed 64-bit integer. Serial types 8 and 9
// are the constants 0 and 1; REAL and TEXT/BLOB values fail.
func (v Value) Int64() (int64, error) {
	switch v.SerialType {
	case 0:
		return 0, fmt.Errorf("recordval: NULL has no integer value")
	case 8:
		return 0, nil
	case 9:
		return 1, nil
	case 1:
		return int64(int8(v.Raw[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(v.Raw))), nil
	case 3:
		return signExtend(int64(v.Raw[0])<<16|int64(v.Raw[1])<<8|int64(v.Raw[2]), 24), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(v.Raw))), nil
	case 5:
		u := uint64(0)
		for _, b := range v.Raw {
			u = u<<8 | uint64(b)
		}
		return signExtend(int64(u), 48), nil
	case 6:
		return int64(binary.BigEndian.Uint64(v.Raw)), nil
	default:
		return 0, fmt.Errorf("recordval: serial type %d is not an integer", v.SerialType)
	}
}

func signExtend(v int64, bits uint) int64 {
	shift := 64 - bits
	return (v << shift) >> shift
}

// Float64 returns the value as a float64. Integer serial types convert
// losslessly where possible; 8/9 convert to 0.0/1.0.
func (v Value) Float64() (float64, error) {
	if v.SerialType == 7 {
		bits := binary.BigEndian.Uint64(v.Raw)
		return math.Float64frombits(bits), nil
	}
	i, err := v.Int64()
	if err != nil {
		return 0, fmt.Errorf("recordval: serial type %d is not numeric: %w", v.SerialType, err)
	}
	return float64(i), nil
}

// Text decodes a TEXT value's raw bytes per the database's declared text
// encoding. UTF-8 is returned verbatim; UTF-16LE/BE are transcoded via
// golang.org/x/text/encoding/unicode.
func (v Value) Text(enc TextEncoding) (string, error) {
	if !varint.IsTextSerialType(v.SerialType) {
		return "", fmt.Errorf("recordval: serial type %d is not TEXT", v.SerialType)
	}
	switch enc {
	case TextEncodingUTF16LE:
		return decodeUTF16(v.Raw, unicode.LittleEndian)
	case TextEncodingUTF16BE:
		return decodeUTF16(v.Raw, unicode.BigEndian)
	default:
		return string(v.Raw), nil
	}
}

func decodeUTF16(raw []byte, order unicode.Endianness) (string, error) {
	decoder := unicode.UTF16(order, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("recordval: utf-16 decode: %w", err)
	}
	return string(out), nil
}

// IsIntegerValue reports whether v holds an integer-family serial type.
func IsIntegerValue(v *Value) bool {
	switch v.SerialType {
	case 1, 2, 3, 4, 5, 6, 8, 9:
		return true
	default:
		return false
	}
}

// IsFloatValue reports whether v holds serial type 7 (IEEE-754 float64).
func IsFloatValue(v *Value) bool { return v.SerialType == 7 }

// IsTextValue reports whether v holds a TEXT serial type.
func IsTextValue(v *Value) bool { return varint.IsTextSerialType(v.SerialType) }

// Blob returns the raw bytes of a BLOB value.
func (v Value) Blob() ([]byte, error) {
	if !varint.IsBlobSerialType(v.SerialType) {
		return nil, fmt.Errorf("recordval: serial type %d is not BLOB", v.SerialType)
	}
	return v.Raw, nil
}

// Record is a fully decoded record: the serial-type header and the
// column values it describes.
type Record struct {
	HeaderLength uint64
	SerialTypes  []uint64
	Values       []Value
}

// Decode parses a record payload starting at offset 0: the varint
// header_length, the sequence of serial-type varints filling the header,
// then the packed column body. It returns the record and the total
// number of bytes consumed (header + body), which callers compare
// against the payload's declared length to detect truncation.
func Decode(payload []byte) (*Record, int, error) {
	headerLen, n := varint.Read(payload, 0)
	if n == 0 {
		return nil, 0, diag.NewParsingError(diag.KindRecord, "decode_record_header", 0, fmt.Errorf("truncated header_length varint"), nil)
	}
	if int(headerLen) > len(payload) {
		return nil, 0, diag.NewParsingError(diag.KindRecord, "decode_record_header", 0, fmt.Errorf("header_length %d exceeds payload length %d", headerLen, len(payload)), nil)
	}

	offset := n
	var serialTypes []uint64
	for offset < int(headerLen) {
		st, k := varint.Read(payload, offset)
		if k == 0 {
			return nil, 0, diag.NewParsingError(diag.KindRecord, "decode_record_header", int64(offset), fmt.Errorf("truncated serial-type varint"), nil)
		}
		serialTypes = append(serialTypes, st)
		offset += k
	}

	values := make([]Value, len(serialTypes))
	for i, st := range serialTypes {
		length := varint.ContentLength(st)
		if offset+length > len(payload) {
			return nil, 0, diag.NewParsingError(diag.KindRecord, "decode_record_body", int64(offset), fmt.Errorf("column %d needs %d bytes, only %d remain", i, length, len(payload)-offset), map[string]interface{}{"column": i})
		}
		values[i] = Value{SerialType: st, Simplified: varint.Simplified(st), Raw: payload[offset : offset+length]}
		offset += length
	}

	return &Record{HeaderLength: headerLen, SerialTypes: serialTypes, Values: values}, offset, nil
}
