package page

import (
	"encoding/binary"
	"testing"

	"github.com/sqlitedissect/dissect/internal/varint"
)

func TestParseTableInteriorCell(t *testing.T) {
	data := make([]byte, 32)
	binary.BigEndian.PutUint32(data[0:4], 55)
	copy(data[4:], varint.Encode(12345))
	c, err := ParseTableInteriorCell(data, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LeftChild != 55 || c.Rowid != 12345 {
		t.Errorf("got {%d %d}, want {55 12345}", c.LeftChild, c.Rowid)
	}
}

func TestParseTableInteriorCellRejectsTruncated(t *testing.T) {
	data := make([]byte, 2)
	if _, err := ParseTableInteriorCell(data, 0, 0); err == nil {
		t.Fatal("expected error for truncated left-child pointer")
	}
}

func TestParseTableLeafCellInline(t *testing.T) {
	payload := []byte("hello world")
	var data []byte
	data = append(data, varint.Encode(uint64(len(payload)))...)
	data = append(data, varint.Encode(777)...)
	data = append(data, payload...)
	// pad to a reasonably large usable page size so nothing overflows
	padded := make([]byte, 4096)
	copy(padded, data)

	c, err := ParseTableLeafCell(padded, 0, 0, 4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Rowid != 777 {
		t.Errorf("Rowid = %d, want 777", c.Rowid)
	}
	if string(c.Payload.Inline) != "hello world" {
		t.Errorf("Inline = %q, want %q", c.Payload.Inline, "hello world")
	}
	if c.Payload.HasOverflow() {
		t.Error("small payload should not overflow")
	}
}

func TestParseTableLeafCellOverflows(t *testing.T) {
	usable := 512
	maxLocal, _ := TableLeafLocalLimits(usable)
	bigLen := maxLocal + 1000
	payload := make([]byte, bigLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	var data []byte
	data = append(data, varint.Encode(uint64(bigLen))...)
	data = append(data, varint.Encode(1)...)
	data = append(data, payload...)
	padded := make([]byte, usable*4)
	copy(padded, data)

	c, err := ParseTableLeafCell(padded, 0, 0, usable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Payload.HasOverflow() {
		t.Error("oversized payload should overflow")
	}
	if len(c.Payload.Inline) > maxLocal {
		t.Errorf("inline length %d exceeds maxLocal %d", len(c.Payload.Inline), maxLocal)
	}
}

func TestParseIndexLeafCell(t *testing.T) {
	payload := []byte("key")
	var data []byte
	data = append(data, varint.Encode(uint64(len(payload)))...)
	data = append(data, payload...)
	padded := make([]byte, 4096)
	copy(padded, data)

	c, err := ParseIndexLeafCell(padded, 0, 0, 4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(c.Payload.Inline) != "key" {
		t.Errorf("Inline = %q, want %q", c.Payload.Inline, "key")
	}
}

func TestParseIndexInteriorCell(t *testing.T) {
	payload := []byte("idxkey")
	var data []byte
	data = make([]byte, 4)
	binary.BigEndian.PutUint32(data[0:4], 88)
	data = append(data, varint.Encode(uint64(len(payload)))...)
	data = append(data, payload...)
	padded := make([]byte, 4096)
	copy(padded, data)

	c, err := ParseIndexInteriorCell(padded, 0, 0, 4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LeftChild != 88 {
		t.Errorf("LeftChild = %d, want 88", c.LeftChild)
	}
	if string(c.Payload.Inline) != "idxkey" {
		t.Errorf("Inline = %q, want %q", c.Payload.Inline, "idxkey")
	}
}
