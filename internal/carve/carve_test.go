package carve

import (
	"testing"

	"github.com/sqlitedissect/dissect/internal/page"
	"github.com/sqlitedissect/dissect/internal/recordval"
	"github.com/sqlitedissect/dissect/internal/schema"
	"github.com/sqlitedissect/dissect/internal/signature"
)

func twoColumnSignature(t *testing.T) *signature.TableSignature {
	t.Helper()
	entry := &schema.Entry{
		Kind: schema.KindTable,
		Name: "t",
		SQL:  "CREATE TABLE t (a INTEGER, b TEXT)",
		Columns: []schema.Column{
			{Name: "a", Affinity: schema.AffinityInteger},
			{Name: "b", Affinity: schema.AffinityText},
		},
	}
	sig, err := signature.NewFromSchema(entry)
	if err != nil {
		t.Fatalf("unexpected error building signature: %v", err)
	}
	return sig
}

func TestCarveFreeblockRecoversRecord(t *testing.T) {
	sig := twoColumnSignature(t)
	data := make([]byte, 128)
	record := []byte{3, 1, 15, 0x05, 'z'} // header_length=3, int8, text-len-1; body: 0x05, 'z'
	copy(data[54:59], record)

	block := page.Freeblock{Offset: 50, Size: 9}
	cell := CarveFreeblock(data, 0, block, sig, signature.FlavorSchema, 7)
	if cell == nil {
		t.Fatal("expected a recovered cell, got nil")
	}
	if cell.Kind != KindFreeblock || cell.PageNumber != 7 {
		t.Errorf("Kind=%v PageNumber=%d, want KindFreeblock/7", cell.Kind, cell.PageNumber)
	}
	if len(cell.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(cell.Columns))
	}
	if cell.Truncated {
		t.Error("fully present record should not be marked truncated")
	}
	iv, err := cell.Columns[0].Value.Int64()
	if err != nil || iv != 5 {
		t.Errorf("column 0 = %d, %v, want 5, nil", iv, err)
	}
}

func TestCarveFreeblockRejectsTooSmall(t *testing.T) {
	sig := twoColumnSignature(t)
	data := make([]byte, 32)
	block := page.Freeblock{Offset: 10, Size: 5} // size-4 = 1, below minimum 2
	if cell := CarveFreeblock(data, 0, block, sig, signature.FlavorSchema, 1); cell != nil {
		t.Error("expected nil for a freeblock too small to hold any record")
	}
}

func TestCarveFreeblockRejectsSignatureMismatch(t *testing.T) {
	sig := twoColumnSignature(t)
	data := make([]byte, 128)
	// header_length=2, one BLOB serial type (12) -- not permitted for an
	// INTEGER-affinity first column under FlavorSchema.
	record := []byte{2, 12}
	copy(data[54:56], record)
	block := page.Freeblock{Offset: 50, Size: 9}
	cell := CarveFreeblock(data, 0, block, sig, signature.FlavorSchema, 1)
	if cell != nil {
		t.Error("expected nil when the first column violates the signature")
	}
}

func TestCarveUnallocatedRecoversTrailingRecord(t *testing.T) {
	sig := twoColumnSignature(t)
	data := make([]byte, 128)
	record := []byte{3, 1, 15, 0x05, 'z'}
	spanStart, spanEnd := 40, 100
	copy(data[90:95], record)

	cells := CarveUnallocated(data, spanStart, spanEnd, sig, signature.FlavorSchema, 3, 0)
	if len(cells) == 0 {
		t.Fatal("expected at least one carved cell")
	}
	found := false
	for _, c := range cells {
		if c.StartOffset == 90 {
			found = true
			if len(c.Columns) != 2 {
				t.Errorf("recovered cell has %d columns, want 2", len(c.Columns))
			}
		}
	}
	if !found {
		t.Error("expected to recover the record planted at offset 90")
	}
}

func TestSuppressDuplicatesDropsMatchingDigest(t *testing.T) {
	v := recordval.Value{SerialType: 1, Raw: []byte{5}}
	cols := []CarvedColumn{{SerialType: 1, Value: &v}}
	cell := Cell{Columns: cols}
	live := map[[16]byte]bool{Digest(cols): true}

	out := SuppressDuplicates([]Cell{cell}, live)
	if len(out) != 0 {
		t.Errorf("got %d surviving cells, want 0 (duplicate of a live cell)", len(out))
	}
}

func TestSuppressDuplicatesKeepsNonMatching(t *testing.T) {
	v := recordval.Value{SerialType: 1, Raw: []byte{9}}
	cols := []CarvedColumn{{SerialType: 1, Value: &v}}
	cell := Cell{Columns: cols}
	live := map[[16]byte]bool{{0xFF}: true}

	out := SuppressDuplicates([]Cell{cell}, live)
	if len(out) != 1 {
		t.Errorf("got %d surviving cells, want 1 (no matching live digest)", len(out))
	}
}
