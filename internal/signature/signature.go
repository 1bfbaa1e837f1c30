// Package signature derives per-table record signatures — the carver's
// acceptance test for a candidate byte span — in four flavors ranging
// from schema-only (broadest) to probabilistic (tightest, data-driven).
// Carving itself is new here; this is written fresh against the
// affinity-to-allowed-serial-type table, reusing internal/schema's
// Affinity and internal/varint's SimplifiedType.
package signature

import (
	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/recordval"
	"github.com/sqlitedissect/dissect/internal/schema"
	"github.com/sqlitedissect/dissect/internal/varint"
)

// Flavor selects which of the four signature strengths to consult.
type Flavor int

const (
	FlavorSchema Flavor = iota
	FlavorSimplified
	FlavorFocused
	FlavorProbabilistic
)

// ColumnSignature is one column's acceptance rule, carrying enough state
// for all four flavors; which fields are consulted depends on the
// Flavor the caller selects.
type ColumnSignature struct {
	Affinity     schema.Affinity
	NotNull      bool
	allowNull    bool // computed: Affinity rule minus NotNull
	observedSimplified map[varint.SimplifiedType]bool
	observedFocused    map[uint64]bool // integer widths normalized to one sentinel
	observedCount      map[varint.SimplifiedType]int
	totalRows          int
}

const focusedIntegerSentinel = uint64(6)

// AllowsSchema reports whether serialType is permitted by the affinity
// rule alone (the broadest, data-independent flavor).
func (c *ColumnSignature) AllowsSchema(serialType uint64) bool {
	if serialType == 0 {
		return c.allowNull
	}
	switch c.Affinity {
	case schema.AffinityText:
		return varint.IsTextSerialType(serialType)
	case schema.AffinityBlob:
		return varint.IsBlobSerialType(serialType)
	case schema.AffinityReal:
		return serialType == 7
	case schema.AffinityNumeric:
		return isIntegerSerialType(serialType) || serialType == 7 || varint.IsTextSerialType(serialType)
	case schema.AffinityInteger:
		return isIntegerSerialType(serialType)
	default:
		return false
	}
}

func isIntegerSerialType(t uint64) bool {
	switch t {
	case 1, 2, 3, 4, 5, 6, 8, 9:
		return true
	default:
		return false
	}
}

// AllowsSimplified reports whether serialType's simplified class was
// ever observed in surviving rows for this column.
func (c *ColumnSignature) AllowsSimplified(serialType uint64) bool {
	if serialType == 0 {
		return c.allowNull || c.observedSimplified[varint.TypeNull]
	}
	return c.observedSimplified[varint.Simplified(serialType)]
}

// AllowsFocused reports whether serialType (with integer widths
// normalized to one sentinel) was observed for this column.
func (c *ColumnSignature) AllowsFocused(serialType uint64) bool {
	key := serialType
	if isIntegerSerialType(serialType) {
		key = focusedIntegerSentinel
	}
	return c.observedFocused[key]
}

// Probability returns the observed frequency of serialType's simplified
// class among surviving rows, 0 if never observed or if no rows were
// ever added.
func (c *ColumnSignature) Probability(serialType uint64) float64 {
	if c.totalRows == 0 {
		return 0
	}
	return float64(c.observedCount[varint.Simplified(serialType)]) / float64(c.totalRows)
}

// Allows consults the flavor the caller requests.
func (c *ColumnSignature) Allows(flavor Flavor, serialType uint64) bool {
	switch flavor {
	case FlavorSchema:
		return c.AllowsSchema(serialType)
	case FlavorSimplified:
		return c.AllowsSimplified(serialType)
	case FlavorFocused:
		return c.AllowsFocused(serialType)
	case FlavorProbabilistic:
		return c.Probability(serialType) > 0
	default:
		return false
	}
}

func (c *ColumnSignature) observe(v recordval.Value) {
	c.totalRows++
	c.observedCount[v.Simplified]++
	c.observedSimplified[v.Simplified] = true
	key := v.SerialType
	if isIntegerSerialType(v.SerialType) {
		key = focusedIntegerSentinel
	}
	c.observedFocused[key] = true
}

// TableSignature is the full set of column signatures for one table,
// built either from schema alone or refined with observed rows.
type TableSignature struct {
	TableName string
	Columns   []*ColumnSignature
}

// NewFromSchema builds a signature using only CREATE TABLE column
// affinities — used when a table has no surviving rows to sample.
// Virtual tables, WITHOUT ROWID tables, and internal schema objects
// without SQL text cannot be signed.
func NewFromSchema(entry *schema.Entry) (*TableSignature, error) {
	if !entry.SupportsSignature() {
		return nil, diag.NewSignatureError(entry.Name, "entry kind does not support signature generation")
	}
	sig := &TableSignature{TableName: entry.Name, Columns: make([]*ColumnSignature, len(entry.Columns))}
	for i, col := range entry.Columns {
		cs := &ColumnSignature{
			Affinity:           col.Affinity,
			NotNull:            col.NotNull || col.IsIntegerRowid,
			observedSimplified: map[varint.SimplifiedType]bool{},
			observedFocused:    map[uint64]bool{},
			observedCount:      map[varint.SimplifiedType]int{},
		}
		cs.allowNull = !cs.NotNull
		sig.Columns[i] = cs
	}
	return sig, nil
}

// AddRow folds one surviving record's decoded values into the
// Simplified/Focused/Probabilistic accumulators. Rows with a column
// count the signature wasn't built for (schema drift via ALTER TABLE) are
// folded up to min(len(values), len(Columns)); the extra values, if
// any, are ignored, and columns a shorter row lacks are not observed for
// that row (MinObservedColumns reports the resulting floor).
func (s *TableSignature) AddRow(values []recordval.Value) {
	n := len(values)
	if n > len(s.Columns) {
		n = len(s.Columns)
	}
	for i := 0; i < n; i++ {
		s.Columns[i].observe(values[i])
	}
}

// MinObservedColumns returns the fewest columns any sampled row carried
// in its header, or 0 when no row was sampled. It is reported by
// --signatures; the carver does not consult it.
func (s *TableSignature) MinObservedColumns() int {
	if len(s.Columns) == 0 || s.Columns[0].totalRows == 0 {
		return 0
	}
	rows := s.Columns[0].totalRows
	for i, c := range s.Columns {
		if c.totalRows < rows {
			return i
		}
	}
	return len(s.Columns)
}
