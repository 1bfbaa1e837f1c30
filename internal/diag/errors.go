// Package diag implements a typed error taxonomy and warning sink. It
// generalizes a single DatabaseError shape (operation + cause + context
// map) into four typed error families, each carrying the same
// operation/context idiom.
package diag

import "fmt"

// Kind distinguishes the sub-kind of a ParsingError.
type Kind int

const (
	KindHeader Kind = iota
	KindMasterSchemaRow
	KindPage
	KindBTreePage
	KindCell
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "HeaderParsingError"
	case KindMasterSchemaRow:
		return "MasterSchemaRowParsingError"
	case KindPage:
		return "PageParsingError"
	case KindBTreePage:
		return "BTreePageParsingError"
	case KindCell:
		return "CellParsingError"
	case KindRecord:
		return "RecordParsingError"
	default:
		return "ParsingError"
	}
}

// ParsingError is fatal to the current operation: the caller may elect to
// continue with the next entity, but the entity that raised it is not
// usable. Raised in strict mode; downgraded to a Warning in non-strict mode
// wherever the decoder can safely proceed with a tolerated value instead.
type ParsingError struct {
	Kind    Kind
	Op      string
	Offset  int64
	Err     error
	Context map[string]interface{}
}

func (e *ParsingError) Error() string {
	if e.Context == nil {
		return fmt.Sprintf("%s: %s at offset %d: %v", e.Kind, e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: %s at offset %d: %v (context: %+v)", e.Kind, e.Op, e.Offset, e.Err, e.Context)
}

func (e *ParsingError) Unwrap() error { return e.Err }

func NewParsingError(kind Kind, op string, offset int64, err error, ctx map[string]interface{}) *ParsingError {
	return &ParsingError{Kind: kind, Op: op, Offset: offset, Err: err, Context: ctx}
}

// VersionKind distinguishes the sub-kind of a VersionParsingError.
type VersionKind int

const (
	VersionKindDatabase VersionKind = iota
	VersionKindWAL
	VersionKindWALFrame
	VersionKindWALCommitRecord
)

func (k VersionKind) String() string {
	switch k {
	case VersionKindDatabase:
		return "DatabaseParsingError"
	case VersionKindWAL:
		return "WalParsingError"
	case VersionKindWALFrame:
		return "WalFrameParsingError"
	case VersionKindWALCommitRecord:
		return "WalCommitRecordParsingError"
	default:
		return "VersionParsingError"
	}
}

// VersionParsingError covers failures building the base snapshot or the WAL
// commit chain.
type VersionParsingError struct {
	Kind VersionKind
	Op   string
	Err  error
}

func (e *VersionParsingError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *VersionParsingError) Unwrap() error { return e.Err }

func NewVersionParsingError(k VersionKind, op string, err error) *VersionParsingError {
	return &VersionParsingError{Kind: k, Op: op, Err: err}
}

// SignatureError is raised when a signature is requested for an entry kind
// signatures cannot be generated for (without-rowid, virtual, view/trigger,
// internal schema objects without SQL).
type SignatureError struct {
	TableName string
	Reason    string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature error for table %q: %s", e.TableName, e.Reason)
}

func NewSignatureError(table, reason string) *SignatureError {
	return &SignatureError{TableName: table, Reason: reason}
}

// CarvingKind distinguishes the sub-kind of a CarvingError.
type CarvingKind int

const (
	CarvingKindCell CarvingKind = iota
	CarvingKindInvalidVarInt
)

func (k CarvingKind) String() string {
	if k == CarvingKindInvalidVarInt {
		return "InvalidVarIntError"
	}
	return "CellCarvingError"
}

// CarvingError is local to a single carve attempt: every trial parse may
// fail this way, and a failure is silent — no cell is emitted, nothing
// propagates past the carver.
type CarvingError struct {
	Kind   CarvingKind
	Offset int64
	Reason string
}

func (e *CarvingError) Error() string {
	return fmt.Sprintf("%s at offset %d: %s", e.Kind, e.Offset, e.Reason)
}

func NewCarvingError(kind CarvingKind, offset int64, reason string) *CarvingError {
	return &CarvingError{Kind: kind, Offset: offset, Reason: reason}
}
