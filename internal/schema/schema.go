// Package schema parses sqlite_master rows and their CREATE TABLE SQL
// text into column definitions, affinities, and constraints. Master-row
// decoding and the AUTOINCREMENT/primary-key detection build on
// app/database.go's parseTableSchema, which already normalizes SQLite
// syntax for github.com/xwb1989/sqlparser and walks
// sqlparser.DDL.TableSpec.Columns. sqlparser has no notion of column
// affinity or WITHOUT ROWID — both SQLite-specific — so this package
// layers its own text-level scan for those on top of the columns
// sqlparser already extracted.
package schema

import (
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/sqlitedissect/dissect/internal/diag"
	"github.com/sqlitedissect/dissect/internal/recordval"
)

// Kind classifies a master-schema entry.
type Kind int

const (
	KindTable Kind = iota
	KindVirtualTable
	KindIndex
	KindView
	KindTrigger
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindVirtualTable:
		return "virtual_table"
	case KindIndex:
		return "index"
	case KindView:
		return "view"
	case KindTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

func kindFromString(s string) Kind {
	switch s {
	case "table":
		return KindTable
	case "index":
		return KindIndex
	case "view":
		return KindView
	case "trigger":
		return KindTrigger
	default:
		return KindTable
	}
}

// Affinity is one of SQLite's five column storage affinities.
type Affinity int

const (
	AffinityBlob Affinity = iota
	AffinityText
	AffinityReal
	AffinityNumeric
	AffinityInteger
)

func (a Affinity) String() string {
	switch a {
	case AffinityBlob:
		return "BLOB"
	case AffinityText:
		return "TEXT"
	case AffinityReal:
		return "REAL"
	case AffinityNumeric:
		return "NUMERIC"
	case AffinityInteger:
		return "INTEGER"
	default:
		return "NUMERIC"
	}
}

// ComputeAffinity applies SQLite's textual column-affinity rule to a
// declared type name. An absent or BLOB-containing type is affinity
// NONE/BLOB; the checks run in the exact priority order SQLite applies.
func ComputeAffinity(declaredType string) Affinity {
	t := strings.ToUpper(declaredType)
	switch {
	case strings.Contains(t, "CHAR") || strings.Contains(t, "CLOB") || strings.Contains(t, "TEXT"):
		return AffinityText
	case strings.Contains(t, "BLOB") || t == "":
		return AffinityBlob
	case strings.Contains(t, "REAL") || strings.Contains(t, "FLOA") || strings.Contains(t, "DOUB"):
		return AffinityReal
	case strings.Contains(t, "NUM") || strings.Contains(t, "DEC"):
		return AffinityNumeric
	case strings.Contains(t, "INT"):
		return AffinityInteger
	default:
		return AffinityNumeric
	}
}

// Column is one parsed CREATE TABLE column definition.
type Column struct {
	Name            string
	DeclaredType    string
	Affinity        Affinity
	NotNull         bool
	IsIntegerRowid  bool // INTEGER PRIMARY KEY: always stored as NULL (serial type 0)
	IsAutoIncrement bool
}

// Entry is one classified sqlite_master row.
type Entry struct {
	Kind          Kind
	Name          string
	TableName     string
	RootPage      uint32
	SQL           string
	Columns       []Column // ordinary tables only
	WithoutRowid  bool
	IsInternal    bool   // name has the sqlite_ prefix
	VirtualModule string // virtual tables only
	VirtualArgs   []string
}

// SupportsSignature reports whether a carver/signature-generator
// component may act on this entry: ordinary rowid tables with SQL text,
// excluding internal schema objects.
func (e *Entry) SupportsSignature() bool {
	return e.Kind == KindTable && !e.WithoutRowid && !e.IsInternal && e.SQL != ""
}

// ParseMasterSchemaRow decodes one table-leaf record from the
// sqlite_master b-tree into an Entry's raw fields (type, name, tbl_name,
// rootpage, sql), classifies it and, for ordinary tables, parses the SQL.
func ParseMasterSchemaRow(rec *recordval.Record) (*Entry, error) {
	if len(rec.Values) < 5 {
		return nil, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_master_schema_row", 0, fmt.Errorf("expected 5 columns, got %d", len(rec.Values)), nil)
	}

	typeStr, err := textOrEmpty(rec.Values[0])
	if err != nil {
		return nil, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_master_schema_row", 0, err, map[string]interface{}{"column": "type"})
	}
	name, err := textOrEmpty(rec.Values[1])
	if err != nil {
		return nil, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_master_schema_row", 0, err, map[string]interface{}{"column": "name"})
	}
	tblName, err := textOrEmpty(rec.Values[2])
	if err != nil {
		return nil, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_master_schema_row", 0, err, map[string]interface{}{"column": "tbl_name"})
	}
	var rootPage uint32
	if !rec.Values[3].IsNull() {
		rp, err := rec.Values[3].Int64()
		if err != nil {
			return nil, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_master_schema_row", 0, err, map[string]interface{}{"column": "rootpage"})
		}
		rootPage = uint32(rp)
	}
	sql, err := textOrEmpty(rec.Values[4])
	if err != nil {
		return nil, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_master_schema_row", 0, err, map[string]interface{}{"column": "sql"})
	}

	e := &Entry{
		Kind:       kindFromString(typeStr),
		Name:       name,
		TableName:  tblName,
		RootPage:   rootPage,
		SQL:        sql,
		IsInternal: strings.HasPrefix(name, "sqlite_"),
	}

	if e.Kind == KindTable && sql != "" {
		if module, args, ok := parseVirtualTable(sql); ok {
			e.Kind = KindVirtualTable
			e.VirtualModule = module
			e.VirtualArgs = args
		} else {
			cols, withoutRowid, err := ParseCreateTable(sql)
			if err != nil {
				return nil, err
			}
			e.Columns = cols
			e.WithoutRowid = withoutRowid
		}
	}

	return e, nil
}

func textOrEmpty(v recordval.Value) (string, error) {
	if v.IsNull() {
		return "", nil
	}
	return string(v.Raw), nil
}

func parseVirtualTable(sql string) (module string, args []string, ok bool) {
	upper := strings.ToUpper(sql)
	idx := strings.Index(upper, "VIRTUAL TABLE")
	if idx < 0 {
		return "", nil, false
	}
	rest := sql[idx+len("VIRTUAL TABLE"):]
	usingIdx := strings.Index(strings.ToUpper(rest), "USING")
	if usingIdx < 0 {
		return "", nil, false
	}
	rest = strings.TrimSpace(rest[usingIdx+len("USING"):])
	open := strings.Index(rest, "(")
	if open < 0 {
		return strings.TrimSpace(rest), nil, true
	}
	module = strings.TrimSpace(rest[:open])
	close := strings.LastIndex(rest, ")")
	if close < open {
		return module, nil, true
	}
	argList := rest[open+1 : close]
	for _, a := range splitTopLevelCommas(argList) {
		args = append(args, strings.TrimSpace(a))
	}
	return module, args, true
}

// stripComments removes /* ... */ and -- ... line comments while
// preserving quoted strings ('...', "...", `...`, [...]).
func stripComments(sql string) string {
	var out strings.Builder
	runes := []rune(sql)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch c {
		case '\'', '"', '`':
			j := i + 1
			for j < len(runes) && runes[j] != c {
				j++
			}
			if j < len(runes) {
				j++
			}
			out.WriteString(string(runes[i:j]))
			i = j
		case '[':
			j := i + 1
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j < len(runes) {
				j++
			}
			out.WriteString(string(runes[i:j]))
			i = j
		case '/':
			if i+1 < len(runes) && runes[i+1] == '*' {
				j := i + 2
				for j+1 < len(runes) && !(runes[j] == '*' && runes[j+1] == '/') {
					j++
				}
				i = j + 2
				continue
			}
			out.WriteRune(c)
			i++
		case '-':
			if i+1 < len(runes) && runes[i+1] == '-' {
				j := i + 2
				for j < len(runes) && runes[j] != '\n' {
					j++
				}
				i = j
				continue
			}
			out.WriteRune(c)
			i++
		default:
			out.WriteRune(c)
			i++
		}
	}
	return out.String()
}

// splitTopLevelCommas splits s at commas that are not nested inside
// parentheses or quotes.
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	runes := []rune(s)
	var inQuote rune
	for i, c := range runes {
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, string(runes[start:i]))
			start = i + 1
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}

// ParseCreateTable extracts column definitions and the WITHOUT ROWID
// flag from CREATE TABLE SQL text. Column names, declared types, and
// AUTOINCREMENT/primary-key detection reuse sqlparser (after normalizing
// SQLite syntax to the MySQL dialect it accepts); affinity and WITHOUT
// ROWID have no sqlparser representation and are derived from the raw
// text.
func ParseCreateTable(sql string) ([]Column, bool, error) {
	cleaned := stripComments(sql)
	withoutRowid := strings.Contains(strings.ToUpper(cleaned), "WITHOUT ROWID")

	normalized := normalizeSQLiteToMySQL(cleaned)
	stmt, err := sqlparser.Parse(normalized)
	if err != nil {
		return nil, false, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_create_table", 0, fmt.Errorf("sqlparser: %w", err), map[string]interface{}{"sql": sql})
	}

	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok || ddl.Action != "create" || ddl.TableSpec == nil {
		return nil, false, diag.NewParsingError(diag.KindMasterSchemaRow, "parse_create_table", 0, fmt.Errorf("not a CREATE TABLE statement"), nil)
	}

	columns := make([]Column, len(ddl.TableSpec.Columns))
	for i, col := range ddl.TableSpec.Columns {
		declaredType := col.Type.Type
		isAutoIncrement := bool(col.Type.Autoincrement)
		isIntegerPK := isAutoIncrement && strings.EqualFold(declaredType, "INTEGER")
		notNull := bool(col.Type.NotNull)

		columns[i] = Column{
			Name:            col.Name.String(),
			DeclaredType:    declaredType,
			Affinity:        ComputeAffinity(declaredType),
			NotNull:         notNull,
			IsIntegerRowid:  isIntegerPK,
			IsAutoIncrement: isAutoIncrement,
		}
	}

	// sqlparser's NotNull/primary-key detection is unreliable for
	// "INTEGER PRIMARY KEY" written without AUTOINCREMENT (a very common
	// SQLite idiom); scan the raw column segment text for it too.
	markIntegerPrimaryKeys(cleaned, columns)

	return columns, withoutRowid, nil
}

func markIntegerPrimaryKeys(cleaned string, columns []Column) {
	upper := strings.ToUpper(cleaned)
	for i := range columns {
		if columns[i].IsIntegerRowid {
			continue
		}
		nameUpper := strings.ToUpper(columns[i].Name)
		idx := strings.Index(upper, nameUpper)
		if idx < 0 || !strings.Contains(strings.ToUpper(columns[i].DeclaredType), "INT") {
			continue
		}
		tail := upper[idx:]
		end := strings.IndexAny(tail, ",)")
		if end < 0 {
			end = len(tail)
		}
		if strings.Contains(tail[:end], "PRIMARY KEY") {
			columns[i].IsIntegerRowid = true
		}
	}
}

// normalizeSQLiteToMySQL rewrites SQLite-only syntax so sqlparser (a
// MySQL-dialect parser) can tokenize the column list, the same rewrite
// app/database.go's normalizeSQLiteToMySQL applies.
func normalizeSQLiteToMySQL(sql string) string {
	normalized := strings.ReplaceAll(sql, `"`, "")
	normalized = strings.ReplaceAll(normalized, "[", "`")
	normalized = strings.ReplaceAll(normalized, "]", "`")
	lower := strings.ToLower(normalized)
	if idx := strings.Index(lower, "without rowid"); idx >= 0 {
		normalized = normalized[:idx]
	}
	normalized = strings.ReplaceAll(normalized, "primary key autoincrement", "AUTO_INCREMENT PRIMARY KEY")
	normalized = strings.ReplaceAll(normalized, "PRIMARY KEY AUTOINCREMENT", "AUTO_INCREMENT PRIMARY KEY")
	return strings.TrimSpace(normalized)
}
