package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
)

// SQLCompiler compiles QueryIR to parameterized SQL over the objects table.
//
// Envelope fields map to columns. Attribute paths map to JSON paths into the
// data column, where each object's attributes are stored as JSON.
//
// CRITICAL: every query ends in ORDER BY id for deterministic results.
// CRITICAL: values and paths are always bound as parameters.
type SQLCompiler struct {
	// Table is the objects table name.
	Table string
}

// NewSQLCompiler creates a compiler for the store's objects table.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Table: "objects"}
}

// Compile converts a query to a SELECT returning type, id, version and data.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	var sel queryir.Select
	switch query := q.(type) {
	case queryir.Select:
		sel = query
	case *queryir.Select:
		sel = *query
	}

	params := []any{sel.From}
	where := "type = ?"
	if sel.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(sel.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where += " AND " + filterSQL
		params = append(params, filterParams...)
	}

	sql := fmt.Sprintf("SELECT type, id, version, data FROM %s WHERE %s ORDER BY %s",
		c.Table, where, stableOrderKey())
	return sql, params, nil
}

// stableOrderKey uses COLLATE BINARY for byte-wise ordering across SQLite
// versions.
func stableOrderKey() string {
	return "id ASC COLLATE BINARY"
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case *queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case *queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case queryir.Absent:
		return c.compileAbsent(pred)
	case *queryir.Absent:
		return c.compileAbsent(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals matches scalars directly and arrays by membership. json_each
// over a scalar yields that scalar as its only row.
func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []any, error) {
	param, err := irValueToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}

	switch eq.Field {
	case queryir.FieldID, queryir.FieldVersion:
		return eq.Field + " = ?", []any{param}, nil
	}

	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s.data, ?) AS je WHERE je.value = ?)", c.Table)
	return sql, []any{JSONPath(eq.Field), param}, nil
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	parts := make([]string, 0, len(preds))
	var params []any
	for _, pred := range preds {
		sql, predParams, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, predParams...)
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

func (c *SQLCompiler) compileAbsent(a queryir.Absent) (string, []any, error) {
	switch a.Field {
	case queryir.FieldID, queryir.FieldVersion:
		return a.Field + " IS NULL", nil, nil
	}
	return "COALESCE(json_type(data, ?), 'null') = 'null'", []any{JSONPath(a.Field)}, nil
}

// JSONPath converts a dotted attribute path to a SQLite JSON path with every
// label quoted.
func JSONPath(field string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(field, ".") {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(part, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}

// irValueToParam converts a scalar IRValue to a driver parameter. Booleans
// bind as integers, which is how SQLite's JSON functions report them.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
