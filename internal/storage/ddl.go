package storage

import (
	"fmt"
	"strings"

	"aggpipe/internal/aggregate"
)

// ColumnDef describes one column of an auto-created destination table.
type ColumnDef struct {
	Name string
	Kind string // "int", "float", "bool", "string"
}

// InferColumns derives column kinds from the first present cell of each
// output column. Columns with no present cells fall back to string.
func InferColumns(t aggregate.Table) []ColumnDef {
	defs := make([]ColumnDef, len(t.Columns))
	for i, name := range t.Columns {
		defs[i] = ColumnDef{Name: name, Kind: "string"}
		for _, row := range t.Rows {
			switch row[i].(type) {
			case int64:
				defs[i].Kind = "int"
			case float64:
				defs[i].Kind = "float"
			case bool:
				defs[i].Kind = "bool"
			case string:
				defs[i].Kind = "string"
			case nil:
				continue
			}
			break
		}
	}
	return defs
}

// sqlTypes maps column kinds to SQL types per dialect.
var sqlTypes = map[string]map[string]string{
	"postgres": {
		"int":    "BIGINT",
		"float":  "DOUBLE PRECISION",
		"bool":   "BOOLEAN",
		"string": "TEXT",
	},
	"sqlite": {
		"int":    "INTEGER",
		"float":  "REAL",
		"bool":   "INTEGER",
		"string": "TEXT",
	},
}

// BuildCreateTableSQL returns a CREATE TABLE IF NOT EXISTS statement for the
// dialect. Identifiers are double-quoted; dotted table names are quoted per
// segment.
func BuildCreateTableSQL(dialect, table string, cols []ColumnDef) (string, error) {
	types, ok := sqlTypes[dialect]
	if !ok {
		return "", fmt.Errorf("storage: unknown dialect %q", dialect)
	}
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("storage: table name must not be empty")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("storage: at least one column is required")
	}

	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		typ, ok := types[c.Kind]
		if !ok {
			return "", fmt.Errorf("storage: column %q has unknown kind %q", c.Name, c.Kind)
		}
		parts = append(parts, QuoteIdent(c.Name)+" "+typ)
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		QuoteFQN(table),
		strings.Join(parts, ",\n  "),
	), nil
}

// QuoteIdent double-quotes a single identifier segment.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes a possibly schema-qualified name like "public.results" to
// "public"."results".
func QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, QuoteIdent(p))
		}
	}
	return strings.Join(out, ".")
}
