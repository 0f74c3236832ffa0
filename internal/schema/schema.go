// Package schema declares the column contract a dataset must satisfy and
// checks partitions against it cell by cell.
//
// Checks are fail-soft: a cell that does not satisfy its declared type,
// range, enum, or nullability is marked on the partition and reported as a
// finding, never as an error. The only hard failure is a structural mismatch
// between the partition layout and the declared columns.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Field declares one column: its name, type, and the constraints checked per
// cell. Types are normalized the same way across the project: "int", "float",
// "bool", and "string" (aliases like "bigint", "integer", "real", "double",
// "boolean", "text" are accepted).
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Nullable bool     `json:"nullable"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Enum     []string `json:"enum,omitempty"`
}

// Schema is the ordered column contract for one run.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Columns returns the declared column names in order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Validate performs static checks on the schema itself: at least one field,
// unique names, recognized types, and coherent ranges. It is called by config
// validation before any partition is read.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema: at least one field required")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("schema: field[%d] has empty name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("schema: duplicate column %q", name)
		}
		seen[name] = struct{}{}

		kind := NormalizeKind(f.Type)
		switch kind {
		case "int", "float", "bool", "string":
		default:
			return fmt.Errorf("schema: column %q has unknown type %q", name, f.Type)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fmt.Errorf("schema: column %q has min %v > max %v", name, *f.Min, *f.Max)
		}
		if (f.Min != nil || f.Max != nil) && kind != "int" && kind != "float" {
			return fmt.Errorf("schema: column %q declares a range but has type %q", name, f.Type)
		}
	}
	return nil
}

// NormalizeKind maps declared type strings onto the small set of kinds used
// by the per-cell checks. It mirrors the database-ish aliases accepted in
// pipeline files.
//
//	"bigint", "int8", "integer"  → "int"
//	"real", "double", "numeric"  → "float"
//	"boolean"                    → "bool"
//	"text", "varchar"            → "string"
func NormalizeKind(t string) string {
	switch strings.ToLower(t) {
	case "bigint", "int8", "integer", "int4", "int2", "int":
		return "int"
	case "real", "double", "float", "float4", "float8", "numeric":
		return "float"
	case "boolean", "bool":
		return "bool"
	case "text", "string", "varchar":
		return "string"
	default:
		return strings.ToLower(t)
	}
}

// --- cell coercion helpers (fast, allocation-conscious) ----------------------

// ToInt parses integers quickly and only falls back to float parsing when the
// field contains a '.' (supporting inputs like "42.0").
func ToInt(s string) (int64, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if strings.IndexByte(s, '.') >= 0 {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	}
	return 0, false
}

// ToFloat parses a float64 from its string form.
func ToFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// ToBool resolves booleans against a broad default vocabulary.
func ToBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}
