// Package config defines the canonical, JSON-serializable configuration for
// one aggregation run. It is intentionally small and explicit so run files
// can be loaded from disk and passed through the program without glue code.
//
// Decoding is performed by the standard library, with a light Options helper
// for typed access to free-form parser settings. The whole configuration is
// supplied once at run start; nothing is mutated mid-run.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"aggpipe/internal/schema"
)

// Run describes a full pipeline run: where data comes from, the column
// contract, how missing data is handled, what to group and reduce, and the
// execution knobs.
type Run struct {
	// Job names the run for logs and metrics labeling.
	Job string `json:"job"`

	// Source describes where input data comes from (e.g. local file).
	Source Source `json:"source"`

	// Parser configures how raw bytes are turned into rows (e.g. CSV).
	Parser Parser `json:"parser"`

	// Schema is the ordered column contract checked on every partition.
	Schema schema.Schema `json:"schema"`

	// Missing maps column name -> missing-data policy. Columns without an
	// entry default to flag-only.
	Missing map[string]Policy `json:"missing"`

	// Encode lists low-cardinality string columns to dictionary-encode.
	Encode []string `json:"encode"`

	// GroupBy lists the grouping columns of the aggregation.
	GroupBy []string `json:"group_by"`

	// Reducers lists the (column, reducer) pairs producing output columns.
	Reducers []Reducer `json:"reducers"`

	// Runtime controls partition budgets, concurrency, and buffering.
	Runtime Runtime `json:"runtime"`

	// Export optionally writes the final table to a storage backend.
	Export Export `json:"export"`

	// SortOutput requests a stable ascending sort of the final table by
	// group key (nulls last). Unsorted output order is unspecified.
	SortOutput bool `json:"sort_output"`
}

// Source identifies the data source. Kinds: "file" (local path) and "stdin"
// (a live stream piped into the process).
type Source struct {
	Kind string     `json:"kind"`
	File SourceFile `json:"file"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path"`
}

// Parser selects how to parse the raw source into rows. Current kind: "csv".
type Parser struct {
	Kind string `json:"kind"`

	// Options is a free-form map interpreted by the parser implementation.
	// For CSV, typical keys: has_header (bool), comma (string),
	// trim_space (bool), lazy_quotes (bool), header_map (object).
	Options Options `json:"options"`
}

// Policy selects the missing-data handling for one column. Recognized kinds
// are exactly: "drop-row", "impute-constant", "impute-statistic",
// "flag-only".
type Policy struct {
	Kind string `json:"kind"`

	// Value is the replacement for impute-constant.
	Value any `json:"value,omitempty"`

	// Statistic selects the impute-statistic estimator:
	// "mean", "median", or "mode".
	Statistic string `json:"statistic,omitempty"`
}

// Reducer declares one output column of the final table.
type Reducer struct {
	// Name is the output column; defaults to op(column) when empty.
	Name string `json:"name,omitempty"`

	// Column is the input column; ignored for "count".
	Column string `json:"column,omitempty"`

	// Op is one of "count", "sum", "min", "max", "mean".
	Op string `json:"op"`
}

// Runtime controls concurrency, partitioning, and channel buffer sizes.
type Runtime struct {
	// Workers bounds the partition worker pool; 0 means sequential (1).
	Workers int `json:"workers"`

	// PartitionRows caps rows per partition (default 10000).
	PartitionRows int `json:"partition_rows"`

	// PartitionBytes caps approximate cell bytes per partition (0 = off).
	PartitionBytes int `json:"partition_bytes"`

	// ChannelBuffer sizes the reader→worker partition channel.
	ChannelBuffer int `json:"channel_buffer"`

	// ReportSamples caps retained violation samples (default 10).
	ReportSamples int `json:"report_samples"`
}

// Export selects an optional sink for the final table. Kinds: "" (none),
// "postgres", "sqlite".
type Export struct {
	Kind string   `json:"kind"`
	DB   DBConfig `json:"db"`
}

// DBConfig configures the DB sink for export.
type DBConfig struct {
	// DSN is the connection string (pgx URL for postgres, file path for
	// sqlite).
	DSN string `json:"dsn"`

	// Table is the destination table name.
	Table string `json:"table"`

	// AutoCreateTable creates the table from the final table's layout.
	AutoCreateTable bool `json:"auto_create_table"`
}

// Load reads and decodes a run configuration from path.
func Load(path string) (Run, error) {
	var r Run
	f, err := os.Open(path)
	if err != nil {
		return r, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&r); err != nil {
		return r, err
	}
	return r, nil
}

// Options is a small helper to fetch typed values from arbitrary JSON maps.
// It performs only minimal coercion and returns the provided default when a
// key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so that case is accepted and cast.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def. Useful for
// single-character settings such as a CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// with string values. Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// UnmarshalJSON makes a missing or null "options" object decode to a non-nil
// empty map, removing nil checks at call sites.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// GetenvInt reads an int from the environment, returning def when unset or
// invalid. Runtime knobs accept 12-factor style overrides through this.
func GetenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// PickInt chooses the first positive value a, otherwise b.
func PickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
