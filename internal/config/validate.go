// This file adds a static linter for Run values. It performs all checks
// before any partition is read so that misconfiguration fails fast with a
// ConfigError naming the offending path, never mid-run.
package config

import (
	"fmt"
	"strings"

	"aggpipe/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates an issue surfaced to users that does not
	// block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Run.
//
// Path is a dotted path into the config (e.g. "missing.age.kind",
// "reducers[1].op"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error where convenient.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// ConfigError aggregates all error-severity issues of an invalid Run. It is
// fatal and raised before processing begins.
type ConfigError struct {
	Issues []Issue
}

func (e *ConfigError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid configuration: " + e.Issues[0].Error()
	}
	return fmt.Sprintf("invalid configuration: %d issues, first: %s", len(e.Issues), e.Issues[0].Error())
}

// PolicyKinds lists the recognized missing-data policies. Anything else is a
// configuration error.
var PolicyKinds = map[string]struct{}{
	"drop-row":         {},
	"impute-constant":  {},
	"impute-statistic": {},
	"flag-only":        {},
}

// ReducerOps lists the recognized reducer operations. Custom reducers extend
// it through RegisterReducerOp before validation runs.
var ReducerOps = map[string]struct{}{
	"count": {},
	"sum":   {},
	"min":   {},
	"max":   {},
	"mean":  {},
}

// NumericOps lists the built-in ops that require a numeric input column.
// Custom ops accept any column type.
var NumericOps = map[string]struct{}{
	"sum":  {},
	"min":  {},
	"max":  {},
	"mean": {},
}

// RegisterReducerOp makes a custom reducer op pass validation. Call it during
// program init, before Check.
func RegisterReducerOp(name string) {
	ReducerOps[name] = struct{}{}
}

// Validate performs static validation of a Run and returns all findings.
// Callers that need a go/no-go decision should use Check instead.
func Validate(r Run) []Issue {
	var issues []Issue

	if strings.TrimSpace(r.Job) == "" {
		issues = append(issues, Issue{SeverityError, "job", "job must not be empty; it labels logs and metrics"})
	}

	issues = append(issues, validateSource(r.Source)...)
	issues = append(issues, validateParser(r.Parser)...)

	cols := map[string]string{} // name -> normalized kind
	if err := r.Schema.Validate(); err != nil {
		issues = append(issues, Issue{SeverityError, "schema", err.Error()})
	} else {
		for _, f := range r.Schema.Fields {
			cols[f.Name] = schema.NormalizeKind(f.Type)
		}
	}

	issues = append(issues, validateMissing(r.Missing, cols)...)
	issues = append(issues, validateEncode(r.Encode, cols)...)
	issues = append(issues, validateGrouping(r.GroupBy, r.Reducers, cols)...)
	issues = append(issues, validateRuntime(r.Runtime)...)
	issues = append(issues, validateExport(r.Export)...)

	return issues
}

// Check runs Validate and folds error-severity findings into a *ConfigError.
// Warnings are returned separately for the caller to surface.
func Check(r Run) ([]Issue, error) {
	var warnings []Issue
	var errs []Issue
	for _, iss := range Validate(r) {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		} else {
			warnings = append(warnings, iss)
		}
	}
	if len(errs) > 0 {
		return warnings, &ConfigError{Issues: errs}
	}
	return warnings, nil
}

func validateSource(s Source) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{SeverityError, "source.kind", "source.kind must not be empty"})
	}
	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{SeverityError, "source.file.path", "file source requires a non-empty path"})
		}
	case "stdin":
		// nothing to configure
	default:
		issues = append(issues, Issue{SeverityError, "source.kind", fmt.Sprintf("unknown source kind %q", s.Kind)})
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if strings.TrimSpace(p.Kind) == "" {
		return append(issues, Issue{SeverityError, "parser.kind", "parser.kind must not be empty"})
	}
	if p.Kind != "csv" {
		issues = append(issues, Issue{SeverityError, "parser.kind", fmt.Sprintf("unknown parser kind %q", p.Kind)})
	}
	return issues
}

func validateMissing(policies map[string]Policy, cols map[string]string) []Issue {
	var issues []Issue
	for col, pol := range policies {
		path := fmt.Sprintf("missing.%s", col)
		if _, ok := cols[col]; len(cols) > 0 && !ok {
			issues = append(issues, Issue{SeverityError, path, fmt.Sprintf("column %q is not declared in the schema", col)})
			continue
		}
		if _, ok := PolicyKinds[pol.Kind]; !ok {
			issues = append(issues, Issue{SeverityError, path + ".kind",
				fmt.Sprintf("unknown missing-data policy %q for column %q (want drop-row, impute-constant, impute-statistic, or flag-only)", pol.Kind, col)})
			continue
		}
		switch pol.Kind {
		case "impute-constant":
			if pol.Value == nil {
				issues = append(issues, Issue{SeverityError, path + ".value",
					fmt.Sprintf("impute-constant for column %q requires a value", col)})
			}
		case "impute-statistic":
			switch pol.Statistic {
			case "mean", "median":
				if kind := cols[col]; kind != "int" && kind != "float" && len(cols) > 0 {
					issues = append(issues, Issue{SeverityError, path + ".statistic",
						fmt.Sprintf("%s imputation needs a numeric column, %q is %q", pol.Statistic, col, kind)})
				}
			case "mode":
			default:
				issues = append(issues, Issue{SeverityError, path + ".statistic",
					fmt.Sprintf("unknown statistic %q for column %q (want mean, median, or mode)", pol.Statistic, col)})
			}
		}
	}
	return issues
}

func validateEncode(encode []string, cols map[string]string) []Issue {
	var issues []Issue
	seen := map[string]struct{}{}
	for i, col := range encode {
		path := fmt.Sprintf("encode[%d]", i)
		if _, dup := seen[col]; dup {
			issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf("column %q listed twice", col)})
			continue
		}
		seen[col] = struct{}{}
		kind, ok := cols[col]
		if len(cols) > 0 && !ok {
			issues = append(issues, Issue{SeverityError, path, fmt.Sprintf("column %q is not declared in the schema", col)})
			continue
		}
		if ok && kind != "string" {
			issues = append(issues, Issue{SeverityError, path,
				fmt.Sprintf("only string columns can be dictionary-encoded, %q is %q", col, kind)})
		}
	}
	return issues
}

func validateGrouping(groupBy []string, reducers []Reducer, cols map[string]string) []Issue {
	var issues []Issue

	for i, col := range groupBy {
		if _, ok := cols[col]; len(cols) > 0 && !ok {
			issues = append(issues, Issue{SeverityError, fmt.Sprintf("group_by[%d]", i),
				fmt.Sprintf("column %q is not declared in the schema", col)})
		}
	}
	if len(groupBy) == 0 {
		issues = append(issues, Issue{SeverityWarning, "group_by",
			"no grouping columns; the whole dataset aggregates into a single row"})
	}

	if len(reducers) == 0 {
		issues = append(issues, Issue{SeverityError, "reducers", "at least one reducer is required"})
		return issues
	}
	names := map[string]struct{}{}
	for i, rd := range reducers {
		path := fmt.Sprintf("reducers[%d]", i)
		if _, ok := ReducerOps[rd.Op]; !ok {
			issues = append(issues, Issue{SeverityError, path + ".op",
				fmt.Sprintf("unknown reducer op %q (want count, sum, min, max, or mean)", rd.Op)})
			continue
		}
		if rd.Op != "count" {
			kind, ok := cols[rd.Column]
			if rd.Column == "" {
				issues = append(issues, Issue{SeverityError, path + ".column",
					fmt.Sprintf("reducer op %q requires a column", rd.Op)})
				continue
			}
			if len(cols) > 0 && !ok {
				issues = append(issues, Issue{SeverityError, path + ".column",
					fmt.Sprintf("column %q is not declared in the schema", rd.Column)})
				continue
			}
			_, numeric := NumericOps[rd.Op]
			if ok && numeric && kind != "int" && kind != "float" {
				issues = append(issues, Issue{SeverityError, path + ".column",
					fmt.Sprintf("reducer op %q needs a numeric column, %q is %q", rd.Op, rd.Column, kind)})
			}
		}
		name := rd.Name
		if name == "" {
			name = defaultReducerName(rd)
		}
		if _, dup := names[name]; dup {
			issues = append(issues, Issue{SeverityError, path + ".name",
				fmt.Sprintf("duplicate output column %q", name)})
		}
		names[name] = struct{}{}
	}
	return issues
}

func defaultReducerName(rd Reducer) string {
	if rd.Op == "count" {
		return "count"
	}
	return rd.Op + "_" + rd.Column
}

// OutputName resolves the output column name for a reducer declaration.
func (rd Reducer) OutputName() string {
	if rd.Name != "" {
		return rd.Name
	}
	return defaultReducerName(rd)
}

func validateRuntime(rt Runtime) []Issue {
	var issues []Issue
	if rt.Workers < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.workers", "workers must not be negative"})
	}
	if rt.PartitionRows < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.partition_rows", "partition_rows must not be negative"})
	}
	if rt.PartitionBytes < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.partition_bytes", "partition_bytes must not be negative"})
	}
	if rt.ChannelBuffer < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.channel_buffer", "channel_buffer must not be negative"})
	}
	return issues
}

func validateExport(e Export) []Issue {
	var issues []Issue
	switch e.Kind {
	case "":
		return nil
	case "postgres", "sqlite":
	default:
		issues = append(issues, Issue{SeverityError, "export.kind", fmt.Sprintf("unknown export kind %q", e.Kind)})
		return issues
	}
	if strings.TrimSpace(e.DB.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "export.db.dsn", "export.db.dsn must not be empty"})
	}
	if strings.TrimSpace(e.DB.Table) == "" {
		issues = append(issues, Issue{SeverityError, "export.db.table", "export.db.table must not be empty"})
	}
	return issues
}
