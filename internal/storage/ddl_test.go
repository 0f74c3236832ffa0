package storage

import (
	"strings"
	"testing"

	"aggpipe/internal/aggregate"
)

func TestInferColumns(t *testing.T) {
	tbl := aggregate.Table{
		Columns: []string{"region", "count", "mean_income", "flagged", "empty"},
		Rows: [][]any{
			{nil, int64(1), nil, true, nil},
			{"north", int64(2), 4.5, false, nil},
		},
	}

	defs := InferColumns(tbl)
	want := []ColumnDef{
		{Name: "region", Kind: "string"},
		{Name: "count", Kind: "int"},
		{Name: "mean_income", Kind: "float"},
		{Name: "flagged", Kind: "bool"},
		{Name: "empty", Kind: "string"},
	}
	if len(defs) != len(want) {
		t.Fatalf("defs = %v; want %v", defs, want)
	}
	for i := range want {
		if defs[i] != want[i] {
			t.Fatalf("defs[%d] = %v; want %v", i, defs[i], want[i])
		}
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	cols := []ColumnDef{
		{Name: "region", Kind: "string"},
		{Name: "count", Kind: "int"},
	}

	sql, err := BuildCreateTableSQL("postgres", "public.results", cols)
	if err != nil {
		t.Fatalf("BuildCreateTableSQL: %v", err)
	}
	for _, frag := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."results"`,
		`"region" TEXT`,
		`"count" BIGINT`,
	} {
		if !strings.Contains(sql, frag) {
			t.Fatalf("missing %q in:\n%s", frag, sql)
		}
	}

	sql, err = BuildCreateTableSQL("sqlite", "results", cols)
	if err != nil {
		t.Fatalf("BuildCreateTableSQL sqlite: %v", err)
	}
	if !strings.Contains(sql, `"count" INTEGER`) {
		t.Fatalf("sqlite int type missing in:\n%s", sql)
	}

	if _, err := BuildCreateTableSQL("oracle", "results", cols); err == nil {
		t.Fatal("unknown dialect accepted")
	}
	if _, err := BuildCreateTableSQL("postgres", "  ", cols); err == nil {
		t.Fatal("empty table name accepted")
	}
	if _, err := BuildCreateTableSQL("postgres", "results", nil); err == nil {
		t.Fatal("empty column list accepted")
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := QuoteIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("QuoteIdent = %s", got)
	}
	if got := QuoteFQN("a.b"); got != `"a"."b"` {
		t.Fatalf("QuoteFQN = %s", got)
	}
}
