package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"smartkollect/internal/metadata"
)

func TestParamBuilders(t *testing.T) {
	pg := NewDialect("postgres").NewParamBuilder()
	if got := pg.Add(1) + "," + pg.Add(2); got != "$1,$2" {
		t.Fatalf("postgres placeholders: %s", got)
	}
	lite := NewDialect("sqlite").NewParamBuilder()
	if got := lite.Add(1) + "," + lite.Add(2); got != "?1,?2" {
		t.Fatalf("sqlite placeholders: %s", got)
	}
	if lite.Count() != 2 || len(lite.Params()) != 2 {
		t.Fatalf("unexpected params: %v", lite.Params())
	}
}

func TestInExpr(t *testing.T) {
	pg := &PostgresDialect{}
	pb := pg.NewParamBuilder()
	got := pg.InExpr(`"debtors"."risk_level"`, pb, []any{"high", "medium"})
	if got != `"debtors"."risk_level" = ANY($1)` {
		t.Fatalf("postgres IN: %s", got)
	}
	if diff := cmp.Diff([]any{[]string{"high", "medium"}}, pb.Params()); diff != "" {
		t.Fatalf("postgres params (-want +got):\n%s", diff)
	}

	pb = pg.NewParamBuilder()
	got = pg.NotInExpr("x", pb, []any{"a", 1.0})
	if got != "x NOT IN ($1, $2)" {
		t.Fatalf("mixed values should expand: %s", got)
	}

	lite := &SQLiteDialect{}
	pb = lite.NewParamBuilder()
	if got := lite.InExpr("x", pb, []any{"a", "b"}); got != "x IN (?1, ?2)" {
		t.Fatalf("sqlite IN: %s", got)
	}
	if got := lite.InExpr("x", pb, nil); got != "1=0" {
		t.Fatalf("empty IN: %s", got)
	}
}

func TestContainsExpr_EscapesWildcards(t *testing.T) {
	lite := &SQLiteDialect{}
	pb := lite.NewParamBuilder()
	got := lite.ContainsExpr("email", pb, "50%_off", false)
	if got != `email LIKE ?1 ESCAPE '\'` {
		t.Fatalf("unexpected expr: %s", got)
	}
	if pb.Params()[0] != `%50\%\_off%` {
		t.Fatalf("unexpected pattern: %v", pb.Params()[0])
	}

	pg := &PostgresDialect{}
	pb = pg.NewParamBuilder()
	if got := pg.ContainsExpr("email", pb, "gmail", true); got != `email::text NOT ILIKE $1 ESCAPE '\'` {
		t.Fatalf("unexpected postgres expr: %s", got)
	}
}

func TestBindValue(t *testing.T) {
	lite := &SQLiteDialect{}
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := lite.BindValue(d, metadata.TypeDate); got != "2024-03-01" {
		t.Fatalf("date: %v", got)
	}
	if got := lite.BindValue(d, metadata.TypeDateTime); got != "2024-03-01T00:00:00Z" {
		t.Fatalf("datetime: %v", got)
	}
	if got := lite.BindValue(true, metadata.TypeBoolean); got != 1 {
		t.Fatalf("bool: %v", got)
	}
	pg := &PostgresDialect{}
	if got := pg.BindValue(d, metadata.TypeDate); got != d {
		t.Fatalf("postgres should pass time through, got %v", got)
	}
}

func TestSupportsJoin(t *testing.T) {
	for _, d := range []Dialect{&SQLiteDialect{}, &PostgresDialect{}} {
		for _, kind := range []string{"inner", "left", "right", "full"} {
			if !d.SupportsJoin(kind) {
				t.Errorf("%s should support %s joins", d.Name(), kind)
			}
		}
		if d.SupportsJoin("cross") {
			t.Errorf("%s should reject cross joins", d.Name())
		}
	}
}

func TestScanArray(t *testing.T) {
	pg := &PostgresDialect{}
	got, err := pg.ScanArray("{debtors,payments}")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"debtors", "payments"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	lite := &SQLiteDialect{}
	got, err = lite.ScanArray(lite.ArrayParam([]string{"a"}))
	if err != nil || len(got) != 1 || got[0] != "a" {
		t.Fatalf("sqlite round trip: %v %v", got, err)
	}
}
