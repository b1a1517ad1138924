package filterexpr

import (
	"errors"
	"strings"
	"testing"
)

func mustCompile(t *testing.T, expr string, strict bool) Compiled {
	t.Helper()
	out, err := Compile(expr, Options{Strict: strict, Column: "astrodata"})
	if err != nil {
		t.Fatalf("Compile(%q) err=%v", expr, err)
	}
	return out
}

func TestCompileEmpty(t *testing.T) {
	out, err := Compile("   ", Options{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if out.SQL != "" || len(out.Args) != 0 {
		t.Fatalf("expected empty compile, got %+v", out)
	}
}

func TestCompileExactTerm(t *testing.T) {
	out := mustCompile(t, "instrument == 'GMOS-N'", true)
	want := "((astrodata->>'instrument') = $1)"
	if out.SQL != want {
		t.Fatalf("SQL = %q, want %q", out.SQL, want)
	}
	if len(out.Args) != 1 || out.Args[0] != "GMOS-N" {
		t.Fatalf("Args = %v", out.Args)
	}
}

func TestCompileExposureTolerance(t *testing.T) {
	out := mustCompile(t, "exposure_time == 10.0", false)
	if !strings.Contains(out.SQL, "BETWEEN $1 AND $2") {
		t.Fatalf("relaxed equality should widen to interval: %q", out.SQL)
	}
	lo, hi := out.Args[0].(float64), out.Args[1].(float64)
	// delta = max(1e-2 * 10, 0.1) = 0.1
	if lo != 9.9 || hi != 10.1 {
		t.Fatalf("interval = [%v, %v], want [9.9, 10.1]", lo, hi)
	}

	// 10.05 falls inside, 10.2 outside; strict keeps only exact matches.
	strict := mustCompile(t, "exposure_time == 10.0", true)
	if strings.Contains(strict.SQL, "BETWEEN") {
		t.Fatalf("strict equality must not widen: %q", strict.SQL)
	}
	if strict.Args[0].(float64) != 10.0 {
		t.Fatalf("strict arg = %v", strict.Args[0])
	}
}

func TestCompileCentralWavelengthTolerance(t *testing.T) {
	out := mustCompile(t, "central_wavelength == 0.7", false)
	lo, hi := out.Args[0].(float64), out.Args[1].(float64)
	// relative tol 1e-5 * 0.7 is tiny, abs_tol 0.1 dominates
	if lo > 0.6000001 || lo < 0.5999999 || hi < 0.7999999 || hi > 0.8000001 {
		t.Fatalf("interval = [%v, %v]", lo, hi)
	}
}

func TestCompileSubstringFields(t *testing.T) {
	out := mustCompile(t, "filter_name == 'open'", false)
	if !strings.Contains(out.SQL, "ILIKE") {
		t.Fatalf("relaxed string match should use ILIKE: %q", out.SQL)
	}
	if out.Args[0] != "%open%" {
		t.Fatalf("Args = %v", out.Args)
	}

	strict := mustCompile(t, "filter_name == 'open'", true)
	if strings.Contains(strict.SQL, "ILIKE") {
		t.Fatalf("strict string match must be exact: %q", strict.SQL)
	}
}

func TestCompileChainAndOrNot(t *testing.T) {
	out := mustCompile(t, "observation_class == 'science' AND exposure_time > 5 OR NOT instrument == 'GNIRS'", true)
	sql := out.SQL
	if !strings.Contains(sql, " AND ") || !strings.Contains(sql, " OR NOT (") {
		t.Fatalf("SQL = %q", sql)
	}
	if len(out.Args) != 3 {
		t.Fatalf("Args = %v", out.Args)
	}
}

func TestCompileImplicitAndBeforeNot(t *testing.T) {
	out := mustCompile(t, "a == 1 NOT b == 2", true)
	if !strings.Contains(out.SQL, "AND NOT (") {
		t.Fatalf("SQL = %q", out.SQL)
	}
}

func TestCompileNullAndBool(t *testing.T) {
	out := mustCompile(t, "group_id == null", true)
	if !strings.Contains(out.SQL, "IS NULL") {
		t.Fatalf("SQL = %q", out.SQL)
	}
	out = mustCompile(t, "group_id != none", true)
	if !strings.Contains(out.SQL, "IS NOT NULL") {
		t.Fatalf("SQL = %q", out.SQL)
	}
	out = mustCompile(t, "on_sky == TRUE", true)
	if !strings.Contains(out.SQL, "::boolean") || out.Args[0] != true {
		t.Fatalf("SQL = %q Args = %v", out.SQL, out.Args)
	}
}

func TestCompileDatetimeNormalization(t *testing.T) {
	out := mustCompile(t, "ut_date >= 20240615", true)
	if out.Args[0] != "2024-06-15" {
		t.Fatalf("Args = %v", out.Args)
	}
	out = mustCompile(t, "ut_datetime < '2024-06-15 01:02:03'", false)
	if out.Args[0] != "2024-06-15T01:02:03" {
		t.Fatalf("Args = %v", out.Args)
	}
}

func TestCompileDatetimeParseFailure(t *testing.T) {
	_, err := Compile("ut_date == 'yesterday'", Options{})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err=%v, want *Error", err)
	}
	if len(cerr.Terms) != 1 {
		t.Fatalf("Terms = %+v", cerr.Terms)
	}
}

func TestCompileCollectsAllTermErrors(t *testing.T) {
	_, err := Compile("ut_date == 'x' AND ut_time == 'y'", Options{})
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err=%v", err)
	}
	if len(cerr.Terms) != 2 {
		t.Fatalf("expected both terms reported, got %+v", cerr.Terms)
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	for _, expr := range []string{
		"AND a == 1",
		"a ==",
		"a = 1 =",
		"a == 'unterminated",
		"NOT",
	} {
		if _, err := Compile(expr, Options{}); err == nil {
			t.Fatalf("Compile(%q) should fail", expr)
		}
	}
}

func TestArgOffset(t *testing.T) {
	out, err := Compile("instrument == 'GMOS-N'", Options{Strict: true, Column: "d.astrodata", ArgOffset: 3})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(out.SQL, "$4") {
		t.Fatalf("SQL = %q, want $4 placeholder", out.SQL)
	}
}
