package postgres

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/repo"
)

func TestNormalizeTime(t *testing.T) {
	if got := normalizeTime(time.Time{}); got.IsZero() {
		t.Fatal("zero time not defaulted")
	}
	loc := time.FixedZone("HST", -10*3600)
	in := time.Date(2024, 6, 15, 22, 0, 0, 0, loc)
	got := normalizeTime(in)
	if got.Location() != time.UTC {
		t.Fatalf("location = %v", got.Location())
	}
	if !got.Equal(in) {
		t.Fatalf("instant changed: %v vs %v", got, in)
	}
}

func TestNullIfEmpty(t *testing.T) {
	if got := nullIfEmpty("   "); got.Valid {
		t.Fatalf("blank became %v", got)
	}
	got := nullIfEmpty(" r1 ")
	if !got.Valid || got.String != "r1" {
		t.Fatalf("got %v", got)
	}
}

func TestNullFloatRoundTrip(t *testing.T) {
	if got := nullFloat(nil); got.Valid {
		t.Fatalf("nil became %v", got)
	}
	v := 10.5
	if p := floatPtr(nullFloat(&v)); p == nil || *p != v {
		t.Fatalf("round trip = %v", p)
	}
	if p := floatPtr(sql.NullFloat64{}); p != nil {
		t.Fatalf("invalid became %v", p)
	}
}

func TestDecodeMetadata(t *testing.T) {
	meta, err := decodeMetadata(nil)
	if err != nil || meta == nil {
		t.Fatalf("meta=%v err=%v", meta, err)
	}
	meta, err = decodeMetadata([]byte(`{"exposure_time": 10.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if meta["exposure_time"] != 10.5 {
		t.Fatalf("meta = %v", meta)
	}
	if _, err := decodeMetadata([]byte("not json")); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestEncodeMetadataNil(t *testing.T) {
	raw, err := encodeMetadata(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "{}" {
		t.Fatalf("raw = %s", raw)
	}
	raw, err = encodeMetadata(domain.Metadata{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"a":1}` {
		t.Fatalf("raw = %s", raw)
	}
}

func TestHandleNotFound(t *testing.T) {
	if err := handleNotFound(sql.ErrNoRows); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	other := errors.New("boom")
	if err := handleNotFound(other); !errors.Is(err, other) {
		t.Fatalf("err = %v", err)
	}
}
