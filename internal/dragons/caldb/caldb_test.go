package caldb

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseList(t *testing.T) {
	out := []byte(`N20240615S0001_bias.fits /media/M51/GN/observation-7/r1/calibrations
upload_flat.fits /media/M51/GN/observation-7/r1/calibrations/uploaded
some header line without a file
`)
	entries := parseList(out)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].IsUserUploaded {
		t.Fatalf("pipeline output flagged as uploaded: %+v", entries[0])
	}
	if !entries[1].IsUserUploaded {
		t.Fatalf("uploaded file not flagged: %+v", entries[1])
	}
	if entries[1].URL != "/media/M51/GN/observation-7/r1/calibrations/uploaded/upload_flat.fits" {
		t.Fatalf("URL = %q", entries[1].URL)
	}
}

func TestParseListEmpty(t *testing.T) {
	if entries := parseList(nil); len(entries) != 0 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "cfg", "", nil); err == nil {
		t.Fatal("accepted empty binary")
	}
	if _, err := New("caldb", " ", "", nil); err == nil {
		t.Fatal("accepted empty config path")
	}
}

func TestDecompressBz2BadInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cal.fits.bz2")
	if err := os.WriteFile(path, []byte("not bz2 data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := decompressBz2(path); err == nil {
		t.Fatal("decompress accepted garbage")
	}
}
