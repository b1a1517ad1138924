package goa

import (
	"reflect"
	"testing"
)

func TestStripExtensions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "single extension", in: "N20240615S0001.fits", want: "N20240615S0001"},
		{name: "stacked extensions", in: "N20240615S0001.fits.bz2", want: "N20240615S0001"},
		{name: "no extension", in: "N20240615S0001", want: "N20240615S0001"},
		{name: "whitespace", in: "  S20230101S0050.fits ", want: "S20230101S0050"},
		{name: "empty", in: "", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripExtensions(tc.in); got != tc.want {
				t.Fatalf("StripExtensions(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeDefaultsCalibrations(t *testing.T) {
	p := QueryParams{FilenamePrefix: "N1.fits.bz2"}.Normalize()
	if p.DownloadCalibrations != CalibrationsNo {
		t.Fatalf("DownloadCalibrations = %q", p.DownloadCalibrations)
	}
	if p.FilenamePrefix != "N1" {
		t.Fatalf("FilenamePrefix = %q", p.FilenamePrefix)
	}
}

func TestSelections(t *testing.T) {
	p := QueryParams{
		ObservationID:    "GN-2024A-Q-1-1",
		ObservationClass: "science",
		QAState:          "Pass",
		FilenamePrefix:   "N2024",
	}
	got := p.Selections()
	want := []string{"notengineering", "NotFail", "GN-2024A-Q-1-1", "science", "Pass", "filepre=N2024"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Selections = %v, want %v", got, want)
	}
}
