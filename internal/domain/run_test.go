package domain

import (
	"testing"
	"time"
)

func TestSanitizeRunID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already clean", in: "run-1", want: "run-1"},
		{name: "uppercase", in: "Run-One", want: "run-one"},
		{name: "spaces to underscores", in: "my first run", want: "my_first_run"},
		{name: "illegal chars stripped", in: "run!@#$%^1", want: "run1"},
		{name: "mixed", in: "  GN 2024A / Night 1  ", want: "gn_2024a__night_1"},
		{name: "empty", in: "", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeRunID(tc.in); got != tc.want {
				t.Fatalf("SanitizeRunID(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDefaultRunID(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	got := DefaultRunID(now)
	if got != "run-1718452800" {
		t.Fatalf("DefaultRunID = %q", got)
	}
	if got != SanitizeRunID(got) {
		t.Fatalf("default run id %q is not sanitized", got)
	}
}

func TestRunValidate(t *testing.T) {
	run := Run{
		ObservationID: 1,
		RunID:         "run-1",
		OutputDir:     "/media/t/gemini/observation-1/run-1",
		ConfigPath:    "/media/t/gemini/observation-1/run-1/dragonsrc",
		CalManagerDB:  "/media/t/gemini/observation-1/run-1/cal_manager.db",
	}
	if err := run.Validate(); err != nil {
		t.Fatalf("valid run rejected: %v", err)
	}

	bad := run
	bad.RunID = "Run One"
	if err := bad.Validate(); err == nil {
		t.Fatal("unsanitized run id accepted")
	}
}
