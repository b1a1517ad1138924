package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("GOATS_TEST_STRING", "value")
	if got := String("GOATS_TEST_STRING", "def"); got != "value" {
		t.Fatalf("String = %q", got)
	}
	if got := String("GOATS_TEST_STRING_MISSING", "def"); got != "def" {
		t.Fatalf("String default = %q", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("GOATS_TEST_DURATION", "90s")
	got, err := Duration("GOATS_TEST_DURATION", time.Second)
	if err != nil || got != 90*time.Second {
		t.Fatalf("Duration = %v, %v", got, err)
	}

	t.Setenv("GOATS_TEST_DURATION", "not-a-duration")
	if _, err := Duration("GOATS_TEST_DURATION", time.Second); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("GOATS_TEST_INT", "42")
	got, err := Int("GOATS_TEST_INT", 1)
	if err != nil || got != 42 {
		t.Fatalf("Int = %d, %v", got, err)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("GOATS_TEST_BOOL", "true")
	got, err := Bool("GOATS_TEST_BOOL", false)
	if err != nil || !got {
		t.Fatalf("Bool = %v, %v", got, err)
	}
}

func TestFloat64(t *testing.T) {
	t.Setenv("GOATS_TEST_FLOAT", "0.25")
	got, err := Float64("GOATS_TEST_FLOAT", 1)
	if err != nil || got != 0.25 {
		t.Fatalf("Float64 = %v, %v", got, err)
	}
}
