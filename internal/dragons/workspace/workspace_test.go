package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
)

func testObservation() domain.Observation {
	return domain.Observation{
		ID:         7,
		TargetName: "M51",
		Facility:   "GN",
	}
}

func TestCreateLayout(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	paths, err := m.Create(testObservation(), "r1")
	if err != nil {
		t.Fatalf("Create err = %v", err)
	}

	if _, err := os.Stat(paths.UploadedDir); err != nil {
		t.Fatalf("uploaded dir missing: %v", err)
	}

	config, err := os.ReadFile(paths.ConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	text := string(config)
	if !strings.HasPrefix(text, "[calibs]\ndatabases = ") {
		t.Fatalf("config = %q", text)
	}
	if !strings.Contains(text, "cal_manager.db get store") {
		t.Fatalf("config = %q", text)
	}
	if !filepath.IsAbs(strings.Fields(text)[3]) {
		t.Fatalf("cal manager path not absolute: %q", text)
	}
}

func TestCreateCollision(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(testObservation(), "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(testObservation(), "r1"); !errors.Is(err, ErrRunExists) {
		t.Fatalf("err = %v, want ErrRunExists", err)
	}
}

func TestDelete(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	paths, err := m.Create(testObservation(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(paths); err != nil {
		t.Fatalf("Delete err = %v", err)
	}
	if _, err := os.Stat(paths.OutputDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output dir still present: %v", err)
	}
	// deleting again is not an error
	if err := m.Delete(paths); err != nil {
		t.Fatalf("second Delete err = %v", err)
	}
}

func TestProcessedFiles(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	if err != nil {
		t.Fatal(err)
	}
	paths, err := m.Create(testObservation(), "r1")
	if err != nil {
		t.Fatal(err)
	}

	onDisk := filepath.Join(paths.OutputDir, "b_stack.fits")
	if err := os.WriteFile(onDisk, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	orphan := filepath.Join(paths.OutputDir, "c_orphan.fits")
	if err := os.WriteFile(orphan, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	processed := []domain.DataProduct{
		{ID: 2, ProductID: "M51/GN/observation-7/r1/b_stack.fits", StoragePath: "M51/GN/observation-7/r1/b_stack.fits", Processed: true, CreatedAt: time.Now()},
		{ID: 1, ProductID: "M51/GN/observation-7/r1/a_gone.fits", StoragePath: "M51/GN/observation-7/r1/a_gone.fits", Processed: true, CreatedAt: time.Now()},
	}

	files, err := m.ProcessedFiles(paths.OutputDir, processed)
	if err != nil {
		t.Fatalf("ProcessedFiles err = %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %+v", files)
	}

	// sorted ascending by product id: a_gone, b_stack, c_orphan
	if files[0].Name != "a_gone.fits" || !files[0].IsDataProduct {
		t.Fatalf("first = %+v", files[0])
	}
	if files[1].Name != "b_stack.fits" || files[1].DataProductID == nil || *files[1].DataProductID != 2 {
		t.Fatalf("second = %+v", files[1])
	}
	if files[2].Name != "c_orphan.fits" || files[2].IsDataProduct {
		t.Fatalf("third = %+v", files[2])
	}
	if files[1].LastModified == "" || strings.Contains(files[1].LastModified, "T") {
		t.Fatalf("LastModified = %q", files[1].LastModified)
	}
}
