package main

import (
	"archive/tar"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gemini-goats/goats-go/internal/bus"
	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/goa"
	"github.com/gemini-goats/goats-go/internal/repo"
	"github.com/gemini-goats/goats-go/internal/tasks"
)

type fakeDownloadRepo struct {
	mu        sync.Mutex
	created   domain.Download
	finalized *domain.Download
}

func (f *fakeDownloadRepo) Create(ctx context.Context, dl domain.Download) (domain.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dl.ID = 1
	f.created = dl
	return dl, nil
}
func (f *fakeDownloadRepo) GetByUniqueID(ctx context.Context, uniqueID string) (domain.Download, error) {
	return domain.Download{}, repo.ErrNotFound
}
func (f *fakeDownloadRepo) List(ctx context.Context, filter repo.DownloadFilter) ([]domain.Download, error) {
	return nil, nil
}
func (f *fakeDownloadRepo) Finalize(ctx context.Context, dl domain.Download) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = &dl
	return nil
}
func (f *fakeDownloadRepo) result(t *testing.T) domain.Download {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalized == nil {
		t.Fatal("download record never finalized")
	}
	return *f.finalized
}

type fakeDataProductRepo struct {
	mu      sync.Mutex
	upserts []domain.DataProduct
}

func (f *fakeDataProductRepo) Upsert(ctx context.Context, dp domain.DataProduct) (domain.DataProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dp.ID = int64(len(f.upserts) + 1)
	f.upserts = append(f.upserts, dp)
	return dp, nil
}
func (f *fakeDataProductRepo) Get(ctx context.Context, id int64) (domain.DataProduct, error) {
	return domain.DataProduct{}, repo.ErrNotFound
}
func (f *fakeDataProductRepo) GetByProductID(ctx context.Context, productID string) (domain.DataProduct, error) {
	return domain.DataProduct{}, repo.ErrNotFound
}
func (f *fakeDataProductRepo) List(ctx context.Context, filter repo.DataProductFilter) ([]domain.DataProduct, error) {
	return nil, nil
}
func (f *fakeDataProductRepo) Delete(ctx context.Context, id int64) error { return nil }
func (f *fakeDataProductRepo) UpsertDescriptors(ctx context.Context, d domain.FileDescriptors) error {
	return nil
}
func (f *fakeDataProductRepo) GetDescriptors(ctx context.Context, dataProductID int64) (domain.FileDescriptors, error) {
	return domain.FileDescriptors{}, repo.ErrNotFound
}

type fakeCredentialsRepo struct{}

func (fakeCredentialsRepo) Get(ctx context.Context, userID int64, service string) (domain.Credentials, error) {
	return domain.Credentials{}, repo.ErrNotFound
}

type stubExtractor struct{ descriptors domain.FileDescriptors }

func (s stubExtractor) Extract(ctx context.Context, path string) (*domain.FileDescriptors, error) {
	d := s.descriptors
	return &d, nil
}

func archiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonsummary/canonical/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"N1.fits","reduction":"RAW","data_size":8}]`))
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		tw := tar.NewWriter(w)
		body := []byte("fitsdata")
		_ = tw.WriteHeader(&tar.Header{Name: "N1.fits", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg})
		_, _ = tw.Write(body)
		_ = tw.Close()
	})
	mux.HandleFunc("/logout/", func(w http.ResponseWriter, r *http.Request) {})
	return httptest.NewServer(mux)
}

func TestDownloadWorkerRecordsSummaryOnSuccess(t *testing.T) {
	srv := archiveServer(t)
	defer srv.Close()

	client, err := goa.NewClient(srv.URL, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	media := t.TempDir()
	downloads := &fakeDownloadRepo{}
	products := &fakeDataProductRepo{}
	wk := &downloadWorker{
		logger:       testLogger(),
		hub:          bus.NewHub(testLogger()),
		archive:      client,
		credentials:  fakeCredentialsRepo{},
		dataProducts: products,
		downloads:    downloads,
		extractor:    stubExtractor{descriptors: domain.FileDescriptors{FileType: "unknown"}},
		mediaRoot:    media,
	}

	obs := domain.Observation{ID: 5, TargetName: "M51", Facility: "gemini"}
	if err := wk.Run(context.Background(), obs, goa.QueryParams{}, 0); err != nil {
		t.Fatalf("Run err=%v", err)
	}

	dl := downloads.result(t)
	if dl.Status != domain.DownloadCompleted || !dl.Done || dl.Error {
		t.Fatalf("finalized = %+v", dl)
	}
	if dl.Message != "Downloaded 1 files (0 omitted)." {
		t.Fatalf("message = %q", dl.Message)
	}
	if dl.NumFilesDownloaded != 1 || dl.NumFilesOmitted != 0 {
		t.Fatalf("counts = %d/%d", dl.NumFilesDownloaded, dl.NumFilesOmitted)
	}
	if dl.EndTime == nil {
		t.Fatal("end time not set")
	}

	if len(products.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(products.upserts))
	}
	dp := products.upserts[0]
	if dp.ProductID != "M51/gemini/observation-5/N1.fits" {
		t.Fatalf("product id = %q", dp.ProductID)
	}
	if dp.TypeTag != "raw" {
		t.Fatalf("type tag = %q", dp.TypeTag)
	}
	if _, err := os.Stat(filepath.Join(media, "M51", "gemini", "observation-5", "N1.fits")); err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
}

func TestDownloadWorkerAbortedWhileQueued(t *testing.T) {
	downloads := &fakeDownloadRepo{}
	wk := &downloadWorker{
		logger:    testLogger(),
		hub:       bus.NewHub(testLogger()),
		downloads: downloads,
		mediaRoot: t.TempDir(),
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(tasks.ErrAborted)

	obs := domain.Observation{ID: 5, TargetName: "M51", Facility: "gemini"}
	if err := wk.Run(ctx, obs, goa.QueryParams{}, 0); !errors.Is(err, tasks.ErrAborted) {
		t.Fatalf("err = %v, want abort cause", err)
	}

	dl := downloads.result(t)
	if dl.Status != domain.DownloadFailed || !dl.Done || !dl.Error {
		t.Fatalf("finalized = %+v", dl)
	}
	if dl.Message != "Download canceled." {
		t.Fatalf("message = %q", dl.Message)
	}
}
