// Package caldb wraps the DRAGONS calibration manager CLI. Every operation
// runs as its own short-lived invocation, so concurrent callers serialize at
// the underlying sqlite database.
package caldb

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Entry is one calibration known to the manager.
type Entry struct {
	Name           string `json:"name"`
	ParentPath     string `json:"parent_path"`
	IsUserUploaded bool   `json:"is_user_uploaded"`
	URL            string `json:"url"`
}

// DB operates the calibration manager of a single run.
type DB struct {
	Bin         string
	ConfigPath  string
	UploadedDir string
	Logger      *slog.Logger
}

func New(bin, configPath, uploadedDir string, logger *slog.Logger) (*DB, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return nil, errors.New("caldb binary is required")
	}
	if strings.TrimSpace(configPath) == "" {
		return nil, errors.New("caldb config path is required")
	}
	return &DB{
		Bin:         bin,
		ConfigPath:  configPath,
		UploadedDir: uploadedDir,
		Logger:      logger,
	}, nil
}

// Init creates the calibration database for a fresh run.
func (db *DB) Init(ctx context.Context) error {
	if _, err := db.invoke(ctx, "init", "--wipe"); err != nil {
		return fmt.Errorf("caldb init: %w", err)
	}
	return nil
}

// Add registers a calibration file. Archives ending in .bz2 are decompressed
// to a sibling file first and the decompressed path is registered. Add errors
// are swallowed after uploads are reconciled, so a failed add cannot leave an
// orphan behind.
func (db *DB) Add(ctx context.Context, path string) error {
	registerPath := path
	if strings.HasSuffix(path, ".bz2") {
		decompressed, err := decompressBz2(path)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
		}
		registerPath = decompressed
	}

	if _, err := db.invoke(ctx, "add", registerPath); err != nil {
		if db.Logger != nil {
			db.Logger.Warn("caldb add failed", "file", filepath.Base(registerPath), "error", err.Error())
		}
		if recErr := db.ReconcileUploads(ctx); recErr != nil && db.Logger != nil {
			db.Logger.Warn("caldb reconcile after failed add", "error", recErr.Error())
		}
		return nil
	}
	return nil
}

// Remove deletes a calibration by basename.
func (db *DB) Remove(ctx context.Context, filename string) error {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" {
		return errors.New("filename is required")
	}
	if _, err := db.invoke(ctx, "remove", filename); err != nil {
		return fmt.Errorf("caldb remove %s: %w", filename, err)
	}
	return nil
}

// CheckAndRemove removes a calibration if present and is a no-op otherwise.
func (db *DB) CheckAndRemove(ctx context.Context, filename string) error {
	filename = filepath.Base(strings.TrimSpace(filename))
	entries, err := db.List(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name == filename {
			return db.Remove(ctx, filename)
		}
	}
	return nil
}

// List returns every calibration known to the manager. Files whose parent
// directory is named "uploaded" were added by a user.
func (db *DB) List(ctx context.Context) ([]Entry, error) {
	out, err := db.invoke(ctx, "list")
	if err != nil {
		return nil, fmt.Errorf("caldb list: %w", err)
	}
	return parseList(out), nil
}

// ReconcileUploads unlinks files in the uploaded directory that the manager
// no longer lists, so disk and database stay in step.
func (db *DB) ReconcileUploads(ctx context.Context) error {
	if strings.TrimSpace(db.UploadedDir) == "" {
		return nil
	}
	entries, err := db.List(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		known[entry.Name] = struct{}{}
	}

	dirEntries, err := os.ReadDir(db.UploadedDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read uploaded dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if _, ok := known[de.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(db.UploadedDir, de.Name())); err != nil && db.Logger != nil {
			db.Logger.Warn("unlink orphaned upload", "file", de.Name(), "error", err.Error())
		}
	}
	return nil
}

func (db *DB) invoke(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-c", db.ConfigPath}, args...)
	cmd := exec.CommandContext(ctx, db.Bin, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// parseList reads "name<whitespace>parent_dir" lines, skipping anything that
// does not look like a calibration row.
func parseList(out []byte) []Entry {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		name, parent := fields[0], fields[1]
		if !strings.Contains(name, ".") {
			continue
		}
		entries = append(entries, Entry{
			Name:           name,
			ParentPath:     parent,
			IsUserUploaded: filepath.Base(parent) == "uploaded",
			URL:            filepath.Join(parent, name),
		})
	}
	return entries
}

func decompressBz2(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	target := strings.TrimSuffix(path, ".bz2")
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, bzip2.NewReader(src)); err != nil {
		_ = dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return target, nil
}
