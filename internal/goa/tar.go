package goa

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrTarUnpack wraps extraction failures so callers can treat them as
// non-fatal for the other download stream.
var ErrTarUnpack = errors.New("tar unpack failed")

// ExtractTar unpacks an archive tar stream into dir. Members ending in .bz2
// are decompressed on the fly and land without the suffix. Returns the
// basenames of the extracted files.
func ExtractTar(r io.Reader, dir string) ([]string, error) {
	tr := tar.NewReader(r)
	var extracted []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return extracted, nil
		}
		if err != nil {
			return extracted, fmt.Errorf("%w: %v", ErrTarUnpack, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(hdr.Name)
		if name == "" || name == "." || strings.HasPrefix(name, "..") {
			continue
		}

		var src io.Reader = tr
		if strings.HasSuffix(name, ".bz2") {
			name = strings.TrimSuffix(name, ".bz2")
			src = bzip2.NewReader(tr)
		}

		if err := writeFile(filepath.Join(dir, name), src); err != nil {
			return extracted, fmt.Errorf("%w: %s: %v", ErrTarUnpack, name, err)
		}
		extracted = append(extracted, name)
	}
}

func writeFile(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// countingReader tracks cumulative bytes read and reports them through a
// callback so download progress can stream to clients.
type countingReader struct {
	r        io.Reader
	total    int64
	onChange func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.total += int64(n)
		if c.onChange != nil {
			c.onChange(c.total)
		}
	}
	return n, err
}
