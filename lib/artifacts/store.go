// Package artifacts writes run output (result JSON, HAR files, screenshots)
// into an output directory.
package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/nrednav/cuid2"
)

// Compression selects how a written file is compressed.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression maps a configuration value to a Compression. "true" is
// accepted as gzip.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none", "false":
		return CompressionNone, nil
	case "gzip", "gz", "true":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Ext is the file extension added for c.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// Store writes files under Dir. Every write goes to a temporary file first
// and is renamed into place, so readers never see a partial file.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string { return s.dir }

// WriteJSON writes data as indented JSON to name plus the compression
// extension, and returns the written path.
func (s *Store) WriteJSON(name string, data any, c Compression) (string, error) {
	return s.write(name+c.Ext(), func(w io.Writer) error {
		cw, closeFn, err := compressor(w, c)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cw)
		enc.SetIndent("", "  ")
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		return closeFn()
	})
}

// WriteFile writes raw bytes to name and returns the written path.
func (s *Store) WriteFile(name string, data []byte) (string, error) {
	return s.write(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (s *Store) write(name string, fill func(io.Writer) error) (string, error) {
	dest := filepath.Join(s.dir, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", name, err)
	}
	tmp := filepath.Join(filepath.Dir(dest), ".tmp-"+cuid2.Generate())
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	s.logger.Debug("wrote artifact", "path", dest)
	return dest, nil
}

func compressor(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case CompressionGzip:
		gw := gzip.NewWriter(w)
		return gw, gw.Close, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return zw, zw.Close, nil
	default:
		return w, func() error { return nil }, nil
	}
}
