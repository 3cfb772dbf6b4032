// Package cache persists read containers to disk so repeated reads of the
// same dataset skip the archive. A cache file is a zstd stream carrying a
// msgpack header (metadata blocks, indexes, filter history) followed by an
// Arrow IPC record batch of the raw row columns. Unreadable or outdated
// files are silently dropped; the caller falls back to the archive.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

const fileExt = ".acz"

// Handler reads and writes container cache files under one directory.
type Handler struct {
	dir    string
	level  zstd.EncoderLevel
	logger zerolog.Logger
}

// NewHandler creates the cache directory if needed. zstdLevel follows the
// usual zstd scale (1 fastest, 19+ smallest).
func NewHandler(dir string, zstdLevel int, logger zerolog.Logger) (*Handler, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory not set")
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Handler{
		dir:    absPath,
		level:  zstd.EncoderLevelFromZstd(zstdLevel),
		logger: logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Key builds the cache key for a dataset and variable selection. Variables
// are sorted so the key does not depend on selection order; the format
// version keys out files from older layouts.
func Key(dataID string, vars []string) string {
	sorted := append([]string(nil), vars...)
	sort.Strings(sorted)
	name := "all"
	if len(sorted) > 0 {
		name = strings.Join(sorted, "-")
	}
	key := fmt.Sprintf("%s_%s_v%d", dataID, name, FormatVersion)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ':
			return '-'
		}
		return r
	}, key)
}

// Key is a convenience wrapper around the package-level Key.
func (h *Handler) Key(dataID string, vars []string) string {
	return Key(dataID, vars)
}

// Path returns the file path a key maps to.
func (h *Handler) Path(key string) string {
	return filepath.Join(h.dir, key+fileExt)
}

// Write serializes a container under the given key, writing to a temp file
// and renaming so readers never observe a partial file.
func (h *Handler) Write(d *ungridded.Data, key string) error {
	tmpFile, err := os.CreateTemp(h.dir, ".aeroobs-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	writeErr := func() error {
		zw, err := zstd.NewWriter(tmpFile, zstd.WithEncoderLevel(h.level))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		if err := encode(zw, d.Snapshot()); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to flush zstd stream: %w", err)
		}
		return nil
	}()
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return writeErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, h.Path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	rows, _ := d.Shape()
	h.logger.Debug().
		Str("key", key).
		Int("rows", rows).
		Msg("wrote cache file")
	return nil
}

// Read loads the container cached under key. A missing file is an ordinary
// miss; an unreadable or version-mismatched file is removed and also
// reported as a miss, never as an error. The returned container carries the
// default variable registry and a silent logger; callers attach their own.
func (h *Handler) Read(key string) (*ungridded.Data, bool) {
	path := h.Path(key)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Warn().Err(err).Str("key", key).Msg("cannot open cache file")
		}
		return nil, false
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return h.drop(path, key, err)
	}
	defer zr.Close()

	d, err := decode(zr)
	if err != nil {
		return h.drop(path, key, err)
	}

	rows, _ := d.Shape()
	h.logger.Debug().
		Str("key", key).
		Int("rows", rows).
		Msg("cache hit")
	return d, true
}

// drop removes an unreadable cache file so the next read rebuilds it.
func (h *Handler) drop(path, key string, err error) (*ungridded.Data, bool) {
	h.logger.Warn().Err(err).Str("key", key).Msg("removing unreadable cache file")
	os.Remove(path)
	return nil, false
}

// Remove deletes the cache file for a key. Removing a missing file is fine.
func (h *Handler) Remove(key string) error {
	if err := os.Remove(h.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}
