package catalog

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crossjoin/internal/filesystem"
	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
)

// Errors returned by Enumerate.
var (
	// ErrNotFound indicates the side directory does not exist.
	ErrNotFound = errors.New("source directory not found")
	// ErrPartialScan indicates a transient I/O error interrupted the
	// listing; the scan is retryable.
	ErrPartialScan = errors.New("partial scan")
)

// idHashBytes bounds how much content feeds the id hash. Hashing whole
// videos would defeat the point of keeping enumeration cheap; the
// leading megabyte plus the size catches every re-encode and nearly
// every re-edit.
const idHashBytes = 1 << 20

// videoExtensions lists the source container formats accepted for intake.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".ts":   true,
}

// Enumerate lists the video files in dir and returns one VideoItem per
// file, deterministically ordered by source path. Hidden files and
// non-video extensions are skipped.
func Enumerate(dir string, side ledger.Side) ([]ledger.VideoItem, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrPartialScan, dir, err)
	}

	entries, err := filesystem.ReadDirWithRetry(dir, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", ErrPartialScan, dir, err)
	}

	var items []ledger.VideoItem
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		id, err := ItemID(path)
		if err != nil {
			// A file that vanished or turned unreadable mid-scan is a
			// transient listing problem, not a per-item failure.
			return nil, fmt.Errorf("%w: hashing %s: %v", ErrPartialScan, path, err)
		}

		items = append(items, ledger.VideoItem{
			ID:         id,
			Side:       side,
			SourcePath: path,
			Status:     ledger.ItemPending,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].SourcePath < items[j].SourcePath
	})

	logging.Debug("Enumerated %d %s items in %s", len(items), side, dir)
	return items, nil
}

// ItemID derives the stable content id for a source file: sha256 over
// the leading bytes and the total size, hex-truncated to 16 characters.
func ItemID(path string) (string, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logging.Warn("failed to close %s: %v", path, closeErr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.CopyN(h, f, idHashBytes); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(info.Size()))
	h.Write(size[:])

	return fmt.Sprintf("%x", h.Sum(nil))[:16], nil
}
