package artifact

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"crossjoin/internal/filesystem"
	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
)

// MarkerSuffix is appended to an artifact name to form its completion
// marker.
const MarkerSuffix = ".done"

// Store resolves artifact and output locations under the shared
// working directory.
type Store struct {
	workDir   string
	outputDir string
	codecExt  string
	outputExt string
	retry     filesystem.RetryConfig
}

// NewStore creates a Store rooted at workDir for intermediates and
// outputDir for joined outputs. codecExt and outputExt are file
// extensions without the leading dot.
func NewStore(workDir, outputDir, codecExt, outputExt string) *Store {
	return &Store{
		workDir:   workDir,
		outputDir: outputDir,
		codecExt:  codecExt,
		outputExt: outputExt,
		retry:     filesystem.DefaultRetryConfig(),
	}
}

// SideDir returns the intermediate directory for one side.
func (s *Store) SideDir(side ledger.Side) string {
	return filepath.Join(s.workDir, string(side))
}

// IntermediatePath returns the artifact path for an item.
func (s *Store) IntermediatePath(side ledger.Side, id string) string {
	return filepath.Join(s.SideDir(side), fmt.Sprintf("%s.%s", id, s.codecExt))
}

// OutputPath returns the joined output path for a pair. The path is
// deterministically derived from the two ids, so the pair task owns it
// exclusively.
func (s *Store) OutputPath(leftID, rightID string) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("%s__%s.%s", leftID, rightID, s.outputExt))
}

// EnsureDirs creates the intermediate and output directories.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.SideDir(ledger.SideLeft), s.SideDir(ledger.SideRight), s.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// IsPublished reports whether both the file at path and its completion
// marker are visible.
func (s *Store) IsPublished(path string) bool {
	if _, err := filesystem.StatWithRetry(path, s.retry); err != nil {
		return false
	}
	if _, err := filesystem.StatWithRetry(path+MarkerSuffix, s.retry); err != nil {
		return false
	}
	return true
}

// Checksum computes the sha256 checksum of a published file.
func (s *Store) Checksum(path string) (string, error) {
	f, err := filesystem.OpenWithRetry(path, s.retry)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logging.Warn("failed to close %s: %v", path, closeErr)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Publish atomically installs the file at src as the artifact at dst
// and writes its completion marker. src is renamed (same filesystem
// required), so callers must produce it in the destination directory's
// tree, typically via TempPath. Returns the sha256 checksum of the
// published bytes.
//
// Publishing is idempotent: republishing the same content to the same
// dst simply replaces the file before the marker write, and a rename is
// atomic, so concurrent readers see either the old complete file or the
// new complete file.
func (s *Store) Publish(src, dst string) (string, error) {
	sum, err := s.Checksum(src)
	if err != nil {
		return "", fmt.Errorf("checksumming %s: %w", src, err)
	}

	if err := syncFile(src); err != nil {
		return "", fmt.Errorf("syncing %s: %w", src, err)
	}

	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("publishing %s: %w", dst, err)
	}

	if err := writeMarker(dst); err != nil {
		return "", err
	}

	logging.Debug("Published %s (%s)", dst, sum[:12])
	return sum, nil
}

// TempPath returns a temp file location next to dst, suitable for
// writing the candidate bytes before Publish renames them into place.
func (s *Store) TempPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), ".tmp-"+filepath.Base(dst))
}

// Discard removes a temp or failed partial file, ignoring not-exist.
func (s *Store) Discard(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to discard %s: %v", path, err)
	}
}

// writeMarker publishes the ".done" completion marker for path, itself
// via temp write + rename.
func writeMarker(path string) error {
	marker := path + MarkerSuffix
	tmp := filepath.Join(filepath.Dir(marker), ".tmp-"+filepath.Base(marker))

	if err := os.WriteFile(tmp, []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing marker temp for %s: %w", path, err)
	}
	if err := syncFile(tmp); err != nil {
		return fmt.Errorf("syncing marker for %s: %w", path, err)
	}
	if err := os.Rename(tmp, marker); err != nil {
		return fmt.Errorf("publishing marker for %s: %w", path, err)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	syncErr := f.Sync()
	closeErr := f.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
