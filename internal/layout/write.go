package layout

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFile atomically replaces path with data: the content is written to a
// temp file in the same directory, synced, and renamed into place. A symlink
// at path is never followed.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("failed to generate temp file name: %w", err)
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	// Clean up temp file on failure (existing file is preserved)
	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}

	// Close before rename (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	file = nil

	// os.Rename would replace a symlink, but refuse it anyway so a planted
	// link is surfaced rather than silently overwritten.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%s is a symlink", path)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to finalize write: %w", err)
	}

	success = true
	return nil
}

// Move writes data to newPath and then removes oldPath. When they are the
// same path this is a plain WriteFile. A case-only change renames the file in
// place first, so a case-insensitive filesystem never sees the old name
// removed after the new one was written.
func Move(oldPath, newPath string, data []byte) error {
	if oldPath == "" || oldPath == newPath {
		return WriteFile(newPath, data)
	}
	if strings.EqualFold(oldPath, newPath) {
		if err := os.Rename(oldPath, newPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to rename %s: %w", oldPath, err)
		}
		return WriteFile(newPath, data)
	}

	if err := WriteFile(newPath, data); err != nil {
		return err
	}
	if sameFile(oldPath, newPath) {
		return nil
	}
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove previous file %s: %w", oldPath, err)
	}
	return nil
}

// sameFile reports whether both paths name one existing file.
func sameFile(a, b string) bool {
	ai, err := os.Lstat(a)
	if err != nil {
		return false
	}
	bi, err := os.Lstat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
