package drive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// trashDir is where locally removed files go instead of being deleted.
const trashDir = ".trash"

// Vault provides thread-safe filesystem operations on the vault
// directory. All writes are serialized by an exclusive lock; reads take
// a shared lock to avoid observing partial writes. The orchestrator,
// scanner and watcher all go through this type for file access.
type Vault struct {
	dir string
	mu  sync.RWMutex
}

// NewVault creates a Vault rooted at dir. The directory must be an
// absolute path (resolved at config load time).
func NewVault(dir string) *Vault {
	return &Vault{dir: dir}
}

// Dir returns the root directory of the vault.
func (v *Vault) Dir() string {
	return v.dir
}

// ReadFile reads a file by relative path.
func (v *Vault) ReadFile(relPath string) ([]byte, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.ReadFile(absPath)
}

// WriteFile writes content to a file by relative path, creating parent
// directories as needed. If mtime is non-zero, the file's modification
// time is set afterward so downloaded files keep the Drive's timestamp.
func (v *Vault) WriteFile(relPath string, data []byte, mtime time.Time) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}

	if err := os.WriteFile(absPath, data, 0644); err != nil {
		return err
	}

	if !mtime.IsZero() {
		if err := os.Chtimes(absPath, mtime, mtime); err != nil {
			return fmt.Errorf("setting mtime for %s: %w", relPath, err)
		}
	}

	return nil
}

// DeleteFile removes a file by relative path. Returns nil if the file
// does not exist.
func (v *Vault) DeleteFile(relPath string) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", relPath, err)
	}
	return nil
}

// Trash moves a file into the vault's local trash directory instead of
// deleting it. An existing trash entry with the same path gets a
// timestamp suffix rather than being overwritten.
func (v *Vault) Trash(relPath string) error {
	srcAbs, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	dstRel := filepath.Join(trashDir, relPath)
	dstAbs, err := v.resolve(dstRel)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
		return fmt.Errorf("creating trash directory for %s: %w", relPath, err)
	}

	if _, err := os.Stat(dstAbs); err == nil {
		ext := filepath.Ext(dstAbs)
		stem := strings.TrimSuffix(dstAbs, ext)
		dstAbs = fmt.Sprintf("%s.%d%s", stem, time.Now().UnixMilli(), ext)
	}

	if err := os.Rename(srcAbs, dstAbs); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("trashing %s: %w", relPath, err)
	}

	return nil
}

// MkdirAll creates a directory (and parents) by relative path.
func (v *Vault) MkdirAll(relPath string) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	return os.MkdirAll(absPath, 0755)
}

// Rename moves a file or directory between relative paths within the
// vault, creating the destination's parent directory as needed.
func (v *Vault) Rename(oldRel, newRel string) error {
	oldAbs, err := v.resolve(oldRel)
	if err != nil {
		return err
	}
	newAbs, err := v.resolve(newRel)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(newAbs), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", newRel, err)
	}

	return os.Rename(oldAbs, newAbs)
}

// Stat returns file info for a relative path. Takes a read lock so the
// file isn't being written mid-stat.
func (v *Vault) Stat(relPath string) (os.FileInfo, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.Stat(absPath)
}

// Exists reports whether a relative path exists in the vault.
func (v *Vault) Exists(relPath string) bool {
	_, err := v.Stat(relPath)
	return err == nil
}

// resolve converts a relative path to an absolute path within the vault
// directory, rejecting path traversal attempts.
func (v *Vault) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}
	absPath := filepath.Join(v.dir, relPath)
	if !strings.HasPrefix(absPath, v.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside vault dir", relPath)
	}
	return absPath, nil
}

// normalizePath canonicalizes a vault-relative path: non-breaking spaces
// become regular spaces, repeated slashes collapse, leading and trailing
// slashes are trimmed, and the result is Unicode NFC normalized. Call
// this on every path entering the system: scanner output, watcher
// events, and names coming back from the Drive.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\u00A0", " ")
	path = strings.ReplaceAll(path, "\u202F", " ")

	var b strings.Builder
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	path = strings.Trim(b.String(), "/")

	return norm.NFC.String(path)
}
