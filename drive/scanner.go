package drive

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/alexjbarnes/drivesync/internal/checksum"
)

// ScannedFile is one file found on disk, with its live checksum.
type ScannedFile struct {
	Path     string
	Checksum string
	Mtime    int64
	Size     int64
}

// VaultScan is the live state of the vault, keyed by normalized
// vault-relative path.
type VaultScan struct {
	Files map[string]ScannedFile
}

// Scanner walks the vault and checksums every syncable file.
type Scanner struct {
	vault    *Vault
	engine   *checksum.Engine
	excluded func(relPath string) bool
	logger   *slog.Logger
}

// NewScanner creates a Scanner. excluded is the precomputed exclusion
// predicate from settings; the scanner never interprets glob syntax.
func NewScanner(vault *Vault, engine *checksum.Engine, excluded func(string) bool, logger *slog.Logger) *Scanner {
	return &Scanner{
		vault:    vault,
		engine:   engine,
		excluded: excluded,
		logger:   logger,
	}
}

// Scan walks the vault and returns its live state. meta supplies the
// persisted checksum cache: a file whose stat still matches the entry's
// CachedMtime and CachedSize keeps its ancestor checksum without being
// re-read. Unreadable files are logged and excluded from the result (the
// file is treated as absent, not empty), so one bad file never aborts a
// whole pass.
func (s *Scanner) Scan(meta *LocalSyncMeta) (*VaultScan, error) {
	scan := &VaultScan{Files: make(map[string]ScannedFile)}
	root := s.vault.Dir()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Warn("scan: skipping unreadable entry",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		relPath = normalizePath(filepath.ToSlash(relPath))

		if d.IsDir() {
			if path != root && s.excluded(relPath) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.excluded(relPath) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			s.logger.Warn("scan: stat failed",
				slog.String("path", relPath),
				slog.String("error", infoErr.Error()),
			)
			return nil
		}

		mtime := info.ModTime().UnixMilli()
		size := info.Size()

		sum, ok := cachedChecksum(meta, relPath, mtime, size)
		if !ok {
			var hashErr error
			sum, hashErr = s.engine.File(path, info)
			if hashErr != nil {
				s.logger.Warn("scan: hashing failed, file excluded from pass",
					slog.String("path", relPath),
					slog.String("error", hashErr.Error()),
				)
				return nil
			}
		}

		scan.Files[relPath] = ScannedFile{
			Path:     relPath,
			Checksum: sum,
			Mtime:    mtime,
			Size:     size,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning vault: %w", err)
	}

	return scan, nil
}

// cachedChecksum consults the persisted cache tier: when the stat
// signature recorded at the last sync still matches, the live content is
// known to equal the ancestor without hashing.
func cachedChecksum(meta *LocalSyncMeta, relPath string, mtime, size int64) (string, bool) {
	if meta == nil {
		return "", false
	}
	id, tracked := meta.PathToID[relPath]
	if !tracked {
		return "", false
	}
	entry, ok := meta.Files[id]
	if !ok || entry.Checksum == "" {
		return "", false
	}
	if entry.CachedMtime != mtime || entry.CachedSize != size {
		return "", false
	}
	return entry.Checksum, true
}

// RenamePair is a file that moved on disk without changing content.
type RenamePair struct {
	ID      FileID
	OldPath string
	NewPath string
}

// LocalChanges is the scanner-side view of what diverged from the
// metadata since the last sync.
type LocalChanges struct {
	// Modified maps tracked ids whose live checksum diverged from the
	// ancestor to that live checksum.
	Modified map[FileID]string

	// NewPaths are on-disk paths with no tracked id, after rename
	// extraction.
	NewPaths []string

	// DeletedIDs are tracked ids whose path is gone from disk, after
	// rename extraction.
	DeletedIDs []FileID

	// Renames pairs a vanished tracked path with a new path holding
	// content identical to the tracked ancestor.
	Renames []RenamePair
}

// DetectChanges compares a scan against the local metadata. Rename
// detection is a pre-pass: a deleted tracked file whose ancestor
// checksum matches a newly appeared path's live checksum becomes a
// rename pair and leaves the ordinary new/deleted sets. Iteration is in
// sorted order throughout, so identical inputs always classify
// identically.
func DetectChanges(scan *VaultScan, meta *LocalSyncMeta) *LocalChanges {
	changes := &LocalChanges{Modified: make(map[FileID]string)}

	newPaths := make([]string, 0)
	for _, path := range sortedKeys(scan.Files) {
		file := scan.Files[path]
		id, tracked := meta.PathToID[path]
		if !tracked {
			newPaths = append(newPaths, path)
			continue
		}
		if entry := meta.Files[id]; file.Checksum != entry.Checksum {
			changes.Modified[id] = file.Checksum
		}
	}

	deleted := make([]RenamePair, 0)
	for _, path := range sortedKeys(meta.PathToID) {
		if _, onDisk := scan.Files[path]; !onDisk {
			deleted = append(deleted, RenamePair{ID: meta.PathToID[path], OldPath: path})
		}
	}

	usedNew := make(map[string]bool)
	for _, gone := range deleted {
		ancestor := meta.Files[gone.ID].Checksum
		matched := false
		for _, candidate := range newPaths {
			if usedNew[candidate] || scan.Files[candidate].Checksum != ancestor {
				continue
			}
			usedNew[candidate] = true
			gone.NewPath = candidate
			changes.Renames = append(changes.Renames, gone)
			matched = true
			break
		}
		if !matched {
			changes.DeletedIDs = append(changes.DeletedIDs, gone.ID)
		}
	}

	for _, path := range newPaths {
		if !usedNew[path] {
			changes.NewPaths = append(changes.NewPaths, path)
		}
	}

	return changes
}
