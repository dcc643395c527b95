package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	errs "github.com/alexjbarnes/drivesync/internal/errors"
)

// editRecorder is the subset of Syncer the watcher needs. Extracted for
// testability.
type editRecorder interface {
	RecordLocalEdit(relPath string) error
}

// Watcher monitors the vault for file changes and captures each settled
// edit into the file's history chain. It performs no sync traffic
// itself; pushes stay explicit.
type Watcher struct {
	vault    *Vault
	recorder editRecorder
	excluded func(relPath string) bool
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a file watcher over the vault.
func NewWatcher(vault *Vault, recorder editRecorder, excluded func(string) bool, logger *slog.Logger) *Watcher {
	return &Watcher{
		vault:    vault,
		recorder: recorder,
		excluded: excluded,
		logger:   logger,
	}
}

// Watch blocks until the context is cancelled, watching the vault
// recursively. Rapid writes to one file are debounced into a single
// history capture.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	vaultDir := w.vault.Dir()

	if err := os.MkdirAll(vaultDir, 0755); err != nil {
		return fmt.Errorf("creating vault dir: %w", err)
	}

	if err := w.addRecursive(vaultDir); err != nil {
		return fmt.Errorf("watching vault dir: %w", err)
	}

	w.logger.Info("file watcher started", slog.String("dir", vaultDir))

	// Debounce: batch rapid writes into a single capture per file.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()

				// If a new directory was created, watch it recursively.
				if event.Has(fsnotify.Create) {
					info, err := os.Stat(event.Name)
					if err == nil && info.IsDir() {
						w.addRecursive(event.Name)
					}
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// Deletions carry no content to capture; sync clears
				// the history when the deletion is pushed.
				delete(pending, event.Name)
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < 300*time.Millisecond {
					continue
				}
				delete(pending, path)
				w.handleWrite(path)
			}
		}
	}
}

func (w *Watcher) handleWrite(absPath string) {
	relPath, err := filepath.Rel(w.vault.Dir(), absPath)
	if err != nil {
		w.logger.Warn("computing relative path", slog.String("error", err.Error()))
		return
	}
	relPath = normalizePath(filepath.ToSlash(relPath))

	if w.excluded(relPath) {
		return
	}

	info, err := w.vault.Stat(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.logger.Warn("stat failed", slog.String("path", relPath), slog.String("error", err.Error()))
		return
	}
	if info.IsDir() {
		return
	}

	if err := w.recorder.RecordLocalEdit(relPath); err != nil {
		if errors.Is(err, errs.ErrUnknownFile) {
			// Untracked files get history once they first sync.
			w.logger.Debug("edit not recorded, file untracked", slog.String("path", relPath))
			return
		}
		w.logger.Warn("recording edit failed",
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Debug("edit recorded", slog.String("path", relPath))
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if w.shouldIgnore(path) {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") && path != w.vault.Dir() {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return true
	}

	if rel, err := filepath.Rel(w.vault.Dir(), path); err == nil {
		relPath := normalizePath(filepath.ToSlash(rel))
		if relPath != "" && relPath != "." && w.excluded(relPath) {
			return true
		}
	}

	return false
}
