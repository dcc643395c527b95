package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/drivesync/internal/checksum"
	errs "github.com/alexjbarnes/drivesync/internal/errors"
)

// Resolution is the caller's choice for one conflicted file. There are
// exactly two: keep the local version or keep the remote one. No byte
// range merging.
type Resolution string

const (
	KeepLocal  Resolution = "local"
	KeepRemote Resolution = "remote"
)

// Resolve settles one conflict from the most recent operation. The
// losing version is always backed up first (to the Drive's backup folder
// for normal conflicts, to the local trash for an accepted deletion), so
// resolution never destroys content.
//
// Resolving the last pending conflict triggers a fresh pull
// automatically, since the act of resolving may itself have changed both
// sides. That pull's failures are logged, not returned.
func (s *Syncer) Resolve(ctx context.Context, id FileID, choice Resolution) error {
	if choice != KeepLocal && choice != KeepRemote {
		return fmt.Errorf("unknown resolution %q (want %q or %q)", choice, KeepLocal, KeepRemote)
	}

	if err := s.begin(StateConflict); err != nil {
		return err
	}

	pending := s.Conflicts()
	idx := -1
	for i, c := range pending {
		if c.FileID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		err := fmt.Errorf("no pending conflict for %s: %w", id, errs.ErrUnknownFile)
		s.finish(err, pending)
		return err
	}

	conflict := pending[idx]

	var err error
	switch conflict.Kind {
	case NormalConflict:
		err = s.resolveNormal(ctx, conflict, choice)
	case EditDeleteConflict:
		err = s.resolveEditDelete(ctx, conflict, choice)
	default:
		err = fmt.Errorf("unknown conflict kind %d", conflict.Kind)
	}

	if err != nil {
		s.finish(err, pending)
		return err
	}

	remaining := append(pending[:idx:idx], pending[idx+1:]...)
	s.finish(nil, remaining)

	s.logger.Info("conflict resolved",
		slog.String("file", conflict.FileName),
		slog.String("choice", string(choice)),
		slog.Int("remaining", len(remaining)),
	)

	if len(remaining) == 0 {
		// Resolving may have changed both sides; re-sync from a clean
		// slate.
		if pullErr := s.Pull(ctx); pullErr != nil && !errors.Is(pullErr, errs.ErrSyncInProgress) {
			s.logger.Warn("post-resolution pull failed", slog.String("error", pullErr.Error()))
		}
	}

	return nil
}

// backupName tags a backed-up copy with the resolution time so repeated
// conflicts on one path never overwrite each other.
func backupName(path string) string {
	return fmt.Sprintf("%s.%d", path, nowMillis())
}

// resolveNormal settles a both-sides-changed conflict.
func (s *Syncer) resolveNormal(ctx context.Context, conflict ConflictInfo, choice Resolution) error {
	local, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return err
	}
	remoteMeta, err := loadRemoteMeta(ctx, s.remote)
	if err != nil {
		return err
	}
	if remoteMeta == nil {
		remoteMeta = NewRemoteSyncMeta()
	}

	id := conflict.FileID

	path, tracked := local.PathFor(id)
	if !tracked {
		// Untracked-overwrite conflict: the Drive object's name is the
		// vault path.
		path = normalizePath(conflict.FileName)
	}

	switch choice {
	case KeepLocal:
		content, err := s.vault.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading local %s: %w", path, err)
		}

		// Back up the losing remote version before overwriting it.
		remoteContent, err := s.remote.Read(ctx, id)
		if err != nil {
			return fmt.Errorf("reading remote %s: %w", path, err)
		}
		if _, err := s.remote.Create(ctx, backupName(path), remoteContent, FolderBackup); err != nil {
			return fmt.Errorf("backing up remote %s: %w", path, err)
		}

		remoteFile, err := s.remote.Update(ctx, id, content)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}

		sum := checksum.Sum(content)
		mtime := remoteFile.ModifiedTime
		if info, statErr := s.vault.Stat(path); statErr == nil {
			mtime = info.ModTime().UnixMilli()
		}

		remoteMeta.Files[id] = RemoteFileRecord{
			ID:           id,
			Path:         path,
			Name:         path,
			Checksum:     sum,
			ModifiedTime: mtime,
		}
		local.Track(id, path, LocalFileEntry{
			Checksum:     sum,
			ModifiedTime: mtime,
			CachedMtime:  mtime,
			CachedSize:   int64(len(content)),
		})
		s.resetHistoryBaseline(id, string(content))

	case KeepRemote:
		remoteContent, err := s.remote.Read(ctx, id)
		if err != nil {
			return fmt.Errorf("reading remote %s: %w", path, err)
		}

		// Back up the losing local version before overwriting it.
		if localContent, readErr := s.vault.ReadFile(path); readErr == nil {
			if _, err := s.remote.Create(ctx, backupName(path), localContent, FolderBackup); err != nil {
				return fmt.Errorf("backing up local %s: %w", path, err)
			}
		}

		record, known := remoteMeta.Files[id]
		writeTime := record.ModifiedTime
		if !known {
			writeTime = conflict.RemoteModifiedTime
			if remoteFile, statErr := s.remote.Stat(ctx, id); statErr == nil {
				writeTime = remoteFile.ModifiedTime
			}
		}

		if err := s.vault.WriteFile(path, remoteContent, time.UnixMilli(writeTime)); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		sum := checksum.Sum(remoteContent)
		mtime := writeTime
		if info, statErr := s.vault.Stat(path); statErr == nil {
			mtime = info.ModTime().UnixMilli()
		}

		if !known {
			remoteMeta.Files[id] = RemoteFileRecord{
				ID:           id,
				Path:         path,
				Name:         path,
				Checksum:     sum,
				ModifiedTime: writeTime,
			}
		}
		local.Track(id, path, LocalFileEntry{
			Checksum:     sum,
			ModifiedTime: mtime,
			CachedMtime:  mtime,
			CachedSize:   int64(len(remoteContent)),
		})
		s.resetHistoryBaseline(id, string(remoteContent))
	}

	local.LastUpdatedAt = nowMillis()
	if err := SaveLocalMeta(s.vault.Dir(), local); err != nil {
		return err
	}
	remoteMeta.LastUpdatedAt = local.LastUpdatedAt
	return saveRemoteMeta(ctx, s.remote, remoteMeta)
}

// resolveEditDelete settles a locally-edited, remotely-deleted conflict.
// Keeping local re-creates the file as a brand-new Drive object; keeping
// remote accepts the deletion and purges the local record.
func (s *Syncer) resolveEditDelete(ctx context.Context, conflict ConflictInfo, choice Resolution) error {
	local, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return err
	}
	remoteMeta, err := loadRemoteMeta(ctx, s.remote)
	if err != nil {
		return err
	}
	if remoteMeta == nil {
		remoteMeta = NewRemoteSyncMeta()
	}

	oldID := conflict.FileID

	path, tracked := local.PathFor(oldID)
	if !tracked {
		return fmt.Errorf("%s: %w", oldID, errs.ErrUnknownFile)
	}

	switch choice {
	case KeepLocal:
		content, err := s.vault.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading local %s: %w", path, err)
		}

		remoteFile, err := s.remote.Create(ctx, path, content, FolderRoot)
		if err != nil {
			return fmt.Errorf("re-creating %s: %w", path, err)
		}

		sum := checksum.Sum(content)
		mtime := remoteFile.ModifiedTime
		if info, statErr := s.vault.Stat(path); statErr == nil {
			mtime = info.ModTime().UnixMilli()
		}

		local.Untrack(oldID)
		s.clearHistory(oldID)

		newID := remoteFile.ID
		remoteMeta.Files[newID] = RemoteFileRecord{
			ID:           newID,
			Path:         path,
			Name:         path,
			Checksum:     sum,
			ModifiedTime: mtime,
		}
		local.Track(newID, path, LocalFileEntry{
			Checksum:     sum,
			ModifiedTime: mtime,
			CachedMtime:  mtime,
			CachedSize:   int64(len(content)),
		})
		s.resetHistoryBaseline(newID, string(content))

	case KeepRemote:
		if err := s.vault.Trash(path); err != nil {
			return fmt.Errorf("trashing %s: %w", path, err)
		}
		local.Untrack(oldID)
		delete(remoteMeta.Files, oldID)
		s.clearHistory(oldID)
	}

	local.LastUpdatedAt = nowMillis()
	if err := SaveLocalMeta(s.vault.Dir(), local); err != nil {
		return err
	}
	remoteMeta.LastUpdatedAt = local.LastUpdatedAt
	return saveRemoteMeta(ctx, s.remote, remoteMeta)
}
