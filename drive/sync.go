package drive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/drivesync/internal/checksum"
	errs "github.com/alexjbarnes/drivesync/internal/errors"
	"github.com/alexjbarnes/drivesync/internal/history"
	"github.com/alexjbarnes/drivesync/internal/patch"
)

// SyncerOptions tune the orchestrator.
type SyncerOptions struct {
	// BatchSize bounds concurrent transfers. Batches are sequential.
	BatchSize int

	// PatchDrift is the line-drift tolerance for history reconstruction.
	PatchDrift int
}

// Syncer drives push, pull, full-push, full-pull and conflict
// resolution between the vault and the Drive.
//
// Exactly one operation runs at a time: a second caller is refused with
// ErrSyncInProgress, never queued. Metadata is loaded fresh per
// operation, mutated on staged clones, and swapped in only once every
// transfer has resolved. Background side-tasks (history recording) are
// fire-and-forget: their failures are logged and never affect the
// operation's outcome.
type Syncer struct {
	vault   *Vault
	remote  RemoteStore
	scanner *Scanner
	history *history.Store
	logger  *slog.Logger

	batchSize int
	patchOpts patch.Options

	running atomic.Bool

	mu        sync.Mutex
	state     SyncState
	lastErr   error
	conflicts []ConflictInfo

	background sync.WaitGroup
}

// NewSyncer creates a Syncer.
func NewSyncer(vault *Vault, remote RemoteStore, scanner *Scanner, hist *history.Store, logger *slog.Logger, opts SyncerOptions) *Syncer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 5
	}
	if opts.PatchDrift < 0 {
		opts.PatchDrift = patch.DefaultDrift
	}
	return &Syncer{
		vault:     vault,
		remote:    remote,
		scanner:   scanner,
		history:   hist,
		logger:    logger,
		batchSize: opts.BatchSize,
		patchOpts: patch.Options{Drift: opts.PatchDrift, Strict: true},
		state:     StateIdle,
	}
}

// State returns the orchestrator's current state.
func (s *Syncer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the failure recorded by the most recent operation,
// or nil.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Conflicts returns the conflicts found by the most recent operation.
func (s *Syncer) Conflicts() []ConflictInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConflictInfo, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// Wait blocks until all background side-tasks have drained. Call on
// shutdown.
func (s *Syncer) Wait() {
	s.background.Wait()
}

// begin acquires the exclusive operation lock and moves to state. A
// caller losing the race is told to retry later, never queued.
func (s *Syncer) begin(state SyncState) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("operation declined, sync already running", slog.String("requested", string(state)))
		return errs.ErrSyncInProgress
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	return nil
}

// finish records the operation outcome and releases the lock. Every
// public operation funnels its failure here rather than leaving state
// behind mid-batch.
func (s *Syncer) finish(err error, conflicts []ConflictInfo) {
	s.mu.Lock()
	s.conflicts = conflicts
	s.lastErr = err
	switch {
	case len(conflicts) > 0:
		s.state = StateConflict
	case err != nil:
		s.state = StateError
	default:
		s.state = StateIdle
	}
	s.mu.Unlock()

	s.running.Store(false)
}

// passState is everything one operation loads up front.
type passState struct {
	local   *LocalSyncMeta
	remote  *RemoteSyncMeta // nil on first sync
	scan    *VaultScan
	changes *LocalChanges
	diff    *SyncDiff
}

func (s *Syncer) loadPass(ctx context.Context) (*passState, error) {
	local, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return nil, err
	}

	scan, err := s.scanner.Scan(local)
	if err != nil {
		return nil, err
	}

	remote, err := loadRemoteMeta(ctx, s.remote)
	if err != nil {
		return nil, err
	}

	changes := DetectChanges(scan, local)
	diff := ComputeDiff(local, remote, changes.Modified)

	return &passState{
		local:   local,
		remote:  remote,
		scan:    scan,
		changes: changes,
		diff:    diff,
	}, nil
}

// Push uploads local changes to the Drive. It refuses, before touching
// anything, whenever the Drive holds a change the local side has not
// absorbed: pulling first is the only way to guarantee the remote
// snapshot is never silently overwritten.
func (s *Syncer) Push(ctx context.Context) error {
	if err := s.begin(StatePushing); err != nil {
		return err
	}

	conflicts, err := s.push(ctx)
	s.finish(err, conflicts)
	return err
}

func (s *Syncer) push(ctx context.Context) ([]ConflictInfo, error) {
	pass, err := s.loadPass(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing push: %w", err)
	}

	if pass.diff.BlocksPush() {
		if conflicts := s.collectConflicts(pass); len(conflicts) > 0 {
			s.logger.Warn("push rejected, unresolved conflicts",
				slog.Int("conflicts", len(conflicts)),
			)
			return conflicts, errs.ErrConflictsPending
		}
		s.logger.Warn("push rejected, remote has changes to pull",
			slog.Int("toPull", len(pass.diff.ToPull)),
			slog.Int("remoteOnly", len(pass.diff.RemoteOnly)),
		)
		return nil, errs.ErrRemoteChangesPending
	}

	stagedLocal := pass.local.Clone()
	stagedRemote := NewRemoteSyncMeta()
	if pass.remote != nil {
		stagedRemote = pass.remote.Clone()
	}

	s.applyRenames(ctx, pass.changes.Renames, stagedLocal, stagedRemote)

	uploaded := s.uploadFiles(ctx, pass, stagedLocal, stagedRemote)

	trashed := s.trashDeleted(ctx, pass.changes.DeletedIDs, stagedLocal, stagedRemote)

	stagedRemote.LastUpdatedAt = nowMillis()
	if err := saveRemoteMeta(ctx, s.remote, stagedRemote); err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	stagedLocal.LastUpdatedAt = stagedRemote.LastUpdatedAt
	if err := SaveLocalMeta(s.vault.Dir(), stagedLocal); err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	s.logger.Info("push complete",
		slog.Int("uploaded", uploaded),
		slog.Int("renamed", len(pass.changes.Renames)),
		slog.Int("trashed", trashed),
	)
	return nil, nil
}

// collectConflicts folds the diff's two conflict variants into one list
// for the resolution surface.
func (s *Syncer) collectConflicts(pass *passState) []ConflictInfo {
	conflicts := make([]ConflictInfo, 0, len(pass.diff.Conflicts)+len(pass.diff.EditDeleteConflicts))
	conflicts = append(conflicts, pass.diff.Conflicts...)

	for _, id := range pass.diff.EditDeleteConflicts {
		path, _ := pass.local.PathFor(id)
		entry := pass.local.Files[id]
		conflicts = append(conflicts, ConflictInfo{
			Kind:              EditDeleteConflict,
			FileID:            id,
			FileName:          path,
			LocalChecksum:     pass.changes.Modified[id],
			LocalModifiedTime: entry.ModifiedTime,
		})
	}

	return conflicts
}

// applyRenames replays on-disk renames onto the Drive. Metadata-only: no
// content moves. Failures are logged and the pair is skipped; the file
// will look deleted-plus-new on the next pass and heal there.
func (s *Syncer) applyRenames(ctx context.Context, renames []RenamePair, stagedLocal *LocalSyncMeta, stagedRemote *RemoteSyncMeta) {
	for _, pair := range renames {
		if err := s.remote.Rename(ctx, pair.ID, pair.NewPath); err != nil {
			s.logger.Warn("rename skipped",
				slog.String("id", string(pair.ID)),
				slog.String("from", pair.OldPath),
				slog.String("to", pair.NewPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		stagedLocal.MovePath(pair.ID, pair.NewPath)
		if record, ok := stagedRemote.Files[pair.ID]; ok {
			record.Path = pair.NewPath
			record.Name = pair.NewPath
			stagedRemote.Files[pair.ID] = record
		}

		s.logger.Debug("renamed on remote",
			slog.String("from", pair.OldPath),
			slog.String("to", pair.NewPath),
		)
	}
}

// pushItem is one pending upload: a modified tracked file (ID set) or a
// brand-new path (ID empty until the Drive assigns one).
type pushItem struct {
	id   FileID
	path string
}

// pushOutcome is the staged result of one successful upload. Outcomes
// are folded into the metadata clones only after the whole batch phase
// resolves, so a mid-batch failure cannot leave a file's ancestor
// checksum inconsistent with its remote state.
type pushOutcome struct {
	item     pushItem
	id       FileID
	checksum string
	content  string
	mtime    int64
	size     int64
}

func (s *Syncer) uploadFiles(ctx context.Context, pass *passState, stagedLocal *LocalSyncMeta, stagedRemote *RemoteSyncMeta) int {
	items := make([]pushItem, 0, len(pass.diff.ToPush)+len(pass.changes.NewPaths))
	for _, id := range pass.diff.ToPush {
		path, ok := stagedLocal.PathFor(id)
		if !ok {
			continue
		}
		items = append(items, pushItem{id: id, path: path})
	}
	for _, path := range pass.changes.NewPaths {
		items = append(items, pushItem{path: path})
	}

	outcomes, itemErrs := s.runUploads(ctx, items, pass)

	uploaded := 0
	for i, outcome := range outcomes {
		if itemErrs[i] != nil {
			s.logger.Warn("upload skipped",
				slog.String("path", items[i].path),
				slog.String("error", itemErrs[i].Error()),
			)
			continue
		}
		if outcome == nil {
			continue
		}

		stagedRemote.Files[outcome.id] = RemoteFileRecord{
			ID:           outcome.id,
			Path:         outcome.item.path,
			Name:         outcome.item.path,
			Checksum:     outcome.checksum,
			ModifiedTime: outcome.mtime,
		}
		stagedLocal.Track(outcome.id, outcome.item.path, LocalFileEntry{
			Checksum:     outcome.checksum,
			ModifiedTime: outcome.mtime,
			CachedMtime:  outcome.mtime,
			CachedSize:   outcome.size,
		})

		s.recordPushedHistory(outcome.id, outcome.content)
		uploaded++
	}

	return uploaded
}

// runUploads performs the batched transfers and stages each success.
func (s *Syncer) runUploads(ctx context.Context, items []pushItem, pass *passState) ([]*pushOutcome, []error) {
	outcomes := make([]*pushOutcome, len(items))
	indexed := make([]int, len(items))
	for i := range items {
		indexed[i] = i
	}

	itemErrs := runBatched(ctx, indexed, s.batchSize, func(ctx context.Context, i int) error {
		item := items[i]

		content, err := s.vault.ReadFile(item.path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", item.path, err)
		}

		var remoteFile RemoteFile
		if item.id == "" {
			remoteFile, err = s.remote.Create(ctx, item.path, content, FolderRoot)
		} else {
			remoteFile, err = s.remote.Update(ctx, item.id, content)
		}
		if err != nil {
			return err
		}

		id := item.id
		if id == "" {
			id = remoteFile.ID
		}

		mtime := remoteFile.ModifiedTime
		scanned, ok := pass.scan.Files[item.path]
		if ok {
			mtime = scanned.Mtime
		}

		outcomes[i] = &pushOutcome{
			item:     item,
			id:       id,
			checksum: checksum.Sum(content),
			content:  string(content),
			mtime:    mtime,
			size:     int64(len(content)),
		}

		s.logger.Debug("uploaded",
			slog.String("path", item.path),
			slog.String("size", transferSize(content)),
		)
		return nil
	})

	return outcomes, itemErrs
}

// recordPushedHistory clears the file's pending history (push sets a new
// ancestor baseline) and appends the pushed change as a remote entry.
// Best effort, off the operation's critical path.
func (s *Syncer) recordPushedHistory(id FileID, after string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		before, hadSnapshot, err := s.history.Snapshot(string(id))
		if err != nil {
			s.logger.Warn("history snapshot read failed", slog.String("id", string(id)), slog.String("error", err.Error()))
			return
		}

		if err := s.history.Clear(string(id)); err != nil {
			s.logger.Warn("history clear failed", slog.String("id", string(id)), slog.String("error", err.Error()))
			return
		}

		if hadSnapshot {
			err = s.history.RecordRemote(string(id), before, after)
		} else {
			err = s.history.SetSnapshot(string(id), after)
		}
		if err != nil {
			s.logger.Warn("history record failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		}
	}()
}

// resetHistoryBaseline drops a file's pending history and pins the given
// content as its new snapshot. Used after pulls and resolutions, where
// the synced content is the fresh baseline.
func (s *Syncer) resetHistoryBaseline(id FileID, content string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		if err := s.history.Clear(string(id)); err != nil {
			s.logger.Warn("history clear failed", slog.String("id", string(id)), slog.String("error", err.Error()))
			return
		}
		if err := s.history.SetSnapshot(string(id), content); err != nil {
			s.logger.Warn("history snapshot failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		}
	}()
}

// clearHistory drops a deleted file's history in the background.
func (s *Syncer) clearHistory(id FileID) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.history.Clear(string(id)); err != nil {
			s.logger.Warn("history clear failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		}
	}()
}

// trashDeleted moves intentionally deleted files to the Drive's trash
// folder. Never a hard delete.
func (s *Syncer) trashDeleted(ctx context.Context, deleted []FileID, stagedLocal *LocalSyncMeta, stagedRemote *RemoteSyncMeta) int {
	trashed := 0
	for _, id := range deleted {
		if _, known := stagedRemote.Files[id]; !known {
			// Already gone remotely; just stop tracking it.
			stagedLocal.Untrack(id)
			s.clearHistory(id)
			continue
		}

		if err := s.remote.Move(ctx, id, FolderTrash); err != nil {
			s.logger.Warn("trash skipped",
				slog.String("id", string(id)),
				slog.String("error", err.Error()),
			)
			continue
		}

		delete(stagedRemote.Files, id)
		stagedLocal.Untrack(id)
		s.clearHistory(id)
		trashed++
	}
	return trashed
}

// Pull applies remote changes locally. Any conflict, including an
// untracked local file that a remote-only download would overwrite,
// halts the pull before a single file is touched.
func (s *Syncer) Pull(ctx context.Context) error {
	if err := s.begin(StatePulling); err != nil {
		return err
	}

	conflicts, err := s.pull(ctx)
	s.finish(err, conflicts)
	return err
}

func (s *Syncer) pull(ctx context.Context) ([]ConflictInfo, error) {
	pass, err := s.loadPass(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing pull: %w", err)
	}

	if pass.remote == nil {
		s.logger.Info("pull: drive has never been synced, nothing to do")
		return nil, nil
	}

	conflicts := s.collectConflicts(pass)
	conflicts = append(conflicts, s.overwriteConflicts(pass)...)
	if len(conflicts) > 0 {
		s.logger.Warn("pull halted, conflicts require resolution",
			slog.Int("conflicts", len(conflicts)),
		)
		return conflicts, errs.ErrConflictsPending
	}

	stagedLocal := pass.local.Clone()
	stagedRemote := pass.remote.Clone()

	// Files the remote no longer has: trash locally, stop tracking.
	removed := 0
	for _, id := range pass.diff.LocalOnly {
		path, ok := stagedLocal.PathFor(id)
		if ok && s.vault.Exists(path) {
			if err := s.vault.Trash(path); err != nil {
				s.logger.Warn("local trash failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		stagedLocal.Untrack(id)
		s.clearHistory(id)
		removed++
	}

	// Files renamed on the remote: relocate on disk, no content moves.
	s.applyRemoteRenames(pass, stagedLocal, stagedRemote)

	downloaded := s.downloadFiles(ctx, pass, stagedLocal, stagedRemote)

	stagedLocal.LastUpdatedAt = nowMillis()
	if err := SaveLocalMeta(s.vault.Dir(), stagedLocal); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	stagedRemote.LastUpdatedAt = stagedLocal.LastUpdatedAt
	if err := saveRemoteMeta(ctx, s.remote, stagedRemote); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	s.logger.Info("pull complete",
		slog.Int("downloaded", downloaded),
		slog.Int("removed", removed),
	)
	return nil, nil
}

// overwriteConflicts finds remote-only files whose name already exists
// locally with different content. Downloading them would clobber an
// untracked local file, so they surface as conflicts instead.
func (s *Syncer) overwriteConflicts(pass *passState) []ConflictInfo {
	var conflicts []ConflictInfo
	for _, id := range pass.diff.RemoteOnly {
		record := pass.remote.Files[id]
		path := normalizePath(record.Path)

		scanned, exists := pass.scan.Files[path]
		if !exists || scanned.Checksum == record.Checksum {
			continue
		}
		conflicts = append(conflicts, ConflictInfo{
			Kind:               NormalConflict,
			FileID:             id,
			FileName:           path,
			LocalChecksum:      scanned.Checksum,
			RemoteChecksum:     record.Checksum,
			LocalModifiedTime:  scanned.Mtime,
			RemoteModifiedTime: record.ModifiedTime,
		})
	}
	return conflicts
}

// applyRemoteRenames relocates tracked files whose remote path moved.
func (s *Syncer) applyRemoteRenames(pass *passState, stagedLocal *LocalSyncMeta, stagedRemote *RemoteSyncMeta) {
	pulling := make(map[FileID]bool, len(pass.diff.ToPull))
	for _, id := range pass.diff.ToPull {
		pulling[id] = true
	}

	for _, id := range sortedKeys(stagedRemote.Files) {
		record := stagedRemote.Files[id]
		remotePath := normalizePath(record.Path)

		localPath, tracked := stagedLocal.PathFor(id)
		if !tracked || localPath == remotePath {
			continue
		}
		if pulling[id] {
			// The download below writes to the new path anyway.
			continue
		}

		if err := s.vault.Rename(localPath, remotePath); err != nil {
			s.logger.Warn("local rename failed",
				slog.String("from", localPath),
				slog.String("to", remotePath),
				slog.String("error", err.Error()),
			)
			continue
		}
		stagedLocal.MovePath(id, remotePath)
	}
}

// pullOutcome stages one successful download before the metadata fold.
type pullOutcome struct {
	id       FileID
	path     string
	checksum string
	content  string
	mtime    int64
	size     int64
}

func (s *Syncer) downloadFiles(ctx context.Context, pass *passState, stagedLocal *LocalSyncMeta, stagedRemote *RemoteSyncMeta) int {
	ids := make([]FileID, 0, len(pass.diff.ToPull)+len(pass.diff.RemoteOnly))
	ids = append(ids, pass.diff.ToPull...)
	ids = append(ids, pass.diff.RemoteOnly...)

	outcomes := make([]*pullOutcome, len(ids))

	indexed := make([]int, len(ids))
	for i := range ids {
		indexed[i] = i
	}

	itemErrs := runBatched(ctx, indexed, s.batchSize, func(ctx context.Context, i int) error {
		id := ids[i]
		record := pass.remote.Files[id]
		path := normalizePath(record.Path)

		content, err := s.remote.Read(ctx, id)
		if err != nil {
			return err
		}

		sum := checksum.Sum(content)
		if record.Checksum != "" && sum != record.Checksum {
			s.logger.Warn("downloaded checksum differs from remote record",
				slog.String("path", path),
				slog.String("expected", record.Checksum),
				slog.String("actual", sum),
			)
		}

		if err := s.vault.WriteFile(path, content, time.UnixMilli(record.ModifiedTime)); err != nil {
			return err
		}

		mtime := record.ModifiedTime
		if info, statErr := s.vault.Stat(path); statErr == nil {
			mtime = info.ModTime().UnixMilli()
		}

		outcomes[i] = &pullOutcome{
			id:       id,
			path:     path,
			checksum: sum,
			content:  string(content),
			mtime:    mtime,
			size:     int64(len(content)),
		}

		s.logger.Debug("downloaded",
			slog.String("path", path),
			slog.String("size", transferSize(content)),
		)
		return nil
	})

	downloaded := 0
	for i, outcome := range outcomes {
		if itemErrs[i] != nil {
			s.logger.Warn("download skipped",
				slog.String("id", string(ids[i])),
				slog.String("error", itemErrs[i].Error()),
			)
			continue
		}
		if outcome == nil {
			continue
		}

		stagedLocal.Track(outcome.id, outcome.path, LocalFileEntry{
			Checksum:     outcome.checksum,
			ModifiedTime: outcome.mtime,
			CachedMtime:  outcome.mtime,
			CachedSize:   outcome.size,
		})
		s.resetHistoryBaseline(outcome.id, outcome.content)
		downloaded++
	}

	return downloaded
}

// FullPush declares the vault wholly authoritative: every local file is
// uploaded, remote files with no local counterpart move to trash, both
// snapshots are rebuilt from scratch, and edit history is wiped (no
// incremental ancestor relationship survives a full resync).
func (s *Syncer) FullPush(ctx context.Context) error {
	if err := s.begin(StatePushing); err != nil {
		return err
	}

	err := s.fullPush(ctx)
	s.finish(err, nil)
	return err
}

func (s *Syncer) fullPush(ctx context.Context) error {
	local, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return fmt.Errorf("preparing full push: %w", err)
	}

	scan, err := s.scanner.Scan(local)
	if err != nil {
		return fmt.Errorf("preparing full push: %w", err)
	}

	existing, err := s.remoteFilesByPath(ctx)
	if err != nil {
		return fmt.Errorf("preparing full push: %w", err)
	}

	newLocal := NewLocalSyncMeta()
	newRemote := NewRemoteSyncMeta()

	paths := sortedKeys(scan.Files)
	outcomes := make([]*pushOutcome, len(paths))

	indexed := make([]int, len(paths))
	for i := range paths {
		indexed[i] = i
	}

	itemErrs := runBatched(ctx, indexed, s.batchSize, func(ctx context.Context, i int) error {
		path := paths[i]

		content, err := s.vault.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		var remoteFile RemoteFile
		if prior, ok := existing[path]; ok {
			remoteFile, err = s.remote.Update(ctx, prior.ID, content)
		} else {
			remoteFile, err = s.remote.Create(ctx, path, content, FolderRoot)
		}
		if err != nil {
			return err
		}

		id := remoteFile.ID
		if id == "" {
			id = existing[path].ID
		}

		outcomes[i] = &pushOutcome{
			item:     pushItem{id: id, path: path},
			id:       id,
			checksum: checksum.Sum(content),
			mtime:    scan.Files[path].Mtime,
			size:     scan.Files[path].Size,
		}
		return nil
	})

	uploaded := 0
	pushedPaths := make(map[string]bool, len(paths))
	for i, outcome := range outcomes {
		if itemErrs[i] != nil {
			s.logger.Warn("full push: upload skipped",
				slog.String("path", paths[i]),
				slog.String("error", itemErrs[i].Error()),
			)
			continue
		}
		if outcome == nil {
			continue
		}

		newRemote.Files[outcome.id] = RemoteFileRecord{
			ID:           outcome.id,
			Path:         outcome.item.path,
			Name:         outcome.item.path,
			Checksum:     outcome.checksum,
			ModifiedTime: outcome.mtime,
		}
		newLocal.Track(outcome.id, outcome.item.path, LocalFileEntry{
			Checksum:     outcome.checksum,
			ModifiedTime: outcome.mtime,
			CachedMtime:  outcome.mtime,
			CachedSize:   outcome.size,
		})
		pushedPaths[outcome.item.path] = true
		uploaded++
	}

	// Remote files the vault does not have move to trash.
	trashed := 0
	for _, path := range sortedKeys(existing) {
		if pushedPaths[path] {
			continue
		}
		if err := s.remote.Move(ctx, existing[path].ID, FolderTrash); err != nil {
			s.logger.Warn("full push: trash skipped",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		trashed++
	}

	newRemote.LastUpdatedAt = nowMillis()
	if err := saveRemoteMeta(ctx, s.remote, newRemote); err != nil {
		return fmt.Errorf("full push: %w", err)
	}

	newLocal.LastUpdatedAt = newRemote.LastUpdatedAt
	if err := SaveLocalMeta(s.vault.Dir(), newLocal); err != nil {
		return fmt.Errorf("full push: %w", err)
	}

	if err := s.history.ClearAll(); err != nil {
		s.logger.Warn("full push: clearing history failed", slog.String("error", err.Error()))
	}

	s.logger.Info("full push complete",
		slog.Int("uploaded", uploaded),
		slog.Int("trashed", trashed),
	)
	return nil
}

// FullPull declares the Drive wholly authoritative: every remote file is
// downloaded, local files with no remote counterpart move to the local
// trash, both snapshots are rebuilt, and edit history is wiped.
func (s *Syncer) FullPull(ctx context.Context) error {
	if err := s.begin(StatePulling); err != nil {
		return err
	}

	err := s.fullPull(ctx)
	s.finish(err, nil)
	return err
}

func (s *Syncer) fullPull(ctx context.Context) error {
	local, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return fmt.Errorf("preparing full pull: %w", err)
	}

	scan, err := s.scanner.Scan(local)
	if err != nil {
		return fmt.Errorf("preparing full pull: %w", err)
	}

	remoteFiles, err := s.remoteFilesByPath(ctx)
	if err != nil {
		return fmt.Errorf("preparing full pull: %w", err)
	}

	newLocal := NewLocalSyncMeta()
	newRemote := NewRemoteSyncMeta()

	paths := sortedKeys(remoteFiles)
	outcomes := make([]*pullOutcome, len(paths))

	indexed := make([]int, len(paths))
	for i := range paths {
		indexed[i] = i
	}

	itemErrs := runBatched(ctx, indexed, s.batchSize, func(ctx context.Context, i int) error {
		path := paths[i]
		record := remoteFiles[path]

		content, err := s.remote.Read(ctx, record.ID)
		if err != nil {
			return err
		}

		if err := s.vault.WriteFile(path, content, time.UnixMilli(record.ModifiedTime)); err != nil {
			return err
		}

		mtime := record.ModifiedTime
		if info, statErr := s.vault.Stat(path); statErr == nil {
			mtime = info.ModTime().UnixMilli()
		}

		outcomes[i] = &pullOutcome{
			id:       record.ID,
			path:     path,
			checksum: checksum.Sum(content),
			mtime:    mtime,
			size:     int64(len(content)),
		}
		return nil
	})

	downloaded := 0
	for i, outcome := range outcomes {
		if itemErrs[i] != nil {
			s.logger.Warn("full pull: download skipped",
				slog.String("path", paths[i]),
				slog.String("error", itemErrs[i].Error()),
			)
			continue
		}
		if outcome == nil {
			continue
		}

		newRemote.Files[outcome.id] = RemoteFileRecord{
			ID:           outcome.id,
			Path:         outcome.path,
			Name:         outcome.path,
			Checksum:     outcome.checksum,
			ModifiedTime: remoteFiles[outcome.path].ModifiedTime,
		}
		newLocal.Track(outcome.id, outcome.path, LocalFileEntry{
			Checksum:     outcome.checksum,
			ModifiedTime: outcome.mtime,
			CachedMtime:  outcome.mtime,
			CachedSize:   outcome.size,
		})
		downloaded++
	}

	// Local files the Drive does not have move to the local trash.
	removed := 0
	for _, path := range sortedKeys(scan.Files) {
		if _, onRemote := remoteFiles[path]; onRemote {
			continue
		}
		if err := s.vault.Trash(path); err != nil {
			s.logger.Warn("full pull: local trash failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	newLocal.LastUpdatedAt = nowMillis()
	if err := SaveLocalMeta(s.vault.Dir(), newLocal); err != nil {
		return fmt.Errorf("full pull: %w", err)
	}

	newRemote.LastUpdatedAt = newLocal.LastUpdatedAt
	if err := saveRemoteMeta(ctx, s.remote, newRemote); err != nil {
		return fmt.Errorf("full pull: %w", err)
	}

	if err := s.history.ClearAll(); err != nil {
		s.logger.Warn("full pull: clearing history failed", slog.String("error", err.Error()))
	}

	s.logger.Info("full pull complete",
		slog.Int("downloaded", downloaded),
		slog.Int("removed", removed),
	)
	return nil
}

// PurgeTrash permanently deletes everything in the Drive's trash folder
// and returns how many objects were removed. This is the only path that
// hard-deletes synced content, and it never runs implicitly. It takes
// the operation lock so a concurrent push cannot be moving files into
// the trash while it drains.
func (s *Syncer) PurgeTrash(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, errs.ErrSyncInProgress
	}
	defer s.running.Store(false)

	trashed, err := s.remote.List(ctx, FolderTrash)
	if err != nil {
		return 0, fmt.Errorf("listing trash: %w", err)
	}

	purged := 0
	for _, f := range trashed {
		if err := s.remote.Delete(ctx, f.ID); err != nil {
			s.logger.Warn("purge skipped",
				slog.String("name", f.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		purged++
	}

	s.logger.Info("trash purged", slog.Int("purged", purged), slog.Int("skipped", len(trashed)-purged))
	return purged, nil
}

// remoteFilesByPath resolves the Drive's current root contents, keyed by
// normalized path. The metadata document is preferred; a Drive without
// one (never synced, or document lost) falls back to listing the root
// folder directly.
func (s *Syncer) remoteFilesByPath(ctx context.Context) (map[string]RemoteFileRecord, error) {
	byPath := make(map[string]RemoteFileRecord)

	meta, err := loadRemoteMeta(ctx, s.remote)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		for _, record := range meta.Files {
			byPath[normalizePath(record.Path)] = record
		}
		return byPath, nil
	}

	listed, err := s.remote.List(ctx, FolderRoot)
	if err != nil {
		return nil, fmt.Errorf("listing drive root: %w", err)
	}
	for _, f := range listed {
		path := normalizePath(f.Name)
		byPath[path] = RemoteFileRecord{
			ID:           f.ID,
			Path:         path,
			Name:         path,
			Checksum:     f.Checksum,
			ModifiedTime: f.ModifiedTime,
		}
	}
	return byPath, nil
}

// RecordLocalEdit captures a just-edited file into its history chain.
// Called by the watcher after a write settles. A file with no snapshot
// yet gets one pinned without a history entry (there is nothing to diff
// against).
func (s *Syncer) RecordLocalEdit(relPath string) error {
	relPath = normalizePath(relPath)

	meta, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return err
	}

	id, tracked := meta.PathToID[relPath]
	if !tracked {
		return fmt.Errorf("%s: %w", relPath, errs.ErrUnknownFile)
	}

	content, err := s.vault.ReadFile(relPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", relPath, err)
	}

	before, hadSnapshot, err := s.history.Snapshot(string(id))
	if err != nil {
		return err
	}
	if !hadSnapshot {
		return s.history.SetSnapshot(string(id), string(content))
	}

	return s.history.RecordLocal(string(id), before, string(content))
}

// ReconstructAt returns the file's content as it stood steps history
// entries ago. steps <= 0 or beyond the chain folds the whole chain,
// landing just before the oldest recorded change.
func (s *Syncer) ReconstructAt(relPath string, steps int) (string, error) {
	relPath = normalizePath(relPath)

	meta, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return "", err
	}

	id, tracked := meta.PathToID[relPath]
	if !tracked {
		return "", fmt.Errorf("%s: %w", relPath, errs.ErrUnknownFile)
	}

	content, err := s.vault.ReadFile(relPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", relPath, err)
	}

	entries, err := s.history.Entries(string(id))
	if err != nil {
		return "", err
	}
	if steps > 0 && steps < len(entries) {
		entries = entries[:steps]
	}

	return history.Reconstruct(string(content), entries, s.patchOpts)
}

// FileHistory returns the recorded history entries for a vault path,
// newest first.
func (s *Syncer) FileHistory(relPath string) ([]history.Entry, error) {
	relPath = normalizePath(relPath)

	meta, err := LoadLocalMeta(s.vault.Dir())
	if err != nil {
		return nil, err
	}

	id, tracked := meta.PathToID[relPath]
	if !tracked {
		return nil, fmt.Errorf("%s: %w", relPath, errs.ErrUnknownFile)
	}

	return s.history.Entries(string(id))
}
