package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	errs "github.com/alexjbarnes/drivesync/internal/errors"
)

const (
	// metaDirName is the vault subdirectory holding sync state. Always
	// excluded from scanning.
	metaDirName = ".drivesync"

	localMetaFile = "meta.json"

	// remoteMetaDoc is the well-known name of the Drive-side metadata
	// document.
	remoteMetaDoc = "drivesync-meta.json"
)

// LoadLocalMeta reads the persisted local snapshot from the vault's
// metadata directory. A missing file yields a fresh empty snapshot. The
// PathToID invariant is repaired on load.
func LoadLocalMeta(vaultDir string) (*LocalSyncMeta, error) {
	path := filepath.Join(vaultDir, metaDirName, localMetaFile)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLocalSyncMeta(), nil
		}
		return nil, fmt.Errorf("reading local meta: %w", err)
	}

	meta := &LocalSyncMeta{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("decoding local meta: %w", err)
	}
	meta.repair()

	return meta, nil
}

// SaveLocalMeta persists the local snapshot atomically: written to a
// temp file in the same directory, then renamed over the previous
// version, so a crash mid-write leaves the old snapshot intact.
func SaveLocalMeta(vaultDir string, meta *LocalSyncMeta) error {
	dir := filepath.Join(vaultDir, metaDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating meta directory: %w", err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding local meta: %w", err)
	}

	tmp, err := os.CreateTemp(dir, localMetaFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp meta file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp meta file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp meta file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, localMetaFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing local meta: %w", err)
	}

	return nil
}

// loadRemoteMeta fetches the Drive-side snapshot. A Drive that has never
// been synced has no metadata document; that case returns (nil, nil) and
// callers treat it as a first sync.
func loadRemoteMeta(ctx context.Context, store RemoteStore) (*RemoteSyncMeta, error) {
	raw, err := store.ReadMetaDoc(ctx, remoteMetaDoc)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading remote meta: %w", err)
	}

	meta := &RemoteSyncMeta{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("decoding remote meta: %w", err)
	}
	if meta.Files == nil {
		meta.Files = make(map[FileID]RemoteFileRecord)
	}

	return meta, nil
}

// saveRemoteMeta writes the Drive-side snapshot document.
func saveRemoteMeta(ctx context.Context, store RemoteStore, meta *RemoteSyncMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding remote meta: %w", err)
	}

	if err := store.WriteMetaDoc(ctx, remoteMetaDoc, raw); err != nil {
		return fmt.Errorf("writing remote meta: %w", err)
	}

	return nil
}
