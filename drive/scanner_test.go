package drive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/drivesync/internal/checksum"
)

func newTestScanner(t *testing.T) (*Scanner, *Vault) {
	t.Helper()

	vault := NewVault(t.TempDir())
	engine, err := checksum.NewEngine(64)
	require.NoError(t, err)

	return NewScanner(vault, engine, baseExclusions, testLogger()), vault
}

func TestScanner_Scan(t *testing.T) {
	scanner, vault := newTestScanner(t)

	writeVaultFile(t, vault, "notes/a.md", "alpha\n")
	writeVaultFile(t, vault, "notes/deep/b.md", "beta\n")
	writeVaultFile(t, vault, ".drivesync/meta.json", "{}")
	writeVaultFile(t, vault, ".trash/old.md", "gone\n")

	scan, err := scanner.Scan(NewLocalSyncMeta())
	require.NoError(t, err)

	require.Len(t, scan.Files, 2)
	assert.Contains(t, scan.Files, "notes/a.md")
	assert.Contains(t, scan.Files, "notes/deep/b.md")

	a := scan.Files["notes/a.md"]
	assert.Equal(t, checksum.Sum([]byte("alpha\n")), a.Checksum)
	assert.Equal(t, int64(len("alpha\n")), a.Size)
	assert.NotZero(t, a.Mtime)
}

func TestScanner_ScanUsesPersistedCache(t *testing.T) {
	scanner, vault := newTestScanner(t)

	writeVaultFile(t, vault, "a.md", "live content\n")
	info, err := vault.Stat("a.md")
	require.NoError(t, err)

	// The persisted entry claims a checksum that does not match the live
	// bytes but whose stat signature does match, so the scanner must trust
	// it without re-hashing.
	meta := NewLocalSyncMeta()
	meta.Track("f1", "a.md", LocalFileEntry{
		Checksum:    "ancestor-checksum",
		CachedMtime: info.ModTime().UnixMilli(),
		CachedSize:  info.Size(),
	})

	scan, err := scanner.Scan(meta)
	require.NoError(t, err)
	assert.Equal(t, "ancestor-checksum", scan.Files["a.md"].Checksum)

	// Invalidate the signature: the live checksum must win.
	stale := NewLocalSyncMeta()
	stale.Track("f1", "a.md", LocalFileEntry{
		Checksum:    "ancestor-checksum",
		CachedMtime: info.ModTime().UnixMilli() - 1000,
		CachedSize:  info.Size(),
	})

	scan, err = scanner.Scan(stale)
	require.NoError(t, err)
	assert.Equal(t, checksum.Sum([]byte("live content\n")), scan.Files["a.md"].Checksum)
}

func TestDetectChanges(t *testing.T) {
	scanner, vault := newTestScanner(t)

	writeVaultFile(t, vault, "kept.md", "unchanged\n")
	writeVaultFile(t, vault, "edited.md", "new body\n")
	writeVaultFile(t, vault, "fresh.md", "brand new\n")

	meta := NewLocalSyncMeta()
	meta.Track("id-kept", "kept.md", LocalFileEntry{Checksum: checksum.Sum([]byte("unchanged\n"))})
	meta.Track("id-edited", "edited.md", LocalFileEntry{Checksum: checksum.Sum([]byte("old body\n"))})
	meta.Track("id-gone", "gone.md", LocalFileEntry{Checksum: checksum.Sum([]byte("deleted\n"))})

	scan, err := scanner.Scan(NewLocalSyncMeta())
	require.NoError(t, err)

	changes := DetectChanges(scan, meta)

	assert.Equal(t, map[FileID]string{
		"id-edited": checksum.Sum([]byte("new body\n")),
	}, changes.Modified)
	assert.Equal(t, []string{"fresh.md"}, changes.NewPaths)
	assert.Equal(t, []FileID{"id-gone"}, changes.DeletedIDs)
	assert.Empty(t, changes.Renames)
}

func TestDetectChanges_RenameDetection(t *testing.T) {
	scanner, vault := newTestScanner(t)

	// moved.md vanished; relocated.md appeared with identical content.
	writeVaultFile(t, vault, "relocated.md", "same bytes\n")

	meta := NewLocalSyncMeta()
	meta.Track("id-moved", "moved.md", LocalFileEntry{Checksum: checksum.Sum([]byte("same bytes\n"))})

	scan, err := scanner.Scan(NewLocalSyncMeta())
	require.NoError(t, err)

	changes := DetectChanges(scan, meta)

	require.Len(t, changes.Renames, 1)
	assert.Equal(t, RenamePair{ID: "id-moved", OldPath: "moved.md", NewPath: "relocated.md"}, changes.Renames[0])
	assert.Empty(t, changes.NewPaths, "the rename target must leave the new set")
	assert.Empty(t, changes.DeletedIDs, "the rename source must leave the deleted set")
}

func TestDetectChanges_RenameCandidateUsedOnce(t *testing.T) {
	scanner, vault := newTestScanner(t)

	// Two tracked files with the same content vanished; only one new path
	// holds that content. Exactly one rename pairs up, the other file is a
	// plain deletion.
	writeVaultFile(t, vault, "survivor.md", "duplicate\n")

	sum := checksum.Sum([]byte("duplicate\n"))
	meta := NewLocalSyncMeta()
	meta.Track("id-a", "a.md", LocalFileEntry{Checksum: sum})
	meta.Track("id-b", "b.md", LocalFileEntry{Checksum: sum})

	scan, err := scanner.Scan(NewLocalSyncMeta())
	require.NoError(t, err)

	changes := DetectChanges(scan, meta)

	require.Len(t, changes.Renames, 1)
	assert.Equal(t, "survivor.md", changes.Renames[0].NewPath)
	require.Len(t, changes.DeletedIDs, 1)
	assert.NotEqual(t, changes.Renames[0].ID, changes.DeletedIDs[0])
	assert.Empty(t, changes.NewPaths)
}

func TestScanner_ScanKeepsVaultTimestamps(t *testing.T) {
	scanner, vault := newTestScanner(t)

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, vault.WriteFile("dated.md", []byte("x\n"), stamp))

	scan, err := scanner.Scan(NewLocalSyncMeta())
	require.NoError(t, err)

	assert.Equal(t, stamp.UnixMilli(), scan.Files["dated.md"].Mtime)
}
