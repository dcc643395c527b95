package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/drivesync/internal/checksum"
	errs "github.com/alexjbarnes/drivesync/internal/errors"
	"github.com/alexjbarnes/drivesync/internal/history"
)

// fakeObject is one object held by fakeRemote.
type fakeObject struct {
	name    string
	content []byte
	folder  Folder
	mtime   int64
}

// fakeRemote is an in-memory RemoteStore for end-to-end orchestrator
// tests. The gomock MockRemoteStore is used instead where a test needs
// to assert that specific calls do or do not happen.
type fakeRemote struct {
	mu       sync.Mutex
	objects  map[FileID]*fakeObject
	metaDocs map[string][]byte
	nextID   int

	// readErrs injects per-object read failures.
	readErrs map[FileID]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		objects:  make(map[FileID]*fakeObject),
		metaDocs: make(map[string][]byte),
		readErrs: make(map[FileID]error),
	}
}

var _ RemoteStore = (*fakeRemote)(nil)

func (f *fakeRemote) Create(_ context.Context, name string, content []byte, folder Folder) (RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := FileID(fmt.Sprintf("id-%d", f.nextID))
	obj := &fakeObject{
		name:    name,
		content: append([]byte(nil), content...),
		folder:  folder,
		mtime:   time.Now().UnixMilli(),
	}
	f.objects[id] = obj

	return f.recordLocked(id, obj), nil
}

func (f *fakeRemote) Update(_ context.Context, id FileID, content []byte) (RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[id]
	if !ok {
		return RemoteFile{}, errs.ErrNotFound
	}
	obj.content = append([]byte(nil), content...)
	obj.mtime = time.Now().UnixMilli()

	return f.recordLocked(id, obj), nil
}

func (f *fakeRemote) Read(_ context.Context, id FileID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.readErrs[id]; ok {
		return nil, err
	}
	obj, ok := f.objects[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), obj.content...), nil
}

func (f *fakeRemote) Delete(_ context.Context, id FileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.objects[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.objects, id)
	return nil
}

func (f *fakeRemote) Move(_ context.Context, id FileID, folder Folder) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[id]
	if !ok {
		return errs.ErrNotFound
	}
	obj.folder = folder
	return nil
}

func (f *fakeRemote) Rename(_ context.Context, id FileID, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[id]
	if !ok {
		return errs.ErrNotFound
	}
	obj.name = newName
	return nil
}

func (f *fakeRemote) List(_ context.Context, folder Folder) ([]RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []RemoteFile
	for _, id := range sortedKeys(f.objects) {
		obj := f.objects[id]
		if obj.folder != folder {
			continue
		}
		out = append(out, f.recordLocked(id, obj))
	}
	return out, nil
}

func (f *fakeRemote) Stat(_ context.Context, id FileID) (RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[id]
	if !ok {
		return RemoteFile{}, errs.ErrNotFound
	}
	return f.recordLocked(id, obj), nil
}

func (f *fakeRemote) ReadMetaDoc(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, ok := f.metaDocs[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (f *fakeRemote) WriteMetaDoc(_ context.Context, name string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.metaDocs[name] = append([]byte(nil), content...)
	return nil
}

func (f *fakeRemote) recordLocked(id FileID, obj *fakeObject) RemoteFile {
	return RemoteFile{
		ID:           id,
		Name:         obj.name,
		Checksum:     checksum.Sum(obj.content),
		ModifiedTime: obj.mtime,
		Folder:       obj.folder,
	}
}

// idByName finds an object id in the given folder by name.
func (f *fakeRemote) idByName(folder Folder, name string) (FileID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, obj := range f.objects {
		if obj.folder == folder && obj.name == name {
			return id, true
		}
	}
	return "", false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// baseExclusions hides only the sync's own directories, like the
// default settings predicate does.
func baseExclusions(relPath string) bool {
	return relPath == metaDirName || relPath == trashDir ||
		strings.HasPrefix(relPath, metaDirName+"/") ||
		strings.HasPrefix(relPath, trashDir+"/")
}

// newTestSyncer wires a Syncer over a temp vault, a fresh history store
// and the given remote.
func newTestSyncer(t *testing.T, remote RemoteStore) (*Syncer, *Vault) {
	t.Helper()

	vault := NewVault(t.TempDir())

	engine, err := checksum.NewEngine(64)
	require.NoError(t, err)

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	scanner := NewScanner(vault, engine, baseExclusions, testLogger())
	syncer := NewSyncer(vault, remote, scanner, hist, testLogger(), SyncerOptions{BatchSize: 2})

	t.Cleanup(syncer.Wait)

	return syncer, vault
}

// writeVaultFile writes content into the vault at relPath.
func writeVaultFile(t *testing.T, vault *Vault, relPath, content string) {
	t.Helper()
	require.NoError(t, vault.WriteFile(relPath, []byte(content), time.Time{}))
}

// seedSynced pushes the given files so the vault and remote share a
// clean baseline, then returns the path-to-id mapping.
func seedSynced(t *testing.T, syncer *Syncer, vault *Vault, files map[string]string) map[string]FileID {
	t.Helper()

	for path, content := range files {
		writeVaultFile(t, vault, path, content)
	}
	require.NoError(t, syncer.Push(context.Background()))

	meta, err := LoadLocalMeta(vault.Dir())
	require.NoError(t, err)

	ids := make(map[string]FileID, len(files))
	for path := range files {
		id, ok := meta.PathToID[path]
		require.True(t, ok, "path %q should be tracked after seed push", path)
		ids[path] = id
	}
	return ids
}
