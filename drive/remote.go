package drive

import "context"

// Folder names a Drive container. The sync never hard-deletes: removed
// files move to the trash folder and pre-resolution copies of conflicted
// files go to the backup folder.
type Folder string

const (
	FolderRoot   Folder = "root"
	FolderTrash  Folder = "trash"
	FolderBackup Folder = "backup"
)

// RemoteFile is the Drive's own description of one stored object. Name
// is the vault-relative path the object was stored under.
type RemoteFile struct {
	ID           FileID
	Name         string
	Checksum     string
	ModifiedTime int64
	Folder       Folder
}

// RemoteStore is the narrow Drive surface the sync core consumes. All
// calls are blocking; timeouts are the implementation's responsibility.
// Missing objects and missing metadata documents are reported with
// errors.ErrNotFound.
//
//go:generate mockgen -source=remote.go -destination=mock_remote_test.go -package=drive
type RemoteStore interface {
	// Create stores a new object and returns its Drive-assigned record.
	Create(ctx context.Context, name string, content []byte, folder Folder) (RemoteFile, error)

	// Update replaces an existing object's content.
	Update(ctx context.Context, id FileID, content []byte) (RemoteFile, error)

	// Read fetches an object's raw content.
	Read(ctx context.Context, id FileID) ([]byte, error)

	// Delete permanently removes an object. Only trash purging uses
	// this; ordinary removal moves to FolderTrash instead.
	Delete(ctx context.Context, id FileID) error

	// Move relocates an object to another folder, keeping its id.
	Move(ctx context.Context, id FileID, folder Folder) error

	// Rename changes an object's stored name, keeping its id.
	Rename(ctx context.Context, id FileID, newName string) error

	// List enumerates the objects in a folder.
	List(ctx context.Context, folder Folder) ([]RemoteFile, error)

	// Stat resolves one object's current record.
	Stat(ctx context.Context, id FileID) (RemoteFile, error)

	// ReadMetaDoc fetches a small JSON metadata document by well-known
	// name.
	ReadMetaDoc(ctx context.Context, name string) ([]byte, error)

	// WriteMetaDoc stores a metadata document, replacing any previous
	// version.
	WriteMetaDoc(ctx context.Context, name string, content []byte) error
}
