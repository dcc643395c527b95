package drive

import (
	"cmp"
	"slices"
	"time"
)

// FileID is the opaque identifier the Drive assigns to every object. It
// is the unit of identity across both metadata snapshots.
type FileID string

// RemoteFileRecord mirrors one Drive object into the remote metadata
// snapshot. Timestamps are unix milliseconds.
type RemoteFileRecord struct {
	ID           FileID `json:"id"`
	Path         string `json:"path"`
	Name         string `json:"name"`
	Checksum     string `json:"checksum"`
	ModifiedTime int64  `json:"modifiedTime"`
}

// RemoteSyncMeta is the Drive's authoritative file set. It is read fresh
// at the start of every sync operation and written back after every
// successful push.
type RemoteSyncMeta struct {
	LastUpdatedAt int64                       `json:"lastUpdatedAt"`
	Files         map[FileID]RemoteFileRecord `json:"files"`
}

// NewRemoteSyncMeta returns an empty remote snapshot.
func NewRemoteSyncMeta() *RemoteSyncMeta {
	return &RemoteSyncMeta{Files: make(map[FileID]RemoteFileRecord)}
}

// LocalFileEntry records the common ancestor state of one file: the
// content as it stood at the last successful sync. Checksum here is
// neither "current local" nor "current remote" but the last agreed
// state, which is what makes three-way classification possible.
//
// CachedMtime and CachedSize are a hashing shortcut only: when a file's
// stat still matches them, its live checksum is known to equal Checksum
// without re-reading the file. Never a correctness requirement.
type LocalFileEntry struct {
	Checksum     string `json:"checksum"`
	ModifiedTime int64  `json:"modifiedTime"`
	CachedMtime  int64  `json:"cachedMtime,omitempty"`
	CachedSize   int64  `json:"cachedSize,omitempty"`
}

// LocalSyncMeta is the locally persisted sync state. PathToID is a
// secondary index over Files; every path maps to a tracked FileID and no
// two paths share one.
type LocalSyncMeta struct {
	LastUpdatedAt int64                     `json:"lastUpdatedAt"`
	Files         map[FileID]LocalFileEntry `json:"files"`
	PathToID      map[string]FileID         `json:"pathToId"`
}

// NewLocalSyncMeta returns an empty local snapshot.
func NewLocalSyncMeta() *LocalSyncMeta {
	return &LocalSyncMeta{
		Files:    make(map[FileID]LocalFileEntry),
		PathToID: make(map[string]FileID),
	}
}

// Clone deep-copies the snapshot. Push and pull stage their metadata
// changes on a clone and swap it in only after every transfer step has
// resolved, so a mid-batch failure cannot leave a half-updated snapshot.
func (m *LocalSyncMeta) Clone() *LocalSyncMeta {
	out := &LocalSyncMeta{
		LastUpdatedAt: m.LastUpdatedAt,
		Files:         make(map[FileID]LocalFileEntry, len(m.Files)),
		PathToID:      make(map[string]FileID, len(m.PathToID)),
	}
	for id, entry := range m.Files {
		out.Files[id] = entry
	}
	for path, id := range m.PathToID {
		out.PathToID[path] = id
	}
	return out
}

// Clone deep-copies the snapshot.
func (m *RemoteSyncMeta) Clone() *RemoteSyncMeta {
	out := &RemoteSyncMeta{
		LastUpdatedAt: m.LastUpdatedAt,
		Files:         make(map[FileID]RemoteFileRecord, len(m.Files)),
	}
	for id, record := range m.Files {
		out.Files[id] = record
	}
	return out
}

// PathFor returns the tracked path of a FileID.
func (m *LocalSyncMeta) PathFor(id FileID) (string, bool) {
	for path, candidate := range m.PathToID {
		if candidate == id {
			return path, true
		}
	}
	return "", false
}

// Track records (or replaces) the entry and path mapping for a file. Any
// previous path pointing at the same id is dropped, keeping PathToID a
// bijection.
func (m *LocalSyncMeta) Track(id FileID, path string, entry LocalFileEntry) {
	if old, ok := m.PathFor(id); ok && old != path {
		delete(m.PathToID, old)
	}
	m.Files[id] = entry
	m.PathToID[path] = id
}

// Untrack removes a file and its path mapping.
func (m *LocalSyncMeta) Untrack(id FileID) {
	if path, ok := m.PathFor(id); ok {
		delete(m.PathToID, path)
	}
	delete(m.Files, id)
}

// MovePath updates the path index for a rename without touching the
// ancestor entry.
func (m *LocalSyncMeta) MovePath(id FileID, newPath string) {
	if old, ok := m.PathFor(id); ok {
		delete(m.PathToID, old)
	}
	m.PathToID[newPath] = id
}

// repair restores the PathToID invariant after loading from disk:
// mappings to untracked ids are dropped, and when two paths claim one id
// only the first (in sorted order, for determinism) survives.
func (m *LocalSyncMeta) repair() {
	if m.Files == nil {
		m.Files = make(map[FileID]LocalFileEntry)
	}
	if m.PathToID == nil {
		m.PathToID = make(map[string]FileID)
	}

	claimed := make(map[FileID]string, len(m.PathToID))
	for _, path := range sortedKeys(m.PathToID) {
		id := m.PathToID[path]
		if _, tracked := m.Files[id]; !tracked {
			delete(m.PathToID, path)
			continue
		}
		if first, dup := claimed[id]; dup && first != path {
			delete(m.PathToID, path)
			continue
		}
		claimed[id] = path
	}
}

// ConflictKind distinguishes the two conflict variants. They resolve
// through the same two choices but with different mechanics, so the kind
// is carried explicitly rather than inferred.
type ConflictKind int

const (
	// NormalConflict: both sides changed the file independently.
	NormalConflict ConflictKind = iota

	// EditDeleteConflict: the file was edited locally but no longer
	// exists on the Drive.
	EditDeleteConflict
)

func (k ConflictKind) String() string {
	switch k {
	case NormalConflict:
		return "conflict"
	case EditDeleteConflict:
		return "edit-delete"
	default:
		return "unknown"
	}
}

// ConflictInfo describes one unresolved conflict. Ephemeral: produced by
// diff computation, consumed by resolution, never persisted.
type ConflictInfo struct {
	Kind               ConflictKind
	FileID             FileID
	FileName           string
	LocalChecksum      string
	RemoteChecksum     string
	LocalModifiedTime  int64
	RemoteModifiedTime int64
}

// SyncDiff is the classification of every tracked and untracked file for
// one sync pass. Recomputed every pass, never persisted.
type SyncDiff struct {
	ToPush              []FileID
	ToPull              []FileID
	LocalOnly           []FileID
	RemoteOnly          []FileID
	Conflicts           []ConflictInfo
	EditDeleteConflicts []FileID
}

// Empty reports whether no category has entries.
func (d *SyncDiff) Empty() bool {
	return len(d.ToPush) == 0 && len(d.ToPull) == 0 &&
		len(d.LocalOnly) == 0 && len(d.RemoteOnly) == 0 &&
		len(d.Conflicts) == 0 && len(d.EditDeleteConflicts) == 0
}

// BlocksPush reports whether the Drive holds any change the local side
// has not absorbed. Pushing while this is true would silently overwrite
// the remote snapshot, so push refuses before mutating anything.
func (d *SyncDiff) BlocksPush() bool {
	return len(d.Conflicts) > 0 || len(d.EditDeleteConflicts) > 0 ||
		len(d.ToPull) > 0 || len(d.RemoteOnly) > 0
}

// SyncState is the orchestrator's externally visible state.
type SyncState string

const (
	StateIdle     SyncState = "idle"
	StatePushing  SyncState = "pushing"
	StatePulling  SyncState = "pulling"
	StateConflict SyncState = "conflict"
	StateError    SyncState = "error"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// sortedKeys returns a map's keys in sorted order. Classification and
// repair iterate maps through this so results never depend on Go's map
// iteration order.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
