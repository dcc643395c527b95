// Package history persists per-file edit history as chains of diffs and
// reconstructs earlier file states by folding those chains against the
// current content.
//
// Entries are stored newest first. A "local" entry was captured right
// after a local edit and is pre-inverted (new to old, an undo patch); a
// "remote" entry was captured at push time in its natural direction (old
// to new). History is a log of changes not yet folded into a confirmed
// synced baseline: it is cleared per file whenever that file is pushed,
// pulled, deleted, or has a conflict resolved.
package history

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/drivesync/internal/patch"
)

const (
	historyDirPerm  = fs.FileMode(0o700)
	historyFilePerm = fs.FileMode(0o600)

	// openTimeout bounds the wait for the bolt file lock.
	openTimeout = 5 * time.Second
)

var (
	historyBucket  = []byte("history")
	snapshotBucket = []byte("snapshots")
)

// Origin says which side produced a history entry.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Entry is one recorded change for a file.
type Entry struct {
	Diff       string    `json:"diff"`
	Origin     Origin    `json:"origin"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store is a bbolt-backed edit-history database. Alongside the diff
// chains it keeps one content snapshot per file: the content as of the
// newest recorded entry, used as the "before" side when the next change
// is captured.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), historyDirPerm); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := bolt.Open(path, historyFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(historyBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Entries returns the recorded history for fileID, newest first. A file
// with no history returns an empty slice.
func (s *Store) Entries(fileID string) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(historyBucket).Get([]byte(fileID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", fileID, err)
	}

	return entries, nil
}

// RecordLocal captures a local edit that moved the file from before to
// after. The stored diff is inverted (after to before) so replaying it
// undoes the edit. Identical content records nothing.
func (s *Store) RecordLocal(fileID, before, after string) error {
	diff := patch.Diff(after, before)
	if diff == "" {
		return nil
	}
	return s.prepend(fileID, Entry{
		Diff:       diff,
		Origin:     OriginLocal,
		RecordedAt: time.Now().UTC(),
	}, after)
}

// RecordRemote captures a change pushed to the remote, stored in its
// natural old-to-new direction. Identical content records nothing.
func (s *Store) RecordRemote(fileID, before, after string) error {
	diff := patch.Diff(before, after)
	if diff == "" {
		return nil
	}
	return s.prepend(fileID, Entry{
		Diff:       diff,
		Origin:     OriginRemote,
		RecordedAt: time.Now().UTC(),
	}, after)
}

// prepend inserts e at the head of fileID's chain and advances the
// snapshot to the entry's "after" content in the same transaction.
func (s *Store) prepend(fileID string, e Entry, after string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(historyBucket)
		key := []byte(fileID)

		var entries []Entry
		if raw := bucket.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &entries); err != nil {
				return fmt.Errorf("decoding existing chain: %w", err)
			}
		}

		entries = append([]Entry{e}, entries...)

		raw, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("encoding chain: %w", err)
		}
		if err := bucket.Put(key, raw); err != nil {
			return err
		}

		return tx.Bucket(snapshotBucket).Put(key, []byte(after))
	})
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", fileID, err)
	}

	return nil
}

// Clear drops the history chain and snapshot for one file.
func (s *Store) Clear(fileID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(historyBucket).Delete([]byte(fileID)); err != nil {
			return err
		}
		return tx.Bucket(snapshotBucket).Delete([]byte(fileID))
	})
	if err != nil {
		return fmt.Errorf("clearing history for %s: %w", fileID, err)
	}

	return nil
}

// ClearAll wipes every chain and snapshot. Used by full push and full
// pull, where no incremental ancestor relationship survives.
func (s *Store) ClearAll() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{historyBucket, snapshotBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}

	return nil
}

// Snapshot returns the content recorded as of fileID's newest entry. The
// second return is false when no snapshot exists.
func (s *Store) Snapshot(fileID string) (string, bool, error) {
	var content string
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(snapshotBucket).Get([]byte(fileID))
		if raw == nil {
			return nil
		}
		content = string(raw)
		found = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading snapshot for %s: %w", fileID, err)
	}

	return content, found, nil
}

// SetSnapshot records content as fileID's current baseline without
// adding a history entry. Used when a sync establishes a fresh ancestor.
func (s *Store) SetSnapshot(fileID, content string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(fileID), []byte(content))
	})
	if err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", fileID, err)
	}

	return nil
}

// Reconstruct folds entries (newest first) over current, walking the file
// backward in time. Folding the full chain reproduces the content just
// before the oldest entry; folding a prefix reproduces the corresponding
// intermediate state. An empty chain returns current unchanged.
func Reconstruct(current string, entries []Entry, opts patch.Options) (string, error) {
	content := current

	for i, e := range entries {
		var err error
		switch e.Origin {
		case OriginRemote:
			// Stored old to new: undoing means reverse-applying.
			content, _, err = patch.ReverseApply(content, e.Diff, opts)
		case OriginLocal:
			// Stored pre-inverted: applying directly undoes the edit.
			content, _, err = patch.Apply(content, e.Diff, opts)
		default:
			return "", fmt.Errorf("entry %d: unknown origin %q", i, e.Origin)
		}
		if err != nil {
			return "", fmt.Errorf("folding entry %d (%s): %w", i, e.Origin, err)
		}
	}

	return content, nil
}
