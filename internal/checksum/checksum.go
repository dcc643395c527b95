// Package checksum computes content checksums for sync comparison.
//
// Checksums are MD5 hex digests. MD5 is used for change detection, not
// for any security property, so collision resistance is not required.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Sum returns the lowercase hex MD5 digest of content.
func Sum(content []byte) string {
	digest := md5.Sum(content)
	return hex.EncodeToString(digest[:])
}

// SumReader hashes everything readable from r.
func SumReader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type memoKey struct {
	path  string
	mtime int64
	size  int64
}

// Engine hashes files on disk with an in-process memo. The memo is keyed
// by path, mtime and size, so a file is only re-read when its stat
// signature changes. A second, persisted cache tier lives in the local
// sync metadata and is consulted by the scanner before reaching here.
type Engine struct {
	memo *lru.Cache[memoKey, string]
}

// NewEngine creates an Engine whose memo holds up to capacity entries.
func NewEngine(capacity int) (*Engine, error) {
	memo, err := lru.New[memoKey, string](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating checksum memo: %w", err)
	}
	return &Engine{memo: memo}, nil
}

// File returns the checksum of the file at absPath. info must be a fresh
// stat result for the same path; its mtime and size key the memo.
func (e *Engine) File(absPath string, info fs.FileInfo) (string, error) {
	key := memoKey{
		path:  absPath,
		mtime: info.ModTime().UnixNano(),
		size:  info.Size(),
	}
	if sum, ok := e.memo.Get(key); ok {
		return sum, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", absPath, err)
	}
	defer f.Close()

	sum, err := SumReader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", absPath, err)
	}

	e.memo.Add(key, sum)

	return sum, nil
}

// Forget drops any memoized checksum for absPath. Called after writes the
// engine itself performs, where the stat signature may be unchanged (the
// filesystem's mtime granularity can hide rapid rewrites).
func (e *Engine) Forget(absPath string) {
	for _, key := range e.memo.Keys() {
		if key.path == absPath {
			e.memo.Remove(key)
		}
	}
}
