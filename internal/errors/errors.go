package errors

import "errors"

// Sync lifecycle errors.
var (
	ErrSyncInProgress       = errors.New("sync already in progress")
	ErrRemoteChangesPending = errors.New("remote changes must be pulled before pushing")
	ErrConflictsPending     = errors.New("unresolved conflicts block this operation")
	ErrUnknownFile          = errors.New("file not tracked in sync metadata")
)

// Patch engine errors.
var (
	ErrBadHunk     = errors.New("malformed hunk")
	ErrPatchFailed = errors.New("patch did not apply cleanly")
)

// Remote store errors.
var (
	ErrNotFound = errors.New("not found on remote")
)
