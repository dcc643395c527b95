package drive

// ComputeDiff classifies every file in the union of both metadata
// snapshots against the three-way ancestor model. modified maps each
// tracked id whose live content diverged from its ancestor checksum to
// that live checksum (precomputed by the caller from a vault scan).
//
// When remote is nil the Drive has never been synced: everything local
// is a push and no other category applies.
//
// Classification per id:
//   - local only, modified: edit-delete conflict
//   - local only, unmodified: localOnly (remote removed it earlier)
//   - both, modified, remote still equals ancestor: toPush
//   - both, unmodified, remote diverged from ancestor: toPull
//   - both, modified, remote diverged from ancestor: conflict
//   - remote only: remoteOnly
//
// Ids are visited in sorted order so identical inputs always produce
// identical results.
func ComputeDiff(local *LocalSyncMeta, remote *RemoteSyncMeta, modified map[FileID]string) *SyncDiff {
	diff := &SyncDiff{}

	if remote == nil {
		diff.ToPush = append(diff.ToPush, sortedKeys(local.Files)...)
		return diff
	}

	union := make(map[FileID]struct{}, len(local.Files)+len(remote.Files))
	for id := range local.Files {
		union[id] = struct{}{}
	}
	for id := range remote.Files {
		union[id] = struct{}{}
	}

	for _, id := range sortedKeys(union) {
		localEntry, inLocal := local.Files[id]
		remoteRecord, inRemote := remote.Files[id]
		_, isModified := modified[id]

		switch {
		case inLocal && !inRemote:
			if isModified {
				diff.EditDeleteConflicts = append(diff.EditDeleteConflicts, id)
			} else {
				diff.LocalOnly = append(diff.LocalOnly, id)
			}

		case !inLocal && inRemote:
			diff.RemoteOnly = append(diff.RemoteOnly, id)

		default:
			remoteDiverged := remoteRecord.Checksum != localEntry.Checksum

			switch {
			case isModified && !remoteDiverged:
				diff.ToPush = append(diff.ToPush, id)
			case !isModified && remoteDiverged:
				diff.ToPull = append(diff.ToPull, id)
			case isModified && remoteDiverged:
				name := remoteRecord.Name
				if name == "" {
					name = remoteRecord.Path
				}
				diff.Conflicts = append(diff.Conflicts, ConflictInfo{
					Kind:               NormalConflict,
					FileID:             id,
					FileName:           name,
					LocalChecksum:      modified[id],
					RemoteChecksum:     remoteRecord.Checksum,
					LocalModifiedTime:  localEntry.ModifiedTime,
					RemoteModifiedTime: remoteRecord.ModifiedTime,
				})
			}
			// Unmodified on both sides: no category.
		}
	}

	return diff
}
