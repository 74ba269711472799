package sync

import (
	"sort"

	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// ComputeChanges reconciles a local and a remote metadata view into the
// operations that make them converge.
//
// deletedLocally names paths the engine saw disappear from disk since the
// last scan; without that evidence, a path present only remotely is a pull,
// never a remote delete.
//
// The result is ordered: permission files first, then data files, each class
// by ascending size. This matches the queue's priority, so enqueueing the
// slice preserves the order.
func ComputeChanges(owner string, local, remote map[string]*syftmsg.FileMetadata, deletedLocally map[string]bool) []*Op {
	var ops []*Op

	seen := make(map[string]bool, len(local)+len(remote))
	for path := range local {
		seen[path] = true
	}
	for path := range remote {
		seen[path] = true
	}

	for path := range seen {
		op := changeFor(owner, path, local[path], remote[path], deletedLocally[path])
		if op != nil {
			ops = append(ops, op)
		}
	}

	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Priority() < ops[j].Priority()
	})
	return ops
}

func changeFor(owner, path string, local, remote *syftmsg.FileMetadata, deletedLocally bool) *Op {
	switch {
	case local == nil && remote != nil:
		if deletedLocally {
			return &Op{Kind: OpDeleteRemote, Path: path, Remote: remote}
		}
		return &Op{Kind: OpPull, Path: path, Remote: remote}

	case local != nil && remote == nil:
		if utils.PathOwner(path) == owner {
			return &Op{Kind: OpPush, Path: path, Local: local}
		}
		// another datasite's file with no remote counterpart: the server
		// deleted it (or revoked read), so it goes locally too
		return &Op{Kind: OpDeleteLocal, Path: path, Local: local}

	case local != nil && remote != nil:
		if local.Hash == remote.Hash {
			return nil
		}
		if localWins(local, remote) {
			return &Op{Kind: OpPush, Path: path, Local: local, Remote: remote}
		}
		return &Op{Kind: OpPull, Path: path, Local: local, Remote: remote}
	}
	return nil
}

// localWins resolves a concurrent edit: strictly newer last_modified wins,
// and equal timestamps fall back to comparing hashes, which is stable and
// never a tie when the contents differ.
func localWins(local, remote *syftmsg.FileMetadata) bool {
	if local.LastModified.After(remote.LastModified) {
		return true
	}
	if remote.LastModified.After(local.LastModified) {
		return false
	}
	return local.Hash > remote.Hash
}
