package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftsync/internal/syftmsg"
)

const (
	owner    = "alice@example.com"
	neighbor = "bob@example.com"
)

func meta(path, hash string, size int64, mod time.Time) *syftmsg.FileMetadata {
	return &syftmsg.FileMetadata{
		Path:         path,
		Hash:         hash,
		FileSize:     size,
		LastModified: mod,
	}
}

func TestChangesRemoteOnlyIsPull(t *testing.T) {
	now := time.Now().UTC()
	remote := map[string]*syftmsg.FileMetadata{
		neighbor + "/public/data.csv": meta(neighbor+"/public/data.csv", "h1", 10, now),
	}

	ops := ComputeChanges(owner, nil, remote, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpPull, ops[0].Kind)
	assert.Equal(t, neighbor+"/public/data.csv", ops[0].Path)
}

func TestChangesDeletedLocallyIsRemoteDelete(t *testing.T) {
	now := time.Now().UTC()
	path := owner + "/notes.txt"
	remote := map[string]*syftmsg.FileMetadata{path: meta(path, "h1", 10, now)}
	deleted := map[string]bool{path: true}

	ops := ComputeChanges(owner, nil, remote, deleted)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDeleteRemote, ops[0].Kind)
}

func TestChangesLocalOnlyOwnedIsPush(t *testing.T) {
	now := time.Now().UTC()
	path := owner + "/notes.txt"
	local := map[string]*syftmsg.FileMetadata{path: meta(path, "h1", 10, now)}

	ops := ComputeChanges(owner, local, nil, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpPush, ops[0].Kind)
}

func TestChangesLocalOnlyForeignIsLocalDelete(t *testing.T) {
	// a neighbor's file with no remote counterpart was deleted (or hidden)
	// server-side; never push someone else's file back
	now := time.Now().UTC()
	path := neighbor + "/public/data.csv"
	local := map[string]*syftmsg.FileMetadata{path: meta(path, "h1", 10, now)}

	ops := ComputeChanges(owner, local, nil, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDeleteLocal, ops[0].Kind)
}

func TestChangesSameHashIsNoop(t *testing.T) {
	now := time.Now().UTC()
	path := owner + "/notes.txt"
	local := map[string]*syftmsg.FileMetadata{path: meta(path, "h1", 10, now)}
	remote := map[string]*syftmsg.FileMetadata{path: meta(path, "h1", 10, now.Add(time.Hour))}

	ops := ComputeChanges(owner, local, remote, nil)
	assert.Empty(t, ops)
}

func TestChangesConflictNewerWins(t *testing.T) {
	now := time.Now().UTC()
	path := owner + "/notes.txt"

	local := map[string]*syftmsg.FileMetadata{path: meta(path, "aaa", 10, now.Add(time.Second))}
	remote := map[string]*syftmsg.FileMetadata{path: meta(path, "bbb", 10, now)}
	ops := ComputeChanges(owner, local, remote, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpPush, ops[0].Kind, "strictly newer local copy wins")

	local[path] = meta(path, "aaa", 10, now)
	remote[path] = meta(path, "bbb", 10, now.Add(time.Second))
	ops = ComputeChanges(owner, local, remote, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpPull, ops[0].Kind, "strictly newer remote copy wins")
}

func TestChangesConflictTieBreaksOnHash(t *testing.T) {
	now := time.Now().UTC()
	path := owner + "/notes.txt"

	local := map[string]*syftmsg.FileMetadata{path: meta(path, "zzz", 10, now)}
	remote := map[string]*syftmsg.FileMetadata{path: meta(path, "aaa", 10, now)}
	ops := ComputeChanges(owner, local, remote, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpPush, ops[0].Kind)

	// both sides resolve the same tie to the same winner
	ops = ComputeChanges(neighbor, remote, local, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpPull, ops[0].Kind)
}

func TestChangesOrderingPermFilesFirst(t *testing.T) {
	now := time.Now().UTC()
	big := owner + "/data/huge.bin"
	small := owner + "/data/small.txt"
	perm := owner + "/data/syftperm.yaml"

	local := map[string]*syftmsg.FileMetadata{
		big:   meta(big, "h1", 50<<20, now),
		small: meta(small, "h2", 12, now),
		perm:  meta(perm, "h3", 200, now),
	}

	ops := ComputeChanges(owner, local, nil, nil)
	require.Len(t, ops, 3)
	assert.Equal(t, perm, ops[0].Path, "permission files drain first")
	assert.Equal(t, small, ops[1].Path, "then data files by ascending size")
	assert.Equal(t, big, ops[2].Path)
}

func TestOpPriorityCapsHugeFiles(t *testing.T) {
	now := time.Now().UTC()
	a := &Op{Kind: OpPush, Path: owner + "/a.bin", Local: meta(owner+"/a.bin", "h", 10<<30, now)}
	b := &Op{Kind: OpPush, Path: owner + "/b.bin", Local: meta(owner+"/b.bin", "h", 20<<30, now)}

	assert.Equal(t, a.Priority(), b.Priority(), "sizes beyond the cap rank equal")

	perm := &Op{Kind: OpPush, Path: owner + "/syftperm.yaml", Local: meta(owner+"/syftperm.yaml", "h", 10<<30, now)}
	assert.Less(t, perm.Priority(), a.Priority(), "even a huge permission file beats data")
}
