package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanHashesFiles(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello sync")
	writeLocal(t, dir, owner+"/notes.txt", content)

	state := NewLocalState(dir, nil)
	scanned, err := state.Scan()
	require.NoError(t, err)
	require.Len(t, scanned, 1)

	meta := scanned[owner+"/notes.txt"]
	require.NotNil(t, meta)
	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.Hash)
	assert.Equal(t, int64(len(content)), meta.FileSize)
	assert.NotEmpty(t, meta.Signature)
}

func TestScanReusesUnchangedEntries(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, owner+"/notes.txt", []byte("stable content"))

	state := NewLocalState(dir, nil)
	first, err := state.Scan()
	require.NoError(t, err)
	second, err := state.Scan()
	require.NoError(t, err)

	// same size and mtime skip the rehash, returning the cached metadata
	assert.Same(t, first[owner+"/notes.txt"], second[owner+"/notes.txt"])
}

func TestScanDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	absPath := writeLocal(t, dir, owner+"/notes.txt", []byte("before"))

	state := NewLocalState(dir, nil)
	first, err := state.Scan()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(absPath, []byte("after, and longer"), 0o644))
	second, err := state.Scan()
	require.NoError(t, err)

	assert.NotEqual(t, first[owner+"/notes.txt"].Hash, second[owner+"/notes.txt"].Hash)
}

func TestScanRespectsIgnoreRules(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, owner+"/keep.txt", []byte("keep"))
	writeLocal(t, dir, owner+"/skip.tmp", []byte("skip"))
	writeLocal(t, dir, owner+"/logs/app.log", []byte("skip"))

	state := NewLocalState(dir, NewIgnoreList(dir))
	scanned, err := state.Scan()
	require.NoError(t, err)

	assert.Contains(t, scanned, owner+"/keep.txt")
	assert.NotContains(t, scanned, owner+"/skip.tmp")
	assert.NotContains(t, scanned, owner+"/logs/app.log")
}

func TestRescanPathRemovesMissingEntry(t *testing.T) {
	dir := t.TempDir()
	relPath := owner + "/notes.txt"
	absPath := writeLocal(t, dir, relPath, []byte("content"))

	state := NewLocalState(dir, nil)
	_, err := state.Scan()
	require.NoError(t, err)

	require.NoError(t, os.Remove(absPath))
	meta, err := state.RescanPath(relPath)
	require.NoError(t, err)
	assert.Nil(t, meta)

	_, ok := state.Cached(relPath)
	assert.False(t, ok)
}

func TestScanReturnsSnapshot(t *testing.T) {
	dir := t.TempDir()
	relPath := owner + "/notes.txt"
	writeLocal(t, dir, relPath, []byte("content"))

	state := NewLocalState(dir, nil)
	snapshot, err := state.Scan()
	require.NoError(t, err)

	state.Forget(relPath)
	assert.Contains(t, snapshot, relPath, "cache mutations must not leak into a returned scan")
}

func TestScanSkipsIgnoredDirsEntirely(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, owner+"/venv/lib/big.bin", []byte("skip"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, owner, ".git"), 0o755))

	state := NewLocalState(dir, NewIgnoreList(dir))
	scanned, err := state.Scan()
	require.NoError(t, err)
	assert.Empty(t, scanned)
}
