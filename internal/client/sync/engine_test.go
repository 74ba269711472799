package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *fakeTransport, string) {
	t.Helper()
	dir := t.TempDir()
	fake := newFakeTransport()
	e := NewEngine(owner, dir, fake)
	e.consumer.backoffBase = time.Millisecond
	return e, fake, dir
}

func TestEngineCyclePushesOwnedFiles(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	content := []byte("my new file")
	writeLocal(t, dir, owner+"/notes.txt", content)

	require.NoError(t, e.runCycle(context.Background()))

	got, ok := fake.content(owner + "/notes.txt")
	require.True(t, ok)
	assert.Equal(t, content, got)
}

func TestEngineCyclePullsRemoteFiles(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	content := []byte("shared data")
	fake.files[neighbor+"/public/data.csv"] = content

	require.NoError(t, e.runCycle(context.Background()))

	got, err := os.ReadFile(filepath.Join(dir, neighbor, "public", "data.csv"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEngineConvergedCycleIsQuiet(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	content := []byte("settled")
	writeLocal(t, dir, owner+"/notes.txt", content)

	require.NoError(t, e.runCycle(context.Background()))
	creates := fake.callCount("create")
	diffs := fake.callCount("apply_diff")

	require.NoError(t, e.runCycle(context.Background()))
	assert.Equal(t, creates, fake.callCount("create"))
	assert.Equal(t, diffs, fake.callCount("apply_diff"))
}

func TestEngineLocalDeleteReachesServer(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	relPath := owner + "/notes.txt"
	absPath := writeLocal(t, dir, relPath, []byte("doomed"))

	require.NoError(t, e.runCycle(context.Background()))
	_, ok := fake.content(relPath)
	require.True(t, ok)

	// the vanished path between two scans is the delete evidence
	require.NoError(t, os.Remove(absPath))
	require.NoError(t, e.runCycle(context.Background()))

	_, ok = fake.content(relPath)
	assert.False(t, ok, "local delete propagates to the server")
	assert.NoFileExists(t, absPath, "and the file is not pulled back")
}

func TestEngineServerDeleteReachesDisk(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	relPath := neighbor + "/public/data.csv"
	fake.files[relPath] = []byte("shared")

	require.NoError(t, e.runCycle(context.Background()))
	absPath := filepath.Join(dir, filepath.FromSlash(relPath))
	require.FileExists(t, absPath)

	fake.mu.Lock()
	delete(fake.files, relPath)
	fake.mu.Unlock()

	require.NoError(t, e.runCycle(context.Background()))
	assert.NoFileExists(t, absPath)
}

func TestEngineIgnoredFilesStayLocal(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	writeLocal(t, dir, owner+"/scratch.tmp", []byte("local only"))
	writeLocal(t, dir, owner+"/notes.txt", []byte("synced"))

	require.NoError(t, e.runCycle(context.Background()))

	_, ok := fake.content(owner + "/scratch.tmp")
	assert.False(t, ok)
	_, ok = fake.content(owner + "/notes.txt")
	assert.True(t, ok)
}

func TestEngineIgnoreRuleChangeTakesEffectMidRun(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	relPath := owner + "/secret.bin"
	absPath := writeLocal(t, dir, relPath, []byte("v1"))

	require.NoError(t, e.runCycle(context.Background()))
	_, ok := fake.content(relPath)
	require.True(t, ok)
	pushes := fake.callCount("create") + fake.callCount("apply_diff")

	// the user ignores the path between cycles; further edits stay local
	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte("**/secret.bin\n"), 0o644))
	require.NoError(t, os.WriteFile(absPath, []byte("v2"), 0o644))

	require.NoError(t, e.runCycle(context.Background()))
	assert.Equal(t, pushes, fake.callCount("create")+fake.callCount("apply_diff"))

	// the entry vanishing from the scan is not mistaken for a local delete
	assert.Zero(t, fake.callCount("delete"))
	got, _ := fake.content(relPath)
	assert.Equal(t, []byte("v1"), got)
}

func TestEnginePermFileSyncsBeforeData(t *testing.T) {
	e, fake, dir := newTestEngine(t)
	writeLocal(t, dir, owner+"/project/big.bin", make([]byte, 1<<16))
	writeLocal(t, dir, owner+"/project/syftperm.yaml", []byte("rules:\n  - pattern: '**'\n    access:\n      read:\n        - '*'\n"))

	require.NoError(t, e.runCycle(context.Background()))

	writes := fake.writeLog()
	require.Len(t, writes, 2)
	assert.Equal(t, owner+"/project/syftperm.yaml", writes[0], "the rule grant lands before the data it governs")
	assert.Equal(t, owner+"/project/big.bin", writes[1])
}
