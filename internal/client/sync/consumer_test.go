package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftsync/internal/delta"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/syftsdk"
	"github.com/openmined/syftsync/internal/utils"
)

// fakeTransport is an in-memory server: content keyed by relative path, with
// real diffs and the same error sentinels the SDK surfaces.
type fakeTransport struct {
	mu       sync.Mutex
	files    map[string][]byte
	calls    map[string]int
	failures map[string]int // injected transient failures per method
	errs     map[string]error
	writes   []string // paths in the order mutating calls landed
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		files:    make(map[string][]byte),
		calls:    make(map[string]int),
		failures: make(map[string]int),
		errs:     make(map[string]error),
	}
}

func (f *fakeTransport) enter(method string) error {
	f.calls[method]++
	if err := f.errs[method]; err != nil {
		return err
	}
	if f.failures[method] > 0 {
		f.failures[method]--
		return fmt.Errorf("%s: connection reset", method)
	}
	return nil
}

func (f *fakeTransport) metaFor(relPath string, content []byte) *syftmsg.FileMetadata {
	sig, _ := delta.ComputeSignature(bytes.NewReader(content))
	return &syftmsg.FileMetadata{
		Path:         relPath,
		Hash:         delta.HashBytes(content),
		Signature:    delta.EncodeSig(sig),
		FileSize:     int64(len(content)),
		LastModified: time.Now().UTC(),
	}
}

func (f *fakeTransport) DatasiteStates(ctx context.Context) (map[string][]*syftmsg.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("datasite_states"); err != nil {
		return nil, err
	}
	out := make(map[string][]*syftmsg.FileMetadata)
	for path, content := range f.files {
		site := utils.PathOwner(path)
		out[site] = append(out[site], f.metaFor(path, content))
	}
	return out, nil
}

func (f *fakeTransport) GetMetadata(ctx context.Context, relPath string) (*syftmsg.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get_metadata"); err != nil {
		return nil, err
	}
	content, ok := f.files[relPath]
	if !ok {
		return nil, syftsdk.ErrNotFound
	}
	return f.metaFor(relPath, content), nil
}

func (f *fakeTransport) GetDiff(ctx context.Context, relPath, encodedSig string) (*syftmsg.GetDiffResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get_diff"); err != nil {
		return nil, err
	}
	content, ok := f.files[relPath]
	if !ok {
		return nil, syftsdk.ErrNotFound
	}
	sig, err := delta.DecodeSig(encodedSig)
	if err != nil {
		return nil, err
	}
	d := delta.ComputeDiffBytes(sig, content)
	return &syftmsg.GetDiffResponse{
		Path:         relPath,
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: delta.HashBytes(content),
	}, nil
}

func (f *fakeTransport) ApplyDiff(ctx context.Context, relPath, encodedDiff, expectedHash string) (*syftmsg.ApplyDiffResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("apply_diff"); err != nil {
		return nil, err
	}
	base, ok := f.files[relPath]
	if !ok {
		return nil, syftsdk.ErrNotFound
	}
	d, err := delta.DecodeDelta(encodedDiff)
	if err != nil {
		return nil, err
	}
	patched, err := delta.ApplyDeltaBytes(base, d)
	if err != nil {
		return nil, err
	}
	if delta.HashBytes(patched) != expectedHash {
		return nil, syftsdk.ErrHashMismatch
	}
	f.files[relPath] = patched
	f.writes = append(f.writes, relPath)
	return &syftmsg.ApplyDiffResponse{Path: relPath, AppliedHash: expectedHash}, nil
}

func (f *fakeTransport) Create(ctx context.Context, relPath string, content []byte) (*syftmsg.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("create"); err != nil {
		return nil, err
	}
	if _, ok := f.files[relPath]; ok {
		return nil, syftsdk.ErrAlreadyExists
	}
	f.files[relPath] = append([]byte(nil), content...)
	f.writes = append(f.writes, relPath)
	return f.metaFor(relPath, content), nil
}

func (f *fakeTransport) Delete(ctx context.Context, relPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("delete"); err != nil {
		return err
	}
	if _, ok := f.files[relPath]; !ok {
		return syftsdk.ErrNotFound
	}
	delete(f.files, relPath)
	return nil
}

func (f *fakeTransport) Download(ctx context.Context, relPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("download"); err != nil {
		return nil, err
	}
	content, ok := f.files[relPath]
	if !ok {
		return nil, syftsdk.ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

func (f *fakeTransport) content(relPath string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[relPath]
	return content, ok
}

func (f *fakeTransport) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeTransport) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func newTestConsumer(t *testing.T) (*Consumer, *fakeTransport, *LocalState, string) {
	t.Helper()
	dir := t.TempDir()
	state := NewLocalState(dir, nil)
	fake := newFakeTransport()
	c := NewConsumer(owner, dir, fake, state)
	c.backoffBase = time.Millisecond
	return c, fake, state, dir
}

func writeLocal(t *testing.T, dir, relPath string, content []byte) string {
	t.Helper()
	absPath := filepath.Join(dir, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
	require.NoError(t, os.WriteFile(absPath, content, 0o644))
	return absPath
}

func TestConsumerPushCreatesNewRemote(t *testing.T) {
	c, fake, state, dir := newTestConsumer(t)
	relPath := owner + "/notes.txt"
	content := []byte("first draft")
	writeLocal(t, dir, relPath, content)
	local, err := state.RescanPath(relPath)
	require.NoError(t, err)

	err = c.Process(context.Background(), &Op{Kind: OpPush, Path: relPath, Local: local})
	require.NoError(t, err)

	got, ok := fake.content(relPath)
	require.True(t, ok)
	assert.Equal(t, content, got)
}

func TestConsumerPushExistingRemoteSendsDiff(t *testing.T) {
	c, fake, state, dir := newTestConsumer(t)
	relPath := owner + "/notes.txt"
	oldContent := []byte("old content that will change a little")
	newContent := []byte("new content that did change a little")
	fake.files[relPath] = oldContent
	writeLocal(t, dir, relPath, newContent)
	local, err := state.RescanPath(relPath)
	require.NoError(t, err)
	remote := fake.metaFor(relPath, oldContent)

	err = c.Process(context.Background(), &Op{Kind: OpPush, Path: relPath, Local: local, Remote: remote})
	require.NoError(t, err)

	got, _ := fake.content(relPath)
	assert.Equal(t, newContent, got)
	assert.Equal(t, 1, fake.callCount("apply_diff"))
	assert.Zero(t, fake.callCount("create"))
}

func TestConsumerPushAlreadyExistsConvertsToDiff(t *testing.T) {
	// remote got created between scan and dequeue; the create fails with
	// AlreadyExists and the consumer re-pushes as a diff
	c, fake, state, dir := newTestConsumer(t)
	relPath := owner + "/notes.txt"
	fake.files[relPath] = []byte("raced content")
	content := []byte("our content")
	writeLocal(t, dir, relPath, content)
	local, err := state.RescanPath(relPath)
	require.NoError(t, err)

	err = c.Process(context.Background(), &Op{Kind: OpPush, Path: relPath, Local: local})
	require.NoError(t, err)

	got, _ := fake.content(relPath)
	assert.Equal(t, content, got)
	assert.Equal(t, 1, fake.callCount("create"))
	assert.Equal(t, 1, fake.callCount("get_metadata"))
	assert.Equal(t, 1, fake.callCount("apply_diff"))
}

func TestConsumerPushStaleSignatureFallsBackToFullUpload(t *testing.T) {
	// the queued op carries a signature of a remote copy that has since
	// changed; the first diff patches to the wrong content and the server
	// rejects it, so the consumer re-sends everything as literals
	c, fake, state, dir := newTestConsumer(t)
	relPath := owner + "/notes.txt"
	// shared full-size block, so the stale diff carries a copy op that
	// patches to the wrong bytes on the changed remote base
	sharedBlock := bytes.Repeat([]byte("a"), delta.DefaultBlockSize)
	staleRemote := append(append([]byte(nil), sharedBlock...), []byte("old tail")...)
	fake.files[relPath] = append(bytes.Repeat([]byte("b"), delta.DefaultBlockSize), []byte("other tail")...)
	content := append(append([]byte(nil), sharedBlock...), []byte("new local tail")...)
	writeLocal(t, dir, relPath, content)
	local, err := state.RescanPath(relPath)
	require.NoError(t, err)
	remote := fake.metaFor(relPath, staleRemote)

	err = c.Process(context.Background(), &Op{Kind: OpPush, Path: relPath, Local: local, Remote: remote})
	require.NoError(t, err)

	got, _ := fake.content(relPath)
	assert.Equal(t, content, got)
	assert.Equal(t, 2, fake.callCount("apply_diff"))
}

func TestConsumerPushMissingLocalIsNoop(t *testing.T) {
	c, fake, _, _ := newTestConsumer(t)
	relPath := owner + "/gone.txt"

	err := c.Process(context.Background(), &Op{Kind: OpPush, Path: relPath, Local: meta(relPath, "h", 1, time.Now())})
	require.NoError(t, err)
	assert.Zero(t, fake.callCount("create"))
	assert.Zero(t, fake.callCount("apply_diff"))
}

func TestConsumerPullPatchesExistingLocal(t *testing.T) {
	c, fake, state, dir := newTestConsumer(t)
	relPath := neighbor + "/public/data.csv"
	remoteContent := []byte("a,b,c\n1,2,3\n4,5,6\n")
	fake.files[relPath] = remoteContent
	absPath := writeLocal(t, dir, relPath, []byte("a,b,c\n1,2,3\n"))
	local, err := state.RescanPath(relPath)
	require.NoError(t, err)
	remote := fake.metaFor(relPath, remoteContent)

	err = c.Process(context.Background(), &Op{Kind: OpPull, Path: relPath, Local: local, Remote: remote})
	require.NoError(t, err)

	got, err := os.ReadFile(absPath)
	require.NoError(t, err)
	assert.Equal(t, remoteContent, got)
	assert.Zero(t, fake.callCount("download"), "an up-to-date signature pulls via diff only")

	cached, ok := state.Cached(relPath)
	require.True(t, ok)
	assert.Equal(t, delta.HashBytes(remoteContent), cached.Hash)
}

func TestConsumerPullFreshDownloads(t *testing.T) {
	c, fake, state, dir := newTestConsumer(t)
	relPath := neighbor + "/public/data.csv"
	remoteContent := []byte("fresh file")
	fake.files[relPath] = remoteContent
	remote := fake.metaFor(relPath, remoteContent)

	err := c.Process(context.Background(), &Op{Kind: OpPull, Path: relPath, Remote: remote})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(relPath)))
	require.NoError(t, err)
	assert.Equal(t, remoteContent, got)

	_, ok := state.Cached(relPath)
	assert.True(t, ok)
}

func TestConsumerPullNotFoundDeletesLocal(t *testing.T) {
	c, _, state, dir := newTestConsumer(t)
	relPath := neighbor + "/public/data.csv"
	absPath := writeLocal(t, dir, relPath, []byte("stale"))
	local, err := state.RescanPath(relPath)
	require.NoError(t, err)

	err = c.Process(context.Background(), &Op{Kind: OpPull, Path: relPath, Local: local, Remote: meta(relPath, "h", 5, time.Now())})
	require.NoError(t, err)

	assert.NoFileExists(t, absPath)
	_, ok := state.Cached(relPath)
	assert.False(t, ok)
}

func TestConsumerDeleteLocal(t *testing.T) {
	c, _, state, dir := newTestConsumer(t)
	relPath := neighbor + "/public/data.csv"
	absPath := writeLocal(t, dir, relPath, []byte("x"))
	_, err := state.RescanPath(relPath)
	require.NoError(t, err)

	err = c.Process(context.Background(), &Op{Kind: OpDeleteLocal, Path: relPath})
	require.NoError(t, err)
	assert.NoFileExists(t, absPath)
}

func TestConsumerDeleteRemoteToleratesNotFound(t *testing.T) {
	c, fake, _, _ := newTestConsumer(t)
	relPath := owner + "/gone.txt"

	err := c.Process(context.Background(), &Op{Kind: OpDeleteRemote, Path: relPath})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.callCount("delete"))
}

func TestConsumerRetriesTransientErrors(t *testing.T) {
	c, fake, _, _ := newTestConsumer(t)
	relPath := owner + "/flaky.txt"
	fake.files[relPath] = []byte("x")
	fake.failures["delete"] = 2

	err := c.Process(context.Background(), &Op{Kind: OpDeleteRemote, Path: relPath})
	require.NoError(t, err)
	assert.Equal(t, 3, fake.callCount("delete"))
	_, ok := fake.content(relPath)
	assert.False(t, ok)
}

func TestConsumerSkipsNewlyIgnoredPath(t *testing.T) {
	// the ignore rules are re-checked at dequeue, not just at enqueue
	c, fake, state, dir := newTestConsumer(t)
	relPath := owner + "/secret.txt"
	writeLocal(t, dir, relPath, []byte("hidden"))
	local, err := state.RescanPath(relPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte("**/secret.txt\n"), 0o644))
	c.SetIgnore(NewIgnoreList(dir))

	err = c.Process(context.Background(), &Op{Kind: OpPush, Path: relPath, Local: local})
	require.NoError(t, err)
	assert.Zero(t, fake.callCount("create"))
	assert.Zero(t, fake.callCount("apply_diff"))
}

func TestConsumerUnauthorizedPausesConsumer(t *testing.T) {
	c, fake, _, _ := newTestConsumer(t)
	relPath := owner + "/a.txt"
	fake.files[relPath] = []byte("x")
	fake.errs["delete"] = syftsdk.ErrUnauthorized

	err := c.Process(context.Background(), &Op{Kind: OpDeleteRemote, Path: relPath})
	require.ErrorIs(t, err, syftsdk.ErrUnauthorized)
	assert.True(t, c.Paused())

	// nothing reaches the wire while paused
	err = c.Process(context.Background(), &Op{Kind: OpDeleteRemote, Path: relPath})
	require.ErrorIs(t, err, ErrConsumerPaused)
	assert.Equal(t, 1, fake.callCount("delete"))

	c.Resume()
	delete(fake.errs, "delete")
	err = c.Process(context.Background(), &Op{Kind: OpDeleteRemote, Path: relPath})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.callCount("delete"))
}

func TestConsumerPermissionDeniedIsTerminal(t *testing.T) {
	c, fake, _, _ := newTestConsumer(t)
	relPath := neighbor + "/private.txt"
	fake.errs["delete"] = syftsdk.ErrPermissionDenied

	err := c.Process(context.Background(), &Op{Kind: OpDeleteRemote, Path: relPath})
	require.Error(t, err)
	assert.True(t, errors.Is(err, syftsdk.ErrPermissionDenied))
	assert.Equal(t, 1, fake.callCount("delete"), "permission failures are not retried")
}
