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

func watchedTempDir(t *testing.T) string {
	t.Helper()
	// on macos the temp dir is a symlink into /private, and notify reports
	// resolved paths
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestFileWatcherDeliversWrite(t *testing.T) {
	dir := watchedTempDir(t)
	fw := NewFileWatcher(dir)
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	testFile := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("hello"), 0o644))

	select {
	case event := <-fw.Events():
		assert.Equal(t, testFile, event.Path())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for file event")
	}
}

func TestFileWatcherIgnoreOnce(t *testing.T) {
	dir := watchedTempDir(t)
	fw := NewFileWatcher(dir)
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	testFile := filepath.Join(dir, "self-write.txt")
	fw.IgnoreOnce(testFile)
	require.NoError(t, os.WriteFile(testFile, []byte("own write"), 0o644))

	select {
	case event := <-fw.Events():
		t.Fatalf("expected no event, got one for %s", event.Path())
	case <-time.After(500 * time.Millisecond):
	}
}

func TestFileWatcherDebouncesBursts(t *testing.T) {
	dir := watchedTempDir(t)
	fw := NewFileWatcher(dir)
	fw.SetDebounceTimeout(100 * time.Millisecond)
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	testFile := filepath.Join(dir, "burst.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(testFile, []byte("burst"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	got := 0
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-fw.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			got++
		case <-deadline:
			assert.Equal(t, 1, got, "a write burst collapses into one event")
			return
		}
	}
}

func TestFileWatcherFilter(t *testing.T) {
	dir := watchedTempDir(t)
	fw := NewFileWatcher(dir)
	fw.SetFilter(func(absPath string) bool {
		return filepath.Ext(absPath) == ".tmp"
	})
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))

	select {
	case event := <-fw.Events():
		assert.Equal(t, filepath.Join(dir, "keep.txt"), event.Path())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for unfiltered event")
	}
}
