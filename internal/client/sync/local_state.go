// Package sync is the client's sync engine: scanner, change computer,
// priority queue consumer, and the filesystem watcher that feeds them.
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/openmined/syftsync/internal/delta"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// LocalState scans the datasites tree and keeps the result of the last scan,
// so unchanged files (same size and mtime) skip rehashing.
type LocalState struct {
	rootDir string
	ignore  *IgnoreList

	mu        sync.Mutex
	lastState map[string]*syftmsg.FileMetadata
}

func NewLocalState(rootDir string, ignore *IgnoreList) *LocalState {
	return &LocalState{
		rootDir:   rootDir,
		ignore:    ignore,
		lastState: make(map[string]*syftmsg.FileMetadata),
	}
}

// Scan walks the whole tree and returns metadata keyed by relative path.
// The returned map is a snapshot; later RescanPath calls do not touch it.
func (s *LocalState) Scan() (map[string]*syftmsg.FileMetadata, error) {
	newState := make(map[string]*syftmsg.FileMetadata)

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		relPath = utils.NormPath(relPath)

		if s.ignore != nil && s.ignore.ShouldIgnore(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		meta, err := s.statOne(path, relPath, d)
		if err != nil {
			slog.Warn("scan skip", "path", relPath, "error", err)
			return nil
		}
		newState[relPath] = meta
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan failed: %w", err)
	}

	s.mu.Lock()
	s.lastState = newState
	s.mu.Unlock()

	snapshot := make(map[string]*syftmsg.FileMetadata, len(newState))
	for path, meta := range newState {
		snapshot[path] = meta
	}
	return snapshot, nil
}

// RescanPath refreshes one file in the cached state, for targeted watcher
// updates. A missing file removes the entry.
func (s *LocalState) RescanPath(relPath string) (*syftmsg.FileMetadata, error) {
	absPath := filepath.Join(s.rootDir, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		s.mu.Lock()
		delete(s.lastState, relPath)
		s.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}

	meta, err := hashAndSign(absPath, relPath, info)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastState[relPath] = meta
	s.mu.Unlock()
	return meta, nil
}

// Forget drops a path from the cached state after a local delete.
func (s *LocalState) Forget(relPath string) {
	s.mu.Lock()
	delete(s.lastState, relPath)
	s.mu.Unlock()
}

// Remember records metadata the consumer just wrote, so the next scan does
// not re-enqueue the same change.
func (s *LocalState) Remember(meta *syftmsg.FileMetadata) {
	s.mu.Lock()
	s.lastState[meta.Path] = meta
	s.mu.Unlock()
}

// Cached returns the last known metadata for a path.
func (s *LocalState) Cached(relPath string) (*syftmsg.FileMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.lastState[relPath]
	return meta, ok
}

func (s *LocalState) statOne(absPath, relPath string, d fs.DirEntry) (*syftmsg.FileMetadata, error) {
	info, err := d.Info()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev, exists := s.lastState[relPath]
	s.mu.Unlock()
	if exists && prev.FileSize == info.Size() && prev.LastModified.Equal(info.ModTime().UTC()) {
		return prev, nil
	}

	return hashAndSign(absPath, relPath, info)
}

// hashAndSign reads the file once, computing the content hash and the rsync
// signature in the same pass.
func hashAndSign(absPath, relPath string, info fs.FileInfo) (*syftmsg.FileMetadata, error) {
	fd, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	hasher := sha256.New()
	sig, err := delta.ComputeSignature(io.TeeReader(fd, hasher))
	if err != nil {
		return nil, err
	}

	return &syftmsg.FileMetadata{
		Path:         relPath,
		Hash:         hex.EncodeToString(hasher.Sum(nil)),
		Signature:    delta.EncodeSig(sig),
		FileSize:     info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}
