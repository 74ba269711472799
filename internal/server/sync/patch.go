package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/syftsync/internal/delta"
	"github.com/openmined/syftsync/internal/syftmsg"
)

// ErrHashMismatch means the patched bytes hash differently from the hash the
// caller promised. Nothing is mutated.
var ErrHashMismatch = errors.New("patched content does not match expected hash")

// ApplyPatch applies a delta against the snapshot copy of rel. The new bytes
// are staged in a temp file next to the target and verified against
// expectedHash before anything is touched; then a transaction records the new
// metadata, the temp file is renamed over the target, and the transaction
// commits. A failure before the rename leaves both DB and disk untouched; a
// crash between rename and commit is healed by the startup rescan.
func (s *Service) ApplyPatch(ctx context.Context, rel string, d *delta.Delta, expectedHash string) (*syftmsg.FileMetadata, error) {
	absPath := s.AbsPath(rel)

	base, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer base.Close()
	baseInfo, err := base.Stat()
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".syftsync-patch-*")
	if err != nil {
		return nil, fmt.Errorf("patch %s: stage: %w", rel, err)
	}
	tmpPath := tmp.Name()
	staged := false
	defer func() {
		tmp.Close()
		if !staged {
			os.Remove(tmpPath)
		}
	}()

	if err := delta.ApplyDelta(base, baseInfo.Size(), d, tmp); err != nil {
		return nil, fmt.Errorf("patch %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	gotHash, err := delta.HashFile(tmpPath)
	if err != nil {
		return nil, err
	}
	if gotHash != expectedHash {
		return nil, fmt.Errorf("patch %s: got %s want %s: %w", rel, gotHash, expectedHash, ErrHashMismatch)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return nil, err
	}
	sig, err := delta.SignatureOfFile(tmpPath)
	if err != nil {
		return nil, err
	}
	meta := &syftmsg.FileMetadata{
		Path:         rel,
		Hash:         gotHash,
		Signature:    delta.EncodeSig(sig),
		FileSize:     info.Size(),
		LastModified: time.Now().UTC(),
	}

	tx, err := s.store.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("patch %s: begin: %w", rel, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE file_metadata
		SET hash = ?, signature = ?, file_size = ?, last_modified = ?
		WHERE path = ?`,
		meta.Hash, meta.Signature, meta.FileSize,
		meta.LastModified.Format(time.RFC3339Nano), rel,
	); err != nil {
		return nil, fmt.Errorf("patch %s: metadata: %w", rel, err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		return nil, fmt.Errorf("patch %s: rename: %w", rel, err)
	}
	staged = true

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("patch %s: commit: %w", rel, err)
	}
	return meta, nil
}
