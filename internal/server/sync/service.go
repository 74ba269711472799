// Package sync holds the server side of the sync protocol: a service over the
// snapshot folder and the metadata store, and the HTTP handlers under /sync.
package sync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/syftsync/internal/delta"
	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/server/store"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// Service mediates every mutation of the snapshot folder. The folder is
// authoritative; the metadata store mirrors it and is reconciled by Rescan on
// startup.
type Service struct {
	snapshot string
	store    *store.Store
	acl      *permset.Evaluator
}

func NewService(snapshotDir string, st *store.Store) (*Service, error) {
	if err := utils.EnsureDir(snapshotDir); err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}

	s := &Service{
		snapshot: snapshotDir,
		store:    st,
		acl:      permset.NewEvaluator(),
	}

	rules, err := st.LoadRules(context.Background())
	if err != nil {
		return nil, err
	}
	for dir, dirRules := range rules {
		s.acl.SetRules(dir, dirRules)
	}
	return s, nil
}

func (s *Service) Store() *store.Store {
	return s.store
}

func (s *Service) ACL() *permset.Evaluator {
	return s.acl
}

// AbsPath maps a relative sync path onto the snapshot folder.
func (s *Service) AbsPath(rel string) string {
	return filepath.Join(s.snapshot, filepath.FromSlash(rel))
}

// Can reports whether user may perform an operation requiring kind on rel.
func (s *Service) Can(user, rel string, kind permset.Kind) bool {
	return s.acl.Can(user, rel, kind)
}

// MutationGate returns the permission an overwrite or delete of rel needs.
// Permission files are guarded by admin, everything else by write.
func (s *Service) MutationGate(rel string) permset.Kind {
	if permset.IsPermFile(rel) {
		return permset.Admin
	}
	return permset.Write
}

// CreationGate returns the permission a create of rel needs.
func (s *Service) CreationGate(rel string) permset.Kind {
	if permset.IsPermFile(rel) {
		return permset.Admin
	}
	return permset.Create
}

// StatMetadata builds a metadata row from the file on disk, hashing and
// signing the content in one read.
func (s *Service) StatMetadata(rel string) (*syftmsg.FileMetadata, error) {
	absPath := s.AbsPath(rel)
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}

	fd, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	sig, err := delta.ComputeSignature(fd)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", rel, err)
	}
	if _, err := fd.Seek(0, 0); err != nil {
		return nil, err
	}
	hash, err := delta.Hash(fd)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", rel, err)
	}

	return &syftmsg.FileMetadata{
		Path:         rel,
		Hash:         hash,
		Signature:    delta.EncodeSig(sig),
		FileSize:     info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// RefreshRules re-parses a permission file's content and swaps its compiled
// rules in both the store and the in-memory evaluator. A parse error leaves
// the previous rules effective.
func (s *Service) RefreshRules(ctx context.Context, rel string, content []byte) error {
	file, err := permset.Parse(rel, content)
	if err != nil {
		return fmt.Errorf("permission file %s: %w", rel, err)
	}

	rules := permset.Compile(file)
	if err := s.store.SetRules(ctx, file.DirPath(), rules); err != nil {
		return err
	}
	s.acl.SetRules(file.DirPath(), rules)
	return nil
}

// DropRules removes the rules owned by a deleted permission file.
func (s *Service) DropRules(ctx context.Context, rel string) error {
	dir := utils.NormPath(filepath.Dir(rel))
	if dir == "." {
		dir = ""
	}
	if err := s.store.DeleteRules(ctx, dir); err != nil {
		return err
	}
	s.acl.RemoveRules(dir)
	return nil
}

// WriteFile stages content next to the target and atomically renames it into
// place, then records the metadata row inside one transaction with the
// rename. The returned metadata reflects the written content.
func (s *Service) WriteFile(ctx context.Context, rel string, content []byte) (*syftmsg.FileMetadata, error) {
	absPath := s.AbsPath(rel)
	if err := utils.EnsureParent(absPath); err != nil {
		return nil, err
	}

	sig, err := delta.ComputeSignature(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", rel, err)
	}
	meta := &syftmsg.FileMetadata{
		Path:         rel,
		Hash:         delta.HashBytes(content),
		Signature:    delta.EncodeSig(sig),
		FileSize:     int64(len(content)),
		LastModified: time.Now().UTC(),
	}

	if err := utils.WriteFileAtomic(absPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := s.store.SaveFileMetadata(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RemoveFile deletes rel from the snapshot and its metadata row and links.
// The metadata row must exist.
func (s *Service) RemoveFile(ctx context.Context, rel string) error {
	if err := s.store.DeleteFileMetadata(ctx, rel); err != nil {
		return err
	}
	if err := s.store.UnlinkFile(ctx, rel); err != nil {
		return err
	}
	if err := os.Remove(s.AbsPath(rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}

	if permset.IsPermFile(rel) {
		if err := s.DropRules(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

// readableUnder lists the metadata rows under prefix that user may read.
func (s *Service) readableUnder(ctx context.Context, user, prefix string) ([]*syftmsg.FileMetadata, error) {
	rows, err := s.store.ListAllMetadata(ctx, prefix)
	if err != nil {
		return nil, err
	}

	visible := make([]*syftmsg.FileMetadata, 0, len(rows))
	for _, row := range rows {
		if s.acl.Can(user, row.Path, permset.Read) {
			visible = append(visible, row)
		}
	}
	return visible, nil
}

