package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/utils"
)

// Rescan reconciles the metadata store against the snapshot folder. It runs
// on startup so that a crash between a rename and a commit, or a manual edit
// of the snapshot, heals before any request is served.
//
// A row is refreshed when the file's size or mtime no longer matches; rows
// without a file are dropped; files without a row are inserted. Every
// permission file found on disk is re-parsed and its rules swapped in.
func (s *Service) Rescan(ctx context.Context) error {
	start := time.Now()

	if migrated, err := permset.MigrateLegacyTree(s.snapshot); err != nil {
		slog.Warn("legacy permission migration", "error", err)
	} else if migrated > 0 {
		slog.Info("migrated legacy permission files", "count", migrated)
	}

	known, err := s.store.ListAllMetadata(ctx, "")
	if err != nil {
		return err
	}
	knownByPath := make(map[string]bool, len(known))
	for _, row := range known {
		knownByPath[row.Path] = true
	}

	var seen []string
	err = filepath.WalkDir(s.snapshot, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.snapshot, absPath)
		if err != nil {
			return err
		}
		rel = utils.NormPath(rel)
		seen = append(seen, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		if knownByPath[rel] {
			row, err := s.store.GetFileMetadata(ctx, rel)
			if err == nil && row.FileSize == info.Size() && row.LastModified.Equal(info.ModTime().UTC()) {
				return nil
			}
		}

		meta, err := s.StatMetadata(rel)
		if err != nil {
			slog.Warn("rescan stat", "path", rel, "error", err)
			return nil
		}
		return s.store.SaveFileMetadata(ctx, meta)
	})
	if err != nil {
		return err
	}

	seenSet := make(map[string]bool, len(seen))
	for _, rel := range seen {
		seenSet[rel] = true
	}
	for rel := range knownByPath {
		if !seenSet[rel] {
			if err := s.store.DeleteFileMetadata(ctx, rel); err != nil {
				slog.Warn("rescan prune", "path", rel, "error", err)
			}
			if err := s.store.UnlinkFile(ctx, rel); err != nil {
				slog.Warn("rescan unlink", "path", rel, "error", err)
			}
		}
	}

	for _, rel := range seen {
		if !permset.IsPermFile(rel) {
			continue
		}
		content, err := os.ReadFile(s.AbsPath(rel))
		if err != nil {
			slog.Warn("rescan permission read", "path", rel, "error", err)
			continue
		}
		if err := s.RefreshRules(ctx, rel, content); err != nil {
			slog.Warn("rescan permission parse", "path", rel, "error", err)
		}
	}

	slog.Info("snapshot rescan complete",
		"files", len(seen),
		"took", time.Since(start))
	return nil
}
