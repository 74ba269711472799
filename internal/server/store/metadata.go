package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// metadataRow is the table shape; timestamps are stored as RFC3339Nano text.
type metadataRow struct {
	ID           int64  `db:"id"`
	Path         string `db:"path"`
	Hash         string `db:"hash"`
	Signature    string `db:"signature"`
	FileSize     int64  `db:"file_size"`
	LastModified string `db:"last_modified"`
}

func (r *metadataRow) metadata() (*syftmsg.FileMetadata, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.LastModified)
	if err != nil {
		return nil, fmt.Errorf("row %s: bad last_modified %q: %w", r.Path, r.LastModified, err)
	}
	return &syftmsg.FileMetadata{
		Path:         r.Path,
		Hash:         r.Hash,
		Signature:    r.Signature,
		FileSize:     r.FileSize,
		LastModified: ts,
	}, nil
}

// SaveFileMetadata upserts the row for meta.Path.
func (s *Store) SaveFileMetadata(ctx context.Context, meta *syftmsg.FileMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_metadata (path, hash, signature, file_size, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			signature = excluded.signature,
			file_size = excluded.file_size,
			last_modified = excluded.last_modified`,
		meta.Path, meta.Hash, meta.Signature, meta.FileSize,
		meta.LastModified.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save metadata %s: %w", meta.Path, err)
	}
	return nil
}

// DeleteFileMetadata removes the row for path; exactly one row must go.
func (s *Store) DeleteFileMetadata(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_metadata WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete metadata %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("delete metadata %s: %w", path, ErrNotOneRow)
	}
	return nil
}

// GetFileMetadata fetches one row by path.
func (s *Store) GetFileMetadata(ctx context.Context, path string) (*syftmsg.FileMetadata, error) {
	var row metadataRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM file_metadata WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata %s: %w", path, err)
	}
	return row.metadata()
}

// ListMetadata returns one page of rows whose path starts with prefix,
// ordered by path.
func (s *Store) ListMetadata(ctx context.Context, prefix string, limit, offset int) ([]*syftmsg.FileMetadata, error) {
	var rows []metadataRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM file_metadata
		WHERE path LIKE ? ESCAPE '\'
		ORDER BY path LIMIT ? OFFSET ?`,
		likePrefix(prefix), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list metadata %q: %w", prefix, err)
	}

	out := make([]*syftmsg.FileMetadata, 0, len(rows))
	for i := range rows {
		meta, err := rows[i].metadata()
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

const listPageSize = 1000

// ListAllMetadata pages through every row under prefix.
func (s *Store) ListAllMetadata(ctx context.Context, prefix string) ([]*syftmsg.FileMetadata, error) {
	var all []*syftmsg.FileMetadata
	for offset := 0; ; offset += listPageSize {
		page, err := s.ListMetadata(ctx, prefix, listPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
	}
}

// ListDatasites returns the distinct first path segments.
func (s *Store) ListDatasites(ctx context.Context) ([]string, error) {
	var datasites []string
	err := s.db.SelectContext(ctx, &datasites, `
		SELECT DISTINCT SUBSTR(path, 1, INSTR(path, '/') - 1) AS datasite
		FROM file_metadata
		WHERE INSTR(path, '/') > 0
		ORDER BY datasite`)
	if err != nil {
		return nil, fmt.Errorf("list datasites: %w", err)
	}
	return datasites, nil
}

// MoveWithTransaction renames a file inside the snapshot folder and updates
// its metadata row in one transaction. The rename happens between the row
// update and the commit; if either side fails the other is undone, so a DB
// failure leaves the file in place.
func (s *Store) MoveWithTransaction(ctx context.Context, snapshotDir, fromRel, toRel string, meta *syftmsg.FileMetadata) error {
	fromAbs := filepath.Join(snapshotDir, filepath.FromSlash(fromRel))
	toAbs := filepath.Join(snapshotDir, filepath.FromSlash(toRel))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("move %s: begin: %w", fromRel, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE file_metadata
		SET path = ?, hash = ?, signature = ?, file_size = ?, last_modified = ?
		WHERE path = ?`,
		toRel, meta.Hash, meta.Signature, meta.FileSize,
		meta.LastModified.UTC().Format(time.RFC3339Nano), fromRel,
	)
	if err != nil {
		return fmt.Errorf("move %s: update: %w", fromRel, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("move %s: %w", fromRel, ErrNotOneRow)
	}

	if err := utils.EnsureParent(toAbs); err != nil {
		return fmt.Errorf("move %s: %w", fromRel, err)
	}
	if err := os.Rename(fromAbs, toAbs); err != nil {
		return fmt.Errorf("move %s: rename: %w", fromRel, err)
	}

	if err := tx.Commit(); err != nil {
		// restore the file so DB and disk agree again
		if rerr := os.Rename(toAbs, fromAbs); rerr != nil {
			return fmt.Errorf("move %s: commit failed (%w) and restore failed: %v", fromRel, err, rerr)
		}
		return fmt.Errorf("move %s: commit: %w", fromRel, err)
	}
	return nil
}

// likePrefix escapes LIKE metacharacters so prefix is matched literally.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+2)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, c)
	}
	return string(escaped) + "%"
}
