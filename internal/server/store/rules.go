package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openmined/syftsync/internal/permset"
)

// SetRules replaces the compiled rules owned by permfileDir and rebuilds the
// rule-to-file links for every known file under that directory. The whole
// replacement is one transaction, so readers never see a half-updated rule
// set.
func (s *Store) SetRules(ctx context.Context, permfileDir string, rules []*permset.CompiledRule) error {
	files, err := s.ListAllMetadata(ctx, dirPrefix(permfileDir))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set rules %s: begin: %w", permfileDir, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM permission_rule WHERE permfile_dir = ?`, permfileDir); err != nil {
		return fmt.Errorf("set rules %s: clear: %w", permfileDir, err)
	}

	for _, rule := range rules {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO permission_rule
				(permfile_dir, permfile_depth, priority, path_pattern, user,
				 can_read, can_create, can_write, admin, disallow, terminal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.PermfileDir, rule.PermfileDepth, rule.Priority, rule.Pattern, rule.User,
			rule.CanRead, rule.CanCreate, rule.CanWrite, rule.Admin, rule.Disallow, rule.Terminal,
		)
		if err != nil {
			return fmt.Errorf("set rules %s: insert: %w", permfileDir, err)
		}
		ruleID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rule.ID = ruleID

		for _, meta := range files {
			if ruleAppliesTo(rule, meta.Path) {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO rule_file_link (rule_id, file_path) VALUES (?, ?)`,
					ruleID, meta.Path); err != nil {
					return fmt.Errorf("set rules %s: link: %w", permfileDir, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set rules %s: commit: %w", permfileDir, err)
	}
	return nil
}

// DeleteRules drops the rules owned by permfileDir; links go via cascade.
func (s *Store) DeleteRules(ctx context.Context, permfileDir string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_rule WHERE permfile_dir = ?`, permfileDir); err != nil {
		return fmt.Errorf("delete rules %s: %w", permfileDir, err)
	}
	return nil
}

// LoadRules reads every compiled rule, grouped by owning directory, in
// evaluation order.
func (s *Store) LoadRules(ctx context.Context) (map[string][]*permset.CompiledRule, error) {
	var rows []*permset.CompiledRule
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, permfile_dir, permfile_depth, priority, path_pattern, user,
		       can_read, can_create, can_write, admin, disallow, terminal
		FROM permission_rule
		ORDER BY permfile_depth, permfile_dir, priority`)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	byDir := make(map[string][]*permset.CompiledRule)
	for _, row := range rows {
		byDir[row.PermfileDir] = append(byDir[row.PermfileDir], row)
	}
	return byDir, nil
}

// LinkFile records which rules apply to a newly created or moved file.
func (s *Store) LinkFile(ctx context.Context, path string) error {
	rules, err := s.LoadRules(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("link file %s: begin: %w", path, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rule_file_link WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("link file %s: clear: %w", path, err)
	}
	for _, dirRules := range rules {
		for _, rule := range dirRules {
			if ruleAppliesTo(rule, path) {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO rule_file_link (rule_id, file_path) VALUES (?, ?)`,
					rule.ID, path); err != nil {
					return fmt.Errorf("link file %s: %w", path, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("link file %s: commit: %w", path, err)
	}
	return nil
}

// UnlinkFile drops the link rows of a deleted file.
func (s *Store) UnlinkFile(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rule_file_link WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("unlink file %s: %w", path, err)
	}
	return nil
}

// ruleAppliesTo matches a rule pattern against a file path without a
// candidate user: {useremail} degrades to a single-segment wildcard. The
// link table over-approximates; evaluation stays authoritative.
func ruleAppliesTo(rule *permset.CompiledRule, filePath string) bool {
	rel := filePath
	if rule.PermfileDir != "" {
		var found bool
		rel, found = strings.CutPrefix(filePath, rule.PermfileDir+"/")
		if !found {
			return false
		}
	}
	pattern := strings.ReplaceAll(rule.Pattern, permset.EmailTemplate, "*")
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

func dirPrefix(dir string) string {
	if dir == "" {
		return ""
	}
	return dir + "/"
}
