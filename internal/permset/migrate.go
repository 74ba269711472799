package permset

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/openmined/syftsync/internal/utils"
)

// legacyGlobal is the wildcard user marker of the old JSON format.
const legacyGlobal = "GLOBAL"

// ConvertLegacy turns the old JSON permission document into the current rule
// list. The old format maps permission names to email lists, e.g.
// {"read": ["GLOBAL"], "admin": ["a@x.org"], "terminal": true}.
func ConvertLegacy(content []byte, relPath string) (*File, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("legacy perm parse %s: %w", relPath, err)
	}

	terminal := false
	if raw, ok := doc["terminal"]; ok {
		if err := json.Unmarshal(raw, &terminal); err != nil {
			return nil, fmt.Errorf("legacy perm parse %s: terminal: %w", relPath, err)
		}
	}
	delete(doc, "terminal")
	delete(doc, "filepath") // redundant, the file's own path wins

	// collect kinds per email so each user gets one rule
	byUser := map[string][]Kind{}
	for name, raw := range doc {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("legacy perm parse %s: %w", relPath, err)
		}
		var emails []string
		if err := json.Unmarshal(raw, &emails); err != nil {
			return nil, fmt.Errorf("legacy perm parse %s: %s: %w", relPath, name, err)
		}
		for _, email := range emails {
			if email == "" {
				continue
			}
			user := email
			if user == legacyGlobal {
				user = Everyone
			}
			byUser[user] = append(byUser[user], kind)
		}
	}

	users := make([]string, 0, len(byUser))
	for user := range byUser {
		users = append(users, user)
	}
	sort.Strings(users)

	newRel := path.Join(path.Dir(relPath), PermFileName)
	out := &File{RelPath: utils.NormPath(newRel)}
	for i, user := range users {
		out.Rules = append(out.Rules, &Rule{
			Path:        "**",
			User:        user,
			Permissions: kindSet(byUser[user]...),
			Allow:       true,
			Terminal:    terminal,
			Priority:    i,
		})
	}
	return out, nil
}

// MigrateLegacyTree walks rootDir, rewrites every legacy permission file to
// the YAML format, and removes the legacy file. Invalid legacy files are
// logged and left in place. Returns the number of migrated files.
func MigrateLegacyTree(rootDir string) (int, error) {
	migrated := 0
	err := filepath.WalkDir(rootDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != LegacyPermFileName {
			return nil
		}

		rel, err := filepath.Rel(rootDir, p)
		if err != nil {
			return err
		}
		rel = utils.NormPath(rel)

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		file, err := ConvertLegacy(content, rel)
		if err != nil {
			slog.Warn("legacy perm migration skipped", "path", rel, "error", err)
			return nil
		}

		newAbs := filepath.Join(filepath.Dir(p), PermFileName)
		if utils.FileExists(newAbs) {
			// already migrated, just drop the legacy file
			slog.Info("legacy perm already migrated", "path", rel)
		} else if err := file.Save(newAbs); err != nil {
			return err
		}
		if err := os.Remove(p); err != nil {
			return err
		}
		migrated++
		return nil
	})
	return migrated, err
}
