package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/openmined/syftsync/internal/utils"
)

// IgnoreFileName is the user-editable ignore file at the datasites root.
const IgnoreFileName = "syftignore"

var defaultIgnoreLines = []string{
	// syft
	IgnoreFileName,
	PriorityFileName,
	"**/*syftconflict*",
	"**/*syftrejected*",
	".syftkeep",
	".syftsync-*",
	// python
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	"venv/",
	".venv/",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// general excludes
	".git",
	"*.tmp",
	"*.log",
	"logs/",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"Icon",
}

// ruleFileStamp fingerprints a user rule file, so a per-cycle stat can detect
// edits without recompiling anything.
type ruleFileStamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

func stampRuleFile(path string) ruleFileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return ruleFileStamp{}
	}
	return ruleFileStamp{exists: true, size: info.Size(), modTime: info.ModTime()}
}

// IgnoreList decides which relative paths stay out of sync. Rules come from
// the built-in defaults plus the user's syftignore file.
type IgnoreList struct {
	baseDir string

	mu     sync.RWMutex
	ignore *gitignore.GitIgnore
	stamp  ruleFileStamp
}

func NewIgnoreList(baseDir string) *IgnoreList {
	s := &IgnoreList{baseDir: baseDir}
	s.Load()
	return s
}

// Load (re)compiles the rule set from defaults plus the syftignore file.
func (s *IgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, IgnoreFileName)
	stamp := stampRuleFile(ignorePath)
	ignoreLines := defaultIgnoreLines

	if stamp.exists {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open syftignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading syftignore file", "path", ignorePath, "error", err)
			} else {
				slog.Info("loaded syftignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	compiled := gitignore.CompileIgnoreLines(ignoreLines...)
	s.mu.Lock()
	s.ignore = compiled
	s.stamp = stamp
	s.mu.Unlock()
}

// Refresh recompiles the rules when syftignore changed since the last load,
// so edits take effect mid-run instead of on restart.
func (s *IgnoreList) Refresh() {
	s.mu.RLock()
	stamp := s.stamp
	s.mu.RUnlock()

	if stampRuleFile(filepath.Join(s.baseDir, IgnoreFileName)) != stamp {
		s.Load()
	}
}

// ShouldIgnore matches a path relative to the datasites root.
func (s *IgnoreList) ShouldIgnore(relPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ignore.MatchesPath(relPath)
}

// EnsureIgnoreFile writes the default rules as an editable syftignore file
// when none exists yet.
func EnsureIgnoreFile(baseDir string) error {
	ignorePath := filepath.Join(baseDir, IgnoreFileName)
	if utils.FileExists(ignorePath) {
		return nil
	}
	content := "# Ignore rules for sync, in gitignore syntax.\n" +
		"# Matching paths are never uploaded or downloaded.\n\n" +
		strings.Join(defaultIgnoreLines, "\n") + "\n"
	return utils.WriteFileAtomic(ignorePath, []byte(content), 0o644)
}
