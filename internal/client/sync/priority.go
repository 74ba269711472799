package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/openmined/syftsync/internal/permset"
)

// PriorityFileName is the user-editable priority file at the datasites root.
const PriorityFileName = "syftpriority"

// permission files must land before the data they govern
var defaultPriorityLines = []string{
	"**/" + permset.PermFileName,
}

// PriorityList decides which relative paths jump the sync queue. Patterns come
// from the built-in defaults plus the user's syftpriority file, in gitignore
// syntax.
type PriorityList struct {
	baseDir string

	mu       sync.RWMutex
	priority *gitignore.GitIgnore
	stamp    ruleFileStamp
}

func NewPriorityList(baseDir string) *PriorityList {
	s := &PriorityList{baseDir: baseDir}
	s.Load()
	return s
}

// Load (re)compiles the pattern set from defaults plus the syftpriority file.
func (s *PriorityList) Load() {
	priorityPath := filepath.Join(s.baseDir, PriorityFileName)
	stamp := stampRuleFile(priorityPath)
	lines := defaultPriorityLines

	if stamp.exists {
		file, err := os.Open(priorityPath)
		if err != nil {
			slog.Warn("failed to open syftpriority file", "path", priorityPath, "error", err)
		} else {
			defer file.Close()

			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading syftpriority file", "path", priorityPath, "error", err)
			}
		}
	}

	compiled := gitignore.CompileIgnoreLines(lines...)
	s.mu.Lock()
	s.priority = compiled
	s.stamp = stamp
	s.mu.Unlock()
}

// Refresh recompiles the patterns when syftpriority changed since the last
// load.
func (s *PriorityList) Refresh() {
	s.mu.RLock()
	stamp := s.stamp
	s.mu.RUnlock()

	if stampRuleFile(filepath.Join(s.baseDir, PriorityFileName)) != stamp {
		s.Load()
	}
}

// ShouldPrioritize matches a path relative to the datasites root.
func (s *PriorityList) ShouldPrioritize(relPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priority.MatchesPath(relPath)
}
