// Package workspace manages the on-disk layout of a client's datasites tree.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/openmined/syftsync/internal/client/sync"
	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/utils"
)

const (
	datasitesDir = "datasites"
	logsDir      = "logs"
	publicDir    = "public"
	metadataDir  = ".data"
	lockFile     = "syftsync.lock"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is the client's data directory: a datasites tree mirroring the
// server, plus local metadata and logs that never sync.
type Workspace struct {
	Owner         string
	Root          string
	DatasitesDir  string
	MetadataDir   string
	LogsDir       string
	UserDir       string
	UserPublicDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string, user string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	return &Workspace{
		Owner:         user,
		Root:          root,
		DatasitesDir:  filepath.Join(root, datasitesDir),
		MetadataDir:   filepath.Join(root, metadataDir),
		LogsDir:       filepath.Join(root, logsDir),
		UserDir:       filepath.Join(root, datasitesDir, user),
		UserPublicDir: filepath.Join(root, datasitesDir, user, publicDir),
		flock:         flock.New(filepath.Join(root, metadataDir, lockFile)),
	}, nil
}

// Lock takes the workspace lock so two client processes cannot sync the same
// tree.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup locks the workspace, creates the directory layout, and seeds the
// owner's default permission files.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	for _, dir := range []string{w.DatasitesDir, w.MetadataDir, w.LogsDir, w.UserPublicDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// a template the user can edit; never overwritten once it exists
	if err := sync.EnsureIgnoreFile(w.DatasitesDir); err != nil {
		return fmt.Errorf("ignore file: %w", err)
	}

	return w.createDefaultPermFiles()
}

func (w *Workspace) createDefaultPermFiles() error {
	rootPermPath := filepath.Join(w.UserDir, permset.PermFileName)
	if !utils.FileExists(rootPermPath) {
		if err := permset.DatasiteDefault(w.Owner).Save(rootPermPath); err != nil {
			return fmt.Errorf("root permission file: %w", err)
		}
	}

	publicPermPath := filepath.Join(w.UserPublicDir, permset.PermFileName)
	if !utils.FileExists(publicPermPath) {
		publicRel := w.Owner + "/" + publicDir
		if err := permset.PublicReadDefault(w.Owner, publicRel).Save(publicPermPath); err != nil {
			return fmt.Errorf("public permission file: %w", err)
		}
	}
	return nil
}

// DatasiteAbsPath maps a relative sync path onto the datasites tree.
func (w *Workspace) DatasiteAbsPath(relPath string) string {
	return filepath.Join(w.DatasitesDir, filepath.FromSlash(relPath))
}

// DatasiteRelPath maps an absolute path back to its relative sync path.
func (w *Workspace) DatasiteRelPath(absPath string) (string, error) {
	relPath, err := filepath.Rel(w.DatasitesDir, absPath)
	if err != nil {
		return "", err
	}
	relPath = utils.NormPath(relPath)
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path outside datasites tree: %s", absPath)
	}
	return relPath, nil
}

// InDatasites reports whether absPath lives under the synced tree.
func (w *Workspace) InDatasites(absPath string) bool {
	_, err := w.DatasiteRelPath(absPath)
	return err == nil
}
