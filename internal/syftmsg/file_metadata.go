// Package syftmsg holds the wire types shared by the client SDK and the
// server sync endpoints.
package syftmsg

import (
	"time"

	"github.com/openmined/syftsync/internal/utils"
)

// FileMetadata describes one file in a datasite tree. Signature is the
// base85-encoded block signature of the contents; LastModified is UTC at
// filesystem mtime resolution.
type FileMetadata struct {
	Path         string    `json:"path"`
	Hash         string    `json:"hash"`
	Signature    string    `json:"signature"`
	FileSize     int64     `json:"file_size"`
	LastModified time.Time `json:"last_modified"`
}

// Datasite returns the owning datasite's email, the path's first segment.
func (m *FileMetadata) Datasite() string {
	return utils.PathOwner(m.Path)
}
