package syftmsg

import "fmt"

// ErrorKind is the machine-readable error discriminator of the wire envelope.
type ErrorKind string

const (
	ErrUnauthorized     ErrorKind = "Unauthorized"
	ErrPermissionDenied ErrorKind = "PermissionDenied"
	ErrNotFound         ErrorKind = "NotFound"
	ErrAlreadyExists    ErrorKind = "AlreadyExists"
	ErrHashMismatch     ErrorKind = "HashMismatch"
	ErrBadRequest       ErrorKind = "BadRequest"
	ErrInternal         ErrorKind = "Internal"
)

// APIError is the error envelope carried by every non-2xx response.
type APIError struct {
	Kind    ErrorKind `json:"error_kind"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Kind, e.Message)
}

func NewAPIError(kind ErrorKind, message string) *APIError {
	return &APIError{Kind: kind, Message: message}
}

// PathRequest is the body of endpoints addressing a single path.
type PathRequest struct {
	Path string `json:"path" binding:"required"`
}

// DatasiteStatesResponse maps datasite emails to the file metadata visible to
// the caller.
type DatasiteStatesResponse struct {
	Datasites map[string][]*FileMetadata `json:"datasites"`
}

// DirStateResponse lists the metadata under one directory prefix.
type DirStateResponse struct {
	Files []*FileMetadata `json:"files"`
}

// GetDiffRequest asks for a delta from the caller's copy (described by
// Signature) to the server's copy of Path.
type GetDiffRequest struct {
	Path      string `json:"path" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// GetDiffResponse carries the base85 delta and the hash the patched result
// must have.
type GetDiffResponse struct {
	Path         string `json:"path"`
	Diff         string `json:"diff"`
	ExpectedHash string `json:"expected_hash"`
}

// ApplyDiffRequest pushes a delta against the server's copy of Path.
// ExpectedHash is the post-patch content hash; the server rejects the write
// with HashMismatch if the patched bytes hash differently.
type ApplyDiffRequest struct {
	Path         string `json:"path" binding:"required"`
	Diff         string `json:"diff" binding:"required"`
	ExpectedHash string `json:"expected_hash" binding:"required"`
}

// ApplyDiffResponse confirms the applied content hash.
type ApplyDiffResponse struct {
	Path        string `json:"path"`
	AppliedHash string `json:"applied_hash"`
}

// DownloadBulkRequest asks for a zip bundle of several paths.
type DownloadBulkRequest struct {
	Paths []string `json:"paths" binding:"required"`
}

// RegisterRequest records a user and creates their datasite root.
type RegisterRequest struct {
	Email string `json:"email" binding:"required"`
}
