package syftsdk

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/imroc/req/v3"

	"github.com/openmined/syftsync/internal/syftmsg"
)

const (
	syncDatasiteStates = "/sync/datasite_states"
	syncDirState       = "/sync/dir_state"
	syncGetMetadata    = "/sync/get_metadata"
	syncGetDiff        = "/sync/get_diff"
	syncApplyDiff      = "/sync/apply_diff"
	syncCreate         = "/sync/create"
	syncDelete         = "/sync/delete"
	syncDownload       = "/sync/download"
	syncDownloadBulk   = "/sync/download_bulk"
)

// SyncAPI speaks the /sync endpoints.
type SyncAPI struct {
	client *req.Client
}

func newSyncAPI(client *req.Client) *SyncAPI {
	return &SyncAPI{client: client}
}

// DatasiteStates returns, per datasite, the file metadata visible to the
// caller.
func (a *SyncAPI) DatasiteStates(ctx context.Context) (map[string][]*syftmsg.FileMetadata, error) {
	var resp syftmsg.DatasiteStatesResponse
	res, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Post(syncDatasiteStates)
	if err := handleAPIError(res, err, "datasite states"); err != nil {
		return nil, err
	}
	return resp.Datasites, nil
}

// DirState lists the readable metadata under one directory prefix.
func (a *SyncAPI) DirState(ctx context.Context, dir string) ([]*syftmsg.FileMetadata, error) {
	var resp syftmsg.DirStateResponse
	res, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("dir", dir).
		SetSuccessResult(&resp).
		Post(syncDirState)
	if err := handleAPIError(res, err, "dir state"); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// GetMetadata fetches the metadata of one remote path.
func (a *SyncAPI) GetMetadata(ctx context.Context, relPath string) (*syftmsg.FileMetadata, error) {
	var resp syftmsg.FileMetadata
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&syftmsg.PathRequest{Path: relPath}).
		SetSuccessResult(&resp).
		Post(syncGetMetadata)
	if err := handleAPIError(res, err, "get metadata "+relPath); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDiff asks for a delta from the caller's copy (described by its encoded
// signature) to the server's copy.
func (a *SyncAPI) GetDiff(ctx context.Context, relPath, encodedSig string) (*syftmsg.GetDiffResponse, error) {
	var resp syftmsg.GetDiffResponse
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&syftmsg.GetDiffRequest{Path: relPath, Signature: encodedSig}).
		SetSuccessResult(&resp).
		Post(syncGetDiff)
	if err := handleAPIError(res, err, "get diff "+relPath); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ApplyDiff pushes a delta on top of the server's copy.
func (a *SyncAPI) ApplyDiff(ctx context.Context, relPath, encodedDiff, expectedHash string) (*syftmsg.ApplyDiffResponse, error) {
	var resp syftmsg.ApplyDiffResponse
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&syftmsg.ApplyDiffRequest{
			Path:         relPath,
			Diff:         encodedDiff,
			ExpectedHash: expectedHash,
		}).
		SetSuccessResult(&resp).
		Post(syncApplyDiff)
	if err := handleAPIError(res, err, "apply diff "+relPath); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Create uploads a whole new file as multipart form data.
func (a *SyncAPI) Create(ctx context.Context, relPath string, content []byte) (*syftmsg.FileMetadata, error) {
	var resp syftmsg.FileMetadata
	res, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"path": relPath}).
		SetFileBytes("file", path.Base(relPath), content).
		SetSuccessResult(&resp).
		Post(syncCreate)
	if err := handleAPIError(res, err, "create "+relPath); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete removes the remote file.
func (a *SyncAPI) Delete(ctx context.Context, relPath string) error {
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&syftmsg.PathRequest{Path: relPath}).
		Post(syncDelete)
	return handleAPIError(res, err, "delete "+relPath)
}

// Download fetches the raw bytes of one remote file.
func (a *SyncAPI) Download(ctx context.Context, relPath string) ([]byte, error) {
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&syftmsg.PathRequest{Path: relPath}).
		Post(syncDownload)
	if err := handleAPIError(res, err, "download "+relPath); err != nil {
		return nil, err
	}
	return res.ToBytes()
}

// DownloadBulk fetches several files in one zip bundle and returns them
// keyed by relative path. Paths the caller may not read are absent.
func (a *SyncAPI) DownloadBulk(ctx context.Context, relPaths []string) (map[string][]byte, error) {
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&syftmsg.DownloadBulkRequest{Paths: relPaths}).
		Post(syncDownloadBulk)
	if err := handleAPIError(res, err, "download bulk"); err != nil {
		return nil, err
	}

	raw, err := res.ToBytes()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("download bulk: bad bundle: %w", err)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, entry := range zr.File {
		fd, err := entry.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(fd)
		fd.Close()
		if err != nil {
			return nil, err
		}
		files[entry.Name] = content
	}
	return files, nil
}
