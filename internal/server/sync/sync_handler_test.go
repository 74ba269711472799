package sync

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftsync/internal/db"
	"github.com/openmined/syftsync/internal/delta"
	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/server/store"
	"github.com/openmined/syftsync/internal/syftmsg"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
)

type harness struct {
	svc    *Service
	engine *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sqldb, err := db.NewSqliteDb(db.WithPath(filepath.Join(t.TempDir(), "server.db")))
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	st, err := store.New(sqldb)
	require.NoError(t, err)

	svc, err := NewService(t.TempDir(), st)
	require.NoError(t, err)

	engine := gin.New()
	// stand-in for the JWT middleware: trust a plain header
	engine.Use(func(ctx *gin.Context) {
		if user := ctx.GetHeader("X-Test-User"); user != "" {
			ctx.Set(UserContextKey, user)
		}
	})
	NewHandler(svc).RegisterRoutes(engine.Group("/sync"))

	return &harness{svc: svc, engine: engine}
}

// seedDatasite installs the owner-admin permission file of a fresh datasite.
func (h *harness) seedDatasite(t *testing.T, email string) {
	t.Helper()
	h.seedPermFile(t, permset.DatasiteDefault(email))
}

func (h *harness) seedPermFile(t *testing.T, file *permset.File) {
	t.Helper()
	absPath := h.svc.AbsPath(file.RelPath)
	require.NoError(t, file.Save(absPath))

	content, err := os.ReadFile(absPath)
	require.NoError(t, err)

	meta, err := h.svc.StatMetadata(file.RelPath)
	require.NoError(t, err)
	require.NoError(t, h.svc.Store().SaveFileMetadata(context.Background(), meta))
	require.NoError(t, h.svc.RefreshRules(context.Background(), file.RelPath, content))
}

// seedFile writes a data file straight through the service, as if a previous
// sync had created it.
func (h *harness) seedFile(t *testing.T, rel string, content []byte) {
	t.Helper()
	_, err := h.svc.WriteFile(context.Background(), rel, content)
	require.NoError(t, err)
	require.NoError(t, h.svc.Store().LinkFile(context.Background(), rel))
}

func (h *harness) postJSON(t *testing.T, user, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postMultipart(t *testing.T, user, rel string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("path", rel))
	part, err := mw.CreateFormFile("file", filepath.Base(rel))
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/sync/create", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *syftmsg.APIError {
	t.Helper()
	var apiErr syftmsg.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return &apiErr
}

func TestCreateAndGetMetadata(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)

	rec := h.postMultipart(t, alice, alice+"/notes.txt", []byte("hello"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var meta syftmsg.FileMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, delta.HashBytes([]byte("hello")), meta.Hash)
	assert.Equal(t, int64(5), meta.FileSize)

	rec = h.postJSON(t, alice, "/sync/get_metadata", syftmsg.PathRequest{Path: alice + "/notes.txt"})
	require.Equal(t, http.StatusOK, rec.Code)

	// duplicate create conflicts
	rec = h.postMultipart(t, alice, alice+"/notes.txt", []byte("hello"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, syftmsg.ErrAlreadyExists, decodeError(t, rec).Kind)
}

func TestCreateDeniedForStranger(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)

	rec := h.postMultipart(t, bob, alice+"/intruder.txt", []byte("x"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, syftmsg.ErrPermissionDenied, decodeError(t, rec).Kind)
}

func TestGetMetadataGates(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedPermFile(t, permset.PublicReadDefault(alice, alice+"/public"))
	h.seedFile(t, alice+"/private.txt", []byte("secret"))
	h.seedFile(t, alice+"/public/hello.txt", []byte("world"))

	rec := h.postJSON(t, bob, "/sync/get_metadata", syftmsg.PathRequest{Path: alice + "/private.txt"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.postJSON(t, bob, "/sync/get_metadata", syftmsg.PathRequest{Path: alice + "/public/hello.txt"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.postJSON(t, alice, "/sync/get_metadata", syftmsg.PathRequest{Path: alice + "/missing.txt"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, syftmsg.ErrNotFound, decodeError(t, rec).Kind)
}

func TestDatasiteStatesFiltered(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedPermFile(t, permset.PublicReadDefault(alice, alice+"/public"))
	h.seedFile(t, alice+"/private.txt", []byte("secret"))
	h.seedFile(t, alice+"/public/hello.txt", []byte("world"))

	rec := h.postJSON(t, bob, "/sync/datasite_states", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp syftmsg.DatasiteStatesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var paths []string
	for _, m := range resp.Datasites[alice] {
		paths = append(paths, m.Path)
	}
	assert.Contains(t, paths, alice+"/public/hello.txt")
	assert.NotContains(t, paths, alice+"/private.txt")
}

func TestDiffRoundTripThroughHandlers(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedFile(t, alice+"/b.txt", []byte("AAAA CCCC"))

	// fetch the remote signature via metadata
	rec := h.postJSON(t, alice, "/sync/get_metadata", syftmsg.PathRequest{Path: alice + "/b.txt"})
	require.Equal(t, http.StatusOK, rec.Code)
	var meta syftmsg.FileMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))

	sig, err := delta.DecodeSig(meta.Signature)
	require.NoError(t, err)

	// push local content on top of the remote copy
	local := []byte("AAAA BBBB")
	d := delta.ComputeDiffBytes(sig, local)
	rec = h.postJSON(t, alice, "/sync/apply_diff", syftmsg.ApplyDiffRequest{
		Path:         alice + "/b.txt",
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: delta.HashBytes(local),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var applied syftmsg.ApplyDiffResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, delta.HashBytes(local), applied.AppliedHash)

	onDisk, err := os.ReadFile(h.svc.AbsPath(alice + "/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, local, onDisk)

	// and pull it back down via get_diff
	stale := []byte("AAAA CCCC")
	staleSig, err := delta.ComputeSignature(bytes.NewReader(stale))
	require.NoError(t, err)
	rec = h.postJSON(t, alice, "/sync/get_diff", syftmsg.GetDiffRequest{
		Path:      alice + "/b.txt",
		Signature: delta.EncodeSig(staleSig),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var diffResp syftmsg.GetDiffResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diffResp))
	pulled, err := delta.DecodeDelta(diffResp.Diff)
	require.NoError(t, err)
	patched, err := delta.ApplyDeltaBytes(stale, pulled)
	require.NoError(t, err)
	assert.Equal(t, local, patched)
	assert.Equal(t, delta.HashBytes(local), diffResp.ExpectedHash)
}

func TestApplyDiffHashMismatchLeavesFile(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedFile(t, alice+"/b.txt", []byte("AAAA CCCC"))

	sig, err := delta.ComputeSignature(bytes.NewReader([]byte("AAAA CCCC")))
	require.NoError(t, err)
	d := delta.ComputeDiffBytes(sig, []byte("AAAA BBBB"))

	rec := h.postJSON(t, alice, "/sync/apply_diff", syftmsg.ApplyDiffRequest{
		Path:         alice + "/b.txt",
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: "not-the-hash",
	})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, syftmsg.ErrHashMismatch, decodeError(t, rec).Kind)

	onDisk, err := os.ReadFile(h.svc.AbsPath(alice + "/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA CCCC"), onDisk)
}

func TestDeleteRemovesFileAndRow(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedFile(t, alice+"/c.txt", []byte("bye"))

	rec := h.postJSON(t, alice, "/sync/delete", syftmsg.PathRequest{Path: alice + "/c.txt"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoFileExists(t, h.svc.AbsPath(alice+"/c.txt"))

	rec = h.postJSON(t, alice, "/sync/get_metadata", syftmsg.PathRequest{Path: alice + "/c.txt"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// second delete is NotFound, not an internal error
	rec = h.postJSON(t, alice, "/sync/delete", syftmsg.PathRequest{Path: alice + "/c.txt"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadAndBulk(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedPermFile(t, permset.PublicReadDefault(alice, alice+"/public"))
	h.seedFile(t, alice+"/private.txt", []byte("secret"))
	h.seedFile(t, alice+"/public/hello.txt", []byte("world"))

	rec := h.postJSON(t, bob, "/sync/download", syftmsg.PathRequest{Path: alice + "/public/hello.txt"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "world", rec.Body.String())

	rec = h.postJSON(t, bob, "/sync/download", syftmsg.PathRequest{Path: alice + "/private.txt"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// the bundle silently drops what bob cannot read
	rec = h.postJSON(t, bob, "/sync/download_bulk", syftmsg.DownloadBulkRequest{
		Paths: []string{alice + "/public/hello.txt", alice + "/private.txt"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, alice+"/public/hello.txt", zr.File[0].Name)

	entry, err := zr.File[0].Open()
	require.NoError(t, err)
	data, err := io.ReadAll(entry)
	require.NoError(t, err)
	entry.Close()
	assert.Equal(t, "world", string(data))
}

func TestPermFileMutationNeedsAdmin(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedPermFile(t, permset.PublicReadDefault(alice, alice+"/shared"))
	permPath := alice + "/shared/" + permset.PermFileName

	// bob can read the rules but may not rewrite them
	sig, err := delta.SignatureOfFile(h.svc.AbsPath(permPath))
	require.NoError(t, err)
	next := []byte("- path: \"**\"\n  user: \"*\"\n  permissions: [read, write]\n")
	d := delta.ComputeDiffBytes(sig, next)

	rec := h.postJSON(t, bob, "/sync/apply_diff", syftmsg.ApplyDiffRequest{
		Path:         permPath,
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: delta.HashBytes(next),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// the owner may, and the new rules take effect immediately
	rec = h.postJSON(t, alice, "/sync/apply_diff", syftmsg.ApplyDiffRequest{
		Path:         permPath,
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: delta.HashBytes(next),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, h.svc.Can(bob, alice+"/shared/data.txt", permset.Write))
}

func TestPermFileParseErrorKeepsOldRules(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedPermFile(t, permset.PublicReadDefault(alice, alice+"/shared"))
	permPath := alice + "/shared/" + permset.PermFileName

	require.True(t, h.svc.Can(bob, alice+"/shared/data.txt", permset.Read))

	sig, err := delta.SignatureOfFile(h.svc.AbsPath(permPath))
	require.NoError(t, err)
	bad := []byte("- path: \"**\"\n  user: \"*\"\n  bogus_key: true\n")
	d := delta.ComputeDiffBytes(sig, bad)

	rec := h.postJSON(t, alice, "/sync/apply_diff", syftmsg.ApplyDiffRequest{
		Path:         permPath,
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: delta.HashBytes(bad),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// file untouched, rules untouched
	assert.True(t, h.svc.Can(bob, alice+"/shared/data.txt", permset.Read))
	onDisk, err := os.ReadFile(h.svc.AbsPath(permPath))
	require.NoError(t, err)
	assert.NotEqual(t, bad, onDisk)
}

func TestApplyDiffMissingPermFileIsNotFound(t *testing.T) {
	// the client's NotFound fallback turns this into a create
	h := newHarness(t)
	h.seedDatasite(t, alice)
	permPath := alice + "/shared/" + permset.PermFileName

	sig, err := delta.ComputeSignature(bytes.NewReader(nil))
	require.NoError(t, err)
	next := []byte("- path: \"**\"\n  user: \"*\"\n  permissions: [read]\n")
	d := delta.ComputeDiffBytes(sig, next)

	rec := h.postJSON(t, alice, "/sync/apply_diff", syftmsg.ApplyDiffRequest{
		Path:         permPath,
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: delta.HashBytes(next),
	})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	assert.Equal(t, syftmsg.ErrNotFound, decodeError(t, rec).Kind)
}

func TestRescanReconciles(t *testing.T) {
	h := newHarness(t)
	h.seedDatasite(t, alice)
	h.seedFile(t, alice+"/a.txt", []byte("one"))
	h.seedFile(t, alice+"/b.txt", []byte("two"))
	ctx := context.Background()

	// disk drifts behind the store's back
	require.NoError(t, os.Remove(h.svc.AbsPath(alice+"/a.txt")))
	require.NoError(t, os.WriteFile(h.svc.AbsPath(alice+"/c.txt"), []byte("three"), 0o644))

	require.NoError(t, h.svc.Rescan(ctx))

	_, err := h.svc.Store().GetFileMetadata(ctx, alice+"/a.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)

	meta, err := h.svc.Store().GetFileMetadata(ctx, alice+"/c.txt")
	require.NoError(t, err)
	assert.Equal(t, delta.HashBytes([]byte("three")), meta.Hash)
}
