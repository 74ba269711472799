package sync

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/server/store"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// Create uploads a whole new file as multipart form data: a "path" field and
// a "file" part.
func (h *Handler) Create(ctx *gin.Context) {
	rel := utils.NormPath(ctx.PostForm("path"))
	if !utils.IsValidRelPath(rel) {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("invalid path: %q", rel))
		return
	}

	user := currentUser(ctx)
	if !h.svc.Can(user, rel, h.svc.CreationGate(rel)) {
		abortError(ctx, syftmsg.ErrPermissionDenied, fmt.Errorf("%s cannot create %s", user, rel))
		return
	}

	if _, err := h.svc.Store().GetFileMetadata(ctx.Request.Context(), rel); err == nil {
		abortError(ctx, syftmsg.ErrAlreadyExists, fmt.Errorf("already exists: %s", rel))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("form file: %w", err))
		return
	}

	fd, err := file.Open()
	if err != nil {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("form file: %w", err))
		return
	}
	defer fd.Close()

	content, err := io.ReadAll(fd)
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	if permset.IsPermFile(rel) {
		if _, err := permset.Parse(rel, content); err != nil {
			abortError(ctx, syftmsg.ErrBadRequest, err)
			return
		}
	}

	meta, err := h.svc.WriteFile(ctx.Request.Context(), rel, content)
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}
	if err := h.svc.Store().LinkFile(ctx.Request.Context(), rel); err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}
	if permset.IsPermFile(rel) {
		if err := h.svc.RefreshRules(ctx.Request.Context(), rel, content); err != nil {
			abortError(ctx, syftmsg.ErrInternal, err)
			return
		}
	}

	ctx.PureJSON(http.StatusCreated, meta)
}

// Delete removes a file from the snapshot and its metadata row.
func (h *Handler) Delete(ctx *gin.Context) {
	var req syftmsg.PathRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("bind: %w", err))
		return
	}
	rel := utils.NormPath(req.Path)
	if !utils.IsValidRelPath(rel) {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("invalid path: %q", req.Path))
		return
	}

	user := currentUser(ctx)
	if !h.svc.Can(user, rel, h.svc.MutationGate(rel)) {
		abortError(ctx, syftmsg.ErrPermissionDenied, fmt.Errorf("%s cannot delete %s", user, rel))
		return
	}

	err := h.svc.RemoveFile(ctx.Request.Context(), rel)
	if errors.Is(err, store.ErrNotOneRow) || errors.Is(err, store.ErrNotFound) {
		abortError(ctx, syftmsg.ErrNotFound, fmt.Errorf("no such file: %s", rel))
		return
	}
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// Download streams the raw bytes of one file.
func (h *Handler) Download(ctx *gin.Context) {
	var req syftmsg.PathRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("bind: %w", err))
		return
	}
	rel := utils.NormPath(req.Path)
	if !utils.IsValidRelPath(rel) {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("invalid path: %q", req.Path))
		return
	}

	user := currentUser(ctx)
	if !h.svc.Can(user, rel, permset.Read) {
		abortError(ctx, syftmsg.ErrPermissionDenied, fmt.Errorf("%s cannot read %s", user, rel))
		return
	}

	absPath := h.svc.AbsPath(rel)
	if !utils.FileExists(absPath) {
		abortError(ctx, syftmsg.ErrNotFound, fmt.Errorf("no such file: %s", rel))
		return
	}

	ctx.FileAttachment(absPath, rel)
}

// DownloadBulk streams a zip bundle of every requested path the caller may
// read. Unreadable or missing entries are skipped, not fatal.
func (h *Handler) DownloadBulk(ctx *gin.Context) {
	var req syftmsg.DownloadBulkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("bind: %w", err))
		return
	}

	user := currentUser(ctx)
	ctx.Header("Content-Type", "application/zip")
	ctx.Header("Content-Disposition", `attachment; filename="syftsync-bundle.zip"`)
	ctx.Status(http.StatusOK)

	zw := zip.NewWriter(ctx.Writer)
	defer zw.Close()

	for _, reqPath := range req.Paths {
		rel := utils.NormPath(reqPath)
		if !utils.IsValidRelPath(rel) {
			slog.Warn("bulk download skip", "path", reqPath, "reason", "invalid path")
			continue
		}
		if !h.svc.Can(user, rel, permset.Read) {
			slog.Warn("bulk download skip", "path", rel, "user", user, "reason", "permission denied")
			continue
		}

		fd, err := os.Open(h.svc.AbsPath(rel))
		if err != nil {
			slog.Warn("bulk download skip", "path", rel, "error", err)
			continue
		}

		entry, err := zw.Create(rel)
		if err == nil {
			_, err = io.Copy(entry, fd)
		}
		fd.Close()
		if err != nil {
			slog.Warn("bulk download entry", "path", rel, "error", err)
			return
		}
	}
}
