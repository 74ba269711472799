package sync

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/server/store"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// DatasiteStates lists, per datasite, the file metadata the caller may read.
func (h *Handler) DatasiteStates(ctx *gin.Context) {
	user := currentUser(ctx)

	datasites, err := h.svc.Store().ListDatasites(ctx.Request.Context())
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	states := make(map[string][]*syftmsg.FileMetadata, len(datasites))
	for _, datasite := range datasites {
		visible, err := h.svc.readableUnder(ctx.Request.Context(), user, datasite+"/")
		if err != nil {
			abortError(ctx, syftmsg.ErrInternal, err)
			return
		}
		if len(visible) > 0 {
			states[datasite] = visible
		}
	}

	ctx.PureJSON(http.StatusOK, &syftmsg.DatasiteStatesResponse{Datasites: states})
}

// DirState lists the readable metadata under one directory prefix.
func (h *Handler) DirState(ctx *gin.Context) {
	dir := utils.NormPath(ctx.Query("dir"))
	if !utils.IsValidRelPath(dir) {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("invalid dir: %q", dir))
		return
	}

	visible, err := h.svc.readableUnder(ctx.Request.Context(), currentUser(ctx), dir+"/")
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &syftmsg.DirStateResponse{Files: visible})
}

// GetMetadata fetches the metadata row of one path.
func (h *Handler) GetMetadata(ctx *gin.Context) {
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

	meta, err := h.svc.Store().GetFileMetadata(ctx.Request.Context(), rel)
	if errors.Is(err, store.ErrNotFound) {
		abortError(ctx, syftmsg.ErrNotFound, fmt.Errorf("no such file: %s", rel))
		return
	}
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	ctx.PureJSON(http.StatusOK, meta)
}
