package sync

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftsync/internal/delta"
	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/server/store"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// GetDiff computes a delta from the caller's copy (described by its
// signature) to the server's copy of the path.
func (h *Handler) GetDiff(ctx *gin.Context) {
	var req syftmsg.GetDiffRequest
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

	sig, err := delta.DecodeSig(req.Signature)
	if err != nil {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("signature: %w", err))
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

	fd, err := os.Open(h.svc.AbsPath(rel))
	if os.IsNotExist(err) {
		abortError(ctx, syftmsg.ErrNotFound, fmt.Errorf("no such file: %s", rel))
		return
	}
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}
	defer fd.Close()

	d, err := delta.ComputeDiff(sig, fd)
	if err != nil {
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &syftmsg.GetDiffResponse{
		Path:         rel,
		Diff:         delta.EncodeDelta(d),
		ExpectedHash: meta.Hash,
	})
}

// ApplyDiff patches the server's copy of the path. Permission files are
// validated before any byte is written, so an invalid rule set never lands in
// the snapshot.
func (h *Handler) ApplyDiff(ctx *gin.Context) {
	var req syftmsg.ApplyDiffRequest
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
		abortError(ctx, syftmsg.ErrPermissionDenied, fmt.Errorf("%s cannot write %s", user, rel))
		return
	}

	d, err := delta.DecodeDelta(req.Diff)
	if err != nil {
		abortError(ctx, syftmsg.ErrBadRequest, fmt.Errorf("diff: %w", err))
		return
	}

	if permset.IsPermFile(rel) {
		if err := h.previewRules(rel, d, req.ExpectedHash); err != nil {
			// a missing base is NotFound, so callers fall back to create
			if os.IsNotExist(err) {
				abortError(ctx, syftmsg.ErrNotFound, fmt.Errorf("no such file: %s", rel))
			} else {
				abortError(ctx, syftmsg.ErrBadRequest, err)
			}
			return
		}
	}

	meta, err := h.svc.ApplyPatch(ctx.Request.Context(), rel, d, req.ExpectedHash)
	switch {
	case errors.Is(err, ErrHashMismatch):
		abortError(ctx, syftmsg.ErrHashMismatch, err)
		return
	case os.IsNotExist(err):
		abortError(ctx, syftmsg.ErrNotFound, fmt.Errorf("no such file: %s", rel))
		return
	case err != nil:
		abortError(ctx, syftmsg.ErrInternal, err)
		return
	}

	if permset.IsPermFile(rel) {
		content, err := os.ReadFile(h.svc.AbsPath(rel))
		if err == nil {
			err = h.svc.RefreshRules(ctx.Request.Context(), rel, content)
		}
		if err != nil {
			abortError(ctx, syftmsg.ErrInternal, err)
			return
		}
	}

	ctx.PureJSON(http.StatusOK, &syftmsg.ApplyDiffResponse{
		Path:        rel,
		AppliedHash: meta.Hash,
	})
}

// previewRules applies the delta in memory and parses the result. Permission
// files are small, so the extra pass is cheap.
func (h *Handler) previewRules(rel string, d *delta.Delta, expectedHash string) error {
	base, err := os.ReadFile(h.svc.AbsPath(rel))
	if err != nil {
		return err
	}
	patched, err := delta.ApplyDeltaBytes(base, d)
	if err != nil {
		return fmt.Errorf("permission file %s: %w", rel, err)
	}
	if delta.HashBytes(patched) != expectedHash {
		// let ApplyPatch produce the authoritative HashMismatch
		return nil
	}
	_, err = permset.Parse(rel, patched)
	return err
}
