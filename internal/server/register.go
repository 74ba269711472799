package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/server/store"
	syncsvc "github.com/openmined/syftsync/internal/server/sync"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// registerHandler records a user and provisions their datasite root: an
// owner-admin permission file plus a world-readable public folder.
func registerHandler(svc *syncsvc.Service) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req syftmsg.RegisterRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.PureJSON(http.StatusBadRequest, syftmsg.NewAPIError(syftmsg.ErrBadRequest, err.Error()))
			return
		}
		if err := utils.ValidateEmail(req.Email); err != nil {
			ctx.PureJSON(http.StatusBadRequest, syftmsg.NewAPIError(syftmsg.ErrBadRequest, err.Error()))
			return
		}

		// an authenticated caller may only register itself
		if caller := ctx.GetString(syncsvc.UserContextKey); caller != "" && caller != req.Email {
			ctx.PureJSON(http.StatusForbidden, syftmsg.NewAPIError(syftmsg.ErrPermissionDenied,
				fmt.Sprintf("%s cannot register %s", caller, req.Email)))
			return
		}

		err := svc.Store().CreateUser(ctx.Request.Context(), req.Email)
		if errors.Is(err, store.ErrUserExists) {
			ctx.PureJSON(http.StatusConflict, syftmsg.NewAPIError(syftmsg.ErrAlreadyExists,
				fmt.Sprintf("already registered: %s", req.Email)))
			return
		}
		if err != nil {
			ctx.PureJSON(http.StatusInternalServerError, syftmsg.NewAPIError(syftmsg.ErrInternal, err.Error()))
			return
		}

		for _, file := range []*permset.File{
			permset.DatasiteDefault(req.Email),
			permset.PublicReadDefault(req.Email, req.Email+"/public"),
		} {
			if err := provisionPermFile(ctx, svc, file); err != nil {
				ctx.PureJSON(http.StatusInternalServerError, syftmsg.NewAPIError(syftmsg.ErrInternal, err.Error()))
				return
			}
		}

		ctx.Status(http.StatusCreated)
	}
}

func provisionPermFile(ctx *gin.Context, svc *syncsvc.Service, file *permset.File) error {
	content, err := file.Marshal()
	if err != nil {
		return err
	}
	if _, err := svc.WriteFile(ctx.Request.Context(), file.RelPath, content); err != nil {
		return err
	}
	if err := svc.Store().LinkFile(ctx.Request.Context(), file.RelPath); err != nil {
		return err
	}
	return svc.RefreshRules(ctx.Request.Context(), file.RelPath, content)
}
