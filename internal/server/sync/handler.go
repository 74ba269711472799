package sync

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftsync/internal/syftmsg"
)

// UserContextKey is where the auth middleware stores the caller's email.
const UserContextKey = "user"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/datasite_states", h.DatasiteStates)
	rg.POST("/dir_state", h.DirState)
	rg.POST("/get_metadata", h.GetMetadata)
	rg.POST("/get_diff", h.GetDiff)
	rg.POST("/apply_diff", h.ApplyDiff)
	rg.POST("/create", h.Create)
	rg.POST("/delete", h.Delete)
	rg.POST("/download", h.Download)
	rg.POST("/download_bulk", h.DownloadBulk)
}

func currentUser(ctx *gin.Context) string {
	return ctx.GetString(UserContextKey)
}

func statusOf(kind syftmsg.ErrorKind) int {
	switch kind {
	case syftmsg.ErrUnauthorized:
		return http.StatusUnauthorized
	case syftmsg.ErrPermissionDenied:
		return http.StatusForbidden
	case syftmsg.ErrNotFound:
		return http.StatusNotFound
	case syftmsg.ErrAlreadyExists:
		return http.StatusConflict
	case syftmsg.ErrHashMismatch:
		return http.StatusPreconditionFailed
	case syftmsg.ErrBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortError(ctx *gin.Context, kind syftmsg.ErrorKind, err error) {
	ctx.Error(err)
	ctx.AbortWithStatusJSON(statusOf(kind), syftmsg.NewAPIError(kind, err.Error()))
}
