package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

// UserContextKey mirrors the key the JWT middleware stores the subject under.
const UserContextKey = "user"

type EmailTokenRequest struct {
	Email string `json:"email" binding:"required"`
}

type ValidateEmailTokenRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type RefreshRequest struct {
	OldRefreshToken string `json:"refreshToken" binding:"required"`
}

type WhoamiResponse struct {
	Email string `json:"email"`
}

type Handler struct {
	auth *Service
}

func NewHandler(auth *Service) *Handler {
	return &Handler{auth: auth}
}

// RequestEmailToken mails an OTP to the given address.
func (h *Handler) RequestEmailToken(ctx *gin.Context) {
	var req EmailTokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.PureJSON(http.StatusBadRequest, syftmsg.NewAPIError(syftmsg.ErrBadRequest, err.Error()))
		return
	}

	if err := h.auth.SendOTP(ctx.Request.Context(), req.Email); err != nil {
		ctx.Error(fmt.Errorf("failed to send OTP: %w", err))
		if errors.Is(err, utils.ErrEmailInvalid) || errors.Is(err, utils.ErrEmailEmpty) {
			ctx.PureJSON(http.StatusBadRequest, syftmsg.NewAPIError(syftmsg.ErrBadRequest, err.Error()))
		} else {
			ctx.PureJSON(http.StatusInternalServerError, syftmsg.NewAPIError(syftmsg.ErrInternal, err.Error()))
		}
		return
	}

	ctx.String(http.StatusOK, "")
}

// ValidateEmailToken trades an OTP for an access/refresh token pair.
func (h *Handler) ValidateEmailToken(ctx *gin.Context) {
	var req ValidateEmailTokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.PureJSON(http.StatusBadRequest, syftmsg.NewAPIError(syftmsg.ErrBadRequest, err.Error()))
		return
	}

	accessToken, refreshToken, err := h.auth.GenerateTokens(ctx.Request.Context(), req.Email, req.Code)
	if err != nil {
		ctx.Error(fmt.Errorf("failed to generate tokens: %w", err))
		ctx.PureJSON(http.StatusUnauthorized, syftmsg.NewAPIError(syftmsg.ErrUnauthorized, err.Error()))
		return
	}

	ctx.PureJSON(http.StatusOK, &TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Refresh trades a refresh token for a fresh pair.
func (h *Handler) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.PureJSON(http.StatusBadRequest, syftmsg.NewAPIError(syftmsg.ErrBadRequest, err.Error()))
		return
	}

	accessToken, refreshToken, err := h.auth.RefreshToken(ctx.Request.Context(), req.OldRefreshToken)
	if err != nil {
		ctx.Error(fmt.Errorf("failed to refresh token: %w", err))
		ctx.PureJSON(http.StatusUnauthorized, syftmsg.NewAPIError(syftmsg.ErrUnauthorized, err.Error()))
		return
	}

	ctx.PureJSON(http.StatusOK, &TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Whoami echoes the authenticated subject.
func (h *Handler) Whoami(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, &WhoamiResponse{Email: ctx.GetString(UserContextKey)})
}
