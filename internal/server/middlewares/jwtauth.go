package middlewares

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftsync/internal/server/auth"
	"github.com/openmined/syftsync/internal/syftmsg"
)

const (
	bearerPrefix   = "Bearer "
	authHeader     = "Authorization"
	userContextKey = "user"

	// devUserHeader identifies the caller when auth is disabled (local dev)
	devUserHeader = "X-Syft-User"
)

// JWTAuth validates the bearer token and stores the subject email under the
// "user" context key. With auth disabled, the caller is trusted to name
// itself via X-Syft-User.
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	if !authService.IsEnabled() {
		slog.Info("auth middleware disabled")
		return func(ctx *gin.Context) {
			if user := ctx.GetHeader(devUserHeader); user != "" {
				ctx.Set(userContextKey, user)
			}
			ctx.Next()
		}
	}

	slog.Info("auth middleware enabled")
	return func(ctx *gin.Context) {
		headerValue := ctx.GetHeader(authHeader)
		if headerValue == "" {
			abortUnauthorized(ctx, "Authorization header is missing")
			return
		}
		if !strings.HasPrefix(headerValue, bearerPrefix) {
			abortUnauthorized(ctx, "Authorization header format must be Bearer {token}")
			return
		}

		tokenString := strings.TrimPrefix(headerValue, bearerPrefix)
		if tokenString == "" {
			abortUnauthorized(ctx, "token is missing")
			return
		}

		claims, err := authService.ValidateAccessToken(ctx, tokenString)
		if err != nil {
			abortUnauthorized(ctx, err.Error())
			return
		}

		ctx.Set(userContextKey, claims.Subject)
		ctx.Next()
	}
}

func abortUnauthorized(ctx *gin.Context, message string) {
	ctx.AbortWithStatusJSON(http.StatusUnauthorized,
		syftmsg.NewAPIError(syftmsg.ErrUnauthorized, message))
}
