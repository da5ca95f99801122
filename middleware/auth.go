package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/abrino/abrinostore/auth"
	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/utils"
)

const (
	// ContextUserKey stores the authenticated *models.User in Gin context.
	ContextUserKey = "user"
	// ContextTokenKey stores the raw bearer token for logout.
	ContextTokenKey = "token"
)

// AuthRequired ensures the request carries a live session token and loads
// the account behind it.
func AuthRequired(issuer *auth.Issuer, cat *catalog.Catalog) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
			ctx.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
			ctx.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40103, "empty bearer token")
			ctx.Abort()
			return
		}

		userID, err := issuer.VerifySession(ctx.Request.Context(), tokenString)
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, 40104, "invalid or revoked token")
			ctx.Abort()
			return
		}

		user, err := cat.UserByID(ctx.Request.Context(), userID)
		if err != nil || !user.IsActive {
			utils.Error(ctx, http.StatusUnauthorized, 40105, "account unavailable")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserKey, user)
		ctx.Set(ContextTokenKey, tokenString)
		ctx.Next()
	}
}

// CurrentUser fetches the authenticated account placed by AuthRequired.
func CurrentUser(ctx *gin.Context) *models.User {
	v, ok := ctx.Get(ContextUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// AdminRequired layers on AuthRequired and rejects non-superusers.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		u := CurrentUser(ctx)
		if u == nil || !u.IsSuperuser {
			utils.Error(ctx, http.StatusForbidden, 40301, "admin privileges required")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
