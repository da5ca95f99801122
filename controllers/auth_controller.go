package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/abrino/abrinostore/auth"
	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/config"
	"github.com/abrino/abrinostore/middleware"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/utils"
)

// Messenger delivers a text message to a chat. Magic links go out through
// the gateway so they share the platform quota.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// AuthController handles registration, login, sessions and magic links.
type AuthController struct {
	catalog   *catalog.Catalog
	issuer    *auth.Issuer
	messenger Messenger
}

// NewAuthController creates an AuthController.
func NewAuthController(cat *catalog.Catalog, issuer *auth.Issuer, messenger Messenger) *AuthController {
	return &AuthController{catalog: cat, issuer: issuer, messenger: messenger}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// Register creates a password account when registration is open.
func (a *AuthController) Register(ctx *gin.Context) {
	if !config.Get().EnableRegistration {
		utils.Error(ctx, http.StatusForbidden, 40310, "registration is disabled")
		return
	}
	var req registerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid registration payload")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to process password")
		return
	}
	user := &models.User{Email: req.Email, HashedPassword: hash, IsActive: true}
	if err := a.catalog.CreateUser(ctx.Request.Context(), user); err != nil {
		if errors.Is(err, catalog.ErrEmailTaken) {
			utils.Error(ctx, http.StatusConflict, 40910, "email already registered")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50011, "failed to create account")
		return
	}
	utils.Success(ctx, userResponse(user))
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Code     string `json:"code"`
}

// Login verifies credentials, runs the second factor when the account has
// one, and issues a session token.
func (a *AuthController) Login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40011, "invalid login payload")
		return
	}

	user, err := a.catalog.UserByEmail(ctx.Request.Context(), req.Email)
	if err != nil || !utils.CheckPassword(user.HashedPassword, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "invalid email or password")
		return
	}
	if !user.IsActive {
		utils.Error(ctx, http.StatusForbidden, 40311, "account is deactivated")
		return
	}
	if user.TwoFAEnabled {
		if req.Code == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40111, "second factor code required")
			return
		}
		ok, err := a.issuer.VerifySecondFactor(ctx.Request.Context(), user, req.Code)
		if err != nil || !ok {
			utils.Error(ctx, http.StatusUnauthorized, 40112, "second factor verification failed")
			return
		}
	}

	token, err := a.issuer.IssueSession(ctx.Request.Context(), user.ID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to issue session")
		return
	}
	utils.Success(ctx, gin.H{"access_token": token, "token_type": "bearer"})
}

type magicLinkRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestMagicLink issues a single-use login link and delivers it through
// the account's linked chat. The response never reveals whether the email
// exists.
func (a *AuthController) RequestMagicLink(ctx *gin.Context) {
	var req magicLinkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid magic link payload")
		return
	}

	accepted := func() {
		utils.Success(ctx, gin.H{"status": "accepted"})
	}

	user, err := a.catalog.UserByEmail(ctx.Request.Context(), req.Email)
	if err != nil || !user.IsActive || user.TelegramID == nil {
		accepted()
		return
	}
	link, err := a.issuer.IssueMagicLink(ctx.Request.Context(), user.ID)
	if err != nil {
		utils.Sugar.Errorf("issue magic link for user %d: %v", user.ID, err)
		accepted()
		return
	}
	text := fmt.Sprintf("Your login link: %s/login/magic?token=%s\nIt works once and expires soon.",
		strings.TrimRight(config.Get().FrontendURL, "/"), link)
	if err := a.messenger.SendMessage(ctx.Request.Context(), *user.TelegramID, text); err != nil {
		utils.Sugar.Errorf("deliver magic link for user %d: %v", user.ID, err)
	}
	accepted()
}

type magicLinkVerifyRequest struct {
	Token string `json:"token" binding:"required"`
}

// VerifyMagicLink consumes a magic link and issues a session token.
func (a *AuthController) VerifyMagicLink(ctx *gin.Context) {
	var req magicLinkVerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40013, "invalid verification payload")
		return
	}
	userID, err := a.issuer.VerifyMagicLink(ctx.Request.Context(), req.Token)
	if err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40113, "invalid or expired link")
		return
	}
	user, err := a.catalog.UserByID(ctx.Request.Context(), userID)
	if err != nil || !user.IsActive {
		utils.Error(ctx, http.StatusUnauthorized, 40114, "account unavailable")
		return
	}
	token, err := a.issuer.IssueSession(ctx.Request.Context(), user.ID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to issue session")
		return
	}
	utils.Success(ctx, gin.H{"access_token": token, "token_type": "bearer"})
}

// Logout revokes the current session token.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	if err := a.issuer.RevokeSession(ctx.Request.Context(), token); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50014, "failed to revoke session")
		return
	}
	utils.Success(ctx, gin.H{"status": "logged out"})
}

// Me returns the authenticated account.
func (a *AuthController) Me(ctx *gin.Context) {
	utils.Success(ctx, userResponse(middleware.CurrentUser(ctx)))
}

type linkTelegramRequest struct {
	TelegramID int64 `json:"telegram_id" binding:"required"`
}

// LinkTelegram attaches a chat identity to the authenticated account so the
// bot channel and magic link delivery reach it.
func (a *AuthController) LinkTelegram(ctx *gin.Context) {
	var req linkTelegramRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40014, "invalid link payload")
		return
	}
	user := middleware.CurrentUser(ctx)
	if err := a.catalog.LinkTelegram(ctx.Request.Context(), user.ID, req.TelegramID); err != nil {
		utils.Error(ctx, http.StatusConflict, 40911, "chat identity already linked")
		return
	}
	utils.Success(ctx, gin.H{"status": "linked"})
}

type twoFARequest struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"secret"`
}

// SetTwoFA enables or disables the account's second factor.
func (a *AuthController) SetTwoFA(ctx *gin.Context) {
	var req twoFARequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40015, "invalid 2fa payload")
		return
	}
	if req.Enabled && !a.issuer.SecondFactorConfigured() {
		utils.Error(ctx, http.StatusBadRequest, 40016, "no second factor verifier available")
		return
	}
	user := middleware.CurrentUser(ctx)
	if err := a.catalog.SetTwoFA(ctx.Request.Context(), user.ID, req.Enabled, req.Secret); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50015, "failed to update 2fa")
		return
	}
	utils.Success(ctx, gin.H{"status": "updated"})
}

func userResponse(u *models.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"email":         u.Email,
		"is_active":     u.IsActive,
		"is_superuser":  u.IsSuperuser,
		"telegram_id":   u.TelegramID,
		"twofa_enabled": u.TwoFAEnabled,
		"created_at":    u.CreatedAt,
	}
}
