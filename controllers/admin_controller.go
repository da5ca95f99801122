package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/middleware"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/utils"
)

// AdminController exposes account administration to superusers.
type AdminController struct {
	catalog *catalog.Catalog
	db      *gorm.DB
}

// NewAdminController creates an AdminController.
func NewAdminController(cat *catalog.Catalog, db *gorm.DB) *AdminController {
	return &AdminController{catalog: cat, db: db}
}

// ListUsers returns paginated accounts.
func (a *AdminController) ListUsers(ctx *gin.Context) {
	page := intQuery(ctx, "page", 1, 1, 1<<30)
	pageSize := intQuery(ctx, "page_size", 10, 1, 100)

	var total int64
	if err := a.db.WithContext(ctx.Request.Context()).Model(&models.User{}).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to count users")
		return
	}

	var users []models.User
	err := a.db.WithContext(ctx.Request.Context()).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to retrieve users")
		return
	}

	items := make([]gin.H, 0, len(users))
	for i := range users {
		items = append(items, userResponse(&users[i]))
	}
	utils.Success(ctx, gin.H{
		"items": items,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	})
}

// DeactivateUser soft-disables an account; its records stay in place.
func (a *AdminController) DeactivateUser(ctx *gin.Context) {
	id, ok := userID(ctx)
	if !ok {
		return
	}
	if id == middleware.CurrentUser(ctx).ID {
		utils.Error(ctx, http.StatusBadRequest, 40031, "cannot deactivate your own account")
		return
	}
	if _, err := a.catalog.UserByID(ctx.Request.Context(), id); err != nil {
		utils.Error(ctx, http.StatusNotFound, 40430, "user not found")
		return
	}
	if err := a.catalog.Deactivate(ctx.Request.Context(), id); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50032, "failed to deactivate user")
		return
	}
	utils.Success(ctx, gin.H{"status": "deactivated"})
}

// DeleteUser removes an account and all its file records.
func (a *AdminController) DeleteUser(ctx *gin.Context) {
	id, ok := userID(ctx)
	if !ok {
		return
	}
	if id == middleware.CurrentUser(ctx).ID {
		utils.Error(ctx, http.StatusBadRequest, 40032, "cannot delete your own account")
		return
	}
	if _, err := a.catalog.UserByID(ctx.Request.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40431, "user not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50033, "failed to load user")
		return
	}
	if err := a.catalog.DeleteUser(ctx.Request.Context(), id); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50034, "failed to delete user")
		return
	}
	utils.Success(ctx, gin.H{"status": "deleted"})
}

func userID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid user id")
		return 0, false
	}
	return uint(id), true
}
