package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/abrino/abrinostore/cache"
	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/gateway"
	"github.com/abrino/abrinostore/ingest"
	"github.com/abrino/abrinostore/limiter"
	"github.com/abrino/abrinostore/middleware"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/utils"
)

// Fetcher is the gateway surface the download path needs.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	MaxSize() int64
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// FileController handles the web channel's file operations.
type FileController struct {
	catalog *catalog.Catalog
	coord   *ingest.Coordinator
	fetcher Fetcher
	cache   *cache.Cache
}

// NewFileController creates a FileController.
func NewFileController(cat *catalog.Catalog, coord *ingest.Coordinator, fetcher Fetcher, c *cache.Cache) *FileController {
	return &FileController{catalog: cat, coord: coord, fetcher: fetcher, cache: c}
}

// Upload ingests one multipart file.
func (f *FileController) Upload(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)

	header, err := ctx.FormFile("file")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "missing file field")
		return
	}
	if header.Size > f.fetcher.MaxSize() {
		utils.Error(ctx, http.StatusRequestEntityTooLarge, 41320,
			fmt.Sprintf("file exceeds the %d byte ceiling", f.fetcher.MaxSize()))
		return
	}
	src, err := header.Open()
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40021, "unreadable file")
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40022, "failed to read file")
		return
	}

	rec, err := f.coord.Ingest(ctx.Request.Context(), user.ID, header.Filename, data,
		header.Header.Get("Content-Type"), models.SourceWeb)
	if err != nil {
		f.writeIngestError(ctx, err)
		return
	}
	utils.Success(ctx, rec)
}

func (f *FileController) writeIngestError(ctx *gin.Context, err error) {
	var throttled *limiter.ThrottledError
	switch {
	case errors.Is(err, gateway.ErrTooLarge):
		utils.Error(ctx, http.StatusRequestEntityTooLarge, 41321, "file exceeds the platform ceiling")
	case errors.As(err, &throttled):
		ctx.Header("Retry-After", strconv.Itoa(int(throttled.RetryAfter.Seconds()+0.999)))
		utils.Error(ctx, http.StatusTooManyRequests, 42920, "platform quota exhausted, retry later")
	case errors.Is(err, ingest.ErrRefOwnedElsewhere):
		utils.Error(ctx, http.StatusConflict, 40920, "file already stored by another account")
	case errors.Is(err, ingest.ErrIngestFailed):
		utils.Error(ctx, http.StatusBadGateway, 50220, "upload failed, try again later")
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50020, "upload failed")
	}
}

// List returns the caller's files, optionally filtered by category or
// matched against a search term, served from cache when possible.
func (f *FileController) List(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	category := strings.TrimSpace(ctx.Query("category"))
	search := strings.TrimSpace(ctx.Query("search"))
	skip := intQuery(ctx, "skip", 0, 0, 1<<30)
	limit := intQuery(ctx, "limit", defaultPageSize, 1, maxPageSize)

	if category != "" && category != "all" && !models.ValidCategory(category) {
		utils.Error(ctx, http.StatusBadRequest, 40023, "unknown category")
		return
	}

	key := cache.FilesKey(user.ID, category, search, skip, limit)
	var cached []models.File
	if f.cache.GetJSON(ctx.Request.Context(), key, &cached) {
		utils.Success(ctx, cached)
		return
	}

	var files []models.File
	var err error
	if search != "" {
		files, err = f.catalog.Search(ctx.Request.Context(), user.ID, search, limit)
	} else {
		files, err = f.catalog.ListFiles(ctx.Request.Context(), user.ID, category, skip, limit)
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to list files")
		return
	}
	if files == nil {
		files = []models.File{}
	}
	f.cache.SetFiles(ctx.Request.Context(), key, files)
	utils.Success(ctx, files)
}

// Recent returns the caller's latest uploads.
func (f *FileController) Recent(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	n := intQuery(ctx, "n", 10, 1, maxPageSize)

	key := cache.RecentKey(user.ID, n)
	var cached []models.File
	if f.cache.GetJSON(ctx.Request.Context(), key, &cached) {
		utils.Success(ctx, cached)
		return
	}

	files, err := f.catalog.Recent(ctx.Request.Context(), user.ID, n)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list recent files")
		return
	}
	if files == nil {
		files = []models.File{}
	}
	f.cache.SetFiles(ctx.Request.Context(), key, files)
	utils.Success(ctx, files)
}

// Categories returns the categories the caller has files in.
func (f *FileController) Categories(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)

	key := cache.CategoriesKey(user.ID)
	var cached []string
	if f.cache.GetJSON(ctx.Request.Context(), key, &cached) {
		utils.Success(ctx, cached)
		return
	}

	cats, err := f.catalog.Categories(ctx.Request.Context(), user.ID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to list categories")
		return
	}
	if cats == nil {
		cats = []string{}
	}
	f.cache.SetCategories(ctx.Request.Context(), key, cats)
	utils.Success(ctx, cats)
}

// Get returns one file's metadata.
func (f *FileController) Get(ctx *gin.Context) {
	rec, ok := f.ownedFile(ctx)
	if !ok {
		return
	}
	utils.Success(ctx, rec)
}

// Download streams the bytes behind a file's reference and records the
// access.
func (f *FileController) Download(ctx *gin.Context) {
	rec, ok := f.ownedFile(ctx)
	if !ok {
		return
	}

	data, err := f.fetcher.Fetch(ctx.Request.Context(), rec.TelegramFileID)
	if err != nil {
		var throttled *limiter.ThrottledError
		if errors.As(err, &throttled) {
			ctx.Header("Retry-After", strconv.Itoa(int(throttled.RetryAfter.Seconds()+0.999)))
			utils.Error(ctx, http.StatusTooManyRequests, 42921, "platform quota exhausted, retry later")
			return
		}
		utils.Error(ctx, http.StatusBadGateway, 50221, "download failed, try again later")
		return
	}

	if err := f.catalog.TouchAccess(ctx.Request.Context(), rec.ID); err != nil {
		utils.Sugar.Warnf("touch access for file %d: %v", rec.ID, err)
	}

	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	ctx.Data(http.StatusOK, contentType, data)
}

type updateFileRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Update renames and/or recategorizes a file.
func (f *FileController) Update(ctx *gin.Context) {
	id, ok := fileID(ctx)
	if !ok {
		return
	}
	var req updateFileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid update payload")
		return
	}
	rec, err := f.coord.Rename(ctx.Request.Context(), middleware.CurrentUser(ctx), id, req.Name, req.Category)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40420, "file not found")
			return
		}
		utils.Error(ctx, http.StatusBadRequest, 40025, err.Error())
		return
	}
	utils.Success(ctx, rec)
}

// Delete removes a file record.
func (f *FileController) Delete(ctx *gin.Context) {
	id, ok := fileID(ctx)
	if !ok {
		return
	}
	err := f.coord.Delete(ctx.Request.Context(), middleware.CurrentUser(ctx), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40421, "file not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to delete file")
		return
	}
	utils.Success(ctx, gin.H{"status": "deleted"})
}

// ownedFile loads the addressed file when the caller may see it. Strangers
// get the same 404 as a missing record.
func (f *FileController) ownedFile(ctx *gin.Context) (*models.File, bool) {
	id, ok := fileID(ctx)
	if !ok {
		return nil, false
	}
	rec, err := f.catalog.FileByID(ctx.Request.Context(), id)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40422, "file not found")
		return nil, false
	}
	user := middleware.CurrentUser(ctx)
	if rec.UserID != user.ID && !user.IsSuperuser {
		utils.Error(ctx, http.StatusNotFound, 40422, "file not found")
		return nil, false
	}
	return rec, true
}

func fileID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40026, "invalid file id")
		return 0, false
	}
	return uint(id), true
}

func intQuery(ctx *gin.Context, name string, def, min, max int) int {
	v := strings.TrimSpace(ctx.Query(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}
