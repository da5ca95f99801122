// Package ingest coordinates the write path: validate, upload through the
// gateway with bounded retries, catalog the result, then invalidate caches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/gateway"
	"github.com/abrino/abrinostore/limiter"
	"github.com/abrino/abrinostore/metrics"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/utils"
)

// ErrIngestFailed means the upload did not survive the retry budget. The
// catalog holds no record for it.
var ErrIngestFailed = errors.New("ingestion failed after retries")

// ErrRefOwnedElsewhere means the remote reference is already cataloged under
// a different owner.
var ErrRefOwnedElsewhere = errors.New("remote reference belongs to another user")

// BlobStore is the gateway surface the coordinator needs.
type BlobStore interface {
	Store(ctx context.Context, name string, data []byte, contentType string) (string, error)
	MaxSize() int64
}

// Invalidator drops cached listings after a catalog write.
type Invalidator interface {
	InvalidateOwner(ctx context.Context, owner uint)
}

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = time.Second
)

// Coordinator owns the ingestion pipeline for both ingress channels.
type Coordinator struct {
	catalog *catalog.Catalog
	blobs   BlobStore
	cache   Invalidator
	log     *zap.SugaredLogger

	maxAttempts int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New builds a coordinator with the default retry budget.
func New(cat *catalog.Catalog, blobs BlobStore, cache Invalidator, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		catalog:     cat,
		blobs:       blobs,
		cache:       cache,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ingest validates, uploads and catalogs one object arriving through the web
// channel. The returned record may predate this call: re-ingesting bytes the
// platform recognizes as an already-stored object is not an error.
func (c *Coordinator) Ingest(ctx context.Context, owner uint, name string, data []byte, mimeType string, source models.Source) (*models.File, error) {
	name = utils.SanitizeName(name)
	if name == "" {
		name = "unnamed"
	}
	if int64(len(data)) > c.blobs.MaxSize() {
		metrics.IngestTotal.WithLabelValues(string(source), "too_large").Inc()
		return nil, fmt.Errorf("%w: %d bytes over %d ceiling", gateway.ErrTooLarge, len(data), c.blobs.MaxSize())
	}

	ref, err := c.storeWithRetry(ctx, name, data, mimeType)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(string(source), "error").Inc()
		return nil, err
	}

	f := &models.File{
		Name:           name,
		TelegramFileID: ref,
		Size:           int64(len(data)),
		MimeType:       mimeType,
		Category:       models.Categorize(name, mimeType),
		UserID:         owner,
	}
	rec, err := c.recordFile(ctx, f)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(string(source), "error").Inc()
		return nil, err
	}
	metrics.IngestTotal.WithLabelValues(string(source), "ok").Inc()
	return rec, nil
}

// Record catalogs an object that already lives on the platform, which is how
// the bot channel ingests: the platform stored the blob before we ever saw
// the update.
func (c *Coordinator) Record(ctx context.Context, owner uint, name, ref string, size int64, mimeType string) (*models.File, error) {
	name = utils.SanitizeName(name)
	if name == "" {
		name = "unnamed"
	}
	f := &models.File{
		Name:           name,
		TelegramFileID: ref,
		Size:           size,
		MimeType:       mimeType,
		Category:       models.Categorize(name, mimeType),
		UserID:         owner,
	}
	rec, err := c.recordFile(ctx, f)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(string(models.SourceBot), "error").Inc()
		return nil, err
	}
	metrics.IngestTotal.WithLabelValues(string(models.SourceBot), "ok").Inc()
	return rec, nil
}

// storeWithRetry spends the retry budget on the upload. Transient failures
// back off exponentially; throttle rejections wait out their exact hint and
// count against the same budget; permanent failures stop on the spot. The
// last throttle hint stays reachable through the returned error so the
// ingress layers can pass it on.
func (c *Coordinator) storeWithRetry(ctx context.Context, name string, data []byte, mimeType string) (string, error) {
	var lastErr error
	backoff := c.backoffBase
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		ref, err := c.blobs.Store(ctx, name, data, mimeType)
		if err == nil {
			return ref, nil
		}
		lastErr = err

		var throttled *limiter.ThrottledError
		var transient *gateway.TransientError
		switch {
		case errors.Is(err, gateway.ErrTooLarge):
			return "", err
		case errors.As(err, &throttled):
			if attempt == c.maxAttempts {
				break
			}
			c.log.Warnf("quota rejection attempt=%d name=%s retry_after=%s", attempt, name, throttled.RetryAfter)
			if serr := c.sleep(ctx, throttled.RetryAfter); serr != nil {
				return "", serr
			}
		case errors.As(err, &transient):
			if attempt == c.maxAttempts {
				break
			}
			c.log.Warnf("transient upload failure attempt=%d name=%s err=%v", attempt, name, err)
			if serr := c.sleep(ctx, backoff); serr != nil {
				return "", serr
			}
			backoff *= 2
		default:
			// Permanent: retrying cannot help.
			return "", fmt.Errorf("%w: %v", ErrIngestFailed, err)
		}
	}
	return "", fmt.Errorf("%w: %w", ErrIngestFailed, lastErr)
}

// recordFile inserts the record, resolving duplicate-reference races in favor
// of the record already cataloged. Caches are invalidated only after the
// write lands.
func (c *Coordinator) recordFile(ctx context.Context, f *models.File) (*models.File, error) {
	err := c.catalog.CreateFile(ctx, f)
	if err == nil {
		c.cache.InvalidateOwner(ctx, f.UserID)
		return f, nil
	}
	if !errors.Is(err, catalog.ErrDuplicateRef) {
		return nil, err
	}

	existing, lookupErr := c.catalog.FileByRef(ctx, f.TelegramFileID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing.UserID != f.UserID {
		return nil, ErrRefOwnedElsewhere
	}
	c.log.Infof("duplicate reference resolved to existing record id=%d ref=%s", existing.ID, existing.TelegramFileID)
	return existing, nil
}

// Delete removes a file record the actor is allowed to remove and drops the
// owner's cached listings. The remote blob stays on the platform.
func (c *Coordinator) Delete(ctx context.Context, actor *models.User, fileID uint) error {
	f, err := c.catalog.FileByID(ctx, fileID)
	if err != nil {
		return err
	}
	if f.UserID != actor.ID && !actor.IsSuperuser {
		return catalog.ErrNotFound
	}
	if err := c.catalog.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	c.cache.InvalidateOwner(ctx, f.UserID)
	return nil
}

// Rename updates a file's display name and/or category for an allowed actor.
func (c *Coordinator) Rename(ctx context.Context, actor *models.User, fileID uint, name, category string) (*models.File, error) {
	f, err := c.catalog.FileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.UserID != actor.ID && !actor.IsSuperuser {
		return nil, catalog.ErrNotFound
	}
	name = utils.SanitizeName(name)
	if category != "" && !models.ValidCategory(category) {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if err := c.catalog.UpdateFileMeta(ctx, fileID, name, category); err != nil {
		return nil, err
	}
	c.cache.InvalidateOwner(ctx, f.UserID)
	return c.catalog.FileByID(ctx, fileID)
}
