// Package gateway translates local store/fetch requests into remote platform
// calls. It is a thin layer: every call is gated by the shared rate limiter,
// errors are mapped onto a small taxonomy, and no retries happen here.
package gateway

import (
	"context"
	"fmt"

	"github.com/abrino/abrinostore/limiter"
	"github.com/abrino/abrinostore/metrics"
	"github.com/abrino/abrinostore/telegram"
)

// ScopeAPI is the limiter scope covering every outbound platform call.
const ScopeAPI = "telegram_api"

// Gateway stores and fetches blobs on the remote platform.
type Gateway struct {
	tg            *telegram.Client
	limiter       *limiter.Limiter
	storageChatID int64
	maxSize       int64
}

// New builds a gateway. Stored objects land in storageChatID, the operator's
// storage chat; maxSize is the platform ceiling in bytes (inclusive).
func New(tg *telegram.Client, lim *limiter.Limiter, storageChatID, maxSize int64) *Gateway {
	return &Gateway{tg: tg, limiter: lim, storageChatID: storageChatID, maxSize: maxSize}
}

// MaxSize returns the platform ceiling in bytes.
func (g *Gateway) MaxSize() int64 { return g.maxSize }

// Store uploads bytes and returns the platform's opaque reference. Objects
// over the ceiling fail locally with ErrTooLarge; no remote call is spent.
func (g *Gateway) Store(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if int64(len(data)) > g.maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if err := g.limiter.Acquire(ctx, ScopeAPI); err != nil {
		metrics.BlobRequests.WithLabelValues("store", "throttled").Inc()
		return "", err
	}
	doc, err := g.tg.UploadDocument(ctx, g.storageChatID, name, data, contentType)
	if err != nil {
		metrics.BlobRequests.WithLabelValues("store", "error").Inc()
		return "", classify(err)
	}
	metrics.BlobRequests.WithLabelValues("store", "ok").Inc()
	return doc.FileID, nil
}

// Fetch downloads the bytes behind a reference. Resolving the reference and
// downloading are two platform calls; each takes its own grant.
func (g *Gateway) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := g.limiter.Acquire(ctx, ScopeAPI); err != nil {
		metrics.BlobRequests.WithLabelValues("fetch", "throttled").Inc()
		return nil, err
	}
	path, err := g.tg.FilePath(ctx, ref)
	if err != nil {
		metrics.BlobRequests.WithLabelValues("fetch", "error").Inc()
		return nil, classify(err)
	}
	if err := g.limiter.Acquire(ctx, ScopeAPI); err != nil {
		metrics.BlobRequests.WithLabelValues("fetch", "throttled").Inc()
		return nil, err
	}
	data, err := g.tg.Download(ctx, path)
	if err != nil {
		metrics.BlobRequests.WithLabelValues("fetch", "error").Inc()
		return nil, classify(err)
	}
	metrics.BlobRequests.WithLabelValues("fetch", "ok").Inc()
	return data, nil
}

// SendMessage delivers text to a chat through the same quota as blob calls.
func (g *Gateway) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := g.limiter.Acquire(ctx, ScopeAPI); err != nil {
		metrics.BlobRequests.WithLabelValues("send", "throttled").Inc()
		return err
	}
	if err := g.tg.SendMessage(ctx, chatID, text); err != nil {
		metrics.BlobRequests.WithLabelValues("send", "error").Inc()
		return classify(err)
	}
	metrics.BlobRequests.WithLabelValues("send", "ok").Inc()
	return nil
}
