package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/gateway"
	"github.com/abrino/abrinostore/limiter"
	"github.com/abrino/abrinostore/models"
)

// fakeBlobs answers Store from a script of errors, then succeeds.
type fakeBlobs struct {
	script  []error
	calls   int
	maxSize int64
	nextRef string
}

func (f *fakeBlobs) Store(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	f.calls++
	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		if err != nil {
			return "", err
		}
	}
	if f.nextRef == "" {
		return fmt.Sprintf("ref-%d", f.calls), nil
	}
	return f.nextRef, nil
}

func (f *fakeBlobs) MaxSize() int64 { return f.maxSize }

// fakeCache records invalidations and can observe catalog state at the
// moment each one happens.
type fakeCache struct {
	owners  []uint
	observe func()
}

func (f *fakeCache) InvalidateOwner(_ context.Context, owner uint) {
	if f.observe != nil {
		f.observe()
	}
	f.owners = append(f.owners, owner)
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.File{}))
	return catalog.New(db)
}

func seedUser(t *testing.T, cat *catalog.Catalog, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, HashedPassword: "x", IsActive: true}
	require.NoError(t, cat.CreateUser(context.Background(), u))
	return u
}

type testRig struct {
	coord  *Coordinator
	cat    *catalog.Catalog
	blobs  *fakeBlobs
	cache  *fakeCache
	sleeps []time.Duration
}

func newRig(t *testing.T, script ...error) *testRig {
	t.Helper()
	rig := &testRig{
		cat:   newTestCatalog(t),
		blobs: &fakeBlobs{script: script, maxSize: 1 << 20},
		cache: &fakeCache{},
	}
	rig.coord = New(rig.cat, rig.blobs, rig.cache, zap.NewNop().Sugar())
	rig.coord.sleep = func(_ context.Context, d time.Duration) error {
		rig.sleeps = append(rig.sleeps, d)
		return nil
	}
	return rig
}

func TestIngestStoresAndCatalogs(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	u := seedUser(t, rig.cat, "a@example.com")

	f, err := rig.coord.Ingest(context.Background(), u.ID, "notes.txt", []byte("hello"), "text/plain", models.SourceWeb)
	require.NoError(t, err)
	assert.Equal(t, "code", f.Category)
	assert.Equal(t, int64(5), f.Size)
	assert.Equal(t, 1, rig.blobs.calls)
	assert.Equal(t, []uint{u.ID}, rig.cache.owners)

	got, err := rig.cat.FileByRef(context.Background(), f.TelegramFileID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
}

func TestIngestTooLargeSpendsNoUpload(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	rig.blobs.maxSize = 10
	u := seedUser(t, rig.cat, "a@example.com")

	_, err := rig.coord.Ingest(context.Background(), u.ID, "big.bin", make([]byte, 11), "application/octet-stream", models.SourceWeb)
	require.ErrorIs(t, err, gateway.ErrTooLarge)
	assert.Zero(t, rig.blobs.calls)
	assert.Empty(t, rig.cache.owners)
}

func TestIngestRetriesTransientWithBackoff(t *testing.T) {
	t.Parallel()

	rig := newRig(t,
		&gateway.TransientError{Cause: errors.New("502")},
		&gateway.TransientError{Cause: errors.New("reset")},
		nil,
	)
	u := seedUser(t, rig.cat, "a@example.com")

	f, err := rig.coord.Ingest(context.Background(), u.ID, "notes.txt", []byte("x"), "text/plain", models.SourceWeb)
	require.NoError(t, err)
	assert.Equal(t, 3, rig.blobs.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rig.sleeps)
	assert.NotEmpty(t, f.TelegramFileID)
}

func TestIngestRetriesThrottledAfterHint(t *testing.T) {
	t.Parallel()

	rig := newRig(t, &limiter.ThrottledError{RetryAfter: 3 * time.Second}, nil)
	u := seedUser(t, rig.cat, "a@example.com")

	f, err := rig.coord.Ingest(context.Background(), u.ID, "notes.txt", []byte("x"), "text/plain", models.SourceWeb)
	require.NoError(t, err)
	assert.Equal(t, 2, rig.blobs.calls)
	// The wait is the limiter's exact hint, not the transient backoff.
	assert.Equal(t, []time.Duration{3 * time.Second}, rig.sleeps)
	assert.NotEmpty(t, f.TelegramFileID)
}

func TestIngestThrottledExhaustsBudget(t *testing.T) {
	t.Parallel()

	script := make([]error, defaultMaxAttempts)
	for i := range script {
		script[i] = &limiter.ThrottledError{RetryAfter: 3 * time.Second}
	}
	rig := newRig(t, script...)
	u := seedUser(t, rig.cat, "a@example.com")

	_, err := rig.coord.Ingest(context.Background(), u.ID, "notes.txt", []byte("x"), "text/plain", models.SourceWeb)
	require.ErrorIs(t, err, ErrIngestFailed)
	// The last hint stays reachable for the ingress layers.
	var throttled *limiter.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, 3*time.Second, throttled.RetryAfter)
	assert.Equal(t, defaultMaxAttempts, rig.blobs.calls)
	assert.Len(t, rig.sleeps, defaultMaxAttempts-1)
	assert.Empty(t, rig.cache.owners)
}

func TestIngestGivesUpAfterBudget(t *testing.T) {
	t.Parallel()

	script := make([]error, defaultMaxAttempts)
	for i := range script {
		script[i] = &gateway.TransientError{Cause: errors.New("down")}
	}
	rig := newRig(t, script...)
	u := seedUser(t, rig.cat, "a@example.com")

	_, err := rig.coord.Ingest(context.Background(), u.ID, "notes.txt", []byte("x"), "text/plain", models.SourceWeb)
	require.ErrorIs(t, err, ErrIngestFailed)
	assert.Equal(t, defaultMaxAttempts, rig.blobs.calls)
	assert.Empty(t, rig.cache.owners)

	_, err = rig.cat.FileByRef(context.Background(), "ref-1")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestIngestPermanentFailsFast(t *testing.T) {
	t.Parallel()

	rig := newRig(t, &gateway.PermanentError{Cause: errors.New("401")})
	u := seedUser(t, rig.cat, "a@example.com")

	_, err := rig.coord.Ingest(context.Background(), u.ID, "notes.txt", []byte("x"), "text/plain", models.SourceWeb)
	require.ErrorIs(t, err, ErrIngestFailed)
	assert.Equal(t, 1, rig.blobs.calls)
	assert.Empty(t, rig.sleeps)
}

func TestRecordIsIdempotentPerReference(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	u := seedUser(t, rig.cat, "a@example.com")

	first, err := rig.coord.Record(context.Background(), u.ID, "photo.jpg", "shared-ref", 42, "image/jpeg")
	require.NoError(t, err)

	second, err := rig.coord.Record(context.Background(), u.ID, "photo.jpg", "shared-ref", 42, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only the first record invalidated; the replay changed nothing.
	assert.Equal(t, []uint{u.ID}, rig.cache.owners)
}

func TestRecordCrossOwnerConflict(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	a := seedUser(t, rig.cat, "a@example.com")
	b := seedUser(t, rig.cat, "b@example.com")

	_, err := rig.coord.Record(context.Background(), a.ID, "photo.jpg", "shared-ref", 42, "image/jpeg")
	require.NoError(t, err)

	_, err = rig.coord.Record(context.Background(), b.ID, "photo.jpg", "shared-ref", 42, "image/jpeg")
	assert.ErrorIs(t, err, ErrRefOwnedElsewhere)
}

func TestInvalidationHappensAfterWrite(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	u := seedUser(t, rig.cat, "a@example.com")

	rig.cache.observe = func() {
		// At invalidation time the record must already be readable.
		_, err := rig.cat.FileByRef(context.Background(), "ref-1")
		assert.NoError(t, err)
	}
	_, err := rig.coord.Ingest(context.Background(), u.ID, "notes.txt", []byte("x"), "text/plain", models.SourceWeb)
	require.NoError(t, err)
	require.Len(t, rig.cache.owners, 1)
}

func TestDeleteChecksOwnership(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	owner := seedUser(t, rig.cat, "a@example.com")
	stranger := seedUser(t, rig.cat, "b@example.com")

	f, err := rig.coord.Record(context.Background(), owner.ID, "doc.pdf", "ref-x", 1, "application/pdf")
	require.NoError(t, err)

	err = rig.coord.Delete(context.Background(), stranger, f.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	require.NoError(t, rig.coord.Delete(context.Background(), owner, f.ID))
	_, err = rig.cat.FileByID(context.Background(), f.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDeleteAllowsSuperuser(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	owner := seedUser(t, rig.cat, "a@example.com")
	admin := &models.User{Email: "admin@example.com", HashedPassword: "x", IsActive: true, IsSuperuser: true}
	require.NoError(t, rig.cat.CreateUser(context.Background(), admin))

	f, err := rig.coord.Record(context.Background(), owner.ID, "doc.pdf", "ref-x", 1, "application/pdf")
	require.NoError(t, err)

	require.NoError(t, rig.coord.Delete(context.Background(), admin, f.ID))
	// The owner's listings were invalidated, not the admin's.
	assert.Equal(t, []uint{owner.ID, owner.ID}, rig.cache.owners)
}

func TestRenameValidatesCategory(t *testing.T) {
	t.Parallel()

	rig := newRig(t)
	u := seedUser(t, rig.cat, "a@example.com")
	f, err := rig.coord.Record(context.Background(), u.ID, "draft.txt", "ref-x", 1, "text/plain")
	require.NoError(t, err)

	_, err = rig.coord.Rename(context.Background(), u, f.ID, "final.txt", "not-a-category")
	assert.Error(t, err)

	got, err := rig.coord.Rename(context.Background(), u, f.ID, "final.txt", "code")
	require.NoError(t, err)
	assert.Equal(t, "final.txt", got.Name)
	assert.Equal(t, "code", got.Category)
}
