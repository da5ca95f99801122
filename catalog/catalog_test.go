package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/abrino/abrinostore/models"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.File{}))
	return New(db)
}

func seedUser(t *testing.T, c *Catalog, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, HashedPassword: "x", IsActive: true}
	require.NoError(t, c.CreateUser(context.Background(), u))
	return u
}

func seedFile(t *testing.T, c *Catalog, owner uint, name, ref, category string, createdAt time.Time) *models.File {
	t.Helper()
	f := &models.File{
		Name:           name,
		TelegramFileID: ref,
		Size:           100,
		MimeType:       "application/octet-stream",
		Category:       category,
		UserID:         owner,
		CreatedAt:      createdAt,
	}
	require.NoError(t, c.CreateFile(context.Background(), f))
	return f
}

func TestCreateFileRejectsDuplicateRef(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	seedFile(t, c, u.ID, "one.txt", "ref-1", "document", time.Now())

	dup := &models.File{
		Name: "two.txt", TelegramFileID: "ref-1", Size: 1,
		Category: "document", UserID: u.ID,
	}
	err := c.CreateFile(context.Background(), dup)
	require.ErrorIs(t, err, ErrDuplicateRef)

	// Exactly one row holds the reference.
	existing, err := c.FileByRef(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "one.txt", existing.Name)
}

func TestListFilesByCategoryNewestFirst(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	base := time.Now().Add(-time.Hour)
	seedFile(t, c, u.ID, "old.mp4", "r1", "video", base)
	seedFile(t, c, u.ID, "new.mp4", "r2", "video", base.Add(time.Minute))
	seedFile(t, c, u.ID, "pic.png", "r3", "image", base.Add(2*time.Minute))

	files, err := c.ListFiles(context.Background(), u.ID, "video", 0, 10)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "new.mp4", files[0].Name)
	assert.Equal(t, "old.mp4", files[1].Name)
}

func TestListFilesScopedToOwner(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	a := seedUser(t, c, "a@example.com")
	b := seedUser(t, c, "b@example.com")
	seedFile(t, c, a.ID, "mine.txt", "r1", "document", time.Now())
	seedFile(t, c, b.ID, "theirs.txt", "r2", "document", time.Now())

	files, err := c.ListFiles(context.Background(), a.ID, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "mine.txt", files[0].Name)
}

func TestSearchRanksCloserNamesFirst(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	base := time.Now().Add(-time.Hour)
	seedFile(t, c, u.ID, "report.pdf", "r1", "document", base)
	seedFile(t, c, u.ID, "quarterly-report-2025.pdf", "r2", "document", base.Add(time.Minute))
	seedFile(t, c, u.ID, "holiday.png", "r3", "image", base.Add(2*time.Minute))

	got, err := c.Search(context.Background(), u.ID, "report", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// The shorter name is the closer trigram match.
	assert.Equal(t, "report.pdf", got[0].Name)
	assert.Equal(t, "quarterly-report-2025.pdf", got[1].Name)
}

func TestSearchBreaksTiesByRecency(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	base := time.Now().Add(-time.Hour)
	seedFile(t, c, u.ID, "notes-a.txt", "r1", "document", base)
	seedFile(t, c, u.ID, "notes-b.txt", "r2", "document", base.Add(time.Minute))

	got, err := c.Search(context.Background(), u.ID, "notes-", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "notes-b.txt", got[0].Name)
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	now := time.Now()
	seedFile(t, c, u.ID, "100%_done.txt", "r1", "document", now)
	seedFile(t, c, u.ID, "100x-done.txt", "r2", "document", now)
	seedFile(t, c, u.ID, "plain.txt", "r3", "document", now)

	got, err := c.Search(context.Background(), u.ID, "%", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "100%_done.txt", got[0].Name)

	// "_" must not act as a single-character wildcard either.
	got, err = c.Search(context.Background(), u.ID, "%_", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "100%_done.txt", got[0].Name)
}

func TestSearchEmptyTermReturnsNothing(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	seedFile(t, c, u.ID, "anything.txt", "r1", "document", time.Now())

	got, err := c.Search(context.Background(), u.ID, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecentReturnsNewestN(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedFile(t, c, u.ID, fmt.Sprintf("f%d.txt", i), fmt.Sprintf("r%d", i), "document", base.Add(time.Duration(i)*time.Minute))
	}

	got, err := c.Recent(context.Background(), u.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "f4.txt", got[0].Name)
	assert.Equal(t, "f2.txt", got[2].Name)
}

func TestCategoriesDistinctSorted(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	now := time.Now()
	seedFile(t, c, u.ID, "a.mp4", "r1", "video", now)
	seedFile(t, c, u.ID, "b.mp4", "r2", "video", now)
	seedFile(t, c, u.ID, "c.png", "r3", "image", now)

	cats, err := c.Categories(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"image", "video"}, cats)
}

func TestTouchAccessSetsLastAccessed(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	f := seedFile(t, c, u.ID, "a.txt", "r1", "document", time.Now())
	require.Nil(t, f.LastAccessed)

	require.NoError(t, c.TouchAccess(context.Background(), f.ID))
	got, err := c.FileByID(context.Background(), f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessed)
}

func TestUpdateFileMeta(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	f := seedFile(t, c, u.ID, "draft.txt", "r1", "document", time.Now())

	require.NoError(t, c.UpdateFileMeta(context.Background(), f.ID, "final.txt", "code"))
	got, err := c.FileByID(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, "final.txt", got.Name)
	assert.Equal(t, "code", got.Category)

	require.ErrorIs(t, c.UpdateFileMeta(context.Background(), 9999, "x", ""), ErrNotFound)
}

func TestDeleteUserCascadesFiles(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	f := seedFile(t, c, u.ID, "a.txt", "r1", "document", time.Now())

	require.NoError(t, c.DeleteUser(context.Background(), u.ID))

	_, err := c.FileByID(context.Background(), f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.UserByID(context.Background(), u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserEmailNormalizedAndUnique(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	seedUser(t, c, "Mixed.Case@Example.COM")

	got, err := c.UserByEmail(context.Background(), "mixed.case@example.com")
	require.NoError(t, err)
	assert.Equal(t, "mixed.case@example.com", got.Email)

	err = c.CreateUser(context.Background(), &models.User{Email: "MIXED.case@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestUserByTelegramID(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	u := seedUser(t, c, "a@example.com")
	require.NoError(t, c.LinkTelegram(context.Background(), u.ID, 555))

	got, err := c.UserByTelegramID(context.Background(), 555)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = c.UserByTelegramID(context.Background(), 556)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureAdminIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t)
	a1, err := c.EnsureAdmin(context.Background(), "admin@example.com", "hash")
	require.NoError(t, err)
	assert.True(t, a1.IsSuperuser)

	a2, err := c.EnsureAdmin(context.Background(), "admin@example.com", "other")
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
}

func TestSimilarityOrdering(t *testing.T) {
	t.Parallel()

	exact := similarity("report", "report")
	partial := similarity("report.pdf", "report")
	far := similarity("quarterly-report-2025.pdf", "report")
	assert.Equal(t, 1.0, exact)
	assert.Greater(t, partial, far)
	assert.Greater(t, far, 0.0)
	assert.Equal(t, 0.0, similarity("", "report"))
}
