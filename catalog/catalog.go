// Package catalog is the authoritative metadata store: user accounts and the
// file records pointing at remote blobs. Every write is transactional; the
// unique index on the remote reference backs the ingestion idempotency
// guarantee.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/abrino/abrinostore/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateRef means the remote reference is already cataloged.
	ErrDuplicateRef = errors.New("remote reference already cataloged")
	// ErrEmailTaken means the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
)

// Catalog wraps the relational store.
type Catalog struct {
	db *gorm.DB
}

// New builds a catalog over an initialized gorm DB.
func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// isDuplicate recognizes unique-constraint violations across drivers. The
// translated sentinel covers MySQL and sqlite; the message sniff covers
// drivers without error translation.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

// CreateFile inserts a file record in one transaction. A second record for an
// already-stored remote reference fails with ErrDuplicateRef.
func (c *Catalog) CreateFile(ctx context.Context, f *models.File) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(f).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateRef
		}
		return err
	}
	return nil
}

// FileByID fetches one file record.
func (c *Catalog) FileByID(ctx context.Context, id uint) (*models.File, error) {
	var f models.File
	if err := c.db.WithContext(ctx).First(&f, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// FileByRef fetches the record holding a remote reference.
func (c *Catalog) FileByRef(ctx context.Context, ref string) (*models.File, error) {
	var f models.File
	if err := c.db.WithContext(ctx).Where("telegram_file_id = ?", ref).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// ListFiles returns an owner's files, newest first, optionally filtered by
// category.
func (c *Catalog) ListFiles(ctx context.Context, owner uint, category string, skip, limit int) ([]models.File, error) {
	q := c.db.WithContext(ctx).Where("user_id = ?", owner)
	if category != "" && category != "all" {
		q = q.Where("category = ?", category)
	}
	var out []models.File
	err := q.Order("created_at DESC").Offset(skip).Limit(limit).Find(&out).Error
	return out, err
}

// searchFetchCap bounds the candidate set ranked in memory.
const searchFetchCap = 200

// Search matches an owner's file names by substring and ranks results by
// trigram similarity to the term, newest first among equal scores.
func (c *Catalog) Search(ctx context.Context, owner uint, term string, limit int) ([]models.File, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	var candidates []models.File
	err := c.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(name) LIKE ? ESCAPE '!'", owner, "%"+escapeLike(strings.ToLower(term))+"%").
		Order("created_at DESC").
		Limit(searchFetchCap).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	scores := make(map[uint]float64, len(candidates))
	for _, f := range candidates {
		scores[f.ID] = similarity(f.Name, term)
	}
	// Candidates arrive newest-first; a stable sort keeps that order as the
	// tie-break between equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores[candidates[i].ID] > scores[candidates[j].ID]
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// escapeLike neutralizes LIKE metacharacters so a term is matched literally.
// "!" is the escape character; a backslash would mean different things to the
// mysql and sqlite drivers.
func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}

// Recent returns the owner's n most recently created files.
func (c *Catalog) Recent(ctx context.Context, owner uint, n int) ([]models.File, error) {
	var out []models.File
	err := c.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Order("created_at DESC").
		Limit(n).
		Find(&out).Error
	return out, err
}

// Categories lists the distinct categories an owner has files in.
func (c *Catalog) Categories(ctx context.Context, owner uint) ([]string, error) {
	var out []string
	err := c.db.WithContext(ctx).
		Model(&models.File{}).
		Where("user_id = ?", owner).
		Distinct("category").
		Order("category").
		Pluck("category", &out).Error
	return out, err
}

// TouchAccess records a download on the file.
func (c *Catalog) TouchAccess(ctx context.Context, id uint) error {
	now := time.Now()
	return c.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_accessed": now, "updated_at": now}).Error
}

// UpdateFileMeta renames and/or recategorizes a file. Empty arguments leave
// the corresponding field untouched.
func (c *Catalog) UpdateFileMeta(ctx context.Context, id uint, name, category string) error {
	updates := map[string]any{"updated_at": time.Now()}
	if name != "" {
		updates["name"] = name
	}
	if category != "" {
		updates["category"] = category
	}
	res := c.db.WithContext(ctx).Model(&models.File{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFile removes a file record. The remote blob is left in place.
func (c *Catalog) DeleteFile(ctx context.Context, id uint) error {
	res := c.db.WithContext(ctx).Delete(&models.File{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts an account; the email must be unique after
// normalization.
func (c *Catalog) CreateUser(ctx context.Context, u *models.User) error {
	if err := c.db.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicate(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// UserByID fetches one account.
func (c *Catalog) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := c.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UserByEmail fetches an account by case-normalized email.
func (c *Catalog) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := c.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UserByTelegramID fetches the account linked to a chat identity.
func (c *Catalog) UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var u models.User
	err := c.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// LinkTelegram attaches a chat identity to an account. The unique index
// keeps a chat identity on at most one account.
func (c *Catalog) LinkTelegram(ctx context.Context, userID uint, telegramID int64) error {
	err := c.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"telegram_id": telegramID, "updated_at": time.Now()}).Error
	if err != nil && isDuplicate(err) {
		return errors.New("chat identity already linked to another account")
	}
	return err
}

// SetTwoFA enables or disables the second factor on an account.
func (c *Catalog) SetTwoFA(ctx context.Context, userID uint, enabled bool, secret string) error {
	return c.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"twofa_enabled": enabled, "twofa_secret": secret, "updated_at": time.Now()}).Error
}

// Deactivate soft-disables an account; its records stay in place.
func (c *Catalog) Deactivate(ctx context.Context, userID uint) error {
	return c.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()}).Error
}

// DeleteUser removes an account and cascades over its file records in one
// transaction.
func (c *Catalog) DeleteUser(ctx context.Context, userID uint) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.File{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, userID).Error
	})
}

// EnsureAdmin creates the superuser account when it does not exist yet.
func (c *Catalog) EnsureAdmin(ctx context.Context, email, passwordHash string) (*models.User, error) {
	existing, err := c.UserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	admin := &models.User{
		Email:          email,
		HashedPassword: passwordHash,
		IsActive:       true,
		IsSuperuser:    true,
	}
	if err := c.CreateUser(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}
