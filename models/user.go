package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User represents an account. Passwords are stored as bcrypt hashes only; a
// user created through the chat channel carries a synthetic email and cannot
// log in with a password.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	HashedPassword string    `gorm:"size:255" json:"-"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	IsSuperuser    bool      `gorm:"default:false" json:"is_superuser"`
	TelegramID     *int64    `gorm:"uniqueIndex" json:"telegram_id"`
	TwoFAEnabled   bool      `gorm:"column:twofa_enabled;default:false" json:"twofa_enabled"`
	TwoFASecret    string    `gorm:"column:twofa_secret;size:64" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Files          []File    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// NormalizeEmail lowercases and trims an email so the unique index treats
// differently-cased addresses as the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// BeforeCreate normalizes the email and backfills timestamps.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate refreshes the UpdatedAt timestamp.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
