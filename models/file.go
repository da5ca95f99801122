package models

import (
	"time"

	"gorm.io/gorm"
)

// Source identifies the ingress channel a file arrived through.
type Source string

const (
	SourceBot Source = "bot"
	SourceWeb Source = "web"
)

// File is a metadata pointer to a blob held by the remote platform. The
// platform is the store of record; TelegramFileID is its opaque handle and is
// unique system-wide so two rows never reference the same remote object.
type File struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"size:512;not null;index" json:"name"`
	TelegramFileID string     `gorm:"size:255;uniqueIndex;not null" json:"telegram_file_id"`
	Size           int64      `gorm:"not null" json:"size"`
	MimeType       string     `gorm:"size:255" json:"mime_type"`
	Category       string     `gorm:"size:32;index;not null" json:"category"`
	UserID         uint       `gorm:"index;not null" json:"user_id"`
	User           User       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	LastAccessed   *time.Time `json:"last_accessed"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BeforeCreate backfills timestamps when the caller did not set them.
func (f *File) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	return nil
}

// BeforeUpdate refreshes the UpdatedAt timestamp.
func (f *File) BeforeUpdate(tx *gorm.DB) error {
	f.UpdatedAt = time.Now()
	return nil
}
