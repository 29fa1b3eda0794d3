package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type BookModel struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"not null;index"`
	Title      string `gorm:"not null"`
	Author     string
	SourceType string
	SourceURL  string
	Language   string
	Notes      string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type SectionModel struct {
	ID          string `gorm:"primaryKey"`
	BookID      string `gorm:"not null;index"`
	SectionType string
	OrderIndex  int `gorm:"not null;default:1"`
	Title       string
	RawText     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type SummaryModel struct {
	ID          string `gorm:"primaryKey"`
	SectionID   string `gorm:"not null;index"`
	Variant     string
	Language    string
	SummaryText string         `gorm:"type:text;not null"`
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}
