package model

import "time"

// Document processing status values.
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

// Document is an uploaded file plus the plain text extracted from it.
// Created with status "processing" on upload; the ingest worker moves it to
// "ready" or "failed". The retrieval path only ever reads it.
type Document struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	Filename      string    `gorm:"size:256;not null" json:"filename"`
	ObjectKey     string    `gorm:"size:256;not null" json:"-"`
	Status        string    `gorm:"size:16;not null;default:processing" json:"status"`
	StatusMessage string    `gorm:"size:512" json:"status_message,omitempty"`
	ExtractedText string    `gorm:"type:longtext" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
