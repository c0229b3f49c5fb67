package domain

import "time"

// Document is an uploaded source document (a LinkedIn profile export) whose
// bytes live in the blob store under BlobKey. A user owns at most one.
type Document struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string    `json:"user_id"       gorm:"type:varchar(64);not null;uniqueIndex"`
	OriginalName string    `json:"original_name" gorm:"type:varchar(255);not null"`
	BlobKey      string    `json:"-"             gorm:"type:varchar(512);not null"`
	Size         int64     `json:"size"          gorm:"not null"`
	UploadedAt   time.Time `json:"uploaded_at"   gorm:"not null"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }
