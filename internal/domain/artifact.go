package domain

import (
	"time"

	"gorm.io/gorm"
)

// ArtifactFormat describes how an artifact's Content should be interpreted.
type ArtifactFormat string

const (
	FormatMarkdown ArtifactFormat = "markdown"
	FormatText     ArtifactFormat = "text"
	FormatJSON     ArtifactFormat = "json"
)

// Artifact is a generated output kept for a limited time so users can revisit
// it without spending quota again.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner of the artifact; indexed together with CreatedAt.
//   - Service: the quota service that produced it.
//   - Target: human-readable source identity ("owner/repo", document id, ...).
//   - Format / Content: payload and its interpretation.
//   - ExpiresAt: housekeeping removes the row after this instant.
type Artifact struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_artifacts,priority:1"`
	Service   Service        `json:"service"    gorm:"type:varchar(32);not null"`
	Target    string         `json:"target"     gorm:"type:varchar(255);not null"`
	Format    ArtifactFormat `json:"format"     gorm:"type:varchar(16);not null"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_user_artifacts,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt time.Time      `json:"expires_at" gorm:"not null;index"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Artifact.
func (Artifact) TableName() string { return "artifacts" }
