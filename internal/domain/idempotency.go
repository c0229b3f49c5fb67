package domain

import "time"

// Idempotency binds an Idempotency-Key to the artifact its first request
// produced. Keys are scoped per user and service, so a retried request is
// answered from ArtifactID without running the pipeline or spending quota.
type Idempotency struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	UserID     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_service_key,priority:1"`
	Service    string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_user_service_key,priority:2"`
	Key        string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_service_key,priority:3"`
	ArtifactID string    `gorm:"type:char(36);not null"`
	Status     int       `gorm:"not null"` // HTTP status of the original response
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for Idempotency.
func (Idempotency) TableName() string { return "idempotency" }

// Live reports whether the binding can still be replayed at now.
func (i Idempotency) Live(now time.Time) bool { return now.Before(i.ExpiresAt) }

// Pending reports whether the first request holding the key has not finished.
// Such a claim has no ArtifactID yet.
func (i Idempotency) Pending() bool { return i.ArtifactID == "" }
