// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Artifact
// model, the history of generated outputs.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an artifact is not found (or has expired), functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors the raw gorm error is propagated.
//
// Read functions hide rows whose ExpiresAt has passed even before
// housekeeping physically removes them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateArtifact inserts a. A missing ID is filled with a random UUID and a
// zero CreatedAt with the current UTC time.
func CreateArtifact(ctx context.Context, db *gorm.DB, a *domain.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(a).Error
}

// GetArtifact fetches a single live artifact by its ID and owner.
func GetArtifact(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND expires_at > ?", id, userID, time.Now().UTC()).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountArtifacts returns the number of live artifacts owned by userID. An
// empty svc counts every service.
func CountArtifacts(ctx context.Context, db *gorm.DB, userID string, svc domain.Service) (int64, error) {
	var total int64
	err := artifactScope(db.WithContext(ctx), userID, svc).
		Model(&domain.Artifact{}).
		Count(&total).Error
	return total, err
}

// ListArtifactsPage returns a page of live artifacts for userID, newest
// first. Use CountArtifacts for pagination metadata.
func ListArtifactsPage(ctx context.Context, db *gorm.DB, userID string, svc domain.Service, offset, limit int) ([]domain.Artifact, error) {
	var out []domain.Artifact
	err := artifactScope(db.WithContext(ctx), userID, svc).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteExpiredArtifacts hard-deletes artifacts whose ExpiresAt is at or
// before now.
func DeleteExpiredArtifacts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Unscoped().
		Where("expires_at <= ?", now).
		Delete(&domain.Artifact{})
	return res.RowsAffected, res.Error
}

func artifactScope(db *gorm.DB, userID string, svc domain.Service) *gorm.DB {
	q := db.Where("user_id = ? AND expires_at > ?", userID, time.Now().UTC())
	if svc != "" {
		q = q.Where("service = ?", svc)
	}
	return q
}
