// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores per-user, per-service quota counters so
// they survive process restarts when the tracker is configured with the
// database store.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/devlift/internal/domain"
)

// GetQuota loads the counter for (userID, svc). A missing row yields
// ErrNotFound.
func GetQuota(ctx context.Context, db *gorm.DB, userID string, svc domain.Service) (*domain.QuotaRecord, error) {
	var rec domain.QuotaRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND service = ?", userID, svc).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertQuota writes rec, replacing count and window of an existing row for
// the same (user_id, service).
func UpsertQuota(ctx context.Context, db *gorm.DB, rec *domain.QuotaRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "service"}},
			DoUpdates: clause.AssignmentColumns([]string{"count", "window_reset_at", "updated_at"}),
		}).
		Create(rec).Error
}

// DeleteExpiredQuotas removes counters whose window ended at or before now.
// An expired row carries no information: the next admission opens a fresh
// window either way.
func DeleteExpiredQuotas(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("window_reset_at <= ?", now).
		Delete(&domain.QuotaRecord{})
	return res.RowsAffected, res.Error
}
