package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/domain"
)

// GetIdempotency returns the live record for (userID, service, key) at now,
// or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, service, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(service) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where(idemTuple(userID, service, key)).
		Where("expires_at > ?", now).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency binds key to artifactID for ttl. An empty artifactID
// records a pending claim for a request still running. An expired binding of
// the same (userID, service, key) is replaced; a live one yields ErrDuplicate
// and the caller should replay it instead.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, service, key, artifactID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := domain.Idempotency{
		ID:         uuid.NewString(),
		UserID:     userID,
		Service:    service,
		Key:        key,
		ArtifactID: artifactID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(idemTuple(userID, service, key)).
			Where("expires_at <= ?", now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &rec, nil
}

// CompleteIdempotency binds a pending claim to artifactID until expiresAt.
// It returns ErrNotFound when the claim is gone.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, id, artifactID string, status int, expiresAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("id = ? AND artifact_id = ''", id).
		Updates(map[string]any{"artifact_id": artifactID, "status": status, "expires_at": expiresAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIdempotency drops a pending claim so its key can be used again.
// Completed bindings are left alone.
func DeleteIdempotency(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Where("id = ? AND artifact_id = ''", id).
		Delete(&domain.Idempotency{}).Error
}

// DeleteExpiredIdempotency removes records that can no longer be replayed.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

func idemTuple(userID, service, key string) map[string]any {
	return map[string]any{"user_id": userID, "service": service, "key": key}
}
