// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file manages the document registry: metadata for the
// single source document each user may keep in the blob store.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/domain"
)

// ReplaceDocument stores doc as the user's only document. Any previous row
// for the same user is removed in the same transaction and returned so the
// caller can delete its blob.
func ReplaceDocument(ctx context.Context, db *gorm.DB, doc *domain.Document) (*domain.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	var previous *domain.Document
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old domain.Document
		err := tx.Where("user_id = ?", doc.UserID).First(&old).Error
		switch {
		case err == nil:
			if err := tx.Delete(&old).Error; err != nil {
				return err
			}
			previous = &old
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(doc).Error
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// GetDocument fetches a document by ID and owner.
func GetDocument(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocuments returns the user's documents, newest first. Today that is at
// most one row.
func ListDocuments(ctx context.Context, db *gorm.DB, userID string) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("uploaded_at desc").
		Find(&out).Error
	return out, err
}

// DeleteDocument removes a document row owned by userID, returning
// ErrNotFound when nothing matched.
func DeleteDocument(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
