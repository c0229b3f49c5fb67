// Package services – DocumentService
//
// This file implements the document registry used by LinkedIn generation.
// Each user keeps at most one PDF. Uploading a new one replaces the old
// registry row in a transaction and then removes the old blob.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/repo"
)

// pdfMagic is the header every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// BlobStore persists document bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// DocumentService registers, lists, and removes source documents.
type DocumentService struct {
	DB    *gorm.DB
	Blobs BlobStore

	// MaxBytes caps an upload. Zero disables the check.
	MaxBytes int64
	// Now returns the current time. Tests may replace it.
	Now func() time.Time
}

// NewDocumentService constructs a DocumentService with a 10 MiB limit.
func NewDocumentService(db *gorm.DB, blobs BlobStore) *DocumentService {
	return &DocumentService{
		DB:       db,
		Blobs:    blobs,
		MaxBytes: 10 << 20,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register stores data as the user's document, replacing any previous one.
func (s *DocumentService) Register(ctx context.Context, userID, filename string, data []byte) (*domain.Document, error) {
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return nil, ErrDocumentTooLarge
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, ErrInvalidDocument
	}

	doc := &domain.Document{
		ID:           uuid.NewString(),
		UserID:       userID,
		OriginalName: cleanFilename(filename),
		Size:         int64(len(data)),
		UploadedAt:   s.Now(),
	}
	doc.BlobKey = documentKey(userID, doc.ID)

	l := requestLogger(ctx)
	if err := s.Blobs.Put(ctx, doc.BlobKey, data, "application/pdf"); err != nil {
		return nil, err
	}
	previous, err := repo.ReplaceDocument(ctx, s.DB, doc)
	if err != nil {
		if derr := s.Blobs.Delete(context.WithoutCancel(ctx), doc.BlobKey); derr != nil {
			l.Warn().Err(derr).Str("blob_key", doc.BlobKey).Msg("orphaned document blob")
		}
		return nil, fmt.Errorf("register document: %w", err)
	}
	if previous != nil {
		if err := s.Blobs.Delete(ctx, previous.BlobKey); err != nil {
			l.Warn().Err(err).Str("blob_key", previous.BlobKey).Msg("failed to delete replaced document")
		}
	}
	l.Info().Str("document_id", doc.ID).Int64("size", doc.Size).Msg("document registered")
	return doc, nil
}

// List returns the user's documents, newest first.
func (s *DocumentService) List(ctx context.Context, userID string) ([]domain.Document, error) {
	return repo.ListDocuments(ctx, s.DB, userID)
}

// Remove deletes a document and its blob.
func (s *DocumentService) Remove(ctx context.Context, userID, id string) error {
	doc, err := repo.GetDocument(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrDocumentNotFound
	}
	if err != nil {
		return err
	}
	if err := repo.DeleteDocument(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	if err := s.Blobs.Delete(ctx, doc.BlobKey); err != nil {
		requestLogger(ctx).Warn().Err(err).Str("blob_key", doc.BlobKey).Msg("failed to delete document blob")
	}
	return nil
}

func documentKey(userID, id string) string {
	return path.Join("documents", url.PathEscape(userID), id+".pdf")
}

// cleanFilename keeps the base name, bounded to 255 bytes.
func cleanFilename(name string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, `\`, "/")))
	if name == "." || name == "/" || name == "" {
		name = "profile.pdf"
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
