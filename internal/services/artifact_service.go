// Package services – ArtifactService
//
// This file implements read access to the artifact history: paginated
// listing, single lookup, and freshness stats. Artifacts are written only by
// GenerationService; nothing here touches quota.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/utils"
)

// ArtifactRepo defines the repository contract required by ArtifactService.
type ArtifactRepo interface {
	// GetArtifact fetches a live artifact by ID ensuring it belongs to the user.
	GetArtifact(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Artifact, error)

	// CountArtifacts returns the number of live artifacts for pagination.
	CountArtifacts(ctx context.Context, db *gorm.DB, userID string, svc domain.Service) (int64, error)

	// ListArtifactsPage returns a page of live artifacts, newest first.
	ListArtifactsPage(ctx context.Context, db *gorm.DB, userID string, svc domain.Service, offset, limit int) ([]domain.Artifact, error)

	// ArtifactsStats returns the count and latest update time, for ETags.
	ArtifactsStats(ctx context.Context, db *gorm.DB, userID string, svc domain.Service) (int64, *time.Time, error)
}

// ArtifactService provides the user's artifact history.
type ArtifactService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the artifact repository used by this service.
	Repo ArtifactRepo

	// DefaultPageSize applies when a caller passes a non-positive size.
	DefaultPageSize int
}

// NewArtifactService constructs an ArtifactService.
func NewArtifactService(db *gorm.DB, r ArtifactRepo) *ArtifactService {
	return &ArtifactService{DB: db, Repo: r, DefaultPageSize: 20}
}

// ListPage returns a page of artifacts for a user, optionally restricted to
// one service, with the total count.
func (s *ArtifactService) ListPage(ctx context.Context, userID string, svc domain.Service, page, pageSize int) ([]domain.Artifact, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.DefaultPageSize
	}
	total, err := s.Repo.CountArtifacts(ctx, s.DB, userID, svc)
	if err != nil {
		return nil, 0, err
	}
	offset, pages := utils.PageWindow(page, pageSize, total)
	if page > pages {
		return []domain.Artifact{}, total, nil
	}

	items, err := s.Repo.ListArtifactsPage(ctx, s.DB, userID, svc, offset, pageSize)
	return items, total, err
}

// Get returns one artifact. Expired artifacts and artifacts of other users
// yield ErrArtifactNotFound.
func (s *ArtifactService) Get(ctx context.Context, userID, id string) (*domain.Artifact, error) {
	a, err := s.Repo.GetArtifact(ctx, s.DB, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtifactNotFound
	}
	return a, err
}

// Stats returns the number of live artifacts and the latest UpdatedAt.
func (s *ArtifactService) Stats(ctx context.Context, userID string, svc domain.Service) (int64, *time.Time, error) {
	return s.Repo.ArtifactsStats(ctx, s.DB, userID, svc)
}
