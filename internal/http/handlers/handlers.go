// Package handlers exposes the HTTP endpoints of the generation API.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results and typed failures into HTTP responses.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/quota"
	"github.com/tbourn/devlift/internal/services"
	"github.com/tbourn/devlift/internal/source"
	"github.com/tbourn/devlift/internal/utils"
)

//
// Service contracts (context-aware)
//

// GenerationService runs quota-gated generations and answers quota and
// idempotency lookups.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type GenerationService interface {
	GenerateReadme(ctx context.Context, userID, owner, repo string) (*services.Result, error)
	GenerateStructure(ctx context.Context, userID, owner, repo string) (*services.Result, error)
	GenerateLinkedIn(ctx context.Context, userID, documentID string) (*services.Result, error)
	GenerateResume(ctx context.Context, userID string, in services.ResumeInput) (*services.Result, error)
	RequestArtifact(ctx context.Context, userID string, req services.ArtifactRequest) (*services.Result, error)
	QuotaStatus(ctx context.Context, userID string, svc domain.Service) (quota.Status, error)

	// Claim reserves an idempotency key, or returns the artifact it already
	// produced.
	Claim(ctx context.Context, userID string, svc domain.Service, key string) (claimID string, prev *domain.Artifact, err error)
	// Settle binds a claim to artifactID, or releases it when that is empty.
	Settle(ctx context.Context, claimID, artifactID string, status int) error
}

// ArtifactService reads previously generated artifacts.
type ArtifactService interface {
	ListPage(ctx context.Context, userID string, svc domain.Service, page, pageSize int) ([]domain.Artifact, int64, error)
	Get(ctx context.Context, userID, id string) (*domain.Artifact, error)
	// Stats returns the count and newest CreatedAt used for ETags.
	Stats(ctx context.Context, userID string, svc domain.Service) (int64, *time.Time, error)
}

// DocumentService manages the user's registered profile document.
type DocumentService interface {
	List(ctx context.Context, userID string) ([]domain.Document, error)
	Remove(ctx context.Context, userID, id string) error
}

// GitHubService reads the configured GitHub account.
type GitHubService interface {
	ListRepos(ctx context.Context) ([]source.Repo, error)
	User(ctx context.Context) (*source.User, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	genSvc GenerationService
	artSvc ArtifactService
	docSvc DocumentService
	ghSvc  GitHubService
}

// New constructs and returns a Handlers instance bound to the given services.
// ghSvc may be nil, in which case the GitHub endpoints answer 503.
func New(genSvc GenerationService, artSvc ArtifactService, docSvc DocumentService, ghSvc GitHubService) *Handlers {
	return &Handlers{genSvc: genSvc, artSvc: artSvc, docSvc: docSvc, ghSvc: ghSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	_, pages := utils.PageWindow(page, pageSize, total)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}

// clampPagination reads page (>= 1, default 1) and page_size (1..100,
// default 20) from the query string.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.Bounded(c.Query("page"), 1, 1, 0), utils.Bounded(c.Query("page_size"), 20, 1, 100)
}
