// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/devlift/docs"
	"github.com/tbourn/devlift/internal/config"
	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/http/handlers"
	"github.com/tbourn/devlift/internal/http/middleware"
	"github.com/tbourn/devlift/internal/repo"
	"github.com/tbourn/devlift/internal/services"
)

// artifactRepoShim adapts the repository free functions to the
// services.ArtifactRepo interface expected by the ArtifactService.
type artifactRepoShim struct{}

// GetArtifact proxies repo.GetArtifact.
func (artifactRepoShim) GetArtifact(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Artifact, error) {
	return repo.GetArtifact(ctx, db, id, userID)
}

// CountArtifacts proxies repo.CountArtifacts (pagination support).
func (artifactRepoShim) CountArtifacts(ctx context.Context, db *gorm.DB, userID string, svc domain.Service) (int64, error) {
	return repo.CountArtifacts(ctx, db, userID, svc)
}

// ListArtifactsPage proxies repo.ListArtifactsPage (pagination support).
func (artifactRepoShim) ListArtifactsPage(ctx context.Context, db *gorm.DB, userID string, svc domain.Service, offset, limit int) ([]domain.Artifact, error) {
	return repo.ListArtifactsPage(ctx, db, userID, svc, offset, limit)
}

// ArtifactsStats proxies repo.ArtifactsStats (ETag support).
func (artifactRepoShim) ArtifactsStats(ctx context.Context, db *gorm.DB, userID string, svc domain.Service) (int64, *time.Time, error) {
	return repo.ArtifactsStats(ctx, db, userID, svc)
}

// Services carries the collaborators assembled at startup. GitHub may be nil
// when no token is configured; the /github routes then answer 503.
type Services struct {
	Generation handlers.GenerationService
	Documents  handlers.DocumentService
	GitHub     handlers.GitHubService
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: structured logs with token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svcs Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-API-Key"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compress JSON bodies (artifacts can be large markdown)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 8) Idempotency validation, scoped by service name
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, service, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, service, key, now)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				return false, nil
			case err != nil:
				return false, err
			}
			return rec.Live(now) && !rec.Pending(), nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(),
		"/health", "/metrics", "/swagger/")
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Location", handlers.HeaderReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{joinPath(apiBase, "/generate"), joinPath(apiBase, "/quota"), joinPath(apiBase, "/artifacts/request")},
		EnablePolicy:    true,
		HTMLPrefixes:    []string{"/swagger/"},
		ExposeHeaders:   []string{"Retry-After", "ETag", handlers.HeaderReplayed},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: artifact reads go straight to the repo.
	artSvc := services.NewArtifactService(db, artifactRepoShim{})
	h := handlers.New(svcs.Generation, artSvc, svcs.Documents, svcs.GitHub)

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Generation
		api.POST("/generate/readme", h.GenerateReadme)
		api.POST("/generate/structure", h.GenerateStructure)
		api.POST("/generate/linkedin", h.GenerateLinkedIn)
		api.POST("/generate/resume", h.GenerateResume)
		api.POST("/artifacts/request", h.RequestArtifact)

		// Quota
		api.GET("/quota/:service", h.GetQuota)

		// Artifacts
		api.GET("/artifacts", h.ListArtifacts)
		api.GET("/artifacts/:id", h.GetArtifact)

		// Documents
		api.GET("/documents", h.ListDocuments)
		api.DELETE("/documents/:id", h.DeleteDocument)

		// GitHub
		api.GET("/github/repos", h.ListRepos)
		api.GET("/github/user", h.GetGitHubUser)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath prefixes p with the API base, treating "/" (or empty) as root.
func joinPath(base, p string) string {
	return strings.TrimRight(base, "/") + p
}
