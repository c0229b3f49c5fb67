// Generation HTTP handlers.
//
// This file exposes the quota-gated generation endpoints:
//   - POST /generate/readme      (README from repository files)
//   - POST /generate/structure   (directory tree of a fresh checkout)
//   - POST /generate/linkedin    (profile rewrite from the registered PDF)
//   - POST /generate/resume      (plain-text resume)
//   - POST /artifacts/request    (service named in the body)
//   - GET  /quota/{service}      (remaining quota, read-only)
//
// A request carrying an Idempotency-Key that was already answered for the same
// user and service gets the stored artifact back with 200 and no quota spent.
// While the first request holding a key is running, repeats get 409.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/http/middleware"
	"github.com/tbourn/devlift/internal/services"
)

// HeaderReplayed marks a response served from a stored idempotent result.
const HeaderReplayed = "Idempotency-Replayed"

//
// DTOs
//

// RepoTargetRequest names a GitHub repository.
type RepoTargetRequest struct {
	Owner string `json:"owner" binding:"required,max=100" example:"tbourn"`
	Repo  string `json:"repo"  binding:"required,max=100" example:"devlift"`
}

// LinkedInRequest selects the registered profile document to rewrite.
type LinkedInRequest struct {
	DocumentID string `json:"document_id" binding:"required,uuid" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// ArtifactRequestBody is the payload of the generic request endpoint.
// Target is "owner/repo" or a document id; Resume is used for resume.
type ArtifactRequestBody struct {
	Service string               `json:"service" binding:"required" example:"readme"`
	Target  string               `json:"target"  example:"tbourn/devlift"`
	Resume  *services.ResumeInput `json:"resume,omitempty"`
}

//
// Handlers
//

// GenerateReadme godoc
// @ID          generateReadme
// @Summary     Generate a README
// @Description Fetches the repository's key files and writes a README. Consumes one readme quota slot on success only.
// @Tags        Generation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"      example(user123)
// @Param       Idempotency-Key  header  string  false "Replay key"                 example(6a1f-readme-1)
// @Param       body             body    handlers.RepoTargetRequest  true  "Repository"
//
// @Success     201  {object}  services.Result
// @Success     200  {object}  services.Result         "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still running"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     502  {object}  handlers.ErrorResponse  "Source or model failure"
// @Router      /generate/readme [post]
func (h *Handlers) GenerateReadme(c *gin.Context) {
	var req RepoTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "owner and repo required")
		return
	}
	h.generate(c, domain.ServiceReadme, func(ctx context.Context, uid string) (*services.Result, error) {
		return h.genSvc.GenerateReadme(ctx, uid, strings.TrimSpace(req.Owner), strings.TrimSpace(req.Repo))
	})
}

// GenerateStructure godoc
// @ID          generateStructure
// @Summary     Generate a directory tree
// @Description Clones the repository into a private workspace, walks it, and returns the tree. The workspace is always removed.
// @Tags        Generation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Replay key"
// @Param       body             body    handlers.RepoTargetRequest  true  "Repository"
//
// @Success     201  {object}  services.Result
// @Success     200  {object}  services.Result         "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still running"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     502  {object}  handlers.ErrorResponse  "Checkout failed"
// @Router      /generate/structure [post]
func (h *Handlers) GenerateStructure(c *gin.Context) {
	var req RepoTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "owner and repo required")
		return
	}
	h.generate(c, domain.ServiceStructure, func(ctx context.Context, uid string) (*services.Result, error) {
		return h.genSvc.GenerateStructure(ctx, uid, strings.TrimSpace(req.Owner), strings.TrimSpace(req.Repo))
	})
}

// GenerateLinkedIn godoc
// @ID          generateLinkedIn
// @Summary     Rewrite a LinkedIn profile
// @Description Extracts the registered profile PDF and returns a validated rewrite.
// @Tags        Generation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Replay key"
// @Param       body             body    handlers.LinkedInRequest  true  "Document"
//
// @Success     201  {object}  services.Result
// @Success     200  {object}  services.Result         "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still running"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     502  {object}  handlers.ErrorResponse  "Extraction or model failure"
// @Router      /generate/linkedin [post]
func (h *Handlers) GenerateLinkedIn(c *gin.Context) {
	var req LinkedInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document_id must be a UUID")
		return
	}
	h.generate(c, domain.ServiceLinkedIn, func(ctx context.Context, uid string) (*services.Result, error) {
		return h.genSvc.GenerateLinkedIn(ctx, uid, req.DocumentID)
	})
}

// GenerateResume godoc
// @ID          generateResume
// @Summary     Generate a resume
// @Description Writes a plain-text resume from the form and the account's top repositories.
// @Tags        Generation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Replay key"
// @Param       body             body    services.ResumeInput  true  "Resume form"
//
// @Success     201  {object}  services.Result
// @Success     200  {object}  services.Result         "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still running"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     502  {object}  handlers.ErrorResponse  "Model failure"
// @Router      /generate/resume [post]
func (h *Handlers) GenerateResume(c *gin.Context) {
	var req services.ResumeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	h.generate(c, domain.ServiceResume, func(ctx context.Context, uid string) (*services.Result, error) {
		return h.genSvc.GenerateResume(ctx, uid, req)
	})
}

// RequestArtifact godoc
// @ID          requestArtifact
// @Summary     Request an artifact by service name
// @Description Generic entry point; the service in the body selects the pipeline.
// @Tags        Generation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Replay key"
// @Param       body             body    handlers.ArtifactRequestBody  true  "Request"
//
// @Success     201  {object}  services.Result
// @Success     200  {object}  services.Result         "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still running"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     502  {object}  handlers.ErrorResponse  "Source or model failure"
// @Router      /artifacts/request [post]
func (h *Handlers) RequestArtifact(c *gin.Context) {
	var req ArtifactRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "service required")
		return
	}
	svc, err := domain.ParseService(strings.TrimSpace(req.Service))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	h.generate(c, svc, func(ctx context.Context, uid string) (*services.Result, error) {
		return h.genSvc.RequestArtifact(ctx, uid, services.ArtifactRequest{
			Service: svc,
			Target:  strings.TrimSpace(req.Target),
			Resume:  req.Resume,
		})
	})
}

// GetQuota godoc
// @ID          getQuota
// @Summary     Remaining quota
// @Description Reports the remaining requests and window reset time for a service. Never consumes quota.
// @Tags        Quota
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       service    path    string  true  "Service"  Enums(readme, structure, linkedin, resume)
//
// @Success     200  {object}  quota.Status
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown service"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /quota/{service} [get]
func (h *Handlers) GetQuota(c *gin.Context) {
	svc, err := domain.ParseService(c.Param("service"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	st, err := h.genSvc.QuotaStatus(c.Request.Context(), userID(c), svc)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, st)
}

//
// Helpers
//

// generate serves an idempotent replay when one exists, otherwise claims the
// request's key, runs the pipeline, and binds the new artifact to the key. A
// second request arriving while the first still holds the key gets 409.
func (h *Handlers) generate(c *gin.Context, svc domain.Service, run func(ctx context.Context, uid string) (*services.Result, error)) {
	ctx := c.Request.Context()
	uid := userID(c)
	key, hasKey := middleware.GetIdempotencyKey(c)

	var claim string
	if hasKey {
		id, prev, err := h.genSvc.Claim(ctx, uid, svc, key)
		switch {
		case errors.Is(err, services.ErrRequestInFlight):
			c.Header("Retry-After", "5")
			fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		case err != nil:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "idempotency lookup failed")
			return
		case prev != nil:
			res := &services.Result{Artifact: prev}
			if st, err := h.genSvc.QuotaStatus(ctx, uid, svc); err == nil {
				res.Remaining, res.ResetAt = st.Remaining, st.ResetAt
			}
			c.Header(HeaderReplayed, "true")
			ok(c, http.StatusOK, res)
			return
		}
		claim = id
	}

	res, err := run(ctx, uid)
	artifactID := ""
	if err == nil {
		artifactID = res.Artifact.ID
	}
	if serr := h.genSvc.Settle(context.WithoutCancel(ctx), claim, artifactID, http.StatusCreated); serr != nil {
		lg := middleware.LoggerFrom(c)
		lg.Warn().Err(serr).Str("service", string(svc)).Msg("idempotency record not stored")
	}
	if err != nil {
		failGeneration(c, err)
		return
	}
	c.Header("Location", "/artifacts/"+res.Artifact.ID)
	ok(c, http.StatusCreated, res)
}

// failGeneration maps a pipeline failure onto the error envelope.
func failGeneration(c *gin.Context, err error) {
	var ge *services.GenerationError
	if errors.As(err, &ge) {
		switch ge.Kind {
		case services.KindQuotaExceeded:
			failQuota(c, ge.ResetAt, fmt.Sprintf("%s quota exhausted", ge.Service))
		case services.KindSourceUnavailable:
			fail(c, http.StatusBadGateway, ErrCodeSourceUnavailable, fmt.Sprintf("%s: source unavailable during %s", ge.Service, ge.Stage))
		case services.KindUpstreamFailure:
			fail(c, http.StatusBadGateway, ErrCodeUpstreamFailure, fmt.Sprintf("%s: model request failed", ge.Service))
		case services.KindMalformedUpstreamResponse:
			fail(c, http.StatusBadGateway, ErrCodeMalformedUpstream, fmt.Sprintf("%s: model returned an unusable response", ge.Service))
		default:
			fail(c, http.StatusInternalServerError, ErrCodeGenerationFailed, ge.Error())
		}
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidTarget):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrDocumentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "document not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeGenerationFailed, err.Error())
	}
}
