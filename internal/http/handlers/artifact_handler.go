// Artifact HTTP handlers.
//
//   - GET /artifacts        (list, paginated, optional ?service=, ETag support)
//   - GET /artifacts/{id}   (single artifact owned by the caller)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/services"
)

// ListArtifactsResponse wraps a page of artifacts and pagination information.
type ListArtifactsResponse struct {
	Artifacts  []domain.Artifact `json:"artifacts"`
	Pagination Pagination        `json:"pagination"`
}

// ListArtifacts godoc
// @ID          listArtifacts
// @Summary     List generated artifacts (paginated)
// @Description Returns a page of the user's unexpired artifacts, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Artifacts
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       service        query   string  false "Filter by service"           Enums(readme, structure, linkedin, resume)
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListArtifactsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /artifacts [get]
func (h *Handlers) ListArtifacts(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	var svc domain.Service
	if raw := c.Query("service"); raw != "" {
		s, err := domain.ParseService(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		svc = s
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.artSvc.Stats(ctx, uid, svc); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"artifacts:%s:%s:%d:%d:%d:%d"`, uid, svc, page, pageSize, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.artSvc.ListPage(ctx, uid, svc, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListArtifactsResponse{
		Artifacts:  items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetArtifact godoc
// @ID          getArtifact
// @Summary     Fetch an artifact
// @Tags        Artifacts
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Artifact ID (UUID)"     format(uuid)
//
// @Success     200  {object} domain.Artifact
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Artifact not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /artifacts/{id} [get]
func (h *Handlers) GetArtifact(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "artifact id must be a UUID")
		return
	}
	a, err := h.artSvc.Get(c.Request.Context(), userID(c), id)
	if errors.Is(err, services.ErrArtifactNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "artifact not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, a)
}
