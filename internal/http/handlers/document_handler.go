// Document HTTP handlers.
//
//   - GET    /documents        (the caller's registered profile documents)
//   - DELETE /documents/{id}   (unregister and delete the stored bytes)
//
// Uploads go through the CLI; the HTTP surface only reads and removes.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/services"
)

// ListDocumentsResponse wraps the caller's documents.
type ListDocumentsResponse struct {
	Documents []domain.Document `json:"documents"`
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List registered documents
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.ListDocumentsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents [get]
func (h *Handlers) ListDocuments(c *gin.Context) {
	docs, err := h.docSvc.List(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	ok(c, http.StatusOK, ListDocumentsResponse{Documents: docs})
}

// DeleteDocument godoc
// @ID          deleteDocument
// @Summary     Delete a document
// @Tags        Documents
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id} [delete]
func (h *Handlers) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}
	err := h.docSvc.Remove(c.Request.Context(), userID(c), id)
	switch {
	case errors.Is(err, services.ErrDocumentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "document not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		noContent(c)
	}
}
