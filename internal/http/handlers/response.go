// Package handlers implements the HTTP endpoints of the devlift API.
//
// Every failure is answered with ErrorResponse:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 3600
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "quota_exceeded",
//	  "message": "readme quota exhausted",
//	  "reset_at": "2026-01-02T15:04:05Z"
//	}
//
// Successful generations answer 201 with a services.Result (artifact plus
// the quota snapshot taken after the unit was spent); replays answer 200.
package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/devlift/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID for log correlation
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message, safe to display
	Message string `json:"message" example:"resource not found"`
	// End of the quota window (quota_exceeded only)
	ResetAt *time.Time `json:"reset_at,omitempty" example:"2026-01-02T15:04:05Z"`
}

// fail aborts with an ErrorResponse. Statuses of 500 and above are logged
// through the request logger; 502s also carry the failing code so upstream
// outages can be told apart from bugs.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error()
		if status == http.StatusBadGateway {
			ev = middleware.LoggerFrom(c).Warn()
		}
		ev.Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// failQuota aborts with 429, reset_at in the envelope and Retry-After in
// whole seconds (at least 1).
func failQuota(c *gin.Context, resetAt time.Time, msg string) {
	wait := max(1, int(math.Ceil(time.Until(resetAt).Seconds())))
	c.Header("Retry-After", strconv.Itoa(wait))
	reset := resetAt.UTC()
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      ErrCodeQuotaExceeded,
		Message:   msg,
		ResetAt:   &reset,
	})
}

// Fail lets the router answer fallbacks with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
