// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on generation requests.
// A valid key is stashed in the Gin context for the handler, which owns
// replay: it looks up the artifact stored for (user, service, key) and
// answers from it without running the pipeline or spending quota. The
// middleware itself only flags known keys so the edge rate limiter lets
// retries of completed requests through.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~:\-]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the lookup found a stored result for this key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Defaults to 200.
	MaxLen int
	// Pattern restricts key characters. Defaults to ^[A-Za-z0-9._~:-]+$.
	Pattern *regexp.Regexp
	// Scope names the namespace a key lives in. Defaults to
	// ScopeByLastSegment, i.e. the service name of a generation route.
	Scope func(c *gin.Context) string
	// Now is the lookup clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

// ScopeByLastSegment scopes keys by the final path segment, e.g. "readme"
// for POST /generate/readme.
func ScopeByLastSegment(c *gin.Context) string {
	p := strings.TrimRight(c.Request.URL.Path, "/")
	return p[strings.LastIndex(p, "/")+1:]
}

// IdempotencyLookup reports whether a replayable result exists for
// (userID, scope, key) at now. Expiry is the lookup's concern.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator checks the Idempotency-Key header of POST, PUT and
// PATCH requests. Other methods and requests without the header pass
// through untouched. A malformed key is rejected with 400
// bad_idempotency_key. When lookup finds the key, the request is flagged as
// a replay and exempted from rate limiting. Lookup errors are logged and
// treated as a miss; the handler repeats the lookup and reports failures.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	scope := opts.Scope
	if scope == nil {
		scope = ScopeByLastSegment
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": requestIDOf(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			exists, err := lookup(c.Request.Context(), callerID(c), scope(c), key, now())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func unsafeMethod(m string) bool {
	return m == http.MethodPost || m == http.MethodPut || m == http.MethodPatch
}

// callerID resolves the user the same way the handlers do: context value,
// then X-User-ID, then "demo-user".
func callerID(c *gin.Context) string {
	if id, ok := identifiedUser(c); ok {
		return id
	}
	return "demo-user"
}

// identifiedUser returns the user id set by upstream auth, else the
// X-User-ID header.
func identifiedUser(c *gin.Context) (string, bool) {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
		return h, true
	}
	return "", false
}
