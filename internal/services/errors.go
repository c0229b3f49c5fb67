// Package services holds the application logic: the quota-gated generation
// pipeline, artifact history, and the document registry. This file
// centralizes service-level error values so that handlers can map them to
// HTTP results consistently.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/devlift/internal/ai"
	"github.com/tbourn/devlift/internal/domain"
)

// Kind classifies a failed generation.
type Kind string

const (
	KindQuotaExceeded             Kind = "quota_exceeded"
	KindSourceUnavailable         Kind = "source_unavailable"
	KindUpstreamFailure           Kind = "upstream_failure"
	KindMalformedUpstreamResponse Kind = "malformed_upstream_response"
)

// Generation outcome sentinels. A *GenerationError matches the sentinel of
// its Kind with errors.Is.
var (
	// ErrQuotaExceeded means the user has no quota left in the current window.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrSourceUnavailable means the repository, document, or other source
	// material could not be obtained.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrUpstreamFailure means the AI call failed or timed out.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrMalformedUpstreamResponse means the AI answered with content that
	// failed validation.
	ErrMalformedUpstreamResponse = errors.New("malformed upstream response")
)

// Input and lookup errors.
var (
	// ErrInvalidTarget is returned when the generation target is malformed
	// (bad owner/repo, unknown service, invalid resume fields).
	ErrInvalidTarget = errors.New("invalid generation target")

	// ErrArtifactNotFound indicates that the artifact does not exist, has
	// expired, or belongs to another user.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrDocumentNotFound indicates that the document does not exist or
	// belongs to another user.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocument is returned when an uploaded document is not a PDF.
	ErrInvalidDocument = errors.New("document must be a PDF")

	// ErrRequestInFlight is returned when another request holding the same
	// idempotency key has not finished yet.
	ErrRequestInFlight = errors.New("a request with this idempotency key is in progress")

	// ErrDocumentTooLarge is returned when an uploaded document exceeds the
	// configured size limit.
	ErrDocumentTooLarge = errors.New("document too large")
)

// GenerationError is the typed failure of a generation request. Quota state
// is never advanced when one is returned.
type GenerationError struct {
	Kind    Kind
	Service domain.Service
	// Stage is the pipeline stage that failed.
	Stage string
	// ResetAt is set for KindQuotaExceeded.
	ResetAt time.Time
	Err     error
}

func (e *GenerationError) Error() string {
	switch {
	case e.Kind == KindQuotaExceeded:
		return fmt.Sprintf("%s: quota exceeded until %s", e.Service, e.ResetAt.Format(time.RFC3339))
	case e.Err != nil:
		return fmt.Sprintf("%s: %s during %s: %v", e.Service, e.Kind, e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s: %s during %s", e.Service, e.Kind, e.Stage)
	}
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *GenerationError) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	case ErrSourceUnavailable:
		return e.Kind == KindSourceUnavailable
	case ErrUpstreamFailure:
		return e.Kind == KindUpstreamFailure
	case ErrMalformedUpstreamResponse:
		return e.Kind == KindMalformedUpstreamResponse
	}
	return false
}

func sourceFailure(stage string, err error) error {
	return &GenerationError{Kind: KindSourceUnavailable, Stage: stage, Err: err}
}

func upstreamFailure(err error) error {
	return &GenerationError{Kind: KindUpstreamFailure, Stage: stageTransforming, Err: err}
}

// transformFailure classifies a model call error. A reply that arrived but
// carried no content is malformed, not an upstream outage.
func transformFailure(err error) error {
	if errors.Is(err, ai.ErrEmptyResponse) {
		return malformedResponse(err)
	}
	return upstreamFailure(err)
}

func malformedResponse(err error) error {
	return &GenerationError{Kind: KindMalformedUpstreamResponse, Stage: stageValidating, Err: err}
}
