// Package source adapts the external systems that provide raw material for
// generation: the GitHub REST API, the document blob store, and the Tika
// text extraction server.
package source

import "errors"

var (
	// ErrNotFound means the requested repository, file, or document does not
	// exist (or is invisible to the configured credentials).
	ErrNotFound = errors.New("source: not found")

	// ErrUnauthorized means the upstream rejected the credentials.
	ErrUnauthorized = errors.New("source: unauthorized")

	// ErrUnavailable means the upstream could not be reached or failed.
	ErrUnavailable = errors.New("source: unavailable")
)
