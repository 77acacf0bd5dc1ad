// Package service defines the error taxonomy shared by the session
// manager's business, handler and queue layers.
package service

import "errors"

var (
	// ErrAuthenticationFailed is recoverable: the connection stays open and
	// the client may retry with a fresh token.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotAuthenticated rejects document events sent before a successful
	// authenticate handshake.
	ErrNotAuthenticated = errors.New("connection is not authenticated")

	// ErrNotJoined marks an event referencing a document the identity never
	// joined. Dropped with a warning, never fatal to the connection.
	ErrNotJoined = errors.New("identity is not joined to this document")

	// ErrAccessDenied is returned when the document access check rejects a join.
	ErrAccessDenied = errors.New("access to document denied")

	// ErrValidationFailed marks a malformed or incomplete event payload.
	ErrValidationFailed = errors.New("event payload failed validation")

	// ErrCollaboratorUnavailable wraps failures from the external
	// persistence/notification collaborators. Surfaced to the author only;
	// the corresponding event is never broadcast.
	ErrCollaboratorUnavailable = errors.New("external collaborator unavailable")

	// ErrTransportFailure marks a single recipient's delivery failure during
	// fan-out. Logged; never affects other recipients or the sender.
	ErrTransportFailure = errors.New("transport delivery failure")

	ErrDocumentIDRequired = errors.New("document ID is required")
	ErrTagRequired        = errors.New("tag is required")
	ErrCommentIDRequired  = errors.New("comment ID is required")
	ErrEmptyEditPayload   = errors.New("edit payload is required")
	ErrEmptyComment       = errors.New("comment content is required")
)

// Wire error codes sent in error/auth_error frames.
const (
	CodeAuthenticationFailed    = "AUTHENTICATION_FAILED"
	CodeNotAuthenticated        = "NOT_AUTHENTICATED"
	CodeNotJoined               = "NOT_JOINED"
	CodeAccessDenied            = "ACCESS_DENIED"
	CodeValidationFailed        = "VALIDATION_FAILED"
	CodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	CodeInternal                = "INTERNAL"
)

// CodeFor maps an error to its wire code. Validation sentinels collapse to
// VALIDATION_FAILED; anything unrecognised is INTERNAL.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return CodeAuthenticationFailed
	case errors.Is(err, ErrNotAuthenticated):
		return CodeNotAuthenticated
	case errors.Is(err, ErrNotJoined):
		return CodeNotJoined
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrDocumentIDRequired),
		errors.Is(err, ErrTagRequired),
		errors.Is(err, ErrCommentIDRequired),
		errors.Is(err, ErrEmptyEditPayload),
		errors.Is(err, ErrEmptyComment):
		return CodeValidationFailed
	case errors.Is(err, ErrCollaboratorUnavailable):
		return CodeCollaboratorUnavailable
	default:
		return CodeInternal
	}
}
