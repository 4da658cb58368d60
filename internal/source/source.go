package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/kangarko/inbox-engine/internal/model"
)

// UnavailableError indicates that a logical source does not exist (an
// unknown mailbox or folder). It is a recoverable, skippable condition
// for optional sources, not a transport failure.
type UnavailableError struct {
	SourceName string
	Message    string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source %q unavailable: %s", e.SourceName, e.Message)
}

// IsUnavailable reports whether err (or any error in its chain) is an
// UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// AuthError indicates that authentication has failed or expired for a
// source. It is returned by source clients when credentials are rejected.
type AuthError struct {
	SourceName string
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceName, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// PageError reports a failure fetching one page of a paginated endpoint
// after earlier pages succeeded. Results accumulated before the failing
// page are still valid; callers treat this as a recoverable partial
// success rather than a fatal failure.
type PageError struct {
	SourceName string
	Page       int
	Err        error
}

func (e *PageError) Error() string {
	return fmt.Sprintf(
		"source %q: page %d failed: %v", e.SourceName, e.Page, e.Err,
	)
}

func (e *PageError) Unwrap() error { return e.Err }

// IsPartial reports whether err (or any error in its chain) is a
// PageError, meaning the accompanying results are a usable partial set.
func IsPartial(err error) bool {
	var pe *PageError
	return errors.As(err, &pe)
}

// MatchField selects which party of a message the search criteria
// matches against.
type MatchField string

const (
	MatchFrom MatchField = "from"
	MatchTo   MatchField = "to"
)

// Criteria describes a counterpart-identity query. Adapters map it to
// whatever native query syntax their backend requires.
type Criteria struct {
	MatchField MatchField
	Value      string
}

// Handle is an opaque per-source reference to one message (an IMAP UID,
// a platform message id). Handles are only meaningful to the source that
// issued them.
type Handle string

// Source is the capability contract every message backend implements.
type Source interface {
	// Name returns the logical source name (e.g., "inbox", "sent").
	Name() string

	// Search returns handles for all messages matching the criteria.
	// It returns an UnavailableError when the logical source does not
	// exist, and other errors for transport or protocol failures.
	Search(ctx context.Context, c Criteria) ([]Handle, error)

	// FetchBatch resolves handles into parsed messages. A handle that
	// fails to parse is dropped with a logged warning rather than
	// aborting the batch. When the returned error satisfies IsPartial,
	// the returned messages are a valid partial set.
	FetchBatch(ctx context.Context, handles []Handle) ([]model.RawMessage, error)
}
