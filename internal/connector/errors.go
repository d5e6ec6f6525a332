package connector

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// ErrNotFound is returned by GetEntity when the external record does not exist.
var ErrNotFound = eris.New("connector: entity not found")

// AuthError signals invalid or expired credentials. Callers perform one
// token-refresh retry, then surface the error and exclude the source for
// the run.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError wraps err as an authentication failure for a provider.
func NewAuthError(provider string, err error) *AuthError {
	return &AuthError{Provider: provider, Err: err}
}

// RateLimitError signals a provider throttling response. RetryAfter carries
// the provider-advertised wait; callers back off and retry at most once per
// step.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// NewRateLimitError wraps err as a rate-limit response.
func NewRateLimitError(provider string, retryAfter time.Duration, err error) *RateLimitError {
	return &RateLimitError{Provider: provider, RetryAfter: retryAfter, Err: err}
}

// SyncError is any other provider or application error, tagged with the
// entity it concerns. Recorded per source/entity; never aborts sibling work.
type SyncError struct {
	Provider   string
	EntityType model.EntityType
	EntityID   string
	Err        error
}

func (e *SyncError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: sync %s %s: %v", e.Provider, e.EntityType, e.EntityID, e.Err)
	}
	return fmt.Sprintf("%s: sync %s: %v", e.Provider, e.EntityType, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewSyncError tags err with the provider and entity it concerns.
func NewSyncError(provider string, et model.EntityType, entityID string, err error) *SyncError {
	return &SyncError{Provider: provider, EntityType: et, EntityID: entityID, Err: err}
}

// AsAuthError extracts an AuthError from the chain, if present.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	ok := errors.As(err, &ae)
	return ae, ok
}

// AsRateLimitError extracts a RateLimitError from the chain, if present.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var re *RateLimitError
	ok := errors.As(err, &re)
	return re, ok
}
