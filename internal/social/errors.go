// Package social provides the execution base every social-network adapter
// composes with: concurrency-gated authenticated HTTP, bounded retry with
// error classification, and OAuth scope checking.
//
// Callers upstream handle exactly three error kinds regardless of provider:
//
//   - *RefreshTokenError: the stored credential is invalid; refresh and replay.
//   - *BadBodyError: terminal failure for this invocation (validation error,
//     retry budget exhausted, scheduling failure).
//   - *NotEnoughScopesError: the granted OAuth scopes cannot support the
//     operation; the user must reconnect with broader permissions.
package social

import (
	"fmt"
	"strings"
)

// RefreshTokenError signals that the provider rejected the stored credential.
// The caller must refresh the token and replay the call; the abstract never
// retries with the same credential.
type RefreshTokenError struct {
	// Identifier is the provider adapter identifier
	Identifier string
	// Body is the raw response body the provider returned
	Body string
	// RequestBody is the body of the request that failed, for replay
	RequestBody string
}

func (e *RefreshTokenError) Error() string {
	return fmt.Sprintf("social: %s requires a token refresh: %s", e.Identifier, e.Body)
}

// BadBodyError signals a terminal, non-credential failure of a provider call.
type BadBodyError struct {
	Identifier  string
	Body        string
	RequestBody string
}

func (e *BadBodyError) Error() string {
	return fmt.Sprintf("social: %s call failed: %s", e.Identifier, e.Body)
}

// NotEnoughScopesError signals that the OAuth exchange granted fewer scopes
// than the operation requires.
type NotEnoughScopesError struct {
	Missing []string
}

func (e *NotEnoughScopesError) Error() string {
	return fmt.Sprintf("social: missing required scopes: %s", strings.Join(e.Missing, ", "))
}

// ErrMentionNotSupported is returned by the default Mention implementation;
// adapters that support @mention lookup override it.
var ErrMentionNotSupported = fmt.Errorf("social: mention lookup not supported")
