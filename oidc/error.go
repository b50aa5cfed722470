package oidc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrNotFound         = errors.New("not found")

	// ErrConfiguration is returned when a required authenticator property is
	// missing or blank.  It's always detected before any network call.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthorization is returned when the callback carries a provider
	// reported error or is missing the authorization code.
	ErrAuthorization = errors.New("authorization error")

	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrEmptyAccessToken    = errors.New("access token is empty")

	// ErrUserInfoFetchFailed and ErrClaimParse are soft failures.  The
	// authenticator logs them and completes with a reduced set of claims.
	ErrUserInfoFetchFailed = errors.New("user info fetch failed")
	ErrClaimParse          = errors.New("unable to parse claims")

	// ErrLogoutUnsupported is returned when the provider has no logout
	// capability.  The authenticator treats it as a successful logout.
	ErrLogoutUnsupported = errors.New("logout is not supported")
	ErrLogoutFailed      = errors.New("logout failed")

	// ErrAuthenticationFailed wraps every hard failure surfaced by
	// Authenticator.Process.
	ErrAuthenticationFailed = errors.New("authentication failed")

	ErrExpiredAttempt            = errors.New("authentication attempt is expired")

	// ErrAttemptNotInProgress is returned for a request the attempt's
	// current state doesn't expect, such as a second callback for an
	// attempt that has already completed or failed.  The attempt is left
	// unchanged.
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")

	ErrResponseStateInvalid      = errors.New("response state is invalid")
	ErrMissingSubject            = errors.New("subject identifier is missing")
	ErrMissingIdToken            = errors.New("id_token is missing")
	ErrIdTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidNonce              = errors.New("invalid nonce")
)

// ProviderError represents an OAuth2 error response returned by a provider,
// either as callback parameters or as a token endpoint response body.  See:
// https://www.rfc-editor.org/rfc/rfc6749#section-4.1.2.1
type ProviderError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`

	// kind is the sentinel the error unwraps to.
	kind error
}

// Error satisfies the error interface.
func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider error %q", e.Code)
	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}
	if e.URI != "" {
		fmt.Fprintf(&b, " (%s)", e.URI)
	}
	return b.String()
}

// Unwrap returns the sentinel error for the leg of the flow that received
// the provider error.
func (e *ProviderError) Unwrap() error {
	return e.kind
}
