package callback

import (
	"net/http"

	"github.com/fedconnect/connector/oidc"
)

// SuccessResponseFunc is used by callbacks to create a http response when the
// flow completes successfully.
//
// The attemptID is the state returned by the provider.  For a login, id is
// the authenticated user; for a logout it's nil.  The function should use the
// http.ResponseWriter to send back whatever content it wishes to the user
// agent that originated the flow.
type SuccessResponseFunc func(attemptID string, id *oidc.AuthenticatedIdentity, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by callbacks to create a http response when the
// flow fails.
//
// respErr is set when the provider itself reported the error, otherwise e
// is the error raised while processing the callback.
type ErrorResponseFunc func(attemptID string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents an OAuth2 error response from a provider.
// See: https://www.rfc-editor.org/rfc/rfc6749#section-4.1.2.1
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}
