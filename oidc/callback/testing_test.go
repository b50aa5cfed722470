package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fedconnect/connector/oidc"
	"github.com/stretchr/testify/require"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(attemptID string, id *oidc.AuthenticatedIdentity, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	if id == nil {
		_, _ = w.Write([]byte("logout successful"))
		return
	}
	_, _ = w.Write([]byte("login successful: " + id.Subject))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(attemptID string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(r)
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&AuthenErrorResponse{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

// testUserIDSubject reads the subject from the token response's user_id.
func testUserIDSubject(t *oidc.Token) (string, error) {
	if v := t.Extra("user_id"); v != nil {
		return fmt.Sprint(v), nil
	}
	return "", oidc.ErrMissingSubject
}

// testNewAuthenticator creates a new Authenticator for the TestProvider (tp).
// This is helpful internally, but intentionally not exported.
func testNewAuthenticator(t *testing.T, tp *oidc.TestProvider, opt ...oidc.Option) *oidc.Authenticator {
	t.Helper()
	require := require.New(t)
	opts := append([]oidc.Option{
		oidc.WithUserInfoEndpoint(tp.UserInfoEndpoint()),
		oidc.WithScope("user_profile"),
		oidc.WithClaimDialect("http://example.com/claims"),
		oidc.WithSubjectFunc(testUserIDSubject),
	}, opt...)
	pc, err := oidc.NewProviderConfig("TestProvider", tp.AuthorizationEndpoint(), tp.TokenEndpoint(), opts...)
	require.NoError(err)
	a, err := oidc.NewAuthenticator(pc, oidc.WithProviderCA(tp.CACert()))
	require.NoError(err)
	return a
}

// testStartLogin sends the attempt's authorization request, leaving the
// attempt waiting for the provider's callback.
func testStartLogin(t *testing.T, a *oidc.Authenticator, ac *oidc.AttemptContext) {
	t.Helper()
	status, err := a.Process(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login", nil), ac)
	require.NoError(t, err)
	require.Equal(t, oidc.FlowIncomplete, status)
}
