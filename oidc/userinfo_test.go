package oidc

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserInfoFetcher_Fetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		f, err := NewUserInfoFetcher(WithProviderCA(tp.CACert()))
		require.NoError(err)

		raw, err := f.Fetch(ctx, tp.UserInfoEndpoint(), TestAccessToken)
		require.NoError(err)
		assert.JSONEq(`{"id":"17841400000000001","username":"jane.doe","account_type":"PERSONAL","media_count":42}`, raw)
		assert.Equal(1, tp.UserInfoRequests())
		assert.Equal(TestAccessToken, tp.LastUserInfoURL().Query().Get("access_token"))
	})
	t.Run("keeps-existing-query", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		f, err := NewUserInfoFetcher(WithProviderCA(tp.CACert()))
		require.NoError(err)

		_, err = f.Fetch(ctx, tp.UserInfoEndpoint()+"?fields=id,username", TestAccessToken)
		require.NoError(err)
		q := tp.LastUserInfoURL().Query()
		assert.Equal("id,username", q.Get("fields"))
		assert.Equal(TestAccessToken, q.Get("access_token"))
	})
	t.Run("empty-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f, err := NewUserInfoFetcher()
		require.NoError(err)
		raw, err := f.Fetch(ctx, "", TestAccessToken)
		require.NoError(err)
		assert.Empty(raw)
	})
	t.Run("error-status-returns-body", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetUserInfoStatus(http.StatusInternalServerError)
		tp.SetReplyUserInfo(`{"error":{"message":"boom"}}`)
		f, err := NewUserInfoFetcher(WithProviderCA(tp.CACert()))
		require.NoError(err)

		raw, err := f.Fetch(ctx, tp.UserInfoEndpoint(), TestAccessToken)
		require.NoError(err)
		assert.JSONEq(`{"error":{"message":"boom"}}`, raw)
	})
	t.Run("transport-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.DisableUserInfo()
		var logs strings.Builder
		f, err := NewUserInfoFetcher(
			WithProviderCA(tp.CACert()),
			WithLogger(hclog.New(&hclog.LoggerOptions{Output: &logs, Level: hclog.Trace})),
		)
		require.NoError(err)

		_, err = f.Fetch(ctx, tp.UserInfoEndpoint(), TestAccessToken)
		require.Error(err)
		assert.ErrorIs(err, ErrUserInfoFetchFailed)
		assert.NotContains(err.Error(), TestAccessToken)
		assert.NotContains(logs.String(), TestAccessToken)
	})
	t.Run("utf8-body", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetReplyUserInfo(`{"username":"zoë_☕"}`)
		f, err := NewUserInfoFetcher(WithProviderCA(tp.CACert()))
		require.NoError(err)

		raw, err := f.Fetch(ctx, tp.UserInfoEndpoint(), TestAccessToken)
		require.NoError(err)
		assert.Equal(`{"username":"zoë_☕"}`, raw)
	})
}
