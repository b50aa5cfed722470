package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2/jwt"
)

func jwtClaims(sub string) jwt.Claims {
	now := time.Now()
	return jwt.Claims{
		Subject:  sub,
		Issuer:   "https://example.com/",
		Expiry:   jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt: jwt.NewNumericDate(now),
	}
}

// testToken returns a Token with a test access_token and the extra fields.
func testToken(t *testing.T, extra map[string]interface{}) *Token {
	t.Helper()
	tk, err := NewToken((&oauth2.Token{AccessToken: "test-access-token"}).WithExtra(extra))
	require.NoError(t, err)
	return tk
}

func TestNewToken(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	idt := TestSignJWT(t, priv, jwtClaims("alice"), nil)

	tests := []struct {
		name      string
		token     *oauth2.Token
		wantIdt   IdToken
		wantErrIs error
	}{
		{name: "access-token-only", token: &oauth2.Token{AccessToken: "a"}},
		{
			name:    "with-id-token",
			token:   (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]interface{}{"id_token": idt}),
			wantIdt: IdToken(idt),
		},
		{name: "nil", token: nil, wantErrIs: ErrNilParameter},
		{name: "empty-access-token", token: &oauth2.Token{}, wantErrIs: ErrEmptyAccessToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewToken(tt.token)
			if tt.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErrIs)
				return
			}
			require.NoError(err)
			assert.Equal(AccessToken(tt.token.AccessToken), got.AccessToken())
			assert.Equal(tt.wantIdt, got.IdToken())
		})
	}
}

func TestToken_IsExpired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		expiry time.Time
		opts   []Option
		want   bool
	}{
		{name: "no-expiry", want: false},
		{name: "future", expiry: time.Now().Add(time.Hour), want: false},
		{name: "past", expiry: time.Now().Add(-time.Minute), want: true},
		{name: "within-default-skew", expiry: time.Now().Add(5 * time.Second), want: true},
		{name: "outside-custom-skew", expiry: time.Now().Add(5 * time.Second), opts: []Option{WithExpirySkew(time.Second)}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require := require.New(t)
			tk, err := NewToken(&oauth2.Token{AccessToken: "a", Expiry: tt.expiry})
			require.NoError(err)
			require.Equal(tt.want, tk.IsExpired(tt.opts...))
			require.Equal(!tt.want, tk.Valid())
		})
	}
}

func TestToken_NilSafe(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var tk *Token
	assert.Empty(tk.AccessToken())
	assert.Empty(tk.IdToken())
	assert.Nil(tk.Extra("user_id"))
	assert.True(tk.Expiry().IsZero())
	assert.False(tk.Valid())
}
