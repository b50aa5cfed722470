package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Token is the result of one authorization code exchange.  Besides the
// access_token it carries the raw token response fields, which some providers
// use to return data (like the user's id) that would usually come from an
// id_token or the userinfo endpoint.
type Token struct {
	underlying *oauth2.Token
	idToken    IdToken
}

// NewToken creates a new Token from an oauth2.Token.  The oauth2.Token must
// carry a non-empty access_token.
func NewToken(t *oauth2.Token) (*Token, error) {
	const op = "NewToken"
	if t == nil {
		return nil, fmt.Errorf("%s: oauth2 token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyAccessToken)
	}
	tk := &Token{underlying: t}
	if idt, ok := t.Extra("id_token").(string); ok {
		tk.idToken = IdToken(idt)
	}
	return tk, nil
}

// AccessToken returns the token's access_token.
func (t *Token) AccessToken() AccessToken {
	if t == nil || t.underlying == nil {
		return ""
	}
	return AccessToken(t.underlying.AccessToken)
}

// IdToken returns the token's id_token, if the provider issued one.
func (t *Token) IdToken() IdToken {
	if t == nil {
		return ""
	}
	return t.idToken
}

// Expiry returns the access_token's expiry.  A zero time means the provider
// didn't report one.
func (t *Token) Expiry() time.Time {
	if t == nil || t.underlying == nil {
		return time.Time{}
	}
	return t.underlying.Expiry
}

// Extra returns a raw field from the token response.  Numbers are returned
// as json.Number.
func (t *Token) Extra(key string) interface{} {
	if t == nil || t.underlying == nil {
		return nil
	}
	return t.underlying.Extra(key)
}

// IsExpired returns true if the token has expired.  Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultTokenExpirySkew.
func (t *Token) IsExpired(opt ...Option) bool {
	expiry := t.Expiry()
	if expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return expiry.Round(0).Before(time.Now().Add(opts.withExpirySkew))
}

// Valid returns true if the token has an access_token and is not expired.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken() == "" {
		return false
	}
	return !t.IsExpired()
}

// DefaultTokenExpirySkew defines a default time skew when checking a Token's
// expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// tokenOptions is the set of available options for Token functions
type tokenOptions struct {
	withExpirySkew time.Duration
}

func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
	}
}

func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
