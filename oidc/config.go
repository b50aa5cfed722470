package oidc

import (
	"fmt"
	"net/url"
	"strings"
)

// SubjectFunc derives the subject identifier of the authenticated user from a
// provider's token.
type SubjectFunc func(t *Token) (string, error)

// ClaimsFunc maps a provider's raw userinfo document into a ClaimSet using the
// claim dialect.
type ClaimsFunc func(rawJSON string, dialect string) (ClaimSet, error)

// ProviderConfig describes one provider's flavor of the authorization code
// flow: its endpoints, the scope it's asked for, whether it issues an
// id_token, and how its responses map to a subject and claims.  A
// ProviderConfig must not be modified once it's passed to NewAuthenticator.
type ProviderConfig struct {
	// Name is the unique name of the authenticator for the provider.
	Name string

	// FriendlyName is the display name of the authenticator.
	FriendlyName string

	AuthorizationEndpoint string
	TokenEndpoint         string

	// UserInfoEndpoint is optional.  When empty, no userinfo request is made
	// and the authenticated user has no claims.
	UserInfoEndpoint string

	// LogoutEndpoint is optional.  When empty, the provider doesn't support
	// logout and logout requests complete immediately.
	LogoutEndpoint string

	// Scope is the scope string requested.  It's required, and always used
	// regardless of the scope an attempt suggests.
	Scope string

	// ClaimDialectURI is the namespace prefix of the provider's claims.
	ClaimDialectURI string

	// RequiresIDToken is true when the provider issues an id_token which must
	// be verified.  Issuer, JWKSURL and SupportedSigningAlgs are required when
	// it's true.
	RequiresIDToken      bool
	Issuer               string
	JWKSURL              string
	SupportedSigningAlgs []Alg

	// ExtractSubject derives the subject.  Defaults to SubjectFromIdToken.
	ExtractSubject SubjectFunc

	// ExtractClaims builds the claims.  Defaults to NormalizeClaims.
	ExtractClaims ClaimsFunc
}

// NewProviderConfig composes a new config for a provider.
// Supported options:
//
//	WithFriendlyName
//	WithUserInfoEndpoint
//	WithLogoutEndpoint
//	WithScope
//	WithClaimDialect
//	WithIdToken
//	WithSubjectFunc
//	WithClaimsFunc
func NewProviderConfig(name, authorizationEndpoint, tokenEndpoint string, opt ...Option) (*ProviderConfig, error) {
	const op = "NewProviderConfig"
	opts := getProviderConfigOpts(opt...)
	c := &ProviderConfig{
		Name:                  name,
		FriendlyName:          opts.withFriendlyName,
		AuthorizationEndpoint: authorizationEndpoint,
		TokenEndpoint:         tokenEndpoint,
		UserInfoEndpoint:      opts.withUserInfoEndpoint,
		LogoutEndpoint:        opts.withLogoutEndpoint,
		Scope:                 opts.withScope,
		ClaimDialectURI:       opts.withClaimDialect,
		RequiresIDToken:       opts.withIdToken,
		Issuer:                opts.withIssuer,
		JWKSURL:               opts.withJWKSURL,
		SupportedSigningAlgs:  opts.withSigningAlgs,
		ExtractSubject:        opts.withSubjectFunc,
		ExtractClaims:         opts.withClaimsFunc,
	}
	if c.FriendlyName == "" {
		c.FriendlyName = name
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  It verifies the endpoints are http or
// https URLs, but doesn't verify they're reachable, and that the scope and
// claim dialect are set.
func (c *ProviderConfig) Validate() error {
	const op = "ProviderConfig.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%s: name is empty: %w", op, ErrInvalidParameter)
	}
	if c.AuthorizationEndpoint == "" {
		return fmt.Errorf("%s: authorization endpoint is empty: %w", op, ErrInvalidParameter)
	}
	if c.TokenEndpoint == "" {
		return fmt.Errorf("%s: token endpoint is empty: %w", op, ErrInvalidParameter)
	}
	for _, e := range []string{c.AuthorizationEndpoint, c.TokenEndpoint, c.UserInfoEndpoint, c.LogoutEndpoint} {
		if e == "" {
			continue
		}
		if err := validateEndpoint(e); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if strings.TrimSpace(c.Scope) == "" {
		return fmt.Errorf("%s: scope is empty: %w", op, ErrInvalidParameter)
	}
	if strings.TrimSpace(c.ClaimDialectURI) == "" {
		return fmt.Errorf("%s: claim dialect URI is empty: %w", op, ErrInvalidParameter)
	}
	if c.RequiresIDToken {
		if c.Issuer == "" {
			return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
		}
		if err := validateEndpoint(c.JWKSURL); err != nil {
			return fmt.Errorf("%s: jwks: %w", op, err)
		}
		if len(c.SupportedSigningAlgs) == 0 {
			return fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
		}
		for _, a := range c.SupportedSigningAlgs {
			if !supportedAlgorithms[a] {
				return fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrInvalidParameter)
			}
		}
	}
	if !c.RequiresIDToken && c.ExtractSubject == nil {
		return fmt.Errorf("%s: a subject func is required when the provider has no id_token: %w", op, ErrInvalidParameter)
	}
	return nil
}

// ScopeFor returns the scope to request: the configured scope, whatever
// scope is suggested.
func (c *ProviderConfig) ScopeFor(_ string) string {
	return c.Scope
}

func (c *ProviderConfig) subjectFunc() SubjectFunc {
	if c.ExtractSubject != nil {
		return c.ExtractSubject
	}
	return SubjectFromIdToken
}

func (c *ProviderConfig) claimsFunc() ClaimsFunc {
	if c.ExtractClaims != nil {
		return c.ExtractClaims
	}
	return NormalizeClaims
}

func validateEndpoint(e string) error {
	const op = "validateEndpoint"
	u, err := url.Parse(e)
	if err != nil {
		return fmt.Errorf("%s: endpoint %q is invalid: %w", op, e, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s: endpoint %q scheme %q is not http or https: %w", op, e, u.Scheme, ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: endpoint %q has no host: %w", op, e, ErrInvalidParameter)
	}
	return nil
}

// SubjectFromIdToken returns the "sub" claim of the token's id_token.  The
// id_token must already be verified.
func SubjectFromIdToken(t *Token) (string, error) {
	const op = "SubjectFromIdToken"
	var claims struct {
		Sub string `json:"sub"`
	}
	if err := t.IdToken().Claims(&claims); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrMissingSubject, err)
	}
	if claims.Sub == "" {
		return "", fmt.Errorf("%s: id_token has no sub claim: %w", op, ErrMissingSubject)
	}
	return claims.Sub, nil
}

// providerConfigOptions is the set of available options
type providerConfigOptions struct {
	withFriendlyName     string
	withUserInfoEndpoint string
	withLogoutEndpoint   string
	withScope            string
	withClaimDialect     string
	withIdToken          bool
	withIssuer           string
	withJWKSURL          string
	withSigningAlgs      []Alg
	withSubjectFunc      SubjectFunc
	withClaimsFunc       ClaimsFunc
}

// providerConfigDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func providerConfigDefaults() providerConfigOptions {
	return providerConfigOptions{}
}

// getProviderConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getProviderConfigOpts(opt ...Option) providerConfigOptions {
	opts := providerConfigDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithFriendlyName provides an optional display name for the provider's config
func WithFriendlyName(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withFriendlyName = n
		}
	}
}

// WithUserInfoEndpoint provides an optional userinfo endpoint for the
// provider's config
func WithUserInfoEndpoint(e string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withUserInfoEndpoint = e
		}
	}
}

// WithLogoutEndpoint provides an optional logout endpoint for the provider's
// config
func WithLogoutEndpoint(e string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withLogoutEndpoint = e
		}
	}
}

// WithScope provides a fixed scope for the provider's config
func WithScope(s string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withScope = s
		}
	}
}

// WithClaimDialect provides the claim dialect URI for the provider's config
func WithClaimDialect(uri string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withClaimDialect = uri
		}
	}
}

// WithIdToken requires an id_token from the provider, verified against the
// issuer and the keys published at jwksURL.
func WithIdToken(issuer, jwksURL string, algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withIdToken = true
			o.withIssuer = issuer
			o.withJWKSURL = jwksURL
			o.withSigningAlgs = algs
		}
	}
}

// WithSubjectFunc provides the func used to derive the subject
func WithSubjectFunc(fn SubjectFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withSubjectFunc = fn
		}
	}
}

// WithClaimsFunc provides the func used to build claims
func WithClaimsFunc(fn ClaimsFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerConfigOptions); ok {
			o.withClaimsFunc = fn
		}
	}
}
