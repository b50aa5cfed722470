// Package instagram configures an oidc.Authenticator for Instagram's OAuth2
// authorization code flow.
//
// Instagram issues no id_token and has no logout endpoint.  The user's id is
// returned by the token endpoint as user_id, and the profile is read from
// the Graph API /me endpoint using the access_token query parameter.
package instagram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fedconnect/connector/oidc"
)

const (
	Name         = "Instagram"
	FriendlyName = "Instagram"

	AuthorizationEndpoint = "https://api.instagram.com/oauth/authorize/"
	TokenEndpoint         = "https://api.instagram.com/oauth/access_token"
	UserInfoEndpoint      = "https://graph.instagram.com/me"

	// Scope is always requested, whatever scope the host suggests.
	Scope = "user_profile,user_media"

	ClaimDialectURI = "http://wso2.org/instagram/claims"

	// UserField is the token response field carrying the user.
	UserField = "user_id"
)

// NewProviderConfig returns the Instagram provider config.
// Supported options: WithAuthorizationEndpoint, WithTokenEndpoint,
// WithUserInfoEndpoint
func NewProviderConfig(opt ...oidc.Option) (*oidc.ProviderConfig, error) {
	const op = "instagram.NewProviderConfig"
	opts := getOpts(opt...)
	pc, err := oidc.NewProviderConfig(Name, opts.withAuthorizationEndpoint, opts.withTokenEndpoint,
		oidc.WithFriendlyName(FriendlyName),
		oidc.WithUserInfoEndpoint(opts.withUserInfoEndpoint),
		oidc.WithScope(Scope),
		oidc.WithClaimDialect(ClaimDialectURI),
		oidc.WithSubjectFunc(SubjectFromToken),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pc, nil
}

// New creates an Instagram authenticator.  The options of NewProviderConfig
// and oidc.NewAuthenticator are supported.
func New(opt ...oidc.Option) (*oidc.Authenticator, error) {
	const op = "instagram.New"
	pc, err := NewProviderConfig(opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a, err := oidc.NewAuthenticator(pc, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// ConfigurationProperties returns the properties a host collects to
// configure the Instagram authenticator.
func ConfigurationProperties() []oidc.ConfigurationProperty {
	return oidc.DefaultConfigurationProperties(FriendlyName)
}

// SubjectFromToken derives the subject from the token response's user_id.
// The user_id may be a string, a number, or a user object (given as JSON or
// as JSON text) whose username, or else id, is used.  Responses without a
// user_id fall back to the legacy user object.
func SubjectFromToken(t *oidc.Token) (string, error) {
	const op = "instagram.SubjectFromToken"
	if t == nil {
		return "", fmt.Errorf("%s: token is nil: %w", op, oidc.ErrNilParameter)
	}
	for _, field := range []string{UserField, "user"} {
		sub, err := subjectFrom(t.Extra(field))
		if err != nil {
			return "", fmt.Errorf("%s: %s: %w: %w", op, field, oidc.ErrMissingSubject, err)
		}
		if sub != "" {
			return sub, nil
		}
	}
	return "", fmt.Errorf("%s: token response has no %s: %w", op, UserField, oidc.ErrMissingSubject)
}

func subjectFrom(v interface{}) (string, error) {
	switch u := v.(type) {
	case nil:
		return "", nil
	case json.Number:
		return u.String(), nil
	case float64:
		return fmt.Sprintf("%.0f", u), nil
	case string:
		s := strings.TrimSpace(u)
		if !strings.HasPrefix(s, "{") {
			return s, nil
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err != nil {
			return "", fmt.Errorf("unable to parse user object: %w", err)
		}
		return subjectFrom(obj)
	case map[string]interface{}:
		for _, k := range []string{"username", "id"} {
			if sub, err := subjectFrom(u[k]); err == nil && sub != "" {
				return sub, nil
			}
		}
		return "", nil
	default:
		return "", fmt.Errorf("user is a %T", v)
	}
}

// options is the set of available options for the Instagram provider config
type options struct {
	withAuthorizationEndpoint string
	withTokenEndpoint         string
	withUserInfoEndpoint      string
}

func getDefaults() options {
	return options{
		withAuthorizationEndpoint: AuthorizationEndpoint,
		withTokenEndpoint:         TokenEndpoint,
		withUserInfoEndpoint:      UserInfoEndpoint,
	}
}

func getOpts(opt ...oidc.Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithAuthorizationEndpoint overrides Instagram's authorization endpoint.
func WithAuthorizationEndpoint(e string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAuthorizationEndpoint = e
		}
	}
}

// WithTokenEndpoint overrides Instagram's token endpoint.
func WithTokenEndpoint(e string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withTokenEndpoint = e
		}
	}
}

// WithUserInfoEndpoint overrides Instagram's userinfo endpoint.
func WithUserInfoEndpoint(e string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withUserInfoEndpoint = e
		}
	}
}

// WithTestProvider points every endpoint at the oidc.TestProvider.
func WithTestProvider(tp *oidc.TestProvider) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAuthorizationEndpoint = tp.AuthorizationEndpoint()
			o.withTokenEndpoint = tp.TokenEndpoint()
			o.withUserInfoEndpoint = tp.UserInfoEndpoint()
		}
	}
}
