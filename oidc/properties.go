package oidc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ClientSecret is an oauth client secret
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Names of the properties a host supplies for each authentication attempt.
const (
	PropClientID     = "client_id"
	PropClientSecret = "client_secret"
	PropCallbackURL  = "callback_url"
)

// AuthenticatorProperties are the connection properties a host supplies for
// an authentication attempt.
type AuthenticatorProperties map[string]string

// ClientID returns the client_id property.
func (p AuthenticatorProperties) ClientID() string {
	return strings.TrimSpace(p[PropClientID])
}

// ClientSecret returns the client_secret property.
func (p AuthenticatorProperties) ClientSecret() ClientSecret {
	return ClientSecret(strings.TrimSpace(p[PropClientSecret]))
}

// CallbackURL returns the callback_url property.
func (p AuthenticatorProperties) CallbackURL() string {
	return strings.TrimSpace(p[PropCallbackURL])
}

// Validate returns an ErrConfiguration error naming every required property
// that's missing or blank.
func (p AuthenticatorProperties) Validate() error {
	const op = "AuthenticatorProperties.Validate"
	var merr *multierror.Error
	for _, name := range []string{PropClientID, PropClientSecret, PropCallbackURL} {
		if strings.TrimSpace(p[name]) == "" {
			merr = multierror.Append(merr, fmt.Errorf("%s is required", name))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
	}
	return nil
}

// withDefaultCallback returns a copy of the properties using callbackURL when
// the callback_url property is blank.
func (p AuthenticatorProperties) withDefaultCallback(callbackURL string) AuthenticatorProperties {
	cp := make(AuthenticatorProperties, len(p)+1)
	for k, v := range p {
		cp[k] = v
	}
	if cp.CallbackURL() == "" && callbackURL != "" {
		cp[PropCallbackURL] = callbackURL
	}
	return cp
}

// ConfigurationProperty describes a property a host must collect to configure
// an authenticator.
type ConfigurationProperty struct {
	Name         string
	DisplayName  string
	Description  string
	Required     bool
	Confidential bool
	DisplayOrder int
}

// DefaultConfigurationProperties returns the client id, client secret and
// callback URL properties, in display order, for the provider.
func DefaultConfigurationProperties(providerName string) []ConfigurationProperty {
	return []ConfigurationProperty{
		{
			Name:         PropClientID,
			DisplayName:  "Client Id",
			Description:  fmt.Sprintf("Enter %s client identifier value", providerName),
			Required:     true,
			DisplayOrder: 0,
		},
		{
			Name:         PropClientSecret,
			DisplayName:  "Client Secret",
			Description:  fmt.Sprintf("Enter %s client secret value", providerName),
			Required:     true,
			Confidential: true,
			DisplayOrder: 1,
		},
		{
			Name:         PropCallbackURL,
			DisplayName:  "Callback URL",
			Description:  "Enter the callback url",
			DisplayOrder: 2,
		},
	}
}
