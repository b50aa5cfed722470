package oidc

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatorProperties_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		props       AuthenticatorProperties
		wantErr     bool
		wantMissing []string
	}{
		{
			name: "valid",
			props: AuthenticatorProperties{
				PropClientID:     "id",
				PropClientSecret: "secret",
				PropCallbackURL:  "https://example.com/callback",
			},
		},
		{
			name:        "nil",
			props:       nil,
			wantErr:     true,
			wantMissing: []string{PropClientID, PropClientSecret, PropCallbackURL},
		},
		{
			name: "blank-client-id",
			props: AuthenticatorProperties{
				PropClientID:     "   ",
				PropClientSecret: "secret",
				PropCallbackURL:  "https://example.com/callback",
			},
			wantErr:     true,
			wantMissing: []string{PropClientID},
		},
		{
			name: "missing-secret-and-callback",
			props: AuthenticatorProperties{
				PropClientID: "id",
			},
			wantErr:     true,
			wantMissing: []string{PropClientSecret, PropCallbackURL},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			err := tt.props.Validate()
			if !tt.wantErr {
				require.NoError(err)
				return
			}
			require.Error(err)
			assert.ErrorIs(err, ErrConfiguration)
			for _, m := range tt.wantMissing {
				assert.Contains(err.Error(), m)
			}
		})
	}
}

func TestAuthenticatorProperties_Accessors(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	p := AuthenticatorProperties{
		PropClientID:     " id ",
		PropClientSecret: "secret\n",
		PropCallbackURL:  " https://example.com/callback",
	}
	assert.Equal("id", p.ClientID())
	assert.Equal(ClientSecret("secret"), p.ClientSecret())
	assert.Equal("https://example.com/callback", p.CallbackURL())
}

func TestAuthenticatorProperties_withDefaultCallback(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	p := AuthenticatorProperties{PropClientID: "id"}
	got := p.withDefaultCallback("https://host.example.com/callback")
	assert.Equal("https://host.example.com/callback", got.CallbackURL())
	assert.Empty(p.CallbackURL(), "original properties must not be modified")

	p[PropCallbackURL] = "https://example.com/callback"
	assert.Equal("https://example.com/callback", p.withDefaultCallback("https://host.example.com/callback").CallbackURL())
	assert.Empty(AuthenticatorProperties{}.withDefaultCallback("").CallbackURL())
}

func TestClientSecret_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s := ClientSecret("super secret")
	assert.Equal(RedactedClientSecret, s.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", s))
	b, err := json.Marshal(s)
	require.NoError(err)
	assert.Equal(fmt.Sprintf("%q", RedactedClientSecret), string(b))
}

func TestDefaultConfigurationProperties(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	got := DefaultConfigurationProperties("Instagram")
	assert.Equal([]ConfigurationProperty{
		{
			Name:         PropClientID,
			DisplayName:  "Client Id",
			Description:  "Enter Instagram client identifier value",
			Required:     true,
			DisplayOrder: 0,
		},
		{
			Name:         PropClientSecret,
			DisplayName:  "Client Secret",
			Description:  "Enter Instagram client secret value",
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
	}, got)
}
