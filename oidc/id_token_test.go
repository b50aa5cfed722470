package oidc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestIdToken_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tk := IdToken("super secret token")
	assert.Equal(RedactedIdToken, tk.String())
	assert.Equal(RedactedIdToken, fmt.Sprintf("%v", tk))

	got, err := tk.MarshalJSON()
	require.NoError(err)
	assert.Equal(fmt.Sprintf(`"%s"`, RedactedIdToken), string(got))
}

func TestIdToken_Claims(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	signed := TestSignJWT(t, priv, jwt.Claims{Subject: "17841400000000001", Issuer: "https://example.com"}, map[string]interface{}{
		"nonce": "n_1234",
	})

	tests := []struct {
		name      string
		tk        IdToken
		claims    interface{}
		wantSub   string
		wantErrIs error
		wantErr   bool
	}{
		{name: "valid", tk: IdToken(signed), claims: &map[string]interface{}{}, wantSub: "17841400000000001"},
		{name: "empty-token", tk: "", claims: &map[string]interface{}{}, wantErr: true, wantErrIs: ErrInvalidParameter},
		{name: "nil-claims", tk: IdToken(signed), claims: nil, wantErr: true, wantErrIs: ErrNilParameter},
		{name: "malformed", tk: "not.a.jwt", claims: &map[string]interface{}{}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			err := tt.tk.Claims(tt.claims)
			if tt.wantErr {
				require.Error(err)
				if tt.wantErrIs != nil {
					assert.ErrorIs(err, tt.wantErrIs)
				}
				return
			}
			require.NoError(err)
			got := *tt.claims.(*map[string]interface{})
			assert.Equal(tt.wantSub, got["sub"])
			assert.Equal("n_1234", got["nonce"])
		})
	}
}
