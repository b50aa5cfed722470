package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDialect = "http://wso2.org/instagram/claims"

func TestNormalizeClaims(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		raw       string
		dialect   string
		want      ClaimSet
		wantErrIs error
	}{
		{
			name:    "flat-object",
			raw:     `{"id":"17841400000000001","username":"jane.doe"}`,
			dialect: testDialect,
			want: ClaimSet{
				testDialect + "/id":       "17841400000000001",
				testDialect + "/username": "jane.doe",
			},
		},
		{
			name:    "data-envelope",
			raw:     `{"data":{"id":"1","full_name":"Jane Doe"},"meta":{"code":200}}`,
			dialect: testDialect,
			want: ClaimSet{
				testDialect + "/id":        "1",
				testDialect + "/full_name": "Jane Doe",
			},
		},
		{
			name:    "data-not-an-object",
			raw:     `{"data":"plain","id":"1"}`,
			dialect: testDialect,
			want: ClaimSet{
				testDialect + "/data": "plain",
				testDialect + "/id":   "1",
			},
		},
		{
			name:    "non-string-values",
			raw:     `{"media_count":42,"big":9007199254740993,"private":false,"bio":null,"counts":{"media":1},"tags":["a","<b>"]}`,
			dialect: testDialect,
			want: ClaimSet{
				testDialect + "/media_count": "42",
				testDialect + "/big":         "9007199254740993",
				testDialect + "/private":     "false",
				testDialect + "/bio":         "null",
				testDialect + "/counts":      `{"media":1}`,
				testDialect + "/tags":        `["a","<b>"]`,
			},
		},
		{
			name:    "dialect-trailing-slash",
			raw:     `{"id":"1"}`,
			dialect: testDialect + "/",
			want:    ClaimSet{testDialect + "//id": "1"},
		},
		{name: "empty", raw: "", dialect: testDialect, want: ClaimSet{}},
		{name: "blank", raw: "  \n", dialect: testDialect, want: ClaimSet{}},
		{name: "null", raw: "null", dialect: testDialect, want: ClaimSet{}},
		{name: "empty-object", raw: "{}", dialect: testDialect, want: ClaimSet{}},
		{name: "malformed", raw: `{"id":`, dialect: testDialect, want: ClaimSet{}, wantErrIs: ErrClaimParse},
		{name: "array", raw: `["a"]`, dialect: testDialect, want: ClaimSet{}, wantErrIs: ErrClaimParse},
		{name: "string", raw: `"a"`, dialect: testDialect, want: ClaimSet{}, wantErrIs: ErrClaimParse},
		{name: "trailing-whitespace", raw: "{\"id\":\"1\"}\n\t ", dialect: testDialect, want: ClaimSet{testDialect + "/id": "1"}},
		{name: "trailing-garbage", raw: `{"a":"1"} garbage`, dialect: testDialect, want: ClaimSet{}, wantErrIs: ErrClaimParse},
		{name: "second-document", raw: `{"a":"1"}{"b":"2"}`, dialect: testDialect, want: ClaimSet{}, wantErrIs: ErrClaimParse},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NormalizeClaims(tt.raw, tt.dialect)
			if tt.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErrIs)
			} else {
				require.NoError(err)
			}
			require.NotNil(got)
			assert.Equal(tt.want, got)
		})
	}
}

func TestNormalizeClaims_OneClaimPerField(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	got, err := NormalizeClaims(`{"a":"1","b":"2","c":{"d":"3"}}`, testDialect)
	require.NoError(err)
	assert.Len(got, 3)
	for k := range got {
		assert.Regexp(`^`+testDialect+`/[^/]+$`, k)
	}
}

func TestClaimURI(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("http://example.com/claims/id", ClaimURI("http://example.com/claims", "id"))
	assert.Equal("http://example.com/claims//id", ClaimURI("http://example.com/claims/", "id"))
	assert.Equal("/id", ClaimURI("", "id"))
}
