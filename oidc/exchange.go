package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// maxTokenResponseSize bounds how much of a token response is read.
const maxTokenResponseSize = 1 << 20

// TokenRequest contains the parameters of an authorization code grant
// request.  See: https://www.rfc-editor.org/rfc/rfc6749#section-4.1.3
type TokenRequest struct {
	// Endpoint is the provider's token endpoint.
	Endpoint string

	ClientID     string
	ClientSecret ClientSecret

	// Code is the authorization code received in the callback.  It's single
	// use and never logged.
	Code string

	// RedirectURL must match the redirect_uri sent in the authorization
	// request.
	RedirectURL string
}

func (r TokenRequest) validate() error {
	const op = "TokenRequest.validate"
	switch {
	case strings.TrimSpace(r.Endpoint) == "":
		return fmt.Errorf("%s: token endpoint is empty: %w", op, ErrInvalidParameter)
	case strings.TrimSpace(r.ClientID) == "":
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	case strings.TrimSpace(string(r.ClientSecret)) == "":
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	case strings.TrimSpace(r.Code) == "":
		return fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	case strings.TrimSpace(r.RedirectURL) == "":
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(r.Endpoint)
	if err != nil {
		return fmt.Errorf("%s: token endpoint %q is invalid: %w", op, r.Endpoint, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s: token endpoint %q scheme is not http or https: %w", op, r.Endpoint, ErrInvalidParameter)
	}
	return nil
}

// TokenExchanger converts authorization codes into access tokens using the
// backchannel token endpoint.  It makes exactly one request per exchange and
// never retries.  A TokenExchanger is safe for concurrent use.
type TokenExchanger struct {
	client *http.Client
	logger hclog.Logger
}

// NewTokenExchanger creates a new TokenExchanger.
// Supported options: WithHTTPClient, WithProviderCA, WithLogger
func NewTokenExchanger(opt ...Option) (*TokenExchanger, error) {
	const op = "NewTokenExchanger"
	opts := getExchangerOpts(opt...)
	client, err := httpClient(opts.withHTTPClient, opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &TokenExchanger{
		client: client,
		logger: opts.withLogger,
	}, nil
}

// Exchange sends the authorization code grant request and returns the
// provider's token.  Errors wrap ErrTokenExchangeFailed, except for a
// successful response without an access_token which returns
// ErrEmptyAccessToken.
//
// The request is built here rather than with oauth2.Config.Exchange, which
// decodes the response's numbers as float64 and would round a 17 digit
// user_id.
func (e *TokenExchanger) Exchange(ctx context.Context, r TokenRequest) (*Token, error) {
	const op = "TokenExchanger.Exchange"
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchangeFailed, err)
	}
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {r.ClientID},
		"client_secret": {string(r.ClientSecret)},
		"redirect_uri":  {r.RedirectURL},
		"code":          {r.Code},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token request: %w: %w", op, ErrTokenExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	e.logger.Debug("exchanging authorization code", "endpoint", r.Endpoint, "client_id", r.ClientID)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: token request failed: %w: %w", op, ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read token response: %w: %w", op, ErrTokenExchangeFailed, err)
	}
	raw, decodeErr := decodeTokenResponse(resp.Header.Get("Content-Type"), body)
	if pErr := tokenProviderError(raw); pErr != nil {
		return nil, fmt.Errorf("%s: %w", op, pErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: token endpoint returned %s: %w", op, resp.Status, ErrTokenExchangeFailed)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s: unable to decode token response: %w: %w", op, ErrTokenExchangeFailed, decodeErr)
	}

	accessToken, _ := raw["access_token"].(string)
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%s: token response has no access_token: %w", op, ErrEmptyAccessToken)
	}
	t := &oauth2.Token{
		AccessToken: accessToken,
	}
	if v, ok := raw["token_type"].(string); ok {
		t.TokenType = v
	}
	if v, ok := raw["refresh_token"].(string); ok {
		t.RefreshToken = v
	}
	if secs := expiresIn(raw["expires_in"]); secs > 0 {
		t.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	tk, err := NewToken(t.WithExtra(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tk, nil
}

// decodeTokenResponse decodes either a JSON or a form encoded token
// response.  JSON numbers are kept as json.Number, so large numeric ids are
// not rounded.
func decodeTokenResponse(contentType string, body []byte) (map[string]interface{}, error) {
	const op = "decodeTokenResponse"
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded", "text/plain":
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		raw := make(map[string]interface{}, len(vals))
		for k := range vals {
			raw[k] = vals.Get(k)
		}
		return raw, nil
	default:
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return raw, nil
	}
}

// tokenProviderError returns a ProviderError when the token response is an
// OAuth2 error response.  Instagram's error_type/error_message variant is
// recognized as well.
func tokenProviderError(raw map[string]interface{}) *ProviderError {
	code, _ := raw["error"].(string)
	desc, _ := raw["error_description"].(string)
	uri, _ := raw["error_uri"].(string)
	if code == "" {
		code, _ = raw["error_type"].(string)
		desc, _ = raw["error_message"].(string)
	}
	if code == "" {
		return nil
	}
	return &ProviderError{
		Code:        code,
		Description: desc,
		URI:         uri,
		kind:        ErrTokenExchangeFailed,
	}
}

func expiresIn(v interface{}) int64 {
	switch e := v.(type) {
	case json.Number:
		i, err := e.Int64()
		if err != nil {
			return 0
		}
		return i
	case string:
		var i int64
		if _, err := fmt.Sscan(e, &i); err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// exchangerOptions is the set of available options for TokenExchanger
// functions
type exchangerOptions struct {
	withHTTPClient *http.Client
	withProviderCA string
	withLogger     hclog.Logger
}

func exchangerDefaults() exchangerOptions {
	return exchangerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getExchangerOpts(opt ...Option) exchangerOptions {
	opts := exchangerDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
