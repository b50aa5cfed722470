package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// maxUserInfoSize bounds how much of a userinfo response is read.
const maxUserInfoSize = 1 << 20

// UserInfoFetcher retrieves the raw userinfo document for an access token.
// The token is sent as an access_token query parameter, since some providers
// don't accept bearer authorization on their userinfo endpoint.  A
// UserInfoFetcher is safe for concurrent use.
type UserInfoFetcher struct {
	client *http.Client
	logger hclog.Logger
}

// NewUserInfoFetcher creates a new UserInfoFetcher.
// Supported options: WithHTTPClient, WithProviderCA, WithLogger
func NewUserInfoFetcher(opt ...Option) (*UserInfoFetcher, error) {
	const op = "NewUserInfoFetcher"
	opts := getExchangerOpts(opt...)
	client, err := httpClient(opts.withHTTPClient, opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &UserInfoFetcher{
		client: client,
		logger: opts.withLogger,
	}, nil
}

// Fetch makes one GET request to the endpoint and returns the response body
// as UTF-8 text.  An empty endpoint returns an empty document without making
// a request.
//
// The response status isn't inspected: any response whose body can be read
// is returned, including provider error documents.  Transport failures
// return ErrUserInfoFetchFailed.
func (f *UserInfoFetcher) Fetch(ctx context.Context, endpoint string, t AccessToken) (string, error) {
	const op = "UserInfoFetcher.Fetch"
	f.logger.Debug("fetching user info", "endpoint", endpoint)
	if endpoint == "" {
		return "", nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%s: userinfo endpoint %q is invalid: %w: %w", op, endpoint, ErrUserInfoFetchFailed, err)
	}
	q := u.Query()
	q.Set("access_token", string(t))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create userinfo request: %w: %w", op, ErrUserInfoFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		// the url carries the access token, so the *url.Error is not wrapped.
		return "", fmt.Errorf("%s: userinfo request to %s failed: %w", op, endpoint, ErrUserInfoFetchFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Warn("userinfo endpoint returned a non-success status", "endpoint", endpoint, "status", resp.StatusCode)
	}

	r := transform.NewReader(io.LimitReader(resp.Body, maxUserInfoSize), unicode.UTF8.NewDecoder())
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read userinfo response: %w: %w", op, ErrUserInfoFetchFailed, err)
	}
	return string(body), nil
}
