package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// Paths served by the TestProvider.
const (
	TestAuthorizePath = "/oauth/authorize/"
	TestTokenPath     = "/oauth/access_token"
	TestUserInfoPath  = "/me"
	TestLogoutPath    = "/logout"
	TestJWKSPath      = "/certs"
)

// Defaults of a new TestProvider.
const (
	TestClientID     = "test-client-id"
	TestClientSecret = "test-client-secret"
	TestAuthCode     = "test-auth-code"
	TestAccessToken  = "IGQVJ-test-access-token"
	TestRedirectURI  = "https://example.com/callback"
	TestUserID       = "17841400000000001"
)

// TestProvider is a local TLS server that acts like an OAuth2 provider in the
// style of Instagram: an authorization endpoint, a token endpoint returning
// the user's id, a userinfo endpoint accepting the access_token as a query
// parameter, plus an optional logout endpoint and, when enabled, id_tokens
// signed by keys published at a jwks endpoint.  Its replies can be changed
// with its Set* methods to force the failure cases of a flow.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	jwks       *jose.JSONWebKeySet

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	expectedAuthNonce   string
	allowedRedirectURIs []string
	replyAccessToken    string
	replyUserID         interface{}
	replyTokenExtra     map[string]interface{}
	replyUserInfo       string
	userInfoStatus      int
	tokenError          *ProviderError
	tokenStatus         int
	omitAccessToken     bool
	issueIdToken        bool
	disableUserInfo     bool
	codeReplies         map[string]codeReply

	tokenRequests    int
	userInfoRequests int
	lastTokenRequest url.Values
	lastUserInfoURL  *url.URL

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                   t,
		clientID:            TestClientID,
		clientSecret:        TestClientSecret,
		expectedAuthCode:    TestAuthCode,
		allowedRedirectURIs: []string{TestRedirectURI},
		replyAccessToken:    TestAccessToken,
		replyUserID:         json.Number(TestUserID),
		replyUserInfo:       `{"id":"17841400000000001","username":"jane.doe","account_type":"PERSONAL","media_count":42}`,
		userInfoStatus:      http.StatusOK,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = TestJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() { p.httpServer.Close() }

// Addr returns the base URL of the running TestProvider.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the PEM encoded CA cert of the TestProvider's TLS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the PEM encoded keys used to sign id_tokens.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// AuthorizationEndpoint returns the TestProvider's authorization endpoint.
func (p *TestProvider) AuthorizationEndpoint() string { return p.Addr() + TestAuthorizePath }

// TokenEndpoint returns the TestProvider's token endpoint.
func (p *TestProvider) TokenEndpoint() string { return p.Addr() + TestTokenPath }

// UserInfoEndpoint returns the TestProvider's userinfo endpoint.
func (p *TestProvider) UserInfoEndpoint() string { return p.Addr() + TestUserInfoPath }

// LogoutEndpoint returns the TestProvider's logout endpoint.
func (p *TestProvider) LogoutEndpoint() string { return p.Addr() + TestLogoutPath }

// JWKSURL returns the TestProvider's jwks endpoint.
func (p *TestProvider) JWKSURL() string { return p.Addr() + TestJWKSPath }

// Properties returns authenticator properties matching the TestProvider's
// client credentials and allowed redirect URI.
func (p *TestProvider) Properties() AuthenticatorProperties {
	p.mu.Lock()
	defer p.mu.Unlock()
	props := AuthenticatorProperties{
		PropClientID:     p.clientID,
		PropClientSecret: p.clientSecret,
	}
	if len(p.allowedRedirectURIs) > 0 {
		props[PropCallbackURL] = p.allowedRedirectURIs[0]
	}
	return props
}

// SetClientCreds configures the client credentials the token endpoint
// accepts.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the code returned by the authorization
// endpoint and accepted by the token endpoint.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce the authorization endpoint
// requires and the token endpoint embeds in id_tokens.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetAllowedRedirectURIs configures the redirect URIs the provider accepts.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetReplyAccessToken configures the access_token issued by the token
// endpoint.
func (p *TestProvider) SetReplyAccessToken(t string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyAccessToken = t
}

// SetReplyUserID configures the user_id field of token responses.  A nil id
// omits the field.
func (p *TestProvider) SetReplyUserID(id interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserID = id
}

// codeReply is what the provider issues for one authorization code.
type codeReply struct {
	accessToken string
	userID      interface{}
	userInfo    string
}

// SetCodeReply makes the token endpoint accept code in addition to the
// expected code, replying with the access token and user id.  The userinfo
// endpoint replies with userInfo for that access token.
func (p *TestProvider) SetCodeReply(code, accessToken string, userID interface{}, userInfo string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.codeReplies == nil {
		p.codeReplies = map[string]codeReply{}
	}
	p.codeReplies[code] = codeReply{accessToken: accessToken, userID: userID, userInfo: userInfo}
}

// replyForCode returns the reply for code and whether the code is accepted.
func (p *TestProvider) replyForCode(code string) (codeReply, bool) {
	if r, ok := p.codeReplies[code]; ok {
		return r, true
	}
	return codeReply{
		accessToken: p.replyAccessToken,
		userID:      p.replyUserID,
		userInfo:    p.replyUserInfo,
	}, code == p.expectedAuthCode
}

// replyForAccessToken returns the userinfo issued with the access token and
// whether the token is known.
func (p *TestProvider) replyForAccessToken(token string) (string, bool) {
	for _, r := range p.codeReplies {
		if r.accessToken == token {
			return r.userInfo, true
		}
	}
	return p.replyUserInfo, token == p.replyAccessToken
}

// SetTokenExtra configures additional fields of token responses.
func (p *TestProvider) SetTokenExtra(extra map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyTokenExtra = extra
}

// SetTokenError forces the token endpoint to reply with an Instagram style
// error document and the status.
func (p *TestProvider) SetTokenError(status int, errorType, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
	p.tokenError = &ProviderError{Code: errorType, Description: message}
}

// SetTokenStatus forces the token endpoint to reply with the status.
func (p *TestProvider) SetTokenStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// OmitAccessToken forces the token endpoint to reply without an
// access_token.
func (p *TestProvider) OmitAccessToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// IssueIdTokens makes the token endpoint issue signed id_tokens.
func (p *TestProvider) IssueIdTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issueIdToken = true
}

// SetReplyUserInfo configures the raw body returned by the userinfo
// endpoint.
func (p *TestProvider) SetReplyUserInfo(raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserInfo = raw
}

// SetUserInfoStatus configures the status returned by the userinfo endpoint.
func (p *TestProvider) SetUserInfoStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfoStatus = status
}

// DisableUserInfo makes the userinfo endpoint drop the connection without a
// response.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// TokenRequests returns the number of requests made to the token endpoint.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// UserInfoRequests returns the number of requests made to the userinfo
// endpoint.
func (p *TestProvider) UserInfoRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoRequests
}

// LastTokenRequest returns the form of the last token request.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// LastUserInfoURL returns the URL of the last userinfo request.
func (p *TestProvider) LastUserInfoURL() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUserInfoURL
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirect, err := url.Parse(qv.Get("redirect_uri"))
	if err != nil || redirect.String() == "" {
		p.writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorCode, "error_description": errorMessage})
		return
	}
	rq := redirect.Query()
	rq.Set("state", qv.Get("state"))
	rq.Set("error", errorCode)
	if errorMessage != "" {
		rq.Set("error_description", errorMessage)
	}
	redirect.RawQuery = rq.Encode()
	http.Redirect(w, req, redirect.String(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, status int, errorType, message string) {
	p.writeJSON(w, status, map[string]interface{}{
		"error_type":    errorType,
		"code":          status,
		"error_message": message,
	})
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	for _, u := range p.allowedRedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case TestAuthorizePath:
		p.serveAuthorize(w, req)
	case TestTokenPath:
		p.serveToken(w, req)
	case TestUserInfoPath:
		p.serveUserInfo(w, req)
	case TestLogoutPath:
		p.serveLogout(w, req)
	case TestJWKSPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, http.StatusOK, p.jwks)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	switch {
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "invalid_client", "unknown client_id")
		return
	case !p.redirectAllowed(qv.Get("redirect_uri")):
		p.writeAuthErrorResponse(w, req, "invalid_request", "redirect_uri is not allowed")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case p.expectedAuthCode == "":
		p.writeAuthErrorResponse(w, req, "access_denied", "The user denied your request.")
		return
	case p.expectedAuthNonce != "" && p.expectedAuthNonce != qv.Get("nonce"):
		p.writeAuthErrorResponse(w, req, "access_denied", "invalid nonce")
		return
	}
	redirect, _ := url.Parse(qv.Get("redirect_uri"))
	rq := redirect.Query()
	rq.Set("state", qv.Get("state"))
	rq.Set("code", p.expectedAuthCode)
	redirect.RawQuery = rq.Encode()
	http.Redirect(w, req, redirect.String(), http.StatusFound)
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	p.tokenRequests++
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "OAuthException", "unable to parse form")
		return
	}
	p.lastTokenRequest = req.PostForm

	switch {
	case p.tokenError != nil:
		status := p.tokenStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		p.writeTokenErrorResponse(w, status, p.tokenError.Code, p.tokenError.Description)
		return
	case p.tokenStatus != 0 && (p.tokenStatus < 200 || p.tokenStatus > 299):
		w.WriteHeader(p.tokenStatus)
		return
	case req.PostForm.Get("grant_type") != "authorization_code":
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "OAuthException", "Invalid grant_type")
		return
	case req.PostForm.Get("client_id") != p.clientID || req.PostForm.Get("client_secret") != p.clientSecret:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "OAuthException", "Invalid client credentials")
		return
	case !p.redirectAllowed(req.PostForm.Get("redirect_uri")):
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "OAuthException", "Invalid redirect_uri")
		return
	}
	cr, ok := p.replyForCode(req.PostForm.Get("code"))
	if !ok {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "OAuthException", "Invalid authorization code")
		return
	}

	reply := map[string]interface{}{}
	for k, v := range p.replyTokenExtra {
		reply[k] = v
	}
	if !p.omitAccessToken {
		reply["access_token"] = cr.accessToken
	}
	if cr.userID != nil {
		reply["user_id"] = cr.userID
	}
	if p.issueIdToken {
		now := time.Now()
		sub, _ := json.Marshal(cr.userID)
		claims := jwt.Claims{
			Subject:   string(bytes.Trim(sub, `"`)),
			Issuer:    p.Addr(),
			Audience:  jwt.Audience{p.clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		}
		reply["id_token"] = TestSignJWT(p.t, p.ecdsaPrivateKey, claims, map[string]interface{}{
			"nonce": p.expectedAuthNonce,
		})
	}
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *TestProvider) serveUserInfo(w http.ResponseWriter, req *http.Request) {
	p.userInfoRequests++
	p.lastUserInfoURL = req.URL
	if p.disableUserInfo {
		panic(http.ErrAbortHandler)
	}
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userInfo, ok := p.replyForAccessToken(req.URL.Query().Get("access_token"))
	if !ok {
		p.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Invalid OAuth access token.",
				"type":    "OAuthException",
				"code":    190,
			},
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(p.userInfoStatus)
	_, _ = io.WriteString(w, userInfo)
}

func (p *TestProvider) serveLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	redirect, err := url.Parse(qv.Get("post_logout_redirect_uri"))
	if err != nil || !p.redirectAllowed(qv.Get("post_logout_redirect_uri")) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rq := redirect.Query()
	rq.Set("state", qv.Get("state"))
	redirect.RawQuery = rq.Encode()
	http.Redirect(w, req, redirect.String(), http.StatusFound)
}
