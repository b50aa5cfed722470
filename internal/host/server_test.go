package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fedconnect/connector/instagram"
	"github.com/fedconnect/connector/oidc"
	"github.com/fedconnect/connector/oidc/callback"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, tp *oidc.TestProvider) *Config {
	t.Helper()
	return &Config{
		Addr:           "127.0.0.1:0",
		ClientID:       oidc.TestClientID,
		ClientSecret:   oidc.TestClientSecret,
		CallbackURL:    oidc.TestRedirectURI,
		AttemptTTL:     time.Minute,
		ProviderCAFile: writeFile(t, "ca.pem", tp.CACert()),
		Endpoints: Endpoints{
			Authorization: tp.AuthorizationEndpoint(),
			Token:         tp.TokenEndpoint(),
			UserInfo:      tp.UserInfoEndpoint(),
		},
	}
}

func testServer(t *testing.T, tp *oidc.TestProvider, opt ...oidc.Option) *Server {
	t.Helper()
	require := require.New(t)
	cfg := testConfig(t, tp)
	a, err := NewAuthenticator(cfg, nil)
	require.NoError(err)
	s, err := NewServer(cfg, a, opt...)
	require.NoError(err)
	return s
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

// startLogin returns the state sent to the provider by GET /login.
func startLogin(t *testing.T, s *Server) string {
	t.Helper()
	require := require.New(t)
	w := serve(s, LoginPath)
	require.Equal(http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(err)
	state := loc.Query().Get("state")
	require.NotEmpty(state)
	return state
}

func callbackURL(state, code string) string {
	return CallbackPath + "?" + url.Values{"state": {state}, "code": {code}}.Encode()
}

func TestNewServer(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	cfg := testConfig(t, tp)
	a, err := NewAuthenticator(cfg, nil)
	require.NoError(t, err)

	_, err = NewServer(nil, a)
	assert.ErrorIs(t, err, oidc.ErrNilParameter)
	_, err = NewServer(cfg, nil)
	assert.ErrorIs(t, err, oidc.ErrNilParameter)
	_, err = NewServer(&Config{}, a)
	assert.ErrorIs(t, err, oidc.ErrConfiguration)

	_, err = NewAuthenticator(nil, nil)
	assert.ErrorIs(t, err, oidc.ErrNilParameter)
}

func TestServer_Login(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)

	t.Run("redirects-to-provider", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testServer(t, tp)
		w := serve(s, LoginPath+"?scope=openid")
		require.Equal(http.StatusFound, w.Code)
		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(err)
		assert.True(strings.HasPrefix(loc.String(), tp.AuthorizationEndpoint()))
		q := loc.Query()
		assert.Equal(instagram.Scope, q.Get("scope"))
		assert.Equal(oidc.TestClientID, q.Get("client_id"))
		assert.Equal(oidc.TestRedirectURI, q.Get("redirect_uri"))
		assert.Equal("code", q.Get("response_type"))
		assert.Equal(1, s.Attempts().Len())
	})
	t.Run("completes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testServer(t, tp)
		state := startLogin(t, s)

		w := serve(s, callbackURL(state, oidc.TestAuthCode))
		require.Equal(http.StatusOK, w.Code, w.Body.String())
		var got loginResponse
		require.NoError(json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(state, got.Attempt)
		assert.Equal(oidc.TestUserID, got.Subject)
		assert.Contains(got.Claims, instagram.ClaimDialectURI+"/username")
		assert.NotContains(w.Body.String(), oidc.TestAccessToken)

		m := serve(s, MetricsPath).Body.String()
		assert.Contains(m, `connector_flow_outcomes_total{authenticator="Instagram",flow="login",status="incomplete"} 1`)
		assert.Contains(m, `connector_flow_outcomes_total{authenticator="Instagram",flow="login",status="success"} 1`)
		assert.Contains(m, `connector_flow_duration_seconds_count{authenticator="Instagram",flow="login"} 2`)
	})
	t.Run("bad-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testServer(t, tp)
		state := startLogin(t, s)

		w := serve(s, callbackURL(state, "not-the-code"))
		assert.Equal(http.StatusUnauthorized, w.Code)
		var got callback.AuthenErrorResponse
		require.NoError(json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal("OAuthException", got.Error)
		assert.Equal(0, s.Attempts().Len())
		assert.Contains(serve(s, MetricsPath).Body.String(),
			`connector_flow_outcomes_total{authenticator="Instagram",flow="login",status="failure"} 1`)
	})
	t.Run("denied", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testServer(t, tp)
		state := startLogin(t, s)

		w := serve(s, CallbackPath+"?"+url.Values{
			"state":             {state},
			"error":             {"access_denied"},
			"error_description": {"The user denied your request."},
		}.Encode())
		assert.Equal(http.StatusUnauthorized, w.Code)
		var got callback.AuthenErrorResponse
		require.NoError(json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal("access_denied", got.Error)
		assert.Equal("The user denied your request.", got.Description)
	})
	t.Run("unknown-state", func(t *testing.T) {
		s := testServer(t, tp)
		w := serve(s, callbackURL("at_unknown", oidc.TestAuthCode))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("replayed-callback", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		s := testServer(t, tp)
		state := startLogin(t, s)
		require.Equal(http.StatusOK, serve(s, callbackURL(state, oidc.TestAuthCode)).Code)

		w := serve(s, callbackURL(state, oidc.TestAuthCode))
		assert.Equal(http.StatusConflict, w.Code)
		assert.Equal(1, tp.TokenRequests())
		assert.Equal(1, s.Attempts().Len())
		ac, err := s.Attempts().Read(context.Background(), state)
		require.NoError(err)
		assert.Equal(oidc.StateCompleted, ac.State())
		assert.Equal(oidc.TestUserID, ac.Subject().Subject)

		// the completed attempt can still be logged out
		w = serve(s, LogoutPath+"?attempt="+url.QueryEscape(state))
		assert.Equal(http.StatusOK, w.Code, w.Body.String())
	})
}

func TestServer_ConcurrentCallbacks(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)
	s := testServer(t, tp)
	state := startLogin(t, s)

	const callbacks = 8
	codes := make([]int, callbacks)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = serve(s, callbackURL(state, oidc.TestAuthCode)).Code
		}(i)
	}
	wg.Wait()

	counts := map[int]int{}
	for _, c := range codes {
		counts[c]++
	}
	assert.Equal(map[int]int{http.StatusOK: 1, http.StatusConflict: callbacks - 1}, counts)
	assert.Equal(1, tp.TokenRequests())
	ac, err := s.Attempts().Read(context.Background(), state)
	require.NoError(err)
	assert.Equal(oidc.StateCompleted, ac.State())
}

func TestServer_Logout(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)

	t.Run("after-login", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testServer(t, tp)
		state := startLogin(t, s)
		require.Equal(http.StatusOK, serve(s, callbackURL(state, oidc.TestAuthCode)).Code)

		w := serve(s, LogoutPath+"?attempt="+url.QueryEscape(state))
		require.Equal(http.StatusOK, w.Code, w.Body.String())
		var got map[string]string
		require.NoError(json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(state, got["attempt"])
		assert.Equal("logged_out", got["status"])
		assert.Equal(0, s.Attempts().Len())
		assert.Contains(serve(s, MetricsPath).Body.String(),
			`connector_flow_outcomes_total{authenticator="Instagram",flow="logout",status="success"} 1`)
	})
	t.Run("unknown-attempt", func(t *testing.T) {
		s := testServer(t, tp)
		assert.Equal(t, http.StatusNotFound, serve(s, LogoutPath+"?attempt=at_unknown").Code)
	})
	t.Run("login-attempt-on-logout-callback", func(t *testing.T) {
		s := testServer(t, tp)
		state := startLogin(t, s)
		w := serve(s, LogoutCallbackPath+"?state="+url.QueryEscape(state))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	w := serve(testServer(t, tp), HealthPath)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_NoSecretsLogged(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)
	var buf strings.Builder
	logger := hclog.New(&hclog.LoggerOptions{
		Output:          &buf,
		Level:           hclog.Trace,
		IncludeLocation: false,
	})
	cfg := testConfig(t, tp)
	a, err := NewAuthenticator(cfg, logger)
	require.NoError(err)
	s, err := NewServer(cfg, a, WithLogger(logger))
	require.NoError(err)

	state := startLogin(t, s)
	require.Equal(http.StatusOK, serve(s, callbackURL(state, oidc.TestAuthCode)).Code)
	logs := buf.String()
	assert.Contains(logs, "login completed")
	assert.NotContains(logs, oidc.TestAccessToken)
	assert.NotContains(logs, oidc.TestClientSecret)
	assert.NotContains(logs, oidc.TestAuthCode)
}
