// Package host is a reference host for the connector.  It drives an
// authenticator through login and logout flows over HTTP, keeping attempts
// in memory between the provider's redirects.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fedconnect/connector/instagram"
	"github.com/fedconnect/connector/oidc"
	"github.com/fedconnect/connector/oidc/callback"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
)

// Routes served by the host.
const (
	LoginPath          = "/login"
	CallbackPath       = "/callback"
	LogoutPath         = "/logout"
	LogoutCallbackPath = "/logout/callback"
	MetricsPath        = "/metrics"
	HealthPath         = "/healthz"
)

const shutdownTimeout = 10 * time.Second

// Server serves the login and logout flows of one authenticator.
type Server struct {
	cfg           *Config
	authenticator *oidc.Authenticator
	attempts      *AttemptStore
	metrics       *Metrics
	logger        hclog.Logger
	router        chi.Router
}

// NewAuthenticator creates the Instagram authenticator described by cfg.
func NewAuthenticator(cfg *Config, logger hclog.Logger) (*oidc.Authenticator, error) {
	const op = "host.NewAuthenticator"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	ca, err := cfg.ProviderCA()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{
		oidc.WithDefaultCallbackURL(cfg.CallbackURL),
		oidc.WithProviderCA(ca),
	}
	if logger != nil {
		opts = append(opts, oidc.WithLogger(logger))
	}
	if e := cfg.Endpoints.Authorization; e != "" {
		opts = append(opts, instagram.WithAuthorizationEndpoint(e))
	}
	if e := cfg.Endpoints.Token; e != "" {
		opts = append(opts, instagram.WithTokenEndpoint(e))
	}
	if e := cfg.Endpoints.UserInfo; e != "" {
		opts = append(opts, instagram.WithUserInfoEndpoint(e))
	}
	a, err := instagram.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// NewServer creates a Server.
// Supported options: WithLogger, WithMetrics
func NewServer(cfg *Config, a *oidc.Authenticator, opt ...oidc.Option) (*Server, error) {
	const op = "host.NewServer"
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	case a == nil:
		return nil, fmt.Errorf("%s: authenticator is nil: %w", op, oidc.ErrNilParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getServerOpts(opt...)
	m := opts.withMetrics
	if m == nil {
		var err error
		if m, err = NewMetrics(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	s := &Server{
		cfg:           cfg,
		authenticator: a,
		attempts:      NewAttemptStore(cfg.AttemptTTL),
		metrics:       m,
		logger:        opts.withLogger,
	}
	login, err := callback.AuthCode(a, s.attempts, s.loginSucceeded, s.flowFailed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logout, err := callback.Logout(a, s.attempts, s.logoutSucceeded, s.flowFailed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Get(LoginPath, s.observed(flowLogin, s.login))
	r.Get(CallbackPath, s.observed(flowLogin, s.locked("state", login)))
	r.Get(LogoutPath, s.observed(flowLogout, s.locked("attempt", s.logout)))
	r.Get(LogoutCallbackPath, s.observed(flowLogout, s.locked("state", logout)))
	r.Method(http.MethodGet, MetricsPath, m.Handler())
	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

// Attempts returns the server's attempt store.
func (s *Server) Attempts() *AttemptStore { return s.attempts }

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	const op = "Server.ListenAndServe"
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr, "authenticator", s.authenticator.Name())
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
	}
	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// login starts a new attempt and redirects the user agent to the provider.
// An optional "scope" query parameter is passed as the scope hint.
func (s *Server) login(w http.ResponseWriter, req *http.Request) {
	const op = "Server.login"
	ac, err := oidc.NewAttemptContext(s.cfg.AttemptTTL, s.cfg.Properties(),
		oidc.WithScopeHint(req.URL.Query().Get("scope")))
	if err != nil {
		s.flowFailed("", nil, fmt.Errorf("%s: %w", op, err), w, req)
		return
	}
	if err := s.attempts.Add(ac); err != nil {
		s.flowFailed(ac.ID(), nil, fmt.Errorf("%s: %w", op, err), w, req)
		return
	}
	defer s.attempts.Lock(ac.ID())()
	s.process(op, ac, w, req)
}

// logout runs a logout for the attempt named by the "attempt" query
// parameter.
func (s *Server) logout(w http.ResponseWriter, req *http.Request) {
	const op = "Server.logout"
	attemptID := req.URL.Query().Get("attempt")
	ac, err := s.attempts.Read(req.Context(), attemptID)
	if err != nil {
		s.flowFailed(attemptID, nil, fmt.Errorf("%s: %w", op, err), w, req)
		return
	}
	ac.LogoutRequest = true
	s.process(op, ac, w, req)
}

// locked holds the lock of the attempt named by the query parameter while h
// runs, so concurrent requests for one attempt are handled one at a time.
func (s *Server) locked(param string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer s.attempts.Lock(req.URL.Query().Get(param))()
		h(w, req)
	}
}

func (s *Server) process(op string, ac *oidc.AttemptContext, w http.ResponseWriter, req *http.Request) {
	status, err := s.authenticator.Process(req.Context(), w, req, ac)
	switch {
	case err != nil:
		s.flowFailed(ac.ID(), nil, fmt.Errorf("%s: %w", op, err), w, req)
	case status == oidc.FlowSuccessCompleted && ac.LogoutRequest:
		s.logoutSucceeded(ac.ID(), nil, w, req)
	case status == oidc.FlowSuccessCompleted:
		s.loginSucceeded(ac.ID(), ac.Subject(), w, req)
	}
}

// loginResponse is the body written when a login completes.
type loginResponse struct {
	Attempt string   `json:"attempt"`
	Subject string   `json:"subject"`
	Claims  []string `json:"claims"`
}

func (s *Server) loginSucceeded(attemptID string, id *oidc.AuthenticatedIdentity, w http.ResponseWriter, req *http.Request) {
	setOutcome(req, statusSuccess)
	resp := loginResponse{Attempt: attemptID, Claims: []string{}}
	if id != nil {
		resp.Subject = id.Subject
		for k := range id.Claims {
			resp.Claims = append(resp.Claims, k)
		}
		sort.Strings(resp.Claims)
	}
	s.logger.Info("login completed", "attempt", attemptID, "subject", resp.Subject, "claims", len(resp.Claims))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logoutSucceeded(attemptID string, _ *oidc.AuthenticatedIdentity, w http.ResponseWriter, req *http.Request) {
	setOutcome(req, statusSuccess)
	s.attempts.Delete(attemptID)
	s.logger.Info("logout completed", "attempt", attemptID)
	writeJSON(w, http.StatusOK, map[string]string{"attempt": attemptID, "status": "logged_out"})
}

func (s *Server) flowFailed(attemptID string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	setOutcome(req, statusFailure)
	// a request the attempt isn't expecting, such as a replayed callback,
	// leaves the attempt as it was.
	if attemptID != "" && !errors.Is(e, oidc.ErrAttemptNotInProgress) {
		s.attempts.Delete(attemptID)
	}
	if respErr != nil {
		s.logger.Warn("provider reported an error", "attempt", attemptID, "error", respErr.Error, "description", respErr.Description)
		writeJSON(w, http.StatusUnauthorized, respErr)
		return
	}
	code := statusCode(e)
	s.logger.Error("flow failed", "attempt", attemptID, "status", code, "error", e)
	writeJSON(w, code, &callback.AuthenErrorResponse{
		Error:       http.StatusText(code),
		Description: e.Error(),
	})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, oidc.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, oidc.ErrExpiredAttempt):
		return http.StatusGone
	case errors.Is(err, oidc.ErrAttemptNotInProgress):
		return http.StatusConflict
	case errors.Is(err, oidc.ErrResponseStateInvalid), errors.Is(err, oidc.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, oidc.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, oidc.ErrAuthenticationFailed), errors.Is(err, oidc.ErrLogoutFailed):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type outcomeKey struct{}

// observed records the outcome and duration of every request to h.  A
// request which neither succeeds nor fails (a redirect to the provider) is
// counted as incomplete.
func (s *Server) observed(flow string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		status := statusIncomplete
		h(w, req.WithContext(context.WithValue(req.Context(), outcomeKey{}, &status)))
		s.metrics.observe(s.authenticator.Name(), flow, status, start)
	}
}

func setOutcome(req *http.Request, status string) {
	if p, ok := req.Context().Value(outcomeKey{}).(*string); ok {
		*p = status
	}
}

// logRequests logs each request's path and status.  Query strings are left
// out since they carry authorization codes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		s.logger.Debug("request", "method", req.Method, "path", req.URL.Path, "status", ww.Status(), "elapsed", time.Since(start))
	})
}

// serverOptions is the set of available options for a Server
type serverOptions struct {
	withLogger  hclog.Logger
	withMetrics *Metrics
}

func serverDefaults() serverOptions {
	return serverOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getServerOpts(opt ...oidc.Option) serverOptions {
	opts := serverDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the Server.
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithMetrics provides the Server's metrics.  By default, a Server creates
// its own.
func WithMetrics(m *Metrics) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withMetrics = m
		}
	}
}
