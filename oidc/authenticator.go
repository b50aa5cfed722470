package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/fedconnect/connector/oidc"

// Authenticator drives the authorization code flow for one provider.  The
// host calls Process once per http request of the flow; the Authenticator
// redirects the user to the provider, handles the provider's callback by
// exchanging the code, deriving the subject and building the claims, and
// handles logout.
//
// An Authenticator holds no per-attempt state and is safe for concurrent use.
// Everything about an attempt lives in its AttemptContext.
type Authenticator struct {
	config    ProviderConfig
	exchanger *TokenExchanger
	fetcher   *UserInfoFetcher
	client    *http.Client
	logger    hclog.Logger
	tracer    trace.Tracer

	defaultCallbackURL string

	// keySet is only set when the provider issues id_tokens
	keySet oidc.KeySet
}

// NewAuthenticator creates a new Authenticator for the provider.
// Supported options:
//
//	WithHTTPClient
//	WithProviderCA
//	WithLogger
//	WithTracerProvider
//	WithDefaultCallbackURL
func NewAuthenticator(c *ProviderConfig, opt ...Option) (*Authenticator, error) {
	const op = "NewAuthenticator"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getAuthenticatorOpts(opt...)
	client, err := httpClient(opts.withHTTPClient, opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	cfg := *c
	cfg.SupportedSigningAlgs = append([]Alg(nil), c.SupportedSigningAlgs...)

	a := &Authenticator{
		config:             cfg,
		exchanger:          &TokenExchanger{client: client, logger: opts.withLogger},
		fetcher:            &UserInfoFetcher{client: client, logger: opts.withLogger},
		client:             client,
		logger:             opts.withLogger.Named(strings.ToLower(cfg.Name)),
		tracer:             opts.withTracerProvider.Tracer(tracerName),
		defaultCallbackURL: opts.withDefaultCallbackURL,
	}
	if cfg.RequiresIDToken {
		a.keySet = oidc.NewRemoteKeySet(HttpClientContext(context.Background(), client), cfg.JWKSURL)
	}
	return a, nil
}

// Name returns the authenticator's name.
func (a *Authenticator) Name() string { return a.config.Name }

// FriendlyName returns the authenticator's display name.
func (a *Authenticator) FriendlyName() string { return a.config.FriendlyName }

// ClaimDialectURI returns the namespace of the authenticator's claims.
func (a *Authenticator) ClaimDialectURI() string { return a.config.ClaimDialectURI }

// RequiresIDToken returns true when the provider issues an id_token.
func (a *Authenticator) RequiresIDToken() bool { return a.config.RequiresIDToken }

// Scope returns the scope requested from the provider.  The provider's fixed
// scope always wins over the suggested scope.
func (a *Authenticator) Scope(suggested string) string { return a.config.ScopeFor(suggested) }

// ConfigurationProperties returns the properties a host must collect to use
// the authenticator.
func (a *Authenticator) ConfigurationProperties() []ConfigurationProperty {
	return DefaultConfigurationProperties(a.config.FriendlyName)
}

// ProviderConfig returns a copy of the authenticator's provider config.
func (a *Authenticator) ProviderConfig() ProviderConfig {
	cfg := a.config
	cfg.SupportedSigningAlgs = append([]Alg(nil), a.config.SupportedSigningAlgs...)
	return cfg
}

// IsCallback returns true when the request carries the attempt's id as its
// state, which makes it the provider's callback for the attempt.
func (a *Authenticator) IsCallback(req *http.Request, ac *AttemptContext) bool {
	if req == nil || ac == nil {
		return false
	}
	s := req.FormValue("state")
	return s != "" && s == ac.ID()
}

// Process runs one step of the attempt's flow for the request.
//
// For a login, a request that isn't the attempt's callback starts the flow
// by redirecting the user to the provider and returns FlowIncomplete.  The
// callback completes the flow and returns FlowSuccessCompleted, after which
// ac.Subject() is the authenticated user.
//
// For a logout (ac.LogoutRequest), the first request redirects to the
// provider's logout endpoint and returns FlowIncomplete; the provider's
// logout callback returns FlowSuccessCompleted.  Logout is best effort: a
// provider without logout support completes immediately.
//
// Failures return FlowFailed and an error wrapping ErrAuthenticationFailed
// (or ErrLogoutFailed) and the cause.  Nothing is retried: a failed or
// completed attempt rejects further callbacks with ErrAttemptNotInProgress
// and keeps its outcome, so a retry needs a new attempt.
func (a *Authenticator) Process(ctx context.Context, w http.ResponseWriter, req *http.Request, ac *AttemptContext) (FlowStatus, error) {
	const op = "Authenticator.Process"
	switch {
	case ac == nil:
		return FlowFailed, fmt.Errorf("%s: attempt context is nil: %w", op, ErrNilParameter)
	case req == nil:
		return FlowFailed, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	case w == nil:
		return FlowFailed, fmt.Errorf("%s: response writer is nil: %w", op, ErrNilParameter)
	}
	if ac.LogoutRequest {
		return a.processLogout(ctx, w, req, ac)
	}
	if a.IsCallback(req, ac) {
		if err := a.ProcessAuthenticationResponse(ctx, req, ac); err != nil {
			return FlowFailed, fmt.Errorf("%s: %w: %w", op, ErrAuthenticationFailed, err)
		}
		return FlowSuccessCompleted, nil
	}
	if err := a.InitiateAuthenticationRequest(ctx, w, req, ac); err != nil {
		return FlowFailed, fmt.Errorf("%s: %w: %w", op, ErrAuthenticationFailed, err)
	}
	return FlowIncomplete, nil
}

func (a *Authenticator) processLogout(ctx context.Context, w http.ResponseWriter, req *http.Request, ac *AttemptContext) (FlowStatus, error) {
	const op = "Authenticator.processLogout"
	var err error
	status := FlowSuccessCompleted
	if !a.IsCallback(req, ac) {
		ac.currentAuthenticator = a.Name()
		err = a.InitiateLogoutRequest(ctx, w, req, ac)
		status = FlowIncomplete
	} else {
		err = a.ProcessLogoutResponse(ctx, req, ac)
	}
	switch {
	case errors.Is(err, ErrLogoutUnsupported):
		a.logger.Debug("ignoring unsupported logout", "attempt", ac.ID(), "error", err)
		ac.reset()
		ac.state = StateCompleted
		return FlowSuccessCompleted, nil
	case errors.Is(err, ErrAttemptNotInProgress):
		return FlowFailed, fmt.Errorf("%s: %w: %w", op, ErrLogoutFailed, err)
	case err != nil:
		ac.state = StateFailed
		return FlowFailed, fmt.Errorf("%s: %w: %w", op, ErrLogoutFailed, err)
	}
	return status, nil
}

// AuthURL returns the provider's authorization URL for the attempt.  The
// attempt's id is sent as the state, and its nonce is sent only when the
// provider issues id_tokens.
func (a *Authenticator) AuthURL(ctx context.Context, ac *AttemptContext) (string, error) {
	const op = "Authenticator.AuthURL"
	if ac == nil {
		return "", fmt.Errorf("%s: attempt context is nil: %w", op, ErrNilParameter)
	}
	props := ac.Properties.withDefaultCallback(a.defaultCallbackURL)
	if err := props.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config := oauth2.Config{
		ClientID:    props.ClientID(),
		RedirectURL: props.CallbackURL(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.config.AuthorizationEndpoint,
			TokenURL: a.config.TokenEndpoint,
		},
	}
	// the scope is sent verbatim, since some providers use a non-standard
	// separator between scopes.
	oauth2Config.Scopes = []string{a.Scope(ac.ScopeHint)}
	var authCodeOpts []oauth2.AuthCodeOption
	if a.config.RequiresIDToken {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("nonce", ac.Nonce()))
	}
	return oauth2Config.AuthCodeURL(ac.ID(), authCodeOpts...), nil
}

// InitiateAuthenticationRequest redirects the user to the provider's
// authorization endpoint.  The attempt's properties are validated first, so a
// misconfigured attempt fails before anything is sent to the provider.
func (a *Authenticator) InitiateAuthenticationRequest(ctx context.Context, w http.ResponseWriter, req *http.Request, ac *AttemptContext) error {
	const op = "Authenticator.InitiateAuthenticationRequest"
	if ac.state != StateStart && ac.state != StateAwaitingCallback {
		return fmt.Errorf("%s: attempt is %s: %w", op, ac.state, ErrAttemptNotInProgress)
	}
	if ac.IsExpired() {
		ac.state = StateFailed
		return fmt.Errorf("%s: %w", op, ErrExpiredAttempt)
	}
	authURL, err := a.AuthURL(ctx, ac)
	if err != nil {
		ac.state = StateFailed
		return fmt.Errorf("%s: %w", op, err)
	}
	ac.reset()
	ac.state = StateAwaitingCallback
	a.logger.Debug("redirecting to authorization endpoint", "attempt", ac.ID())
	http.Redirect(w, req, authURL, http.StatusFound)
	return nil
}

// ProcessAuthenticationResponse handles the provider's callback for the
// attempt: it exchanges the authorization code for a token, derives the
// subject, and builds the claims.  On success the authenticated user and the
// access_token are stored in the attempt.
//
// A callback carrying a provider error, or no code, fails with
// ErrAuthorization before the token endpoint is called.  Failing to fetch
// or parse the claims does not fail the attempt (see claims).
func (a *Authenticator) ProcessAuthenticationResponse(ctx context.Context, req *http.Request, ac *AttemptContext) (retErr error) {
	const op = "Authenticator.ProcessAuthenticationResponse"
	if req == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if ac == nil {
		return fmt.Errorf("%s: attempt context is nil: %w", op, ErrNilParameter)
	}
	// an authorization code is used once: a repeated callback must not
	// disturb the attempt's outcome.
	if ac.state != StateAwaitingCallback {
		return fmt.Errorf("%s: attempt is %s: %w", op, ac.state, ErrAttemptNotInProgress)
	}
	ctx, span := a.tracer.Start(ctx, "oidc.ProcessAuthenticationResponse", trace.WithAttributes(
		attribute.String("provider.name", a.config.Name),
	))
	defer func() {
		if retErr != nil {
			ac.reset()
			ac.state = StateFailed
			span.RecordError(retErr)
			span.SetStatus(codes.Error, "authentication failed")
		}
		span.End()
	}()
	ac.reset()

	// get parameters from either the body or query parameters.
	// FormValue prioritizes body values, if found.
	if reqErr := req.FormValue("error"); reqErr != "" {
		return fmt.Errorf("%s: %w", op, &ProviderError{
			Code:        reqErr,
			Description: req.FormValue("error_description"),
			URI:         req.FormValue("error_uri"),
			kind:        ErrAuthorization,
		})
	}
	if reqState := req.FormValue("state"); reqState != ac.ID() {
		return fmt.Errorf("%s: attempt id and response state are not equal: %w", op, ErrResponseStateInvalid)
	}
	code := req.FormValue("code")
	if code == "" {
		return fmt.Errorf("%s: callback is missing the authorization code: %w", op, ErrAuthorization)
	}
	if ac.IsExpired() {
		return fmt.Errorf("%s: %w", op, ErrExpiredAttempt)
	}
	props := ac.Properties.withDefaultCallback(a.defaultCallbackURL)
	if err := props.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ac.state = StateExchangingToken
	tk, err := a.exchange(ctx, props, code)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if a.config.RequiresIDToken {
		if err := a.verifyIdToken(ctx, tk, props.ClientID(), ac.Nonce()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	subject, err := a.config.subjectFunc()(tk)
	if err != nil {
		return fmt.Errorf("%s: unable to derive subject: %w", op, err)
	}
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingSubject)
	}

	ac.state = StateFetchingUserInfo
	claims := a.claims(ctx, tk)

	ac.subject = &AuthenticatedIdentity{
		Subject: subject,
		Claims:  claims,
	}
	ac.accessToken = tk.AccessToken()
	ac.state = StateCompleted
	span.SetAttributes(attribute.Int("claims.count", len(claims)))
	a.logger.Debug("authentication completed", "attempt", ac.ID(), "subject", subject, "claims", len(claims))
	return nil
}

// exchange redeems the code, rejecting a token which is already expired (or
// expires within DefaultTokenExpirySkew) since its userinfo request would
// fail.
func (a *Authenticator) exchange(ctx context.Context, props AuthenticatorProperties, code string) (*Token, error) {
	const op = "Authenticator.exchange"
	ctx, span := a.tracer.Start(ctx, "oidc.TokenExchange", trace.WithAttributes(
		attribute.String("provider.name", a.config.Name),
		attribute.String("http.endpoint", a.config.TokenEndpoint),
		attribute.String("oauth.client_id", props.ClientID()),
	))
	defer span.End()
	tk, err := a.exchanger.Exchange(ctx, TokenRequest{
		Endpoint:     a.config.TokenEndpoint,
		ClientID:     props.ClientID(),
		ClientSecret: props.ClientSecret(),
		Code:         code,
		RedirectURL:  props.CallbackURL(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token exchange failed")
		return nil, err
	}
	if !tk.Valid() {
		err := fmt.Errorf("%s: token expires at %s: %w", op, tk.Expiry().Format(time.RFC3339), ErrTokenExchangeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "token exchange failed")
		return nil, err
	}
	return tk, nil
}

func (a *Authenticator) verifyIdToken(ctx context.Context, tk *Token, clientID, nonce string) error {
	const op = "Authenticator.verifyIdToken"
	if tk.IdToken() == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	algs := make([]string, 0, len(a.config.SupportedSigningAlgs))
	for _, alg := range a.config.SupportedSigningAlgs {
		algs = append(algs, string(alg))
	}
	verifier := oidc.NewVerifier(a.config.Issuer, a.keySet, &oidc.Config{
		ClientID:             clientID,
		SupportedSigningAlgs: algs,
	})
	idt, err := verifier.Verify(HttpClientContext(ctx, a.client), string(tk.IdToken()))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, err)
	}
	if idt.Nonce != nonce {
		return fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	return nil
}

// claims returns the user's claims.  Claims are best effort: when they can't
// be fetched or parsed the failure is logged and the user is authenticated
// with an empty ClaimSet.
func (a *Authenticator) claims(ctx context.Context, tk *Token) ClaimSet {
	claims, err := a.fetchClaims(ctx, tk)
	if err != nil {
		a.logger.Warn("proceeding without user claims", "error", err)
		return ClaimSet{}
	}
	return claims
}

func (a *Authenticator) fetchClaims(ctx context.Context, tk *Token) (ClaimSet, error) {
	const op = "Authenticator.fetchClaims"
	ctx, span := a.tracer.Start(ctx, "oidc.UserInfo", trace.WithAttributes(
		attribute.String("provider.name", a.config.Name),
		attribute.String("http.endpoint", a.config.UserInfoEndpoint),
	))
	defer span.End()
	raw, err := a.fetcher.Fetch(ctx, a.config.UserInfoEndpoint, tk.AccessToken())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "userinfo fetch failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if strings.TrimSpace(raw) == "" {
		a.logger.Debug("no user info returned, proceeding without user claims")
		return ClaimSet{}, nil
	}
	claims, err := a.config.claimsFunc()(raw, a.config.ClaimDialectURI)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claims parse failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for k := range claims {
		a.logger.Debug("adding claim from userinfo", "claim", k)
	}
	return claims, nil
}

// InitiateLogoutRequest redirects the user to the provider's logout endpoint.
// It returns ErrLogoutUnsupported when the provider has none.
func (a *Authenticator) InitiateLogoutRequest(ctx context.Context, w http.ResponseWriter, req *http.Request, ac *AttemptContext) error {
	const op = "Authenticator.InitiateLogoutRequest"
	if a.config.LogoutEndpoint == "" {
		return fmt.Errorf("%s: %s: %w", op, a.config.Name, ErrLogoutUnsupported)
	}
	u, err := url.Parse(a.config.LogoutEndpoint)
	if err != nil {
		return fmt.Errorf("%s: logout endpoint is invalid: %w", op, err)
	}
	props := ac.Properties.withDefaultCallback(a.defaultCallbackURL)
	q := u.Query()
	q.Set("state", ac.ID())
	if cid := props.ClientID(); cid != "" {
		q.Set("client_id", cid)
	}
	if cb := props.CallbackURL(); cb != "" {
		q.Set("post_logout_redirect_uri", cb)
	}
	u.RawQuery = q.Encode()
	ac.state = StateLoggingOut
	a.logger.Debug("redirecting to logout endpoint", "attempt", ac.ID())
	http.Redirect(w, req, u.String(), http.StatusFound)
	return nil
}

// ProcessLogoutResponse handles the provider's logout callback for the
// attempt.  It returns ErrLogoutUnsupported when the provider has no logout
// endpoint.
func (a *Authenticator) ProcessLogoutResponse(ctx context.Context, req *http.Request, ac *AttemptContext) error {
	const op = "Authenticator.ProcessLogoutResponse"
	if a.config.LogoutEndpoint == "" {
		return fmt.Errorf("%s: %s: %w", op, a.config.Name, ErrLogoutUnsupported)
	}
	if reqState := req.FormValue("state"); reqState != ac.ID() {
		return fmt.Errorf("%s: attempt id and response state are not equal: %w", op, ErrResponseStateInvalid)
	}
	if ac.state != StateLoggingOut {
		return fmt.Errorf("%s: attempt is %s: %w", op, ac.state, ErrAttemptNotInProgress)
	}
	if reqErr := req.FormValue("error"); reqErr != "" {
		return fmt.Errorf("%s: %w", op, &ProviderError{
			Code:        reqErr,
			Description: req.FormValue("error_description"),
			kind:        ErrLogoutFailed,
		})
	}
	ac.reset()
	ac.state = StateCompleted
	a.logger.Debug("logout completed", "attempt", ac.ID())
	return nil
}

// authenticatorOptions is the set of available options for Authenticator
// functions
type authenticatorOptions struct {
	withHTTPClient         *http.Client
	withProviderCA         string
	withLogger             hclog.Logger
	withTracerProvider     trace.TracerProvider
	withDefaultCallbackURL string
}

func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{}
}

func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	if opts.withTracerProvider == nil {
		opts.withTracerProvider = otel.GetTracerProvider()
	}
	return opts
}
