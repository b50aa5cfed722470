package oidc

import (
	"fmt"
	"time"

	"github.com/fedconnect/connector/sdk/id"
)

// FlowStatus is the result of one step of an authentication or logout flow.
type FlowStatus int

const (
	// FlowIncomplete means the host must wait for the provider to redirect
	// the user back and then call the authenticator again.
	FlowIncomplete FlowStatus = iota
	FlowSuccessCompleted
	FlowFailed
)

func (s FlowStatus) String() string {
	switch s {
	case FlowIncomplete:
		return "incomplete"
	case FlowSuccessCompleted:
		return "success_completed"
	case FlowFailed:
		return "failed"
	default:
		return fmt.Sprintf("FlowStatus(%d)", int(s))
	}
}

// FlowState is where an attempt is in the protocol.
type FlowState int

const (
	StateStart FlowState = iota
	StateAwaitingCallback
	StateExchangingToken
	StateFetchingUserInfo
	StateCompleted
	StateLoggingOut
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchangingToken:
		return "exchanging_token"
	case StateFetchingUserInfo:
		return "fetching_user_info"
	case StateCompleted:
		return "completed"
	case StateLoggingOut:
		return "logging_out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// AuthenticatedIdentity is the user authenticated by a successful attempt.
type AuthenticatedIdentity struct {
	// Subject uniquely identifies the user within the provider's namespace.
	Subject string

	// Claims are the user's normalized claims.  They may be empty.
	Claims ClaimSet
}

// AttemptContext holds everything about one user's authentication (or
// logout) attempt.  The host keeps it between the redirects of the flow and
// passes it to every Authenticator.Process call for the attempt.  ID() is sent
// to the provider as the OAuth2 state and identifies the provider's callback.
//
// An AttemptContext belongs to a single attempt and is not safe for
// concurrent use.
type AttemptContext struct {
	// id is a unique identifier and an opaque value used to maintain state
	// between the authorization request and the callback.
	id string

	// nonce is a unique nonce, sent when the provider issues an id_token.
	nonce string

	expiration time.Time
	nowFunc    func() time.Time

	// Properties are the connection properties for the attempt.
	Properties AuthenticatorProperties

	// LogoutRequest is true when the attempt is a logout rather than a
	// login.
	LogoutRequest bool

	// ScopeHint is the scope the host suggests.  Providers with a fixed
	// scope ignore it.
	ScopeHint string

	state                FlowState
	currentAuthenticator string
	subject              *AuthenticatedIdentity
	accessToken          AccessToken
}

// NewAttemptContext creates a new AttemptContext which expires after expireIn.
// Supported options: WithNow, WithScopeHint, WithLogoutRequest
func NewAttemptContext(expireIn time.Duration, props AuthenticatorProperties, opt ...Option) (*AttemptContext, error) {
	const op = "NewAttemptContext"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getAttemptOpts(opt...)
	attemptID, err := id.New("at")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate an attempt's id: %w", op, err)
	}
	nonce, err := id.New("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate an attempt's nonce: %w", op, err)
	}
	a := &AttemptContext{
		id:            attemptID,
		nonce:         nonce,
		nowFunc:       opts.withNowFunc,
		Properties:    props,
		LogoutRequest: opts.withLogoutRequest,
		ScopeHint:     opts.withScopeHint,
		state:         StateStart,
	}
	a.expiration = a.now().Add(expireIn)
	return a, nil
}

func (a *AttemptContext) ID() string    { return a.id }    // ID returns the attempt's id (the OAuth2 state)
func (a *AttemptContext) Nonce() string { return a.nonce } // Nonce returns the attempt's nonce

// Expiration returns the attempt's expiration.
func (a *AttemptContext) Expiration() time.Time { return a.expiration }

// State returns where the attempt is in the protocol.
func (a *AttemptContext) State() FlowState { return a.state }

// CurrentAuthenticator returns the name of the authenticator that last
// initiated a logout for the attempt.
func (a *AttemptContext) CurrentAuthenticator() string { return a.currentAuthenticator }

// Subject returns the authenticated user once the attempt has completed
// successfully, otherwise nil.
func (a *AttemptContext) Subject() *AuthenticatedIdentity { return a.subject }

// AccessToken returns the provider's access_token once the attempt has
// completed successfully.
func (a *AttemptContext) AccessToken() AccessToken { return a.accessToken }

// DefaultAttemptExpirySkew defines a default time skew when checking an
// attempt's expiration.
const DefaultAttemptExpirySkew = 1 * time.Second

// IsExpired returns true if the attempt has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultAttemptExpirySkew.
func (a *AttemptContext) IsExpired(opt ...Option) bool {
	opts := getAttemptOpts(opt...)
	return a.expiration.Before(a.now().Add(opts.withExpirySkew))
}

// now returns the current time using the optional nowFunc.
func (a *AttemptContext) now() time.Time {
	if a.nowFunc != nil {
		return a.nowFunc()
	}
	return time.Now() // fallback to this default
}

// reset drops any result of a previous run of the attempt, so a new run
// never builds on it.
func (a *AttemptContext) reset() {
	a.subject = nil
	a.accessToken = ""
}

// attemptOptions is the set of available options for AttemptContext
// functions
type attemptOptions struct {
	withExpirySkew    time.Duration
	withNowFunc       func() time.Time
	withScopeHint     string
	withLogoutRequest bool
}

// attemptDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func attemptDefaults() attemptOptions {
	return attemptOptions{
		withExpirySkew: DefaultAttemptExpirySkew,
	}
}

// getAttemptOpts gets the attempt defaults and applies the opt overrides
// passed in
func getAttemptOpts(opt ...Option) attemptOptions {
	opts := attemptDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(fn func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*attemptOptions); ok {
			o.withNowFunc = fn
		}
	}
}
