package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fedconnect/connector/oidc"
)

// Processor runs one step of an attempt's flow.  *oidc.Authenticator
// satisfies it.
type Processor interface {
	Process(ctx context.Context, w http.ResponseWriter, req *http.Request, ac *oidc.AttemptContext) (oidc.FlowStatus, error)
}

// AuthCode creates an authorization code callback handler which uses an
// AttemptReader to find the attempt named by the request's "state"
// parameter, then lets the Processor complete it.
//
// The SuccessResponseFunc is used to create a response when the callback is
// successful.  The ErrorResponseFunc is used to create a response when the
// callback fails.
func AuthCode(p Processor, r AttemptReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	if err := validateHandlerParams(p, r, sFn, eFn); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return handler(op, false, p, r, sFn, eFn), nil
}

// Logout creates a logout callback handler.  It works like AuthCode, but the
// attempt found must be a logout request, and the SuccessResponseFunc is
// always passed a nil identity.
func Logout(p Processor, r AttemptReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Logout"
	if err := validateHandlerParams(p, r, sFn, eFn); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return handler(op, true, p, r, sFn, eFn), nil
}

func validateHandlerParams(p Processor, r AttemptReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) error {
	switch {
	case p == nil:
		return fmt.Errorf("processor is nil: %w", oidc.ErrInvalidParameter)
	case r == nil:
		return fmt.Errorf("attempt reader is nil: %w", oidc.ErrInvalidParameter)
	case sFn == nil:
		return fmt.Errorf("success response func is nil: %w", oidc.ErrInvalidParameter)
	case eFn == nil:
		return fmt.Errorf("error response func is nil: %w", oidc.ErrInvalidParameter)
	}
	return nil
}

func handler(op string, logout bool, p Processor, r AttemptReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found.
		reqState := req.FormValue("state")

		ac, err := r.Read(ctx, reqState)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to read attempt: %w", op, err), w, req)
			return
		}
		if ac == nil {
			// could have expired or it could be invalid... no way to know for sure
			eFn(reqState, nil, fmt.Errorf("%s: attempt not found: %w", op, oidc.ErrNotFound), w, req)
			return
		}
		if ac.ID() != reqState {
			eFn(reqState, nil, fmt.Errorf("%s: attempt id and response state are not equal: %w", op, oidc.ErrResponseStateInvalid), w, req)
			return
		}
		if ac.LogoutRequest != logout {
			eFn(reqState, nil, fmt.Errorf("%s: attempt is not a %s: %w", op, flowName(logout), oidc.ErrInvalidParameter), w, req)
			return
		}

		status, err := p.Process(ctx, w, req, ac)
		if err != nil {
			var pErr *oidc.ProviderError
			if errors.As(err, &pErr) {
				eFn(reqState, &AuthenErrorResponse{
					Error:       pErr.Code,
					Description: pErr.Description,
					Uri:         pErr.URI,
				}, nil, w, req)
				return
			}
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		if status != oidc.FlowSuccessCompleted {
			// the processor has already written its response (a redirect)
			return
		}
		if logout {
			sFn(reqState, nil, w, req)
			return
		}
		sFn(reqState, ac.Subject(), w, req)
	}
}

func flowName(logout bool) string {
	if logout {
		return "logout"
	}
	return "login"
}
