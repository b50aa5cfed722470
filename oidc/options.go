package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration for: Token,
// AttemptContext
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withExpirySkew = d
		case *attemptOptions:
			v.withExpirySkew = d
		}
	}
}

// WithHTTPClient provides an optional http client used for every request
// made to the provider.  It takes precedence over WithProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authenticatorOptions:
			v.withHTTPClient = c
		case *exchangerOptions:
			v.withHTTPClient = c
		}
	}
}

// WithProviderCA provides an optional CA cert PEM used when sending requests
// to the provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authenticatorOptions:
			v.withProviderCA = cert
		case *exchangerOptions:
			v.withProviderCA = cert
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authenticatorOptions:
			v.withLogger = l
		case *exchangerOptions:
			v.withLogger = l
		}
	}
}

// WithTracerProvider provides an optional OpenTelemetry tracer provider.  If
// not provided, the global tracer provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withTracerProvider = tp
		}
	}
}

// WithDefaultCallbackURL provides the callback URL to use when an attempt's
// properties don't carry one.
func WithDefaultCallbackURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withDefaultCallbackURL = u
		}
	}
}

// WithScopeHint provides the scope suggested by the host for an attempt.
// Providers with a fixed scope ignore it.
func WithScopeHint(scope string) Option {
	return func(o interface{}) {
		if o, ok := o.(*attemptOptions); ok {
			o.withScopeHint = scope
		}
	}
}

// WithLogoutRequest marks an attempt as a logout request.
func WithLogoutRequest() Option {
	return func(o interface{}) {
		if o, ok := o.(*attemptOptions); ok {
			o.withLogoutRequest = true
		}
	}
}
