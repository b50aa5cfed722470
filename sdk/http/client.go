package http

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

var (
	ErrInvalidCertificatePem = errors.New("invalid certificate PEM")
)

// NewClient creates a new http client which will use the optional CA
// certificate PEM if provided, otherwise it will use the installed system CA
// chain.  The client has no timeout; callers bound requests with a context.
func NewClient(caPEM string) (*http.Client, error) {
	tr, err := NewTransport(caPEM)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: tr,
		// the provider's redirects are never followed, since the only
		// requests made are backchannel requests.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// NewTransport creates a pooled transport that trusts the optional CA
// certificate PEM.
func NewTransport(caPEM string) (*http.Transport, error) {
	tr := cleanhttp.DefaultPooledTransport()
	if caPEM == "" {
		return tr, nil
	}
	certPool := x509.NewCertPool()
	if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
		return nil, ErrInvalidCertificatePem
	}
	tr.TLSClientConfig = &tls.Config{
		RootCAs:    certPool,
		MinVersion: tls.VersionTLS12,
	}
	return tr, nil
}
