// Package auth adds collector credentials to outgoing requests.
package auth

import "net/http"

// ClientConfig holds authentication configuration for the collector client.
type ClientConfig struct {
	// BearerToken is the bearer token to send with requests.
	BearerToken string
	// BasicAuthUsername is the username for basic authentication.
	BasicAuthUsername string
	// BasicAuthPassword is the password for basic authentication.
	BasicAuthPassword string
	// Headers is a map of custom headers to send with requests.
	Headers map[string]string
}

// Empty reports whether cfg adds nothing to requests.
func (cfg ClientConfig) Empty() bool {
	return cfg.BearerToken == "" && cfg.BasicAuthUsername == "" && len(cfg.Headers) == 0
}

// HTTPTransport returns an http.RoundTripper that adds authentication headers.
// A bearer token takes precedence over basic credentials.
func HTTPTransport(cfg ClientConfig, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{
		base: base,
		cfg:  cfg,
	}
}

type authTransport struct {
	base http.RoundTripper
	cfg  ClientConfig
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	reqClone := req.Clone(req.Context())

	for k, v := range t.cfg.Headers {
		reqClone.Header.Set(k, v)
	}

	switch {
	case t.cfg.BearerToken != "":
		reqClone.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	case t.cfg.BasicAuthUsername != "":
		reqClone.SetBasicAuth(t.cfg.BasicAuthUsername, t.cfg.BasicAuthPassword)
	}

	return t.base.RoundTrip(reqClone)
}
