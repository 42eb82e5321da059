package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func roundTrip(t *testing.T, cfg ClientConfig) *http.Request {
	t.Helper()
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Transport: HTTPTransport(cfg, nil)}
	req, err := http.NewRequest(http.MethodPost, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" {
		t.Error("transport modified the caller's request")
	}
	return got
}

func TestHTTPTransport_BearerToken(t *testing.T) {
	r := roundTrip(t, ClientConfig{BearerToken: "secret"})
	if got := r.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
	}
}

func TestHTTPTransport_BasicAuth(t *testing.T) {
	r := roundTrip(t, ClientConfig{BasicAuthUsername: "slurm", BasicAuthPassword: "pw"})
	user, pass, ok := r.BasicAuth()
	if !ok || user != "slurm" || pass != "pw" {
		t.Errorf("BasicAuth() = %q, %q, %v", user, pass, ok)
	}
}

func TestHTTPTransport_BearerWinsOverBasic(t *testing.T) {
	r := roundTrip(t, ClientConfig{BearerToken: "tok", BasicAuthUsername: "u", BasicAuthPassword: "p"})
	if got := r.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q, want bearer", got)
	}
}

func TestHTTPTransport_CustomHeaders(t *testing.T) {
	r := roundTrip(t, ClientConfig{Headers: map[string]string{"X-Scope-OrgID": "hpc"}})
	if got := r.Header.Get("X-Scope-OrgID"); got != "hpc" {
		t.Errorf("X-Scope-OrgID = %q, want hpc", got)
	}
}

func TestClientConfigEmpty(t *testing.T) {
	if !(ClientConfig{}).Empty() {
		t.Error("zero config should be empty")
	}
	if (ClientConfig{Headers: map[string]string{"a": "b"}}).Empty() {
		t.Error("config with headers should not be empty")
	}
}
