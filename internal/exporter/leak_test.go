package exporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/goleak"
)

func TestLeakCheck_ClientClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := New(Config{Host: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := c.Push(context.Background(), testTarget, []byte("x 1\n")); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if err := c.Delete(context.Background(), testTarget); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	c.Close()
	server.CloseClientConnections()
}
