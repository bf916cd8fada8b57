package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/florianilch/authkeeper/internal/autherr"
	"github.com/florianilch/authkeeper/internal/tokenstore"
)

// mockTransport captures the outgoing request and returns an empty 200.
type mockTransport struct {
	capturedRequest *http.Request
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.capturedRequest = req
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("[]")),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

// failingSource is a CredentialSource whose storage is unavailable.
type failingSource struct{}

func (failingSource) Load(context.Context) (*tokenstore.TokenPair, error) {
	return nil, autherr.E(autherr.KindStorage, "fake.Load", errors.New("device locked"))
}

func TestTransportAuthorization(t *testing.T) {
	withToken := tokenstore.NewMemoryStore()
	if err := withToken.Save(context.Background(), tokenstore.TokenPair{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		source     CredentialSource
		callerAuth string
		wantAuth   string
	}{
		{name: "stored token attached", source: withToken, wantAuth: "Bearer a1"},
		{name: "stored token replaces caller header", source: withToken, callerAuth: "Bearer stale", wantAuth: "Bearer a1"},
		{name: "empty store sends unauthenticated", source: tokenstore.NewMemoryStore(), wantAuth: ""},
		{name: "caller header dropped without stored token", source: tokenstore.NewMemoryStore(), callerAuth: "Bearer stale", wantAuth: ""},
		{name: "storage failure sends unauthenticated", source: failingSource{}, wantAuth: ""},
		{name: "no source configured", source: nil, wantAuth: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockTransport{}
			transport := &Transport{Credentials: tt.source, Base: mock}

			req, err := http.NewRequest(http.MethodGet, "http://localhost:3000/trpc/auth.me", nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.callerAuth != "" {
				req.Header.Set("Authorization", tt.callerAuth)
			}

			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("RoundTrip() error: %v", err)
			}
			_ = resp.Body.Close()

			if got := mock.capturedRequest.Header.Get("Authorization"); got != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", got, tt.wantAuth)
			}
			if mock.capturedRequest.Header.Get(RequestIDHeader) == "" {
				t.Errorf("missing %s header", RequestIDHeader)
			}
			if got := req.Header.Get("Authorization"); got != tt.callerAuth {
				t.Errorf("caller request mutated: Authorization = %q", got)
			}
		})
	}
}

func TestTransportReadsStoreOnEveryRequest(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	mock := &mockTransport{}
	transport := &Transport{Credentials: store, Base: mock}

	send := func() string {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:3000/trpc/auth.me", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := transport.RoundTrip(req)
		if err != nil {
			t.Fatalf("RoundTrip() error: %v", err)
		}
		_ = resp.Body.Close()
		return mock.capturedRequest.Header.Get("Authorization")
	}

	if got := send(); got != "" {
		t.Errorf("before login Authorization = %q, want empty", got)
	}
	if err := store.Save(ctx, tokenstore.TokenPair{AccessToken: "a2", RefreshToken: "r2"}); err != nil {
		t.Fatal(err)
	}
	if got := send(); got != "Bearer a2" {
		t.Errorf("after login Authorization = %q, want %q", got, "Bearer a2")
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if got := send(); got != "" {
		t.Errorf("after logout Authorization = %q, want empty", got)
	}
}

func TestTransportKeepsCallerRequestID(t *testing.T) {
	mock := &mockTransport{}
	transport := &Transport{Base: mock}

	req, err := http.NewRequest(http.MethodGet, "http://localhost:3000/trpc/auth.me", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(RequestIDHeader, "req-123")

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}
	_ = resp.Body.Close()

	if got := mock.capturedRequest.Header.Get(RequestIDHeader); got != "req-123" {
		t.Errorf("%s = %q, want %q", RequestIDHeader, got, "req-123")
	}
}
