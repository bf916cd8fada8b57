package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/florianilch/authkeeper/internal/autherr"
	"github.com/florianilch/authkeeper/internal/devserver"
	"github.com/florianilch/authkeeper/internal/session"
	"github.com/florianilch/authkeeper/internal/tokenstore"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := devserver.New(DefaultConfigAPIEndpoint, []byte("test-secret"))
	if err != nil {
		t.Fatalf("devserver.New() error: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func newTestApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSignUpRestoreSignOut(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	cfg := validConfig(t)
	cfg.API.BaseURL = backend.URL

	first := newTestApp(t, cfg)
	s, err := first.SignUp(ctx, "Ana", "ana@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignUp() error: %v", err)
	}
	if !s.IsAuthenticated || s.User == nil || s.User.Email != "ana@example.com" {
		t.Fatalf("SignUp() session = %+v", s)
	}

	// A fresh process finds the credentials on disk and fetches the profile
	second := newTestApp(t, cfg)
	restored, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored.Status != session.StatusAuthenticated || restored.User == nil || restored.User.ID != s.User.ID {
		t.Errorf("Restore() session = %+v, want authenticated as %s", restored, s.User.ID)
	}

	if err := second.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error: %v", err)
	}
	if got := second.Session().Snapshot(); got.IsAuthenticated || got.User != nil {
		t.Errorf("after SignOut() session = %+v", got)
	}

	third := newTestApp(t, cfg)
	restored, err = third.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored.Status != session.StatusUnauthenticated {
		t.Errorf("Restore() after sign-out status = %v, want unauthenticated", restored.Status)
	}
}

func TestSignInRejected(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	cfg := validConfig(t)
	cfg.API.BaseURL = backend.URL
	a := newTestApp(t, cfg)

	if _, err := a.SignUp(ctx, "Ana", "ana@example.com", "correct horse"); err != nil {
		t.Fatalf("SignUp() error: %v", err)
	}
	if err := a.SignOut(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := a.SignIn(ctx, "ana@example.com", "wrong horse")
	if !errors.Is(err, autherr.ErrAuthRejected) {
		t.Errorf("SignIn() error = %v, want auth rejected", err)
	}
	if a.Session().Snapshot().IsAuthenticated {
		t.Errorf("session authenticated after rejected sign-in")
	}

	s, err := a.SignIn(ctx, "ana@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	user, err := a.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if user.ID != s.User.ID {
		t.Errorf("Profile() ID = %q, want %q", user.ID, s.User.ID)
	}
}

func TestRestoreWithoutBackend(t *testing.T) {
	ctx := context.Background()
	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()

	cfg := validConfig(t)
	cfg.API.BaseURL = gone.URL
	cfg.Auth = AuthConfig{Storage: TokenStorageTypeMemory}
	a := newTestApp(t, cfg)

	// Seed through the session so the memory store behind the app holds a pair
	if err := a.Session().SetTokens(ctx, &tokenstore.TokenPair{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}

	s, err := a.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if !s.IsAuthenticated || s.User != nil {
		t.Errorf("Restore() session = %+v, want authenticated without user", s)
	}

	if _, err := a.Profile(ctx); !errors.Is(err, autherr.ErrNetwork) {
		t.Errorf("Profile() error = %v, want network unavailable", err)
	}
}

func TestData(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, validConfig(t))

	data, err := a.Data()
	if err != nil {
		t.Fatalf("Data() error: %v", err)
	}
	if err := data.StoreData(ctx, "theme", map[string]string{"mode": "dark"}); err != nil {
		t.Fatalf("StoreData() error: %v", err)
	}

	again, err := a.Data()
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if found, err := again.GetData(ctx, "theme", &got); err != nil || !found || got["mode"] != "dark" {
		t.Errorf("GetData() = %v (found %v, err %v)", got, found, err)
	}
}

func TestServeDev(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	cfg := validConfig(t)
	cfg.DevServer.Port = uint16(port)
	cfg.Shutdown.Timeout = time.Second
	server := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- server.serveDev(ctx, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serveDev() exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("dev server did not become ready")
	}

	clientCfg := validConfig(t)
	clientCfg.API.BaseURL = "http://" + addr
	client := newTestApp(t, clientCfg)
	if _, err := client.SignUp(context.Background(), "Ana", "ana@example.com", "correct horse"); err != nil {
		t.Errorf("SignUp() against dev server error: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serveDev() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dev server did not shut down")
	}
}
