package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/florianilch/authkeeper/internal/authapi"
	"github.com/florianilch/authkeeper/internal/autherr"
	"github.com/florianilch/authkeeper/internal/dispatch"
	"github.com/florianilch/authkeeper/internal/tokenstore"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	srv, err := New("/trpc", []byte("test-secret"), opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

// newAPI wires the real dispatcher and auth client against ts, reading bearer tokens from store.
func newAPI(t *testing.T, ts *httptest.Server, store tokenstore.TokenStore) *authapi.Client {
	t.Helper()
	c, err := dispatch.New(ts.URL, "/trpc", store, dispatch.WithBatchWindow(0))
	if err != nil {
		t.Fatalf("dispatch.New() error: %v", err)
	}
	return authapi.New(c)
}

func TestRegisterLoginMe(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	store := tokenstore.NewMemoryStore()
	api := newAPI(t, ts, store)

	registered, err := api.Register(ctx, "Ana", "Ana@Example.com", "correct horse")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if registered.User.Email != "ana@example.com" || registered.User.ID == "" {
		t.Errorf("Register() user = %+v", registered.User)
	}

	if _, err := api.Me(ctx); !errors.Is(err, autherr.ErrAuthRejected) {
		t.Errorf("Me() without token error = %v, want auth rejected", err)
	}

	loggedIn, err := api.Login(ctx, "ana@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if loggedIn.User.ID != registered.User.ID {
		t.Errorf("Login() user ID = %q, want %q", loggedIn.User.ID, registered.User.ID)
	}
	if err := store.Save(ctx, loggedIn.Tokens()); err != nil {
		t.Fatal(err)
	}

	me, err := api.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error: %v", err)
	}
	if me.ID != registered.User.ID || me.Name != "Ana" {
		t.Errorf("Me() = %+v", me)
	}
}

func TestLoginRejections(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	api := newAPI(t, ts, nil)

	if _, err := api.Register(ctx, "Ana", "ana@example.com", "correct horse"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
	}{
		{name: "wrong password", email: "ana@example.com", password: "wrong horse", wantCode: "UNAUTHORIZED"},
		{name: "unknown email", email: "bo@example.com", password: "correct horse", wantCode: "UNAUTHORIZED"},
		{name: "malformed email", email: "ana", password: "correct horse", wantCode: "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.Login(ctx, tt.email, tt.password)
			if !dispatch.IsCode(err, tt.wantCode) {
				t.Errorf("Login() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestRegisterRejections(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	api := newAPI(t, ts, nil)

	if _, err := api.Register(ctx, "Ana", "ana@example.com", "correct horse"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tests := []struct {
		name     string
		userName string
		email    string
		password string
		wantCode string
	}{
		{name: "duplicate email", userName: "Ana", email: "ANA@example.com", password: "another one", wantCode: "CONFLICT"},
		{name: "short password", userName: "Bo", email: "bo@example.com", password: "short", wantCode: "BAD_REQUEST"},
		{name: "missing name", userName: "", email: "bo@example.com", password: "long enough", wantCode: "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.Register(ctx, tt.userName, tt.email, tt.password)
			if !dispatch.IsCode(err, tt.wantCode) {
				t.Errorf("Register() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestMeRejectsWrongTokens(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	var skew atomic.Int64
	clock := func() time.Time { return now.Add(time.Duration(skew.Load())) }
	ts := newTestServer(t, WithClock(clock), WithTokenTTL(time.Minute, time.Hour))

	bootstrap := newAPI(t, ts, nil)
	res, err := bootstrap.Register(ctx, "Ana", "ana@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// A refresh token is not an access token
	store := tokenstore.NewMemoryStore()
	if err := store.Save(ctx, tokenstore.TokenPair{AccessToken: res.RefreshToken, RefreshToken: res.RefreshToken}); err != nil {
		t.Fatal(err)
	}
	if _, err := newAPI(t, ts, store).Me(ctx); !dispatch.IsCode(err, "UNAUTHORIZED") {
		t.Errorf("Me() with refresh token error = %v, want UNAUTHORIZED", err)
	}

	// Signed by another server
	other, err := New("/trpc", []byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	forged, _, err := other.tokens.issue(res.User.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, tokenstore.TokenPair{AccessToken: forged, RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}
	if _, err := newAPI(t, ts, store).Me(ctx); !dispatch.IsCode(err, "UNAUTHORIZED") {
		t.Errorf("Me() with foreign token error = %v, want UNAUTHORIZED", err)
	}

	// Expired
	if err := store.Save(ctx, res.Tokens()); err != nil {
		t.Fatal(err)
	}
	skew.Store(int64(2 * time.Minute))
	if _, err := newAPI(t, ts, store).Me(ctx); !dispatch.IsCode(err, "UNAUTHORIZED") {
		t.Errorf("Me() with expired token error = %v, want UNAUTHORIZED", err)
	}
}

func TestBatchWire(t *testing.T) {
	ts := newTestServer(t)

	input := url.QueryEscape(`{}`)
	resp, err := http.Get(ts.URL + "/trpc/auth.me,nope?batch=1&input=" + input)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusMultiStatus {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMultiStatus)
	}
	var got []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	codes := make([]string, len(got))
	for i, env := range got {
		e, _ := env["error"].(map[string]any)
		data, _ := e["data"].(map[string]any)
		codes[i], _ = data["code"].(string)
	}
	if codes[0] != "UNAUTHORIZED" || codes[1] != "NOT_FOUND" {
		t.Errorf("codes = %v, want [UNAUTHORIZED NOT_FOUND]", codes)
	}
}

func TestWireErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "mutation over GET", method: http.MethodGet, path: "/trpc/auth.login", wantStatus: http.StatusMethodNotAllowed, wantCode: "METHOD_NOT_SUPPORTED"},
		{name: "unbatched multi call", method: http.MethodGet, path: "/trpc/auth.me,auth.me", wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "malformed body", method: http.MethodPost, path: "/trpc/auth.login", body: "{", wantStatus: http.StatusBadRequest, wantCode: "PARSE_ERROR"},
		{name: "unknown field", method: http.MethodPost, path: "/trpc/auth.login", body: `{"email":"a@b.c","password":"p","admin":true}`, wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close() //nolint:errcheck

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var env struct {
				Error struct {
					Data struct {
						Code string `json:"code"`
					} `json:"data"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Error.Data.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.Error.Data.Code, tt.wantCode)
			}
		})
	}
}

func TestRecoveryAnswersJSON(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trpc/auth.me", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_SERVER_ERROR") {
		t.Errorf("body = %q, want INTERNAL_SERVER_ERROR envelope", rec.Body.String())
	}
}

func TestStartShutdown(t *testing.T) {
	srv, err := New("/trpc", nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	errCh, err := srv.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if srv.Addr() == "" || strings.HasSuffix(srv.Addr(), ":0") {
		t.Errorf("Addr() = %q, want bound address", srv.Addr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("runtime error after shutdown: %v", err)
	}
}

func TestNewRejectsRelativeEndpoint(t *testing.T) {
	if _, err := New("trpc", nil); err == nil {
		t.Errorf("New() with relative endpoint succeeded, want error")
	}
}
