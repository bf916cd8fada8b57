// Package devserver is an in-memory backend speaking the authentication procedures
// over tRPC, for local development and end-to-end tests.
package devserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/florianilch/authkeeper/internal/authapi"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Option configures a Server.
type Option func(*Server)

// WithTokenTTL sets access and refresh token lifetimes.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *Server) {
		s.tokens.accessTTL = access
		s.tokens.refreshTTL = refresh
	}
}

// WithClock replaces time.Now for token issuing and verification.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.tokens.now = now
	}
}

// Server represents the development backend.
type Server struct {
	mux        *http.ServeMux
	server     *http.Server
	addr       string
	users      *directory
	tokens     *tokenMinter
	procedures map[string]procedure
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a Server answering procedure calls under endpointPath (e.g. "/trpc").
// An empty secret is replaced with a random one, invalidating tokens on restart.
func New(endpointPath string, secret []byte, opts ...Option) (*Server, error) {
	if !strings.HasPrefix(endpointPath, "/") {
		return nil, fmt.Errorf("endpoint path must start with /: %q", endpointPath)
	}
	endpointPath = strings.TrimSuffix(endpointPath, "/")

	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
	}

	s := &Server{
		users: newDirectory(),
		tokens: &tokenMinter{
			secret:     secret,
			accessTTL:  DefaultAccessTTL,
			refreshTTL: DefaultRefreshTTL,
			now:        time.Now,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.procedures = map[string]procedure{
		authapi.ProcedureRegister: {kind: kindMutation, handle: s.register},
		authapi.ProcedureLogin:    {kind: kindMutation, handle: s.login},
		authapi.ProcedureMe:       {kind: kindQuery, handle: s.me},
	}

	logger := slog.Default()
	handler := applyMiddlewares(http.HandlerFunc(s.handleTRPC),
		Logging(logger),
		Recovery,
	)

	mux := http.NewServeMux()
	mux.Handle("GET "+endpointPath+"/{procedures}", handler)
	mux.Handle("POST "+endpointPath+"/{procedures}", handler)
	s.mux = mux

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.addr = listener.Addr().String()
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
