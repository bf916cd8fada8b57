package dispatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"

	"github.com/florianilch/authkeeper/internal/tokenstore"
)

// RequestIDHeader carries a per-request identifier for correlating client and server logs.
const RequestIDHeader = "X-Request-Id"

// CredentialSource provides the current token pair. tokenstore.TokenStore satisfies it.
type CredentialSource interface {
	Load(ctx context.Context) (*tokenstore.TokenPair, error)
}

// Transport is an http.RoundTripper that attaches the stored access token as a
// bearer credential.
type Transport struct {
	Credentials CredentialSource
	Base        http.RoundTripper
}

// Compile-time check that Transport implements http.RoundTripper.
var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper interface.
// The caller's request is never modified; a clone carries the added headers.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	ctx := req.Context()
	newReq := req.Clone(ctx)

	// Only the store decides which credential goes out
	newReq.Header.Del("Authorization")
	if token := t.token(ctx); token != nil {
		token.SetAuthHeader(newReq)
	}

	if newReq.Header.Get(RequestIDHeader) == "" {
		newReq.Header.Set(RequestIDHeader, uuid.NewString())
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(newReq.Header))

	return base.RoundTrip(newReq)
}

// token returns the stored access token, or nil when the request should go out
// unauthenticated.
func (t *Transport) token(ctx context.Context) *oauth2.Token {
	if t.Credentials == nil {
		return nil
	}

	pair, err := t.Credentials.Load(ctx)
	if err != nil {
		slog.WarnContext(ctx, "credential lookup failed, sending request unauthenticated", "error", err)
		return nil
	}
	if pair == nil {
		return nil
	}

	return &oauth2.Token{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
	}
}
