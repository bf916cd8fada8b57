// Package authapi wraps the backend's authentication procedures.
package authapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/florianilch/authkeeper/internal/autherr"
	"github.com/florianilch/authkeeper/internal/session"
	"github.com/florianilch/authkeeper/internal/tokenstore"
)

// Procedure names on the backend router.
const (
	ProcedureLogin    = "auth.login"
	ProcedureRegister = "auth.register"
	ProcedureMe       = "auth.me"
)

var errIncompleteResponse = errors.New("incomplete auth response")

// Caller issues procedure calls. *dispatch.Client satisfies it.
type Caller interface {
	Query(ctx context.Context, procedure string, input, out any) error
	Mutate(ctx context.Context, procedure string, input, out any) error
}

// LoginRequest is the payload of auth.login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the payload of auth.register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by auth.login and auth.register.
type AuthResult struct {
	User         *session.UserIdentity `json:"user"`
	AccessToken  string                `json:"accessToken"`
	RefreshToken string                `json:"refreshToken"`
}

// Tokens returns the credential pair carried by the result.
func (r *AuthResult) Tokens() tokenstore.TokenPair {
	return tokenstore.TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// Client is the typed authentication API.
type Client struct {
	caller Caller
}

// New creates a Client on top of caller.
func New(caller Caller) *Client {
	return &Client{caller: caller}
}

// Login exchanges email and password for a user and token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var res AuthResult
	if err := c.caller.Mutate(ctx, ProcedureLogin, LoginRequest{Email: email, Password: password}, &res); err != nil {
		return nil, fmt.Errorf("authapi.Login: %w", err)
	}
	if err := checkAuthResult(ProcedureLogin, &res); err != nil {
		return nil, fmt.Errorf("authapi.Login: %w", err)
	}
	return &res, nil
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	var res AuthResult
	req := RegisterRequest{Name: name, Email: email, Password: password}
	if err := c.caller.Mutate(ctx, ProcedureRegister, req, &res); err != nil {
		return nil, fmt.Errorf("authapi.Register: %w", err)
	}
	if err := checkAuthResult(ProcedureRegister, &res); err != nil {
		return nil, fmt.Errorf("authapi.Register: %w", err)
	}
	return &res, nil
}

// Me returns the profile of the user the current access token belongs to.
func (c *Client) Me(ctx context.Context) (*session.UserIdentity, error) {
	var user *session.UserIdentity
	if err := c.caller.Query(ctx, ProcedureMe, nil, &user); err != nil {
		return nil, fmt.Errorf("authapi.Me: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("authapi.Me: %w", autherr.E(autherr.KindRemote, "trpc "+ProcedureMe, errIncompleteResponse))
	}
	return user, nil
}

// checkAuthResult only verifies that a user and both tokens are present.
func checkAuthResult(procedure string, res *AuthResult) error {
	if res.User == nil || !res.Tokens().Complete() {
		return autherr.E(autherr.KindRemote, "trpc "+procedure, errIncompleteResponse)
	}
	return nil
}
