package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/authkeeper/internal/authapi"
	"github.com/florianilch/authkeeper/internal/session"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerInput struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email"`
	// bcrypt ignores everything past 72 bytes
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (s *Server) register(ctx context.Context, _ *http.Request, input json.RawMessage) (any, error) {
	var in registerInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	profile, err := s.users.create(in.Name, in.Email, in.Password)
	if errors.Is(err, errEmailTaken) {
		return nil, procErrorf(codeConflict, "an account with this email already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	slog.InfoContext(ctx, "account registered", "user_id", profile.ID)

	return s.authResult(profile)
}

func (s *Server) login(ctx context.Context, _ *http.Request, input json.RawMessage) (any, error) {
	var in loginInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	profile, ok := s.users.authenticate(in.Email, in.Password)
	if !ok {
		return nil, procErrorf(codeUnauthorized, "invalid email or password")
	}
	slog.InfoContext(ctx, "account signed in", "user_id", profile.ID)

	return s.authResult(profile)
}

func (s *Server) me(_ context.Context, r *http.Request, _ json.RawMessage) (any, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, procErrorf(codeUnauthorized, "not signed in")
	}
	userID, err := s.tokens.verify(token, audienceAccess)
	if err != nil {
		return nil, procErrorf(codeUnauthorized, "access token rejected")
	}
	profile, ok := s.users.lookup(userID)
	if !ok {
		return nil, procErrorf(codeUnauthorized, "account no longer exists")
	}
	return profile, nil
}

func (s *Server) authResult(profile session.UserIdentity) (*authapi.AuthResult, error) {
	access, refresh, err := s.tokens.issue(profile.ID)
	if err != nil {
		return nil, err
	}
	return &authapi.AuthResult{
		User:         &profile,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// validationError names the first offending field without echoing its value.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return procErrorf(codeBadRequest, "%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return procErrorf(codeBadRequest, "invalid input")
}
