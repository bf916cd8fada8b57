package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/florianilch/authkeeper/internal/autherr"
)

var errReadOnly = errors.New("environment variable storage is read-only")

// EnvStore provides read-only access to a token pair held in environment variables.
// Suitable for CI and scripted use where credentials are provisioned externally.
type EnvStore struct {
	accessKey  string
	refreshKey string
}

// Compile-time check to ensure EnvStore implements TokenStore
var _ TokenStore = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading the access and refresh token from the
// given environment variables. Unset variables simply mean no credentials.
func NewEnvStore(accessKey, refreshKey string) (*EnvStore, error) {
	if accessKey == "" || refreshKey == "" {
		return nil, fmt.Errorf("environment keys cannot be empty")
	}
	if accessKey == refreshKey {
		return nil, fmt.Errorf("access and refresh token need distinct environment keys")
	}

	return &EnvStore{
		accessKey:  accessKey,
		refreshKey: refreshKey,
	}, nil
}

// Load returns the pair from the environment, or nil if it is not fully set.
func (e *EnvStore) Load(ctx context.Context) (*TokenPair, error) {
	const op = "tokenstore.Env.Load"
	if err := ctx.Err(); err != nil {
		return nil, autherr.E(autherr.KindStorage, op, err)
	}

	return settle(ctx, op, TokenPair{
		AccessToken:  os.Getenv(e.accessKey),
		RefreshToken: os.Getenv(e.refreshKey),
	}), nil
}

// Save is not supported for environment variables (they are read-only).
func (e *EnvStore) Save(ctx context.Context, _ TokenPair) error {
	const op = "tokenstore.Env.Save"
	if err := ctx.Err(); err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}

	return autherr.E(autherr.KindStorage, op, errReadOnly)
}

// Clear is not supported for environment variables (they are read-only).
func (e *EnvStore) Clear(ctx context.Context) error {
	const op = "tokenstore.Env.Clear"
	if err := ctx.Err(); err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}

	return autherr.E(autherr.KindStorage, op, errReadOnly)
}
