package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/florianilch/authkeeper/internal/autherr"
)

// TokenPair is the credential material issued on login or registration.
// It is replaced wholesale, never edited in place.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

var errIncompletePair = errors.New("token pair requires both access and refresh token")

// Complete reports whether both tokens are present.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// LogValue keeps tokens out of logs.
func (p TokenPair) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("access_token_set", p.AccessToken != ""),
		slog.Bool("refresh_token_set", p.RefreshToken != ""),
	)
}

// checkSave validates a pair before it is written.
func checkSave(ctx context.Context, op string, pair TokenPair) error {
	if err := ctx.Err(); err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}
	if !pair.Complete() {
		return autherr.E(autherr.KindInconsistentCredentials, op, errIncompletePair)
	}
	return nil
}

func encodePair(pair TokenPair) ([]byte, error) {
	return json.Marshal(pair)
}

// decodePair parses a stored record. Partial records are logged and treated as absent.
func decodePair(ctx context.Context, op string, data []byte) (*TokenPair, error) {
	var pair TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, autherr.E(autherr.KindStorage, op, fmt.Errorf("decoding token pair: %w", err))
	}
	return settle(ctx, op, pair), nil
}

// settle applies the partial-pair policy to a loaded pair.
func settle(ctx context.Context, op string, pair TokenPair) *TokenPair {
	if pair.Complete() {
		return &pair
	}
	if pair.AccessToken != "" || pair.RefreshToken != "" {
		slog.WarnContext(ctx, "ignoring incomplete stored token pair", "op", op, "pair", pair)
	}
	return nil
}
