package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/authkeeper/internal/autherr"
)

// KeyringStore provides OS-native secure credential storage for the token pair.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// The pair is stored as one secret so both tokens change together.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements TokenStore
var _ TokenStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// (macOS Keychain, Windows Credential Manager, etc.) using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Load returns the pair from the system keyring, or nil if no entry exists.
func (k *KeyringStore) Load(ctx context.Context) (*TokenPair, error) {
	const op = "tokenstore.Keyring.Load"
	if err := ctx.Err(); err != nil {
		return nil, autherr.E(autherr.KindStorage, op, err)
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.E(autherr.KindStorage, op, err)
	}

	return decodePair(ctx, op, []byte(secret))
}

// Save persists the pair to the system keyring, overwriting any existing value.
func (k *KeyringStore) Save(ctx context.Context, pair TokenPair) error {
	const op = "tokenstore.Keyring.Save"
	if err := checkSave(ctx, op, pair); err != nil {
		return err
	}

	secret, err := encodePair(pair)
	if err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}
	if err := keyring.Set(k.service, k.user, string(secret)); err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}
	return nil
}

// Clear deletes the keyring entry if present.
func (k *KeyringStore) Clear(ctx context.Context) error {
	const op = "tokenstore.Keyring.Clear"
	if err := ctx.Err(); err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}

	err := keyring.Delete(k.service, k.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return autherr.E(autherr.KindStorage, op, err)
	}
	return nil
}
