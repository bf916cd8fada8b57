package tokenstore

import "context"

// TokenStore reads and writes the token pair to persistent storage.
//
// Every failure of the underlying storage is reported as an autherr.KindStorage error.
type TokenStore interface {
	// Load returns the stored pair, or nil when no complete pair is stored.
	Load(ctx context.Context) (*TokenPair, error)

	// Save replaces the stored pair in a single write. Incomplete pairs are rejected
	// before touching storage.
	Save(ctx context.Context, pair TokenPair) error

	// Clear removes the stored pair. Clearing an empty store succeeds.
	Clear(ctx context.Context) error
}
