package tokenstore

import (
	"context"
	"errors"
	"testing"

	"github.com/florianilch/authkeeper/internal/autherr"
)

func TestEnvStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		access  string
		refresh string
		want    *TokenPair
	}{
		{name: "both set", access: "a1", refresh: "r1", want: &TokenPair{AccessToken: "a1", RefreshToken: "r1"}},
		{name: "neither set", want: nil},
		{name: "only access", access: "a1", want: nil},
		{name: "only refresh", refresh: "r1", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ACCESS_TOKEN", tt.access)
			t.Setenv("TEST_REFRESH_TOKEN", tt.refresh)

			store, err := NewEnvStore("TEST_ACCESS_TOKEN", "TEST_REFRESH_TOKEN")
			if err != nil {
				t.Fatalf("NewEnvStore() error: %v", err)
			}

			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("Load() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEnvStoreIsReadOnly(t *testing.T) {
	store, err := NewEnvStore("TEST_ACCESS_TOKEN", "TEST_REFRESH_TOKEN")
	if err != nil {
		t.Fatalf("NewEnvStore() error: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, TokenPair{AccessToken: "a", RefreshToken: "r"}); !errors.Is(err, autherr.ErrStorage) {
		t.Errorf("Save() error = %v, want storage failure", err)
	}
	if err := store.Clear(ctx); !errors.Is(err, autherr.ErrStorage) {
		t.Errorf("Clear() error = %v, want storage failure", err)
	}
}
