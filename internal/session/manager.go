package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/florianilch/authkeeper/internal/tokenstore"
)

// DefaultStorageTimeout bounds every credential store call made by a Manager.
const DefaultStorageTimeout = 5 * time.Second

// Observer receives a snapshot after every completed transition.
// Observers run on the transitioning goroutine and must not call back into
// Manager methods that transition state.
type Observer func(Session)

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	storageTimeout time.Duration
}

// WithStorageTimeout bounds each credential store call. Zero disables the bound.
func WithStorageTimeout(d time.Duration) Option {
	return func(c *managerConfig) {
		c.storageTimeout = d
	}
}

type observerEntry struct {
	id int
	fn Observer
}

// Manager owns the application's Session and is its only writer.
type Manager struct {
	store          tokenstore.TokenStore
	storageTimeout time.Duration

	// turn is a one-slot queue: holding it means owning the next transition.
	turn chan struct{}

	mu        sync.RWMutex
	current   Session
	observers []observerEntry
	nextID    int
}

// NewManager creates a Manager in the Uninitialized state. No I/O is performed
// until LoadStoredAuth is called.
func NewManager(store tokenstore.TokenStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	cfg := &managerConfig{storageTimeout: DefaultStorageTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Manager{
		store:          store,
		storageTimeout: cfg.storageTimeout,
		turn:           make(chan struct{}, 1),
		current:        Session{Status: StatusUninitialized},
	}, nil
}

// Snapshot returns a copy of the current Session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// Subscribe registers fn for transition notifications and returns a function that
// removes it again.
func (m *Manager) Subscribe(fn Observer) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.observers = append(m.observers, observerEntry{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.observers = slices.DeleteFunc(m.observers, func(e observerEntry) bool { return e.id == id })
	}
}

// LoadStoredAuth restores the session from the credential store.
//
// The session passes through Loading and ends Authenticated when a pair is stored,
// keeping whatever user is already known (usually none). Missing credentials and
// storage failures both end Unauthenticated; a storage failure is logged, not returned.
func (m *Manager) LoadStoredAuth(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	known := m.Snapshot().User
	m.commit(ctx, loadingSession())

	storeCtx, cancel := m.storageContext(ctx)
	pair, err := m.store.Load(storeCtx)
	cancel()

	switch {
	case err != nil:
		slog.WarnContext(ctx, "failed to load stored credentials, continuing signed out", "error", err)
		m.commit(ctx, signedOutSession())
	case pair == nil:
		m.commit(ctx, signedOutSession())
	default:
		m.commit(ctx, signedInSession(known, *pair))
	}
	return nil
}

// Login persists tokens and then signs the user in. If persisting fails the
// session is left untouched and the error is returned.
func (m *Manager) Login(ctx context.Context, user *UserIdentity, tokens tokenstore.TokenPair) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if err := m.save(ctx, tokens); err != nil {
		return err
	}
	m.commit(ctx, signedInSession(cloneUser(user), tokens))
	return nil
}

// Logout clears the credential store and signs out. The in-memory sign-out always
// happens, even when the context is done or the store fails; a store failure is
// logged and returned.
func (m *Manager) Logout(ctx context.Context) error {
	// Sign-out must not be skipped because the caller gave up waiting.
	m.turn <- struct{}{}
	defer m.release()

	return m.signOut(ctx)
}

// SetUser replaces the in-memory identity; nil clears it. Nothing is persisted.
func (m *Manager) SetUser(ctx context.Context, user *UserIdentity) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	next := m.Snapshot()
	next.User = cloneUser(user)
	m.commit(ctx, next)
	return nil
}

// SetTokens replaces or clears the token pair. A non-nil pair is persisted first and
// keeps the current user, like Login. A nil pair signs out, like Logout.
func (m *Manager) SetTokens(ctx context.Context, tokens *tokenstore.TokenPair) error {
	if tokens == nil {
		return m.Logout(ctx)
	}

	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if err := m.save(ctx, *tokens); err != nil {
		return err
	}
	m.commit(ctx, signedInSession(m.Snapshot().User, *tokens))
	return nil
}

func (m *Manager) save(ctx context.Context, tokens tokenstore.TokenPair) error {
	storeCtx, cancel := m.storageContext(ctx)
	defer cancel()

	if err := m.store.Save(storeCtx, tokens); err != nil {
		return fmt.Errorf("persisting credentials: %w", err)
	}
	return nil
}

func (m *Manager) signOut(ctx context.Context) error {
	// The clear outlives caller cancellation so credentials cannot survive a sign-out.
	storeCtx, cancel := m.storageContext(context.WithoutCancel(ctx))
	err := m.store.Clear(storeCtx)
	cancel()

	m.commit(ctx, signedOutSession())

	if err != nil {
		slog.ErrorContext(ctx, "signed out but failed to clear stored credentials", "error", err)
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}

// commit publishes next and notifies observers in registration order.
func (m *Manager) commit(ctx context.Context, next Session) {
	m.mu.Lock()
	m.current = next
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	slog.DebugContext(ctx, "session transition", "session", next)

	for _, o := range observers {
		o.fn(next.clone())
	}
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending session transition: %w", ctx.Err())
	}
}

func (m *Manager) release() {
	<-m.turn
}

func (m *Manager) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.storageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.storageTimeout)
}

func cloneUser(user *UserIdentity) *UserIdentity {
	if user == nil {
		return nil
	}
	return Session{User: user}.clone().User
}
