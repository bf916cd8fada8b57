package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/authkeeper/internal/authapi"
	"github.com/florianilch/authkeeper/internal/autherr"
	"github.com/florianilch/authkeeper/internal/devserver"
	"github.com/florianilch/authkeeper/internal/dispatch"
	"github.com/florianilch/authkeeper/internal/kvstore"
	"github.com/florianilch/authkeeper/internal/session"
	"github.com/florianilch/authkeeper/internal/tokenstore"
)

// App wires the credential store, session state, dispatcher and data store together.
type App struct {
	cfg         *Config
	store       tokenstore.TokenStore
	session     *session.Manager
	api         *authapi.Client
	unsubscribe func()

	dataMu sync.Mutex
	data   *kvstore.Store
}

// New creates a new App instance. No I/O is performed until the first operation.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	manager, err := session.NewManager(store, session.WithStorageTimeout(cfg.Session.StorageTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	// The dispatcher reads the store directly so every request carries the latest token
	dispatchOpts := []dispatch.Option{
		dispatch.WithTimeout(cfg.API.Timeout),
		dispatch.WithMaxBatchSize(cfg.Batch.MaxSize),
	}
	if cfg.Batch.Window != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithBatchWindow(*cfg.Batch.Window))
	}
	client, err := dispatch.New(cfg.API.BaseURL, cfg.API.Endpoint, store, dispatchOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	unsubscribe := manager.Subscribe(func(s session.Session) {
		slog.Debug("session state changed", "status", s.Status, "authenticated", s.IsAuthenticated)
	})

	return &App{
		cfg:         cfg,
		store:       store,
		session:     manager,
		api:         authapi.New(client),
		unsubscribe: unsubscribe,
	}, nil
}

// Session returns the session state machine.
func (a *App) Session() *session.Manager {
	return a.session
}

// Restore loads stored credentials and, when signed in without a known user,
// fetches the profile. A failed fetch is logged and leaves the restored state in place.
func (a *App) Restore(ctx context.Context) (session.Session, error) {
	if err := a.session.LoadStoredAuth(ctx); err != nil {
		return session.Session{}, err
	}

	s := a.session.Snapshot()
	if !s.IsAuthenticated || s.User != nil {
		return s, nil
	}

	user, err := a.api.Me(ctx)
	if err != nil {
		slog.WarnContext(ctx, "restored session without profile", "kind", autherr.KindOf(err), "error", err)
		return a.session.Snapshot(), nil
	}
	if err := a.session.SetUser(ctx, user); err != nil {
		return session.Session{}, err
	}
	return a.session.Snapshot(), nil
}

// SignIn authenticates with email and password and persists the returned credentials.
func (a *App) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	res, err := a.api.Login(ctx, email, password)
	if err != nil {
		return session.Session{}, err
	}
	return a.establish(ctx, res)
}

// SignUp registers a new account and signs it in.
func (a *App) SignUp(ctx context.Context, name, email, password string) (session.Session, error) {
	res, err := a.api.Register(ctx, name, email, password)
	if err != nil {
		return session.Session{}, err
	}
	return a.establish(ctx, res)
}

func (a *App) establish(ctx context.Context, res *authapi.AuthResult) (session.Session, error) {
	if err := a.session.Login(ctx, res.User, res.Tokens()); err != nil {
		return session.Session{}, err
	}
	s := a.session.Snapshot()
	slog.InfoContext(ctx, "signed in", "user_id", s.User.ID)
	return s, nil
}

// SignOut clears stored credentials. The session is signed out even if clearing fails.
func (a *App) SignOut(ctx context.Context) error {
	return a.session.Logout(ctx)
}

// Profile re-fetches the signed-in user's profile and records it in the session.
func (a *App) Profile(ctx context.Context) (*session.UserIdentity, error) {
	user, err := a.api.Me(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.session.SetUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Data opens the application data store on first use.
func (a *App) Data() (*kvstore.Store, error) {
	a.dataMu.Lock()
	defer a.dataMu.Unlock()

	if a.data == nil {
		data, err := kvstore.Open(a.cfg.Data.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open data store: %w", err)
		}
		a.data = data
	}
	return a.data, nil
}

// Close releases the data store and stops session notifications.
func (a *App) Close() error {
	a.unsubscribe()

	a.dataMu.Lock()
	defer a.dataMu.Unlock()
	if a.data == nil {
		return nil
	}
	err := a.data.Close()
	a.data = nil
	return err
}

// ServeDev runs the development backend and blocks until ctx is done or the server fails.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) ServeDev(ctx context.Context) error {
	return a.serveDev(ctx, nil)
}

// serveDev reports the bound address on ready once the server accepts connections.
func (a *App) serveDev(ctx context.Context, ready chan<- string) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := net.JoinHostPort(a.cfg.DevServer.Host, strconv.FormatUint(uint64(a.cfg.DevServer.Port), 10))
	var shutdownFuncs []func(context.Context) error

	srv, err := devserver.New(a.cfg.API.Endpoint, []byte(a.cfg.DevServer.Secret))
	if err != nil {
		return fmt.Errorf("failed to create dev server: %w", err)
	}
	if a.cfg.DevServer.Secret == "" {
		slog.WarnContext(ctx, "no devserver secret configured, tokens will not survive a restart")
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting dev server", "address", address, "endpoint", a.cfg.API.Endpoint)
	srvErrCh, err := srv.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("dev server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, srv.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-srvErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "dev server runtime error", "error", err)
				return fmt.Errorf("dev server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "dev server ready", "address", srv.Addr())
	if ready != nil {
		ready <- srv.Addr()
	}

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("dev server stopped")
	return nil
}
