// Package session tracks whether the user is signed in and tells observers when that changes.
//
// A Manager owns the single in-memory Session of a running application and keeps the
// credential store in sync with it. All transitions run one at a time in call order;
// observers are notified synchronously once a transition has completed.
package session

import (
	"log/slog"

	"github.com/florianilch/authkeeper/internal/tokenstore"
)

// Status is the state of the session state machine.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// UserIdentity is the profile returned by the server. It is never persisted.
type UserIdentity struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	Age           *int   `json:"age,omitempty"`
}

// Session is an immutable snapshot of the authentication state.
//
// IsAuthenticated is true exactly when Tokens is set. User may be nil while
// authenticated: a session restored from storage has no profile until it is fetched.
type Session struct {
	Status          Status
	User            *UserIdentity
	Tokens          *tokenstore.TokenPair
	IsAuthenticated bool
	IsLoading       bool
}

// LogValue keeps tokens and personal data out of logs.
func (s Session) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("status", s.Status.String()),
		slog.Bool("authenticated", s.IsAuthenticated),
	}
	if s.User != nil {
		attrs = append(attrs, slog.String("user_id", s.User.ID))
	}
	return slog.GroupValue(attrs...)
}

// clone returns a deep copy so observers cannot mutate the manager's state.
func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		if u.Age != nil {
			age := *u.Age
			u.Age = &age
		}
		s.User = &u
	}
	if s.Tokens != nil {
		t := *s.Tokens
		s.Tokens = &t
	}
	return s
}

func loadingSession() Session {
	return Session{Status: StatusLoading, IsLoading: true}
}

func signedOutSession() Session {
	return Session{Status: StatusUnauthenticated}
}

func signedInSession(user *UserIdentity, tokens tokenstore.TokenPair) Session {
	return Session{
		Status:          StatusAuthenticated,
		User:            user,
		Tokens:          &tokens,
		IsAuthenticated: true,
	}
}
