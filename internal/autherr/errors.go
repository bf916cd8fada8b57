// Package autherr classifies failures of the session core into a small set of kinds.
//
// Callers branch on the kind with errors.Is against the sentinels or with KindOf,
// never by inspecting error messages:
//
//	if errors.Is(err, autherr.ErrAuthRejected) {
//		// show "wrong email or password"
//	}
package autherr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindStorage means device storage was unavailable, denied or corrupted.
	KindStorage
	// KindAuthRejected means the server refused the presented credentials.
	KindAuthRejected
	// KindNetwork means the request never got a usable answer from the server.
	KindNetwork
	// KindInconsistentCredentials means only one half of a token pair was found.
	KindInconsistentCredentials
	// KindRemote covers every other error reported by the server.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage failure"
	case KindAuthRejected:
		return "authentication rejected"
	case KindNetwork:
		return "network unavailable"
	case KindInconsistentCredentials:
		return "inconsistent credential state"
	case KindRemote:
		return "remote error"
	default:
		return "unknown error"
	}
}

// Sentinels for use with errors.Is.
var (
	ErrStorage                 = &Error{Kind: KindStorage}
	ErrAuthRejected            = &Error{Kind: KindAuthRejected}
	ErrNetwork                 = &Error{Kind: KindNetwork}
	ErrInconsistentCredentials = &Error{Kind: KindInconsistentCredentials}
	ErrRemote                  = &Error{Kind: KindRemote}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds a classified error. A nil err yields an Error carrying only the kind.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
