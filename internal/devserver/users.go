package devserver

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/florianilch/authkeeper/internal/session"
)

var errEmailTaken = errors.New("email already registered")

type account struct {
	profile      session.UserIdentity
	passwordHash []byte
}

// directory is the in-memory user table. It is lost when the server stops.
type directory struct {
	mu      sync.RWMutex
	byID    map[string]*account
	byEmail map[string]*account
}

func newDirectory() *directory {
	return &directory{
		byID:    make(map[string]*account),
		byEmail: make(map[string]*account),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// create registers a new account and returns its profile.
func (d *directory) create(name, email, password string) (session.UserIdentity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return session.UserIdentity{}, err
	}

	key := normalizeEmail(email)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byEmail[key]; ok {
		return session.UserIdentity{}, errEmailTaken
	}
	acct := &account{
		profile: session.UserIdentity{
			ID:    uuid.NewString(),
			Name:  strings.TrimSpace(name),
			Email: key,
		},
		passwordHash: hash,
	}
	d.byID[acct.profile.ID] = acct
	d.byEmail[key] = acct
	return acct.profile, nil
}

// authenticate returns the profile for email if password matches.
func (d *directory) authenticate(email, password string) (session.UserIdentity, bool) {
	d.mu.RLock()
	acct, ok := d.byEmail[normalizeEmail(email)]
	d.mu.RUnlock()
	if !ok {
		// Same cost as a real comparison so unknown emails are not distinguishable by timing
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return session.UserIdentity{}, false
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		return session.UserIdentity{}, false
	}
	return acct.profile, true
}

func (d *directory) lookup(id string) (session.UserIdentity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acct, ok := d.byID[id]
	if !ok {
		return session.UserIdentity{}, false
	}
	return acct.profile, true
}

// dummyHash is computed on first use so commands that never serve pay no bcrypt cost.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("authkeeper-devserver"), bcrypt.DefaultCost)
	return h
})
