// Package session owns the signed-in identity. It signs users up, in and
// out through an Authenticator, persists the identity between runs, and
// tells watchers whenever the identity changes.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	"github.com/AdityaBheke/BusyBuy/pkg/validator"
)

var errEmptyIdentity = errors.New("authenticator returned an empty identity")

// Authenticator is the credential backend.
type Authenticator interface {
	CreateAccount(ctx context.Context, email, password string) error
	Authenticate(ctx context.Context, email, password string) (domain.Identity, error)
}

// IdentityStore persists the identity across restarts. Load reports false
// when nothing is stored.
type IdentityStore interface {
	Save(ctx context.Context, id domain.Identity) error
	Load(ctx context.Context) (domain.Identity, bool, error)
	Clear(ctx context.Context) error
}

// WatchFunc is called with the new identity after every change. The zero
// identity means signed out.
type WatchFunc func(ctx context.Context, id domain.Identity)

// Credentials are what a user types to sign up or in.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type watcher struct {
	id int
	fn WatchFunc
}

// Manager is safe for concurrent use. Identity changes are serialized and
// watchers run in registration order while the change is in progress, so
// they see changes one at a time. A watcher must not call SignIn, SignOut
// or RestoreSession.
type Manager struct {
	auth     Authenticator
	store    IdentityStore
	notifier notify.Notifier
	logger   *slog.Logger

	opMu sync.Mutex

	mu       sync.RWMutex
	current  domain.Identity
	watchers []watcher
	nextID   int
}

// NewManager creates a signed-out manager.
func NewManager(auth Authenticator, store IdentityStore, notifier notify.Notifier, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = notify.Nop
	}
	return &Manager{
		auth:     auth,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Current returns the signed-in identity, or the zero value.
func (m *Manager) Current() domain.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsSignedIn reports whether an identity is present.
func (m *Manager) IsSignedIn() bool {
	return !m.Current().IsZero()
}

// Watch registers fn and returns a function that unregisters it.
func (m *Manager) Watch(fn WatchFunc) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.watchers = append(m.watchers, watcher{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, w := range m.watchers {
				if w.id == id {
					m.watchers = append(m.watchers[:i:i], m.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

// RestoreSession loads the persisted identity. It is taken on trust; the
// backend is not asked to confirm it.
func (m *Manager) RestoreSession(ctx context.Context) (domain.Identity, bool) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	id, ok, err := m.store.Load(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to load persisted session", slog.String("error", err.Error()))
		return domain.Identity{}, false
	}
	if !ok || id.IsZero() {
		return domain.Identity{}, false
	}

	m.set(ctx, id)
	m.logger.InfoContext(ctx, "session restored", slog.String("identity_id", id.ID))
	return id, true
}

// SignUp creates an account. It does not sign the user in.
func (m *Manager) SignUp(ctx context.Context, email, password string) bool {
	if err := validator.Validate(Credentials{Email: email, Password: password}); err != nil {
		m.logger.InfoContext(ctx, "sign-up rejected", slog.String("error", err.Error()))
		m.notifier.Notify(ctx, notify.Error, notify.MsgGeneric)
		return false
	}

	if err := m.auth.CreateAccount(ctx, email, password); err != nil {
		m.logger.WarnContext(ctx, "sign-up failed", slog.String("error", err.Error()))
		m.notifier.Notify(ctx, notify.Error, notify.MsgGeneric)
		return false
	}

	m.logger.InfoContext(ctx, "account created")
	m.notifier.Notify(ctx, notify.Success, notify.MsgSignedUp)
	return true
}

// SignIn authenticates and, on success, replaces the current identity.
// Failures leave the identity unchanged and never say which part of the
// credentials was wrong.
func (m *Manager) SignIn(ctx context.Context, email, password string) bool {
	if err := validator.Validate(Credentials{Email: email, Password: password}); err != nil {
		m.notifier.Notify(ctx, notify.Error, notify.MsgSignInFailed)
		return false
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	id, err := m.auth.Authenticate(ctx, email, password)
	if err == nil && id.IsZero() {
		err = errEmptyIdentity
	}
	if err != nil {
		m.logger.WarnContext(ctx, "sign-in failed", slog.String("error", err.Error()))
		m.notifier.Notify(ctx, notify.Error, notify.MsgSignInFailed)
		return false
	}

	if err := m.store.Save(ctx, id); err != nil {
		// the session still works for this run
		m.logger.WarnContext(ctx, "failed to persist session",
			slog.String("identity_id", id.ID),
			slog.String("error", err.Error()),
		)
	}

	m.set(ctx, id)
	m.logger.InfoContext(ctx, "signed in", slog.String("identity_id", id.ID))
	m.notifier.Notify(ctx, notify.Success, notify.MsgSignedIn)
	return true
}

// SignOut clears the identity. Signed out already is a no-op.
func (m *Manager) SignOut(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	prev := m.Current()
	if prev.IsZero() {
		return
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.WarnContext(ctx, "failed to clear persisted session", slog.String("error", err.Error()))
	}

	m.set(ctx, domain.Identity{})
	m.logger.InfoContext(ctx, "signed out", slog.String("identity_id", prev.ID))
	m.notifier.Notify(ctx, notify.Success, notify.MsgSignedOut)
}

// set publishes id and runs the watchers outside the state lock.
func (m *Manager) set(ctx context.Context, id domain.Identity) {
	m.mu.Lock()
	m.current = id
	ws := make([]watcher, len(m.watchers))
	copy(ws, m.watchers)
	m.mu.Unlock()

	for _, w := range ws {
		w.fn(ctx, id)
	}
}
