package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

// --- Mocks ---

type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) CreateAccount(ctx context.Context, email, password string) error {
	args := m.Called(ctx, email, password)
	return args.Error(0)
}

func (m *mockAuth) Authenticate(ctx context.Context, email, password string) (domain.Identity, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(domain.Identity), args.Error(1)
}

type memoryIdentities struct {
	mu      sync.Mutex
	id      domain.Identity
	ok      bool
	saveErr error
	loadErr error
}

func (s *memoryIdentities) Save(_ context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.id, s.ok = id, true
	return nil
}

func (s *memoryIdentities) Load(context.Context) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.ok, s.loadErr
}

func (s *memoryIdentities) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id, s.ok = domain.Identity{}, false
	return nil
}

func newTestManager() (*Manager, *mockAuth, *memoryIdentities, *notify.Channel) {
	auth := &mockAuth{}
	store := &memoryIdentities{}
	ch := notify.NewChannel(16)
	return NewManager(auth, store, ch, logger.Discard()), auth, store, ch
}

// --- Tests ---

func TestSignUp_Success(t *testing.T) {
	m, auth, _, ch := newTestManager()
	ctx := context.Background()
	auth.On("CreateAccount", ctx, "ann@example.com", "secret1").Return(nil)

	assert.True(t, m.SignUp(ctx, "ann@example.com", "secret1"))
	assert.False(t, m.IsSignedIn(), "sign-up does not sign in")

	got := ch.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.Success, got[0].Level)
	assert.Equal(t, notify.MsgSignedUp, got[0].Message)
	auth.AssertExpectations(t)
}

func TestSignUp_BackendError(t *testing.T) {
	m, auth, _, ch := newTestManager()
	ctx := context.Background()
	auth.On("CreateAccount", ctx, "ann@example.com", "secret1").Return(errors.New("EMAIL_EXISTS"))

	assert.False(t, m.SignUp(ctx, "ann@example.com", "secret1"))

	got := ch.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.Error, got[0].Level)
	assert.Equal(t, notify.MsgGeneric, got[0].Message)
}

func TestSignUp_InvalidCredentialsNeverReachBackend(t *testing.T) {
	m, auth, _, ch := newTestManager()

	assert.False(t, m.SignUp(context.Background(), "not-an-email", "secret1"))
	assert.False(t, m.SignUp(context.Background(), "ann@example.com", "123"))

	auth.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, ch.Drain(), 2)
}

func TestSignIn_Success(t *testing.T) {
	m, auth, store, ch := newTestManager()
	ctx := context.Background()
	auth.On("Authenticate", ctx, "ann@example.com", "secret1").Return(domain.Identity{ID: "u1"}, nil)

	var seen []domain.Identity
	m.Watch(func(_ context.Context, id domain.Identity) { seen = append(seen, id) })

	assert.True(t, m.SignIn(ctx, "ann@example.com", "secret1"))
	assert.Equal(t, domain.Identity{ID: "u1"}, m.Current())
	assert.True(t, m.IsSignedIn())
	assert.Equal(t, []domain.Identity{{ID: "u1"}}, seen)

	persisted, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", persisted.ID)

	got := ch.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.MsgSignedIn, got[0].Message)
}

func TestSignIn_FailureKeepsIdentityAndIsGeneric(t *testing.T) {
	m, auth, _, ch := newTestManager()
	ctx := context.Background()
	auth.On("Authenticate", ctx, "ann@example.com", "secret1").Return(domain.Identity{ID: "u1"}, nil).Once()
	auth.On("Authenticate", ctx, "bob@example.com", "wrongpw").Return(domain.Identity{}, errors.New("INVALID_PASSWORD")).Once()

	require.True(t, m.SignIn(ctx, "ann@example.com", "secret1"))
	ch.Drain()

	calls := 0
	m.Watch(func(context.Context, domain.Identity) { calls++ })

	assert.False(t, m.SignIn(ctx, "bob@example.com", "wrongpw"))
	assert.Equal(t, "u1", m.Current().ID)
	assert.Zero(t, calls)

	got := ch.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.Error, got[0].Level)
	assert.Equal(t, notify.MsgSignInFailed, got[0].Message)
	assert.NotContains(t, got[0].Message, "INVALID_PASSWORD")
}

func TestSignIn_EmptyIdentityIsFailure(t *testing.T) {
	m, auth, _, _ := newTestManager()
	ctx := context.Background()
	auth.On("Authenticate", ctx, "ann@example.com", "secret1").Return(domain.Identity{}, nil)

	assert.False(t, m.SignIn(ctx, "ann@example.com", "secret1"))
	assert.False(t, m.IsSignedIn())
}

func TestSignIn_PersistFailureStillSignsIn(t *testing.T) {
	m, auth, store, _ := newTestManager()
	ctx := context.Background()
	store.saveErr = errors.New("disk full")
	auth.On("Authenticate", ctx, "ann@example.com", "secret1").Return(domain.Identity{ID: "u1"}, nil)

	assert.True(t, m.SignIn(ctx, "ann@example.com", "secret1"))
	assert.Equal(t, "u1", m.Current().ID)
}

func TestSignOut(t *testing.T) {
	m, auth, store, ch := newTestManager()
	ctx := context.Background()
	auth.On("Authenticate", ctx, "ann@example.com", "secret1").Return(domain.Identity{ID: "u1"}, nil)
	require.True(t, m.SignIn(ctx, "ann@example.com", "secret1"))
	ch.Drain()

	var seen []domain.Identity
	m.Watch(func(_ context.Context, id domain.Identity) { seen = append(seen, id) })

	m.SignOut(ctx)
	assert.False(t, m.IsSignedIn())
	assert.Equal(t, []domain.Identity{{}}, seen)
	_, ok, _ := store.Load(ctx)
	assert.False(t, ok)

	got := ch.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.MsgSignedOut, got[0].Message)

	m.SignOut(ctx)
	assert.Len(t, seen, 1, "signing out twice is a no-op")
	assert.Empty(t, ch.Drain())
}

func TestRestoreSession(t *testing.T) {
	m, _, store, ch := newTestManager()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.Identity{ID: "u7"}))

	var seen []domain.Identity
	m.Watch(func(_ context.Context, id domain.Identity) { seen = append(seen, id) })

	id, ok := m.RestoreSession(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u7", id.ID)
	assert.Equal(t, "u7", m.Current().ID)
	assert.Equal(t, []domain.Identity{{ID: "u7"}}, seen)
	assert.Empty(t, ch.Drain(), "restoring is silent")
}

func TestRestoreSession_NothingStored(t *testing.T) {
	m, _, store, _ := newTestManager()
	store.loadErr = nil

	_, ok := m.RestoreSession(context.Background())
	assert.False(t, ok)
	assert.False(t, m.IsSignedIn())
}

func TestRestoreSession_LoadError(t *testing.T) {
	m, _, store, _ := newTestManager()
	store.loadErr = errors.New("corrupt")

	_, ok := m.RestoreSession(context.Background())
	assert.False(t, ok)
}

func TestWatch_Cancel(t *testing.T) {
	m, auth, _, _ := newTestManager()
	ctx := context.Background()
	auth.On("Authenticate", ctx, "ann@example.com", "secret1").Return(domain.Identity{ID: "u1"}, nil)

	var first, second int
	cancel := m.Watch(func(context.Context, domain.Identity) { first++ })
	m.Watch(func(context.Context, domain.Identity) { second++ })
	cancel()
	cancel()

	require.True(t, m.SignIn(ctx, "ann@example.com", "secret1"))
	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestWatch_CanReadCurrent(t *testing.T) {
	m, auth, _, _ := newTestManager()
	ctx := context.Background()
	auth.On("Authenticate", ctx, "ann@example.com", "secret1").Return(domain.Identity{ID: "u1"}, nil)

	var during domain.Identity
	m.Watch(func(context.Context, domain.Identity) { during = m.Current() })

	require.True(t, m.SignIn(ctx, "ann@example.com", "secret1"))
	assert.Equal(t, "u1", during.ID)
}
