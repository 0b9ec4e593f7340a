package local

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AdityaBheke/BusyBuy/internal/docstore/memory"
	"github.com/AdityaBheke/BusyBuy/internal/repository"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

func newTestAuth() (*Authenticator, *memory.Store) {
	store := memory.New()
	return New(store, bcrypt.MinCost, logger.Discard()), store
}

func TestCreateAndAuthenticate(t *testing.T) {
	a, _ := newTestAuth()
	ctx := context.Background()

	require.NoError(t, a.CreateAccount(ctx, "Ann@Example.com ", "secret1"))

	id, err := a.Authenticate(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, id.ID)

	again, err := a.Authenticate(ctx, "ANN@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestCreateAccount_StoresHashOnly(t *testing.T) {
	a, store := newTestAuth()
	ctx := context.Background()
	require.NoError(t, a.CreateAccount(ctx, "ann@example.com", "secret1"))

	docs, err := store.QueryOnce(ctx, accountQuery("ann@example.com"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	hash, _ := docs[0].Data[fieldPasswordHash].(string)
	assert.NotEqual(t, "secret1", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret1")))
}

func TestCreateAccount_Duplicate(t *testing.T) {
	a, _ := newTestAuth()
	ctx := context.Background()
	require.NoError(t, a.CreateAccount(ctx, "ann@example.com", "secret1"))

	err := a.CreateAccount(ctx, "ann@example.com", "other12")
	assert.True(t, errors.Is(err, apperrors.ErrAuthFailure))
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
}

func TestCreateAccount_StoreFailure(t *testing.T) {
	a, store := newTestAuth()
	store.SetFailureHook(func(op memory.Op, collection, _ string) error {
		if op == memory.OpCreate && collection == repository.Accounts {
			return errors.New("quota exceeded")
		}
		return nil
	})

	err := a.CreateAccount(context.Background(), "ann@example.com", "secret1")
	assert.True(t, errors.Is(err, apperrors.ErrWriteFailure))
}

func TestAuthenticate_Failures(t *testing.T) {
	a, _ := newTestAuth()
	ctx := context.Background()
	require.NoError(t, a.CreateAccount(ctx, "ann@example.com", "secret1"))

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "ann@example.com", "secret2"},
		{"unknown email", "bob@example.com", "secret1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(ctx, tt.email, tt.password)
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "invalid email or password", appErr.Message)
		})
	}
}
