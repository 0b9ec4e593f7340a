// Package local authenticates against accounts kept in the document store,
// with bcrypt password hashes. It is the default backend when no Firebase
// project is configured.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/repository"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

// DefaultCost is the bcrypt cost for new accounts.
const DefaultCost = 12

const (
	fieldEmail        = "email"
	fieldPasswordHash = "passwordHash"
	fieldCreatedAt    = "createdAt"
)

// Authenticator implements session.Authenticator over a docstore.Store.
type Authenticator struct {
	store  docstore.Store
	cost   int
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Authenticator. cost <= 0 uses DefaultCost.
func New(store docstore.Store, cost int, logger *slog.Logger) *Authenticator {
	if cost <= 0 {
		cost = DefaultCost
	}
	return &Authenticator{store: store, cost: cost, logger: logger, now: time.Now}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func accountQuery(email string) docstore.Query {
	return docstore.Query{
		Collection: repository.Accounts,
		Where:      []docstore.Condition{{Field: fieldEmail, Value: email}},
	}
}

// CreateAccount stores a new account. Two concurrent sign-ups for the same
// address can both succeed; Authenticate then uses the older one.
func (a *Authenticator) CreateAccount(ctx context.Context, email, password string) error {
	email = normalize(email)

	existing, err := a.store.QueryOnce(ctx, accountQuery(email))
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}
	if len(existing) > 0 {
		return apperrors.AuthFailure("could not create account", apperrors.AlreadyExists("account", "email", email))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	id, err := a.store.Create(ctx, repository.Accounts, map[string]any{
		fieldEmail:        email,
		fieldPasswordHash: string(hash),
		fieldCreatedAt:    a.now().UTC(),
	})
	if err != nil {
		return apperrors.WriteFailure("create", repository.Accounts, err)
	}

	a.logger.InfoContext(ctx, "account created", slog.String("account_id", id))
	return nil
}

// Authenticate checks the password and returns the account id as identity.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (domain.Identity, error) {
	docs, err := a.store.QueryOnce(ctx, accountQuery(normalize(email)))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("look up account: %w", err)
	}
	if len(docs) == 0 {
		return domain.Identity{}, apperrors.AuthFailure("invalid email or password", errors.New("account not found"))
	}

	acct := docs[0]
	hash := docstore.String(acct.Data, fieldPasswordHash)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return domain.Identity{}, apperrors.AuthFailure("invalid email or password", err)
	}

	return domain.Identity{ID: acct.ID}, nil
}
